package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rewired-gh/breakwatch/internal/models"
)

// PostgresLedger stores alerts in a PostgreSQL table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgres opens a connection pool, pings it and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &PostgresLedger{pool: pool}
	if err := p.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return p, nil
}

func (p *PostgresLedger) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			day         TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			id          UUID NOT NULL,
			alerted_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (day, symbol)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_alerted_at ON alerts(alerted_at)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresLedger) HasAlerted(ctx context.Context, day, symbol string) (time.Time, bool, error) {
	var alertedAt time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT alerted_at FROM alerts WHERE day = $1 AND symbol = $2`, day, symbol,
	).Scan(&alertedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query alert: %w", err)
	}
	return alertedAt, true, nil
}

func (p *PostgresLedger) MarkAlerted(ctx context.Context, day, symbol string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alerts (day, symbol, id, alerted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (day, symbol) DO NOTHING`,
		day, symbol, uuid.NewString(), at,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (p *PostgresLedger) Alerts(ctx context.Context, day string) ([]models.AlertRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, day, symbol, alerted_at
		FROM alerts WHERE day = $1 ORDER BY alerted_at, symbol`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	records := []models.AlertRecord{}
	for rows.Next() {
		var r models.AlertRecord
		if err := rows.Scan(&r.ID, &r.Day, &r.Symbol, &r.AlertedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PostgresLedger) PruneBefore(ctx context.Context, day string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM alerts WHERE day < $1`, day); err != nil {
		return fmt.Errorf("failed to prune alerts: %w", err)
	}
	return nil
}

func (p *PostgresLedger) Close() error {
	p.pool.Close()
	return nil
}
