// Package storage provides durable alert ledgers backed by SQLite, Redis or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/breakwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Ledger is the durable (day, symbol) -> alerted store.
// MarkAlerted is a merge-style upsert: it never clobbers other symbols and
// keeps the first recorded time when called twice for the same key.
type Ledger interface {
	HasAlerted(ctx context.Context, day, symbol string) (time.Time, bool, error)
	MarkAlerted(ctx context.Context, day, symbol string, at time.Time) error
	Alerts(ctx context.Context, day string) ([]models.AlertRecord, error)
	PruneBefore(ctx context.Context, day string) error
	Close() error
}

// Storage wraps a SQLite database holding the alert ledger.
type Storage struct {
	db *sql.DB
}

var _ Ledger = (*Storage)(nil)

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/breakwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "breakwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			day         TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			id          TEXT NOT NULL,
			alerted_at  INTEGER NOT NULL,
			PRIMARY KEY (day, symbol)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_alerted_at ON alerts(alerted_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) HasAlerted(ctx context.Context, day, symbol string) (time.Time, bool, error) {
	var alertedAtNano int64
	err := s.db.QueryRowContext(ctx,
		`SELECT alerted_at FROM alerts WHERE day = ? AND symbol = ?`, day, symbol,
	).Scan(&alertedAtNano)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query alert: %w", err)
	}
	return time.Unix(0, alertedAtNano), true, nil
}

func (s *Storage) MarkAlerted(ctx context.Context, day, symbol string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (day, symbol, id, alerted_at)
		VALUES (?,?,?,?)
		ON CONFLICT (day, symbol) DO NOTHING`,
		day, symbol, uuid.NewString(), at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Alerts lists the alert records of one trading day, oldest first.
func (s *Storage) Alerts(ctx context.Context, day string) ([]models.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, day, symbol, alerted_at
		FROM alerts WHERE day = ? ORDER BY alerted_at, symbol`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	records := []models.AlertRecord{}
	for rows.Next() {
		var r models.AlertRecord
		var alertedAtNano int64
		if err := rows.Scan(&r.ID, &r.Day, &r.Symbol, &alertedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		r.AlertedAt = time.Unix(0, alertedAtNano)
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneBefore deletes records of trading days strictly before day.
// Day keys sort lexically in date order.
func (s *Storage) PruneBefore(ctx context.Context, day string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE day < ?`, day); err != nil {
		return fmt.Errorf("failed to prune alerts: %w", err)
	}
	return nil
}
