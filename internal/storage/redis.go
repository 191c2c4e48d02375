package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rewired-gh/breakwatch/internal/logger"
	"github.com/rewired-gh/breakwatch/internal/models"
)

// RedisConfig holds connection settings for the Redis ledger.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string
	Retention time.Duration
}

// RedisLedger keeps one hash per trading day, one field per symbol.
type RedisLedger struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

var _ Ledger = (*RedisLedger)(nil)

type redisEntry struct {
	ID        string `json:"id"`
	AlertedAt int64  `json:"alerted_at"`
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisWithClient(client, cfg.Prefix, cfg.Retention), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, retention time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "breakwatch"
	}
	return &RedisLedger{client: client, prefix: prefix, retention: retention}
}

func (r *RedisLedger) dayKey(day string) string {
	return fmt.Sprintf("%s:alerts:%s", r.prefix, day)
}

func (r *RedisLedger) HasAlerted(ctx context.Context, day, symbol string) (time.Time, bool, error) {
	raw, err := r.client.HGet(ctx, r.dayKey(day), symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query alert: %w", err)
	}
	var e redisEntry
	if err := sonic.Unmarshal(raw, &e); err != nil {
		// the key exists, so the symbol has alerted even if the payload is unreadable
		return time.Time{}, true, nil
	}
	return time.Unix(0, e.AlertedAt), true, nil
}

func (r *RedisLedger) MarkAlerted(ctx context.Context, day, symbol string, at time.Time) error {
	payload, err := sonic.Marshal(redisEntry{ID: uuid.NewString(), AlertedAt: at.UnixNano()})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	key := r.dayKey(day)
	pipe := r.client.TxPipeline()
	pipe.HSetNX(ctx, key, symbol, payload)
	if r.retention > 0 {
		pipe.Expire(ctx, key, r.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *RedisLedger) Alerts(ctx context.Context, day string) ([]models.AlertRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.dayKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	records := make([]models.AlertRecord, 0, len(fields))
	for symbol, raw := range fields {
		var e redisEntry
		if err := sonic.UnmarshalString(raw, &e); err != nil {
			logger.Warn("Skipping unreadable alert entry %s/%s: %v", day, symbol, err)
			continue
		}
		records = append(records, models.AlertRecord{
			ID:        e.ID,
			Day:       day,
			Symbol:    symbol,
			AlertedAt: time.Unix(0, e.AlertedAt),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].AlertedAt.Equal(records[j].AlertedAt) {
			return records[i].AlertedAt.Before(records[j].AlertedAt)
		}
		return records[i].Symbol < records[j].Symbol
	})
	return records, nil
}

// PruneBefore removes day hashes older than day. Keys normally expire on
// their own when a retention is configured.
func (r *RedisLedger) PruneBefore(ctx context.Context, day string) error {
	prefix := r.dayKey("")
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var stale []string
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.TrimPrefix(key, prefix) < day {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan alerts: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, stale...).Err(); err != nil {
		return fmt.Errorf("failed to prune alerts: %w", err)
	}
	return nil
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}
