package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/breakwatch/internal/config"
)

// Open returns the ledger backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Ledger, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return New(cfg.DBPath)
	case "redis":
		return NewRedis(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Prefix:    cfg.RedisPrefix,
			Retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		})
	case "postgres":
		return NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
