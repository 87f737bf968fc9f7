package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// ConnectRetries is the number of retries after the first failed attempt.
	ConnectRetries uint64
}

// Connect creates a pool and pings it, retrying with exponential backoff so
// the service can start alongside its database.
func Connect(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	retry := backoff.WithContext(backoff.WithMaxRetries(bo, cfg.ConnectRetries), ctx)

	var pool *pgxpool.Pool
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("create connection pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("database not ready", zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("ping database: %w", err)
		}
		pool = p
		return nil
	}, retry)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
