package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Connect opens a pool for cfg, retrying with exponential backoff until
// attempts are exhausted or ctx ends
func Connect(ctx context.Context, cfg *Config, attempts int, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.ConnTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}
	if attempts <= 0 {
		attempts = 1
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for attempt := 1; ; attempt++ {
		pool, err := connectOnce(ctx, poolConfig)
		if err == nil {
			logger.Info("connected to postgres",
				zap.String("host", poolConfig.ConnConfig.Host),
				zap.String("database", poolConfig.ConnConfig.Database),
				zap.Int32("max_conns", poolConfig.MaxConns),
			)
			return pool, nil
		}
		if attempt >= attempts {
			return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempt, err)
		}

		logger.Warn("failed to connect to postgres",
			zap.Int("attempt", attempt),
			zap.Duration("next_retry", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func connectOnce(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
