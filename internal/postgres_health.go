package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/resource"
)

// ValidatePostgresConfig performs basic sanity checks on Postgres-related settings.
func ValidatePostgresConfig(cfg resource.PostgresConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("postgres.port must be a valid TCP port")
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("postgres.maxConnections must be greater than 0")
	}
	if cfg.UseIAM && cfg.Region == "" {
		return fmt.Errorf("postgres.region is required with useIAM")
	}
	for kind, m := range cfg.Tables {
		if m.Table == "" || len(m.KeyColumns) == 0 {
			return fmt.Errorf("table mapping of kind %q needs a table and key columns", kind)
		}
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// PostgresHealthCheck pings the pool and runs a trivial query.
// timeout may be 0 to use a sensible default (5s).
func PostgresHealthCheck(ctx context.Context, pool pinger, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	if q, ok := pool.(collaboratorPool); ok {
		if _, err := q.Exec(ctx, "SELECT 1"); err != nil {
			return fmt.Errorf("postgres simple query failed: %w", err)
		}
	}
	return nil
}
