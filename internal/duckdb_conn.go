package internal

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/lychee-technology/resource"
	"go.uber.org/zap"
)

// DuckDBClient wraps a database/sql DB opened with the DuckDB driver.
type DuckDBClient struct {
	DB  *sql.DB
	cfg resource.DuckDBConfig
}

// ValidateDuckDBConfig performs basic sanity checks on user-provided DuckDB configuration.
func ValidateDuckDBConfig(cfg resource.DuckDBConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.MemoryLimitMB < 0 {
		return fmt.Errorf("invalid memoryLimitMB: must be >= 0")
	}
	if cfg.Threads < 0 {
		return fmt.Errorf("invalid threads: must be >= 0")
	}
	if cfg.MaxConnections < 1 {
		return fmt.Errorf("maxConnections must be >= 1")
	}
	for kind, m := range cfg.Tables {
		if m.Table == "" || len(m.KeyColumns) == 0 {
			return fmt.Errorf("table mapping of kind %q needs a table and key columns", kind)
		}
	}
	if err := ValidateS3Config(cfg); err != nil {
		return err
	}
	return nil
}

// NewDuckDBClient opens DuckDB, loads the configured extensions and applies
// S3 and resource pragmas. Extension and pragma failures are logged, not fatal.
func NewDuckDBClient(ctx context.Context, cfg resource.DuckDBConfig) (*DuckDBClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("duckdb disabled in config")
	}
	if err := ValidateDuckDBConfig(cfg); err != nil {
		return nil, err
	}

	dsn := cfg.DBPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	for _, stmt := range setupStatements(cfg) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			zap.S().Warnw("duckdb: setup statement failed", "statement", redactSetup(stmt), "err", err)
		}
	}
	return &DuckDBClient{DB: db, cfg: cfg}, nil
}

// setupStatements lists the statements run after opening, in order.
func setupStatements(cfg resource.DuckDBConfig) []string {
	var stmts []string
	exts := slices.Clone(cfg.Extensions)
	if cfg.EnableS3 {
		exts = append(exts, "httpfs", "parquet")
	}
	seen := NewSet[string]()
	for _, ext := range exts {
		if seen.Contains(ext) {
			continue
		}
		seen.Add(ext)
		stmts = append(stmts, fmt.Sprintf("INSTALL %s;", ext), fmt.Sprintf("LOAD %s;", ext))
	}
	if cfg.EnableS3 {
		for _, p := range []struct{ name, value string }{
			{"s3_access_key_id", cfg.S3AccessKey},
			{"s3_secret_access_key", cfg.S3SecretKey},
			{"s3_region", cfg.S3Region},
			{"s3_endpoint", cfg.S3Endpoint},
		} {
			if p.value != "" {
				stmts = append(stmts, fmt.Sprintf("SET %s='%s';", p.name, strings.ReplaceAll(p.value, "'", "''")))
			}
		}
	}
	if cfg.MemoryLimitMB > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA memory_limit='%dMB';", cfg.MemoryLimitMB))
	}
	if cfg.Threads > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA threads=%d;", cfg.Threads))
	}
	return stmts
}

func redactSetup(stmt string) string {
	if strings.Contains(stmt, "key") {
		name, _, _ := strings.Cut(stmt, "=")
		return name + "=***"
	}
	return stmt
}

// Close closes the underlying DuckDB DB.
func (c *DuckDBClient) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// HealthCheck runs a trivial query against the connection.
func (c *DuckDBClient) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return fmt.Errorf("duckdb client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var v int
	if err := c.DB.QueryRowContext(ctx, "SELECT 1;").Scan(&v); err != nil {
		return fmt.Errorf("duckdb health query failed: %w", err)
	}
	if v != 1 {
		return fmt.Errorf("unexpected duckdb health result: %d", v)
	}
	return nil
}
