package resource

import (
	"time"
)

// LoadStrategy selects how a ResourceList loads pages.
type LoadStrategy string

const (
	// LoadOnDemand fetches pages on the caller's goroutine inside WaitFor calls.
	LoadOnDemand LoadStrategy = "on-demand"
	// LoadBackground fetches pages on one goroutine per load.
	LoadBackground LoadStrategy = "background"
)

// Config consolidates engine and collaborator settings
type Config struct {
	Store    StoreConfig    `json:"store" mapstructure:"store"`
	List     ListConfig     `json:"list" mapstructure:"list"`
	Remote   RemoteConfig   `json:"remote" mapstructure:"remote"`
	Catalog  CatalogConfig  `json:"catalog" mapstructure:"catalog"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
	DuckDB   DuckDBConfig   `json:"duckdb" mapstructure:"duckdb"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
	Snapshot SnapshotConfig `json:"snapshot" mapstructure:"snapshot"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// StoreConfig contains attribute store settings
type StoreConfig struct {
	// BatchGroupFetch fetches every uncached attribute sharing a retrieval
	// operation in one call instead of only the requested one.
	BatchGroupFetch bool `json:"batchGroupFetch" mapstructure:"batchGroupFetch"`
}

// ListConfig contains list enumeration settings
type ListConfig struct {
	PageSize          int          `json:"pageSize" mapstructure:"pageSize"`
	Strategy          LoadStrategy `json:"strategy" mapstructure:"strategy"`
	IdentityCacheSize int          `json:"identityCacheSize" mapstructure:"identityCacheSize"`
	// ShareIdentities makes every list of a kind reuse one identity cache.
	ShareIdentities   bool         `json:"shareIdentities" mapstructure:"shareIdentities"`
}

// RemoteConfig contains collaborator call guard settings
type RemoteConfig struct {
	BreakerEnabled      bool          `json:"breakerEnabled" mapstructure:"breakerEnabled"`
	BreakerThreshold    int           `json:"breakerThreshold" mapstructure:"breakerThreshold"`
	BreakerWindow       time.Duration `json:"breakerWindow" mapstructure:"breakerWindow"`
	BreakerOpenDuration time.Duration `json:"breakerOpenDuration" mapstructure:"breakerOpenDuration"`
}

// CatalogConfig contains catalog file settings
type CatalogConfig struct {
	Directory string `json:"directory" mapstructure:"directory"`
}

// PostgresConfig contains settings of the Postgres reference collaborator
type PostgresConfig struct {
	Host           string                  `json:"host" mapstructure:"host"`
	Port           int                     `json:"port" mapstructure:"port"`
	Database       string                  `json:"database" mapstructure:"database"`
	Username       string                  `json:"username" mapstructure:"username"`
	Password       string                  `json:"password" mapstructure:"password"`
	SSLMode        string                  `json:"sslMode" mapstructure:"sslMode"`
	UseIAM         bool                    `json:"useIAM" mapstructure:"useIAM"`
	Region         string                  `json:"region" mapstructure:"region"`
	MaxConnections int                     `json:"maxConnections" mapstructure:"maxConnections"`
	Timeout        time.Duration           `json:"timeout" mapstructure:"timeout"`
	Tables         map[string]TableMapping `json:"tables" mapstructure:"tables"`
}

// TableMapping maps one entity kind onto a relational table.
type TableMapping struct {
	Table      string            `json:"table" mapstructure:"table"`
	KeyColumns map[string]string `json:"keyColumns" mapstructure:"keyColumns"`
	Columns    map[string]string `json:"columns" mapstructure:"columns"`
}

// DuckDBConfig contains settings of the DuckDB reference collaborator
type DuckDBConfig struct {
	Enabled        bool                    `json:"enabled" mapstructure:"enabled"`
	DBPath         string                  `json:"dbPath" mapstructure:"dbPath"`
	MaxConnections int                     `json:"maxConnections" mapstructure:"maxConnections"`
	MemoryLimitMB  int                     `json:"memoryLimitMB" mapstructure:"memoryLimitMB"`
	Threads        int                     `json:"threads" mapstructure:"threads"`
	Extensions     []string                `json:"extensions" mapstructure:"extensions"`
	EnableS3       bool                    `json:"enableS3" mapstructure:"enableS3"`
	S3Region       string                  `json:"s3Region" mapstructure:"s3Region"`
	S3Endpoint     string                  `json:"s3Endpoint" mapstructure:"s3Endpoint"`
	S3AccessKey    string                  `json:"s3AccessKey" mapstructure:"s3AccessKey"`
	S3SecretKey    string                  `json:"s3SecretKey" mapstructure:"s3SecretKey"`
	Tables         map[string]TableMapping `json:"tables" mapstructure:"tables"`
}

// RedisConfig contains settings of the cache-aside getter
type RedisConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Addr     string        `json:"addr" mapstructure:"addr"`
	Password string        `json:"password" mapstructure:"password"`
	DB       int           `json:"db" mapstructure:"db"`
	Prefix   string        `json:"prefix" mapstructure:"prefix"`
	TTL      time.Duration `json:"ttl" mapstructure:"ttl"`
}

// SnapshotConfig contains settings of the S3 list snapshot exporter
type SnapshotConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Prefix    string `json:"prefix" mapstructure:"prefix"`
	Region    string `json:"region" mapstructure:"region"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"accessKey" mapstructure:"accessKey"`
	SecretKey string `json:"secretKey" mapstructure:"secretKey"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			BatchGroupFetch: true,
		},
		List: ListConfig{
			PageSize:          100,
			Strategy:          LoadOnDemand,
			IdentityCacheSize: 1024,
		},
		Remote: RemoteConfig{
			BreakerEnabled:      true,
			BreakerThreshold:    5,
			BreakerWindow:       30 * time.Second,
			BreakerOpenDuration: 10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			SSLMode:        "disable",
			MaxConnections: 10,
			Timeout:        30 * time.Second,
		},
		DuckDB: DuckDBConfig{
			DBPath:         ":memory:",
			MaxConnections: 1,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "resource:",
			TTL:    5 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			Prefix: "snapshots/",
			Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.List.PageSize <= 0 {
		return &ConfigError{Field: "list.pageSize", Message: "must be greater than 0"}
	}

	switch c.List.Strategy {
	case LoadOnDemand, LoadBackground:
	default:
		return &ConfigError{Field: "list.strategy", Message: "must be on-demand or background"}
	}

	if c.List.IdentityCacheSize <= 0 {
		return &ConfigError{Field: "list.identityCacheSize", Message: "must be greater than 0"}
	}

	if c.Remote.BreakerEnabled {
		if c.Remote.BreakerThreshold <= 0 {
			return &ConfigError{Field: "remote.breakerThreshold", Message: "must be greater than 0"}
		}
		if c.Remote.BreakerWindow <= 0 || c.Remote.BreakerOpenDuration <= 0 {
			return &ConfigError{Field: "remote.breakerWindow", Message: "window and open duration must be positive"}
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return &ConfigError{Field: "redis.addr", Message: "required when redis is enabled"}
	}

	if c.Snapshot.Enabled && c.Snapshot.Bucket == "" {
		return &ConfigError{Field: "snapshot.bucket", Message: "required when snapshots are enabled"}
	}

	if c.Snapshot.AccessKey != "" && c.Snapshot.SecretKey == "" {
		return &ConfigError{Field: "snapshot.secretKey", Message: "accessKey provided without secretKey"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
