package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lychee-technology/resource"
	"github.com/spf13/viper"
)

// LoadConfig builds a Config from defaults, an optional file and RESOURCE_
// environment variables, in increasing precedence. With an empty path a
// resource.{yaml,json} in the working directory is used when present.
func LoadConfig(path string) (*resource.Config, error) {
	v := viper.New()
	setDefaults(v, resource.DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("resource")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RESOURCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := resource.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *resource.Config) {
	v.SetDefault("store.batchGroupFetch", d.Store.BatchGroupFetch)

	v.SetDefault("list.pageSize", d.List.PageSize)
	v.SetDefault("list.strategy", string(d.List.Strategy))
	v.SetDefault("list.identityCacheSize", d.List.IdentityCacheSize)
	v.SetDefault("list.shareIdentities", d.List.ShareIdentities)

	v.SetDefault("remote.breakerEnabled", d.Remote.BreakerEnabled)
	v.SetDefault("remote.breakerThreshold", d.Remote.BreakerThreshold)
	v.SetDefault("remote.breakerWindow", d.Remote.BreakerWindow)
	v.SetDefault("remote.breakerOpenDuration", d.Remote.BreakerOpenDuration)

	v.SetDefault("catalog.directory", d.Catalog.Directory)

	v.SetDefault("postgres.host", d.Postgres.Host)
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.database", d.Postgres.Database)
	v.SetDefault("postgres.username", d.Postgres.Username)
	v.SetDefault("postgres.password", d.Postgres.Password)
	v.SetDefault("postgres.sslMode", d.Postgres.SSLMode)
	v.SetDefault("postgres.useIAM", d.Postgres.UseIAM)
	v.SetDefault("postgres.region", d.Postgres.Region)
	v.SetDefault("postgres.maxConnections", d.Postgres.MaxConnections)
	v.SetDefault("postgres.timeout", d.Postgres.Timeout)

	v.SetDefault("duckdb.enabled", d.DuckDB.Enabled)
	v.SetDefault("duckdb.dbPath", d.DuckDB.DBPath)
	v.SetDefault("duckdb.maxConnections", d.DuckDB.MaxConnections)
	v.SetDefault("duckdb.memoryLimitMB", d.DuckDB.MemoryLimitMB)
	v.SetDefault("duckdb.threads", d.DuckDB.Threads)
	v.SetDefault("duckdb.enableS3", d.DuckDB.EnableS3)
	v.SetDefault("duckdb.s3Region", d.DuckDB.S3Region)
	v.SetDefault("duckdb.s3Endpoint", d.DuckDB.S3Endpoint)
	v.SetDefault("duckdb.s3AccessKey", d.DuckDB.S3AccessKey)
	v.SetDefault("duckdb.s3SecretKey", d.DuckDB.S3SecretKey)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("snapshot.enabled", d.Snapshot.Enabled)
	v.SetDefault("snapshot.bucket", d.Snapshot.Bucket)
	v.SetDefault("snapshot.prefix", d.Snapshot.Prefix)
	v.SetDefault("snapshot.region", d.Snapshot.Region)
	v.SetDefault("snapshot.endpoint", d.Snapshot.Endpoint)
	v.SetDefault("snapshot.accessKey", d.Snapshot.AccessKey)
	v.SetDefault("snapshot.secretKey", d.Snapshot.SecretKey)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
