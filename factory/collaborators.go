package factory

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/internal"
	"go.uber.org/zap"
)

// NewPostgresPool creates a PostgreSQL connection pool. With UseIAM every new
// connection authenticates with a fresh Aurora DSQL token instead of the
// configured password.
func NewPostgresPool(ctx context.Context, cfg resource.PostgresConfig) (*pgxpool.Pool, error) {
	if err := internal.ValidatePostgresConfig(cfg); err != nil {
		return nil, &resource.ConfigError{Field: "postgres", Message: err.Error()}
	}
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	poolConfig.ConnConfig.ConnectTimeout = cfg.Timeout

	if cfg.UseIAM {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
			if err != nil {
				return fmt.Errorf("generate IAM auth token: %w", err)
			}
			cc.Password = token
			return nil
		}
		zap.S().Infow("postgres pool uses IAM auth tokens", "endpoint", endpoint, "region", awsCfg.Region)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := internal.PostgresHealthCheck(ctx, pool, cfg.Timeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// RegisterPostgres registers a table-backed collaborator for every kind in
// cfg.Tables. The collaborator serves reads, writes, lists and the level.
func RegisterPostgres(e *Engine, pool *pgxpool.Pool, cfg resource.PostgresConfig) error {
	for _, name := range sortedKinds(cfg.Tables) {
		reg, err := e.catalogFold(name)
		if err != nil {
			return err
		}
		kind := reg.Kind()
		mapping, err := canonicalMapping(reg, cfg.Tables[name])
		if err != nil {
			return err
		}
		c, err := internal.NewPostgresCollaborator(pool, kind, mapping, e.config.List.PageSize)
		if err != nil {
			return err
		}
		if err := e.Register(kind, Collaborators{Getter: c, Setter: c, Source: c, Connector: c}); err != nil {
			return err
		}
	}
	return nil
}

// NewDuckDBClient opens DuckDB and registers its Close with the engine.
func NewDuckDBClient(ctx context.Context, e *Engine, cfg resource.DuckDBConfig) (*internal.DuckDBClient, error) {
	if err := internal.ValidateDuckDBConfig(cfg); err != nil {
		return nil, &resource.ConfigError{Field: "duckdb", Message: err.Error()}
	}
	client, err := internal.NewDuckDBClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.AddCloser(client.Close)
	return client, nil
}

// RegisterDuckDB registers a read-only source for every kind in cfg.Tables.
// Attributes of these kinds can be read but never committed.
func RegisterDuckDB(e *Engine, client *internal.DuckDBClient, cfg resource.DuckDBConfig) error {
	for _, name := range sortedKinds(cfg.Tables) {
		reg, err := e.catalogFold(name)
		if err != nil {
			return err
		}
		kind := reg.Kind()
		mapping, err := canonicalMapping(reg, cfg.Tables[name])
		if err != nil {
			return err
		}
		src, err := internal.NewDuckDBSource(client.DB, kind, mapping, e.config.List.PageSize)
		if err != nil {
			return err
		}
		if err := e.Register(kind, Collaborators{Getter: src, Source: src}); err != nil {
			return err
		}
	}
	return nil
}

// NewRedisCache connects to Redis and makes e front getters registered
// afterwards with the cache.
func NewRedisCache(ctx context.Context, e *Engine, cfg resource.RedisConfig) (*internal.RedisAttributeCache, error) {
	client, err := internal.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.AddCloser(client.Close)
	cache := internal.NewRedisAttributeCache(client, cfg.Prefix, cfg.TTL)
	e.UseCache(cache)
	return cache, nil
}

// NewS3Client builds an S3 client from the snapshot settings. Static
// credentials are used when an access key is set; a custom endpoint switches
// to path-style addressing.
func NewS3Client(ctx context.Context, cfg resource.SnapshotConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	}), nil
}

// NewSnapshotExporter prepares the snapshot bucket and returns an exporter
// uploading through the S3 upload manager.
func NewSnapshotExporter(ctx context.Context, cfg resource.SnapshotConfig) (*internal.SnapshotExporter, error) {
	if cfg.Bucket == "" {
		return nil, &resource.ConfigError{Field: "snapshot.bucket", Message: "required"}
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := internal.EnsureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}
	zap.S().Infow("snapshot exporter ready", "bucket", cfg.Bucket, "prefix", cfg.Prefix,
		"endpoint", aws.ToString(client.Options().BaseEndpoint))
	return internal.NewSnapshotExporter(manager.NewUploader(client), cfg.Bucket, cfg.Prefix), nil
}

func sortedKinds(tables map[string]resource.TableMapping) []string {
	kinds := make([]string, 0, len(tables))
	for k := range tables {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
