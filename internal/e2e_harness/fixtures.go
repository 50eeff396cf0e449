package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/codec"
	"github.com/lychee-technology/resource/internal"
)

// SeedUser is one row of the users fixture table.
type SeedUser struct {
	Name        string
	Status      string
	Description string
}

// SeedUsers are inserted by SeedPostgres and SeedDuckDB.
var SeedUsers = []SeedUser{
	{Name: "ALICE", Status: "*ENABLED", Description: "Operations"},
	{Name: "BOB", Status: "*DISABLED", Description: "Payroll"},
	{Name: "CAROL", Status: "*ENABLED", Description: "Security"},
	{Name: "DAVE", Status: "*DISABLED", Description: "Archive"},
	{Name: "ERIN", Status: "*ENABLED", Description: "Support"},
}

// UsersTable maps the user kind onto the fixture table.
var UsersTable = resource.TableMapping{
	Table:      "users",
	KeyColumns: map[string]string{"NAME": "name"},
	Columns:    map[string]string{"STATUS": "status", "TEXT": "description"},
}

var statusCodec = codec.Mapping{Pairs: []codec.Pair{
	{Logical: "enabled", Physical: "*ENABLED"},
	{Logical: "disabled", Physical: "*DISABLED"},
}}

// NewUserRegistry describes the user kind served by the fixture table.
func NewUserRegistry() (resource.MetadataRegistry, error) {
	reg := internal.NewMetadataRegistry("user", "NAME")
	for _, d := range []resource.Descriptor{
		{ID: "NAME", Kind: resource.KindText, ReadOnly: true, Codec: codec.Text{Width: 10}},
		{ID: "STATUS", Kind: resource.KindText, LegalValues: []any{"enabled", "disabled"}, Codec: statusCodec,
			GetOperation: "users", SetOperation: "users"},
		{ID: "TEXT", Kind: resource.KindText, GetOperation: "users", SetOperation: "users"},
		{ID: "STATUS", Class: resource.ClassSelection, Kind: resource.KindText,
			LegalValues: []any{"enabled", "disabled"}, Codec: statusCodec},
		{ID: "NAME", Class: resource.ClassSort, Kind: resource.KindText},
	} {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

const createUsers = `CREATE TABLE IF NOT EXISTS users (
  name VARCHAR(10) PRIMARY KEY,
  status VARCHAR(16) NOT NULL,
  description TEXT
)`

// SeedPostgres creates the users table and inserts SeedUsers.
func SeedPostgres(ctx context.Context, db *sql.DB) error {
	return seed(ctx, db)
}

// SeedDuckDB creates the users table in DuckDB and inserts SeedUsers.
func SeedDuckDB(ctx context.Context, db *sql.DB) error {
	return seed(ctx, db)
}

func seed(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createUsers); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	for _, u := range SeedUsers {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO users (name, status, description) VALUES ($1, $2, $3)`,
			u.Name, u.Status, u.Description); err != nil {
			return fmt.Errorf("insert user %s: %w", u.Name, err)
		}
	}
	return nil
}

// NewS3Client builds a path-style client for the object store container.
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(S3AccessKey, S3SecretKey, "")),
		config.WithBaseEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// NewUploader wraps client with the multipart upload manager.
func NewUploader(client *s3.Client) *manager.Uploader {
	return manager.NewUploader(client)
}

// ReadObject returns the body of bucket/key.
func ReadObject(ctx context.Context, client *s3.Client, bucket, key string) ([]byte, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
