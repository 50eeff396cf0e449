package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/resource"
)

// ValidateS3Config performs basic sanity checks on the S3 settings of DuckDB.
func ValidateS3Config(cfg resource.DuckDBConfig) error {
	if !cfg.EnableS3 {
		return nil
	}
	if cfg.S3Endpoint == "" && cfg.S3AccessKey == "" && cfg.S3SecretKey == "" {
		return fmt.Errorf("s3: enableS3=true requires at least s3Endpoint or credentials")
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey == "" {
		return fmt.Errorf("s3AccessKey provided without s3SecretKey")
	}
	if cfg.S3SecretKey != "" && cfg.S3AccessKey == "" {
		return fmt.Errorf("s3SecretKey provided without s3AccessKey")
	}
	return nil
}

// S3HealthCheck checks that the snapshot bucket exists and is reachable with
// the client's credentials.
func S3HealthCheck(ctx context.Context, client BucketAPI, bucket string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("s3 bucket %s: %s", bucket, apiErr.ErrorCode())
	}
	return fmt.Errorf("s3 health request failed: %w", err)
}
