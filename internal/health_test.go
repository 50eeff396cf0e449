package internal

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/lychee-technology/resource"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePostgresConfig(t *testing.T) {
	valid := resource.PostgresConfig{Host: "localhost", Port: 5432, MaxConnections: 5}
	tests := []struct {
		name    string
		mutate  func(*resource.PostgresConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*resource.PostgresConfig) {}},
		{name: "empty host", mutate: func(c *resource.PostgresConfig) { c.Host = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *resource.PostgresConfig) { c.Port = 70000 }, wantErr: true},
		{name: "no connections", mutate: func(c *resource.PostgresConfig) { c.MaxConnections = 0 }, wantErr: true},
		{name: "iam without region", mutate: func(c *resource.PostgresConfig) { c.UseIAM = true }, wantErr: true},
		{name: "iam with region", mutate: func(c *resource.PostgresConfig) { c.UseIAM = true; c.Region = "us-east-1" }},
		{
			name: "mapping without table",
			mutate: func(c *resource.PostgresConfig) {
				c.Tables = map[string]resource.TableMapping{"user": {KeyColumns: map[string]string{"NAME": "name"}}}
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := ValidatePostgresConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateS3Config(t *testing.T) {
	s3 := resource.DuckDBConfig{EnableS3: true}
	require.Error(t, ValidateS3Config(s3), "enableS3 without endpoint or creds should fail")

	s3.S3Endpoint = "http://localhost:9000"
	require.NoError(t, ValidateS3Config(s3), "endpoint-only S3 config allowed for basic checks")

	require.Error(t, ValidateS3Config(resource.DuckDBConfig{EnableS3: true, S3AccessKey: "k"}))
	require.Error(t, ValidateS3Config(resource.DuckDBConfig{EnableS3: true, S3SecretKey: "s"}))
	require.NoError(t, ValidateS3Config(resource.DuckDBConfig{S3AccessKey: "k"}), "ignored while S3 is off")
}

func TestPostgresHealthCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, PostgresHealthCheck(context.Background(), mock, 0))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = PostgresHealthCheck(context.Background(), mock, 0)
	assert.ErrorContains(t, err, "postgres ping failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestS3HealthCheck(t *testing.T) {
	require.NoError(t, S3HealthCheck(context.Background(), &fakeBucketAPI{}, "lists", 0))

	err := S3HealthCheck(context.Background(), &fakeBucketAPI{headErr: &smithy.GenericAPIError{Code: "Forbidden"}}, "lists", 0)
	assert.EqualError(t, err, "s3 bucket lists: Forbidden")

	err = S3HealthCheck(context.Background(), &fakeBucketAPI{headErr: errors.New("dial tcp")}, "lists", 0)
	assert.ErrorContains(t, err, "s3 health request failed")
}
