package internal

import (
	"context"
	"testing"

	"github.com/lychee-technology/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDuckDBConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     resource.DuckDBConfig
		wantErr bool
	}{
		{name: "disabled", cfg: resource.DuckDBConfig{MaxConnections: -1}},
		{name: "valid", cfg: resource.DuckDBConfig{Enabled: true, MaxConnections: 1}},
		{name: "no connections", cfg: resource.DuckDBConfig{Enabled: true}, wantErr: true},
		{name: "negative memory", cfg: resource.DuckDBConfig{Enabled: true, MaxConnections: 1, MemoryLimitMB: -1}, wantErr: true},
		{name: "negative threads", cfg: resource.DuckDBConfig{Enabled: true, MaxConnections: 1, Threads: -2}, wantErr: true},
		{
			name: "mapping without keys",
			cfg: resource.DuckDBConfig{Enabled: true, MaxConnections: 1,
				Tables: map[string]resource.TableMapping{"user": {Table: "users"}}},
			wantErr: true,
		},
		{name: "s3 without endpoint", cfg: resource.DuckDBConfig{Enabled: true, MaxConnections: 1, EnableS3: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDuckDBConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewDuckDBClientDisabled(t *testing.T) {
	_, err := NewDuckDBClient(context.Background(), resource.DuckDBConfig{DBPath: ":memory:"})
	assert.Error(t, err)
}

func TestDuckDBSetupStatements(t *testing.T) {
	cfg := resource.DuckDBConfig{
		Extensions:    []string{"parquet", "json"},
		EnableS3:      true,
		S3Region:      "eu-west-1",
		S3AccessKey:   "AKIA",
		S3SecretKey:   "it's-secret",
		MemoryLimitMB: 512,
		Threads:       4,
	}
	stmts := setupStatements(cfg)

	assert.Equal(t, []string{
		"INSTALL parquet;", "LOAD parquet;",
		"INSTALL json;", "LOAD json;",
		"INSTALL httpfs;", "LOAD httpfs;",
		"SET s3_access_key_id='AKIA';",
		"SET s3_secret_access_key='it''s-secret';",
		"SET s3_region='eu-west-1';",
		"PRAGMA memory_limit='512MB';",
		"PRAGMA threads=4;",
	}, stmts)
	assert.Equal(t, []string{"parquet", "json"}, cfg.Extensions)
	assert.Equal(t, "SET s3_secret_access_key=***", redactSetup(stmts[7]))
	assert.Equal(t, "PRAGMA threads=4;", redactSetup(stmts[10]))
}

func TestDuckDBClientNilSafety(t *testing.T) {
	var c *DuckDBClient
	assert.NoError(t, c.Close())
	require.Error(t, c.HealthCheck(context.Background()))
}
