package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, LoadOnDemand, cfg.List.Strategy)
	assert.Equal(t, 100, cfg.List.PageSize)
	assert.True(t, cfg.Store.BatchGroupFetch)
	assert.Equal(t, 10*time.Second, cfg.Remote.BreakerOpenDuration)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"zero page size", func(c *Config) { c.List.PageSize = 0 }, "list.pageSize"},
		{"unknown strategy", func(c *Config) { c.List.Strategy = "eager" }, "list.strategy"},
		{"zero identity cache", func(c *Config) { c.List.IdentityCacheSize = 0 }, "list.identityCacheSize"},
		{"breaker threshold", func(c *Config) { c.Remote.BreakerThreshold = 0 }, "remote.breakerThreshold"},
		{"breaker window", func(c *Config) { c.Remote.BreakerWindow = 0 }, "remote.breakerWindow"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"snapshot without bucket", func(c *Config) { c.Snapshot.Enabled = true }, "snapshot.bucket"},
		{"access key without secret", func(c *Config) { c.Snapshot.AccessKey = "AKIA" }, "snapshot.secretKey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestConfigValidateBreakerDisabledSkipsBreakerChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.BreakerEnabled = false
	cfg.Remote.BreakerThreshold = 0
	assert.NoError(t, cfg.Validate())
}
