package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8400", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Handshake config
	assert.Equal(t, 5*time.Second, cfg.Handshake.ReadyTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Handshake.RetryInterval)
	assert.Equal(t, 3, cfg.Handshake.MaxRetries)
	assert.Equal(t, 64, cfg.Handshake.BufferCap)

	// Routing config
	assert.Equal(t, 20, cfg.Routing.MaxDepth)
	assert.Equal(t, 10, cfg.Routing.MaxHops)

	// Discovery config
	assert.Equal(t, 5*time.Second, cfg.Discovery.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Discovery.ScopeTimeout)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, 20, cfg.Routing.MaxDepth)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                     "9400",
		"HANDSHAKE_READY_TIMEOUT":  "2s",
		"HANDSHAKE_RETRY_INTERVAL": "100ms",
		"HANDSHAKE_MAX_RETRIES":    "5",
		"ROUTING_MAX_DEPTH":        "30",
		"ROUTING_MAX_HOPS":         "6",
		"LOG_LEVEL":                "debug",
	}

	for key, value := range envVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range envVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9400", cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Handshake.ReadyTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Handshake.RetryInterval)
	assert.Equal(t, 5, cfg.Handshake.MaxRetries)
	assert.Equal(t, 30, cfg.Routing.MaxDepth)
	assert.Equal(t, 6, cfg.Routing.MaxHops)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.Handshake.MaxRetries = -1 }},
		{"zero buffer cap", func(c *Config) { c.Handshake.BufferCap = 0 }},
		{"zero depth", func(c *Config) { c.Routing.MaxDepth = 0 }},
		{"zero hops", func(c *Config) { c.Routing.MaxHops = 0 }},
		{"timeout under heartbeat", func(c *Config) { c.Discovery.ScopeTimeout = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
