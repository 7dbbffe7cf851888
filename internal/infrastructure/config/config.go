package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration.
type Config struct {
	Server    ServerConfig
	Handshake HandshakeConfig
	Routing   RoutingConfig
	Discovery DiscoveryConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// ScopeID names the canvas this host serves on the scope bridge.
	ScopeID string `envconfig:"SCOPE_ID" default:"canvas-main"`
	// Peers are scope bridge URLs dialed at startup.
	Peers []string `envconfig:"SCOPE_PEERS"`
}

// HandshakeConfig governs the READY handshake of a widget channel.
type HandshakeConfig struct {
	ReadyTimeout  time.Duration `envconfig:"HANDSHAKE_READY_TIMEOUT" default:"5s"`
	RetryInterval time.Duration `envconfig:"HANDSHAKE_RETRY_INTERVAL" default:"500ms"`
	MaxRetries    int           `envconfig:"HANDSHAKE_MAX_RETRIES" default:"3"`
	BufferCap     int           `envconfig:"HANDSHAKE_BUFFER_CAP" default:"64"`
}

// RoutingConfig holds pipeline routing tunables.
type RoutingConfig struct {
	// MaxDepth bounds the routing chain behind one emission. Cycles are
	// legal to create, so this is the only local bound on a cascade.
	MaxDepth int `envconfig:"ROUTING_MAX_DEPTH" default:"20"`
	// MaxHops bounds cross-boundary crossings of one logical event.
	MaxHops int `envconfig:"ROUTING_MAX_HOPS" default:"10"`
}

// DiscoveryConfig holds cross-boundary scope discovery tunables.
type DiscoveryConfig struct {
	HeartbeatInterval time.Duration `envconfig:"DISCOVERY_HEARTBEAT_INTERVAL" default:"5s"`
	ScopeTimeout      time.Duration `envconfig:"DISCOVERY_SCOPE_TIMEOUT" default:"15s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8400",
			Host:    "0.0.0.0",
			ScopeID: "canvas-main",
		},
		Handshake: HandshakeConfig{
			ReadyTimeout:  5 * time.Second,
			RetryInterval: 500 * time.Millisecond,
			MaxRetries:    3,
			BufferCap:     64,
		},
		Routing: RoutingConfig{
			MaxDepth: 20,
			MaxHops:  10,
		},
		Discovery: DiscoveryConfig{
			HeartbeatInterval: 5 * time.Second,
			ScopeTimeout:      15 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Server.ScopeID == "" {
		return fmt.Errorf("server scope id cannot be empty")
	}
	if c.Handshake.MaxRetries < 0 {
		return fmt.Errorf("handshake max retries cannot be negative")
	}
	if c.Handshake.BufferCap < 1 {
		return fmt.Errorf("handshake buffer cap must be at least 1")
	}
	if c.Routing.MaxDepth < 1 {
		return fmt.Errorf("routing max depth must be at least 1")
	}
	if c.Routing.MaxHops < 1 {
		return fmt.Errorf("routing max hops must be at least 1")
	}
	if c.Discovery.ScopeTimeout <= c.Discovery.HeartbeatInterval {
		return fmt.Errorf("scope timeout must exceed heartbeat interval")
	}
	return nil
}
