// Package config provides environment-based configuration for the engine.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine configuration.
type Config struct {
	Endpoint  EndpointConfig
	Backoff   BackoffConfig
	Logging   LogConfig
	Debug     DebugConfig
	RateLimit RateLimitConfig
}

// EndpointConfig holds the remote stream endpoint configuration.
type EndpointConfig struct {
	URL string `envconfig:"SYNCLINE_URL" default:"ws://localhost:8000/stream"`
}

// BackoffConfig holds reconnect backoff configuration.
// Delay grows as BaseDelay * min(attempt, CapFactor); reconnection stops
// after MaxAttempts consecutive failures until the caller reconnects.
type BackoffConfig struct {
	BaseDelay   time.Duration `envconfig:"SYNCLINE_BACKOFF_BASE" default:"1s"`
	CapFactor   int           `envconfig:"SYNCLINE_BACKOFF_CAP" default:"5"`
	MaxAttempts int           `envconfig:"SYNCLINE_BACKOFF_MAX_ATTEMPTS" default:"10"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// DebugConfig holds the local metrics/debug HTTP listener configuration.
type DebugConfig struct {
	Addr    string `envconfig:"SYNCLINE_DEBUG_ADDR" default:"127.0.0.1:9090"`
	Enabled bool   `envconfig:"SYNCLINE_DEBUG_ENABLED" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the debug server
// and the outbound frame limiter.
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
		Endpoint: EndpointConfig{
			URL: "ws://localhost:8000/stream",
		},
		Backoff: BackoffConfig{
			BaseDelay:   time.Second,
			CapFactor:   5,
			MaxAttempts: 10,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Debug: DebugConfig{
			Addr:    "127.0.0.1:9090",
			Enabled: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
