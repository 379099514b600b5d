package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/txguard/internal/resilience/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Queue.Name == "" {
		c.Queue.Name = "default"
	}
	if c.Queue.DefaultMaxAttempts == 0 {
		c.Queue.DefaultMaxAttempts = 3
	}
	if c.Queue.DrainTimeout == 0 {
		c.Queue.DrainTimeout = 30 * time.Second
	}

	def := retry.DefaultPolicy
	if c.Retry.Strategy == "" {
		c.Retry.Strategy = def.Strategy
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = def.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.UnknownMaxAttempts == 0 {
		c.Retry.UnknownMaxAttempts = def.UnknownMaxAttempts
	}
	if c.Retry.RateLimitMultiplier == 0 {
		c.Retry.RateLimitMultiplier = def.RateLimitMultiplier
	}

	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.OpenTimeout == 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}

	if c.Batch.MaxAttemptsPerItem == 0 {
		c.Batch.MaxAttemptsPerItem = c.Queue.DefaultMaxAttempts
	}

	if c.Fee.BumpPercent == 0 {
		c.Fee.BumpPercent = 10
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.WriteTimeout == 0 {
		c.Storage.WriteTimeout = 5 * time.Second
	}
}

// Validate reports configuration mistakes.
func (c *AppConfig) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required")
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres storage driver")
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Fee.BumpPercent < 0 {
		return fmt.Errorf("fee.bump_percent must not be negative")
	}
	return nil
}
