package config

import (
	"time"

	"github.com/vietddude/txguard/internal/fee"
	redisclient "github.com/vietddude/txguard/internal/infra/redis"
	"github.com/vietddude/txguard/internal/infra/rpc"
	"github.com/vietddude/txguard/internal/infra/storage/postgres"
	"github.com/vietddude/txguard/internal/resilience/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	RPC      rpc.Config         `yaml:"rpc"`
	Queue    QueueConfig        `yaml:"queue"`
	Retry    RetryConfig        `yaml:"retry"`
	Breaker  BreakerConfig      `yaml:"breaker"`
	Batch    BatchConfig        `yaml:"batch"`
	Fee      FeeConfig          `yaml:"fee"`
	Storage  StorageConfig      `yaml:"storage"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueueConfig holds settings for the sequential submission queue.
type QueueConfig struct {
	Name               string        `yaml:"name"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	Spacing            time.Duration `yaml:"spacing"`         // minimum gap between distinct operations
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"` // 0 = no per-attempt timeout
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	Strategy            retry.Strategy `yaml:"strategy"` // exponential, linear
	BaseDelay           time.Duration  `yaml:"base_delay"`
	MaxDelay            time.Duration  `yaml:"max_delay"`
	UnknownMaxAttempts  int            `yaml:"unknown_max_attempts"`
	RateLimitMultiplier float64        `yaml:"rate_limit_multiplier"`
	Jitter              float64        `yaml:"jitter"`
}

// Policy converts the section into a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Strategy:            c.Strategy,
		BaseDelay:           c.BaseDelay,
		MaxDelay:            c.MaxDelay,
		UnknownMaxAttempts:  c.UnknownMaxAttempts,
		RateLimitMultiplier: c.RateLimitMultiplier,
		Jitter:              c.Jitter,
	}
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Disabled    bool          `yaml:"disabled"`
	Threshold   int           `yaml:"threshold"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// BatchConfig holds defaults for batch runs.
type BatchConfig struct {
	ChunkSize          int           `yaml:"chunk_size"` // <= 1 = sequential
	ChunkPause         time.Duration `yaml:"chunk_pause"`
	MaxAttemptsPerItem int           `yaml:"max_attempts_per_item"`
}

// FeeConfig holds priority multipliers as percentages of the baseline.
type FeeConfig struct {
	Low         int `yaml:"low"`
	Medium      int `yaml:"medium"`
	High        int `yaml:"high"`
	BumpPercent int `yaml:"bump_percent"` // increase applied on each resubmission
}

// Multipliers converts the section for fee.NewSelector.
func (c FeeConfig) Multipliers() fee.Multipliers {
	return fee.Multipliers{
		fee.TierLow:    c.Low,
		fee.TierMedium: c.Medium,
		fee.TierHigh:   c.High,
	}
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Driver       string        `yaml:"driver"`    // memory, postgres, redis
	Retention    time.Duration `yaml:"retention"` // 0 = keep forever
	WriteTimeout time.Duration `yaml:"write_timeout"`
}
