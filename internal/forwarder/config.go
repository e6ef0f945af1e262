package forwarder

import (
	"time"

	"github.com/smallbiznis/plantwatch/internal/config"
)

// Config controls batching and delivery to the supervisor.
type Config struct {
	BatchSize      int
	QueueSize      int
	MaxWait        time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	FlushTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      64,
		QueueSize:      1024,
		MaxWait:        100 * time.Millisecond,
		MaxAttempts:    5,
		AttemptTimeout: 2 * time.Second,
		RetryInitial:   100 * time.Millisecond,
		RetryMax:       2 * time.Second,
		FlushTimeout:   5 * time.Second,
	}
}

func FromAppConfig(cfg config.Config) Config {
	r := cfg.Router
	return Config{
		BatchSize:      r.BatchSize,
		QueueSize:      r.QueueSize,
		MaxWait:        r.MaxWait,
		MaxAttempts:    r.MaxAttempts,
		AttemptTimeout: r.AttemptTimeout,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaults.MaxWait
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaults.AttemptTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaults.RetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaults.RetryMax
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaults.FlushTimeout
	}
	return c
}
