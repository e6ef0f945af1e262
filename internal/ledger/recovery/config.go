package recovery

import (
	"time"

	"github.com/smallbiznis/plantwatch/internal/config"
)

// Config controls the abandoned-claim recovery loop.
type Config struct {
	StaleAfter   time.Duration
	BatchSize    int
	PollInterval time.Duration
	RunTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		StaleAfter:   5 * time.Minute,
		BatchSize:    100,
		PollInterval: 30 * time.Second,
		RunTimeout:   10 * time.Second,
	}
}

func FromAppConfig(cfg config.Config) Config {
	c := DefaultConfig()
	if cfg.Supervisor.LedgerStaleAfter > 0 {
		c.StaleAfter = cfg.Supervisor.LedgerStaleAfter
	}
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}
