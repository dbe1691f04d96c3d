package scheduler

import (
	"time"

	"github.com/smallbiznis/feeledger/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval        time.Duration
	JobTimeout         time.Duration
	ReminderMinPending int64
	EnabledJobs        []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        24 * time.Hour,
		JobTimeout:         2 * time.Minute,
		ReminderMinPending: 1,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReminderMinPending <= 0 {
		c.ReminderMinPending = defaults.ReminderMinPending
	}
	return c
}

// ProvideConfig derives the scheduler settings from the fee configuration.
func ProvideConfig(fees *config.FeeConfigHolder) Config {
	cfg := fees.Get()
	return Config{
		RunInterval:        cfg.ReminderInterval,
		ReminderMinPending: cfg.ReminderMinPending,
	}.withDefaults()
}
