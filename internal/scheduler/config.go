package scheduler

import (
	"time"

	"github.com/smallbiznis/milkrun/internal/config"
)

// Config controls the scheduler tick and job selection.
type Config struct {
	RunInterval      time.Duration
	EnabledJobs      []string
	EnsureDeliveries bool
	LockTTL          time.Duration
	JobTimeout       time.Duration
	// DoneTTL keeps a finished job's redis key so other instances skip the
	// day. It must outlive the civil day.
	DoneTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		EnsureDeliveries: true,
		LockTTL:          10 * time.Minute,
		JobTimeout:       5 * time.Minute,
		DoneTTL:          36 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
		EnsureDeliveries: cfg.Scheduler.EnsureDeliveries,
		LockTTL:          cfg.Scheduler.LockTTL,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.DoneTTL <= 0 {
		c.DoneTTL = defaults.DoneTTL
	}
	return c
}
