package scheduler

import (
	"time"

	"github.com/smallbiznis/loyalty/internal/config"
)

// Config controls the cron specs and limits of the loyalty batch jobs.
type Config struct {
	Enabled          bool
	ExpirySpec       string
	VoucherSweepSpec string
	TierReviewSpec   string
	JobTimeout       time.Duration
	LockTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ExpirySpec:       "@daily",
		VoucherSweepSpec: "@daily",
		TierReviewSpec:   "0 0 1 1,4,7,10 *",
		JobTimeout:       30 * time.Minute,
		LockTTL:          45 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.Scheduler.Enabled,
		ExpirySpec:       cfg.Scheduler.ExpirySpec,
		VoucherSweepSpec: cfg.Scheduler.VoucherSweepSpec,
		TierReviewSpec:   cfg.Scheduler.TierReviewSpec,
		JobTimeout:       cfg.Scheduler.JobTimeout,
		LockTTL:          cfg.Scheduler.LockTTL,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ExpirySpec == "" {
		c.ExpirySpec = defaults.ExpirySpec
	}
	if c.VoucherSweepSpec == "" {
		c.VoucherSweepSpec = defaults.VoucherSweepSpec
	}
	if c.TierReviewSpec == "" {
		c.TierReviewSpec = defaults.TierReviewSpec
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	// The lease outlives the job timeout.
	if c.LockTTL <= c.JobTimeout {
		c.LockTTL = c.JobTimeout + c.JobTimeout/2
	}
	return c
}
