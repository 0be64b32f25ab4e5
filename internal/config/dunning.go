package config

import (
	"fmt"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
)

// DunningConfig configures the orchestrator and its collaborators
type DunningConfig struct {
	// Ladder overrides the default escalation table when non-empty
	Ladder []LadderStepConfig `yaml:"ladder"`
	// MaxConflictRetries bounds re-read/recompute loops after a lost CAS
	MaxConflictRetries int `yaml:"max_conflict_retries"`
	// MinRetryDelay is the earliest a follow-up retry runs after the last ladder day passed
	MinRetryDelay time.Duration `yaml:"min_retry_delay"`
	// LockTTL bounds how long the per-subscription retry lock is held
	LockTTL time.Duration `yaml:"lock_ttl"`

	NotificationChannel string `yaml:"notification_channel"`
	AccessChannel       string `yaml:"access_channel"`
	AccessKeyPrefix     string `yaml:"access_key_prefix"`
}

type LadderStepConfig struct {
	DayOffset      int    `yaml:"day_offset"`
	State          string `yaml:"state"`
	Template       string `yaml:"template"`
	RetriesPayment bool   `yaml:"retries_payment"`
}

// SchedulerConfig configures the durable retry dispatcher
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	Lease        time.Duration `yaml:"lease"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// SweepConfig configures the periodic escalation sweep
type SweepConfig struct {
	Disabled      bool          `yaml:"disabled"`
	Schedule      string        `yaml:"schedule"`
	Grace         time.Duration `yaml:"grace"`
	PageSize      int           `yaml:"page_size"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

func (c *DunningConfig) applyDefaults() {
	if c.MaxConflictRetries == 0 {
		c.MaxConflictRetries = 5
	}
	if c.MinRetryDelay == 0 {
		c.MinRetryDelay = time.Hour
	}
	if c.LockTTL == 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.NotificationChannel == "" {
		c.NotificationChannel = "dunning.notifications"
	}
	if c.AccessChannel == "" {
		c.AccessChannel = "dunning.access"
	}
	if c.AccessKeyPrefix == "" {
		c.AccessKeyPrefix = "access:suspended:"
	}
}

// BuildLadder returns the configured ladder, or the default one
func (c *DunningConfig) BuildLadder() (entity.Ladder, error) {
	if len(c.Ladder) == 0 {
		return entity.DefaultLadder(), nil
	}

	ladder := make(entity.Ladder, 0, len(c.Ladder))
	for i, step := range c.Ladder {
		state, ok := entity.ParseEpisodeState(step.State)
		if !ok {
			return nil, fmt.Errorf("%w: step %d has unknown state %q", domainErrors.ErrInvalidLadder, i, step.State)
		}
		ladder = append(ladder, entity.LadderStep{
			DayOffset:      step.DayOffset,
			State:          state,
			Template:       step.Template,
			RetriesPayment: step.RetriesPayment,
		})
	}
	if err := ladder.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrInvalidLadder, err)
	}
	return ladder, nil
}

func (c *SchedulerConfig) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.Lease == 0 {
		c.Lease = 5 * time.Minute
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = time.Minute
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = time.Hour
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
}

func (c *SweepConfig) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = "@every 1h"
	}
	if c.Grace == 0 {
		c.Grace = 15 * time.Minute
	}
	if c.PageSize == 0 {
		c.PageSize = 100
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = 5
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
}
