package model

import (
	"time"
)

// DunningEpisode is the persisted payment-failure episode.
// Timestamps are written explicitly so updated_at can serve as the version token.
type DunningEpisode struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID string     `gorm:"not null;size:255;index" json:"subscription_id"`
	FailedAt       time.Time  `gorm:"not null" json:"failed_at"`
	RetryCount     int        `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt    *time.Time `gorm:"index" json:"next_retry_at,omitempty"`
	State          string     `gorm:"not null;size:32;index" json:"state"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Metadata       StringMap  `gorm:"type:jsonb" json:"metadata"`
	PendingEffects StringList `gorm:"type:jsonb" json:"pending_effects"`
	EffectsPending bool       `gorm:"not null;default:false;index" json:"effects_pending"`
	CreatedAt      time.Time  `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (DunningEpisode) TableName() string {
	return "dunning_episodes"
}

// DunningRetryTask is the durable due-task row, one per subscription.
type DunningRetryTask struct {
	SubscriptionID string     `gorm:"primaryKey;size:255" json:"subscription_id"`
	RunAt          time.Time  `gorm:"not null;index" json:"run_at"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	Status         string     `gorm:"not null;size:16;index" json:"status"`
	LeaseID        *string    `gorm:"size:36" json:"lease_id,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time  `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (DunningRetryTask) TableName() string {
	return "dunning_retry_tasks"
}
