package model

import (
	"database/sql/driver"
	"time"
)

// WebhookStatus represents the processing status of a webhook
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusCompleted WebhookStatus = "completed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// Scan implements sql.Scanner interface
func (w *WebhookStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*w = WebhookStatus(v)
	case []byte:
		*w = WebhookStatus(v)
	default:
		*w = WebhookStatusPending
	}
	return nil
}

// Value implements driver.Valuer interface
func (w WebhookStatus) Value() (driver.Value, error) {
	return string(w), nil
}

// DunningWebhookEvent represents a received billing webhook event
type DunningWebhookEvent struct {
	ID                 int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID            string        `gorm:"uniqueIndex;not null;size:255" json:"event_id"`
	EventType          string        `gorm:"not null;size:100;index" json:"event_type"`
	Status             WebhookStatus `gorm:"size:16;not null;index" json:"status"`
	ProcessedAt        *time.Time    `json:"processed_at,omitempty"`
	Data               JSONB         `gorm:"type:jsonb;not null" json:"data"`
	ProcessingAttempts int           `gorm:"not null;default:0" json:"processing_attempts"`
	LastError          *string       `gorm:"type:text" json:"last_error,omitempty"`
	NextRetryAt        *time.Time    `gorm:"index" json:"next_retry_at,omitempty"`
	OccurredAt         *time.Time    `json:"occurred_at,omitempty"`
	CreatedAt          time.Time     `gorm:"not null;autoCreateTime:false" json:"created_at"`
}

// TableName specifies the table name for GORM
func (DunningWebhookEvent) TableName() string {
	return "dunning_webhook_events"
}
