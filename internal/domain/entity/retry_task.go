package entity

import "time"

// RetryTaskStatus is the lifecycle of a scheduled retry.
type RetryTaskStatus string

const (
	TaskPending RetryTaskStatus = "pending"
	TaskRunning RetryTaskStatus = "running"
	TaskDead    RetryTaskStatus = "dead"
)

// RetryTask is a durable request to run retryPayment for a subscription at RunAt.
// There is at most one task per subscription.
type RetryTask struct {
	SubscriptionID string
	RunAt          time.Time
	Attempts       int
	Status         RetryTaskStatus
	LeaseID        string
	LockedUntil    *time.Time
	LastError      string
}

// BillingEventKind classifies upstream billing events.
type BillingEventKind string

const (
	BillingPaymentFailed    BillingEventKind = "payment_failed"
	BillingPaymentSucceeded BillingEventKind = "payment_succeeded"
)

// BillingEvent is a provider-neutral charge outcome for a subscription.
type BillingEvent struct {
	EventID        string
	EventType      string
	Kind           BillingEventKind
	SubscriptionID string
	OccurredAt     time.Time
	FailureReason  string
	Payload        map[string]interface{}
}

// Stored event statuses.
const (
	EventPending   = "pending"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// WebhookEvent is a persisted upstream event used for idempotency and redelivery.
type WebhookEvent struct {
	ID         int64
	EventID    string
	EventType  string
	Status     string
	Attempts   int
	LastError  string
	Payload    map[string]interface{}
	CreatedAt  time.Time
	OccurredAt *time.Time
}
