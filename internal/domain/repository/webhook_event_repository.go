package repository

import (
	"context"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
)

// WebhookEventRepository stores upstream billing events for idempotent processing.
type WebhookEventRepository interface {
	// Save inserts the event; returns false if it was already stored.
	Save(ctx context.Context, event *entity.WebhookEvent) (bool, error)
	Get(ctx context.Context, eventID string) (*entity.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause error) error
	ListPending(ctx context.Context, now time.Time, limit int) ([]*entity.WebhookEvent, error)
}
