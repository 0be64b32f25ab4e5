package repository

import (
	"context"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
)

// EpisodeRepository persists dunning episodes with optimistic concurrency.
type EpisodeRepository interface {
	// Create inserts a RETRYING episode. Returns a Conflict error if the subscription
	// already has a non-RESOLVED episode.
	Create(ctx context.Context, subscriptionID string, failedAt time.Time, lastError string, nextRetryAt time.Time) (*entity.Episode, error)
	// Get returns the open episode, or the most recent one if none is open.
	Get(ctx context.Context, subscriptionID string) (*entity.Episode, error)
	// CompareAndUpdate applies patch only if the stored UpdatedAt equals expected.
	CompareAndUpdate(ctx context.Context, subscriptionID string, expected time.Time, patch entity.EpisodePatch) (*entity.Episode, error)
	List(ctx context.Context, filter entity.EpisodeFilter, page entity.PaginationParams) ([]*entity.Episode, int64, error)
	// ListOverdue returns non-terminal episodes whose NextRetryAt is at or before cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Episode, error)
	ListPendingEffects(ctx context.Context, limit int) ([]*entity.Episode, error)
}
