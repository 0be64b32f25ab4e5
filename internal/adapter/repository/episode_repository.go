package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/model"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const openFirst = "CASE WHEN state = 'RESOLVED' THEN 1 ELSE 0 END"

type episodeRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewEpisodeRepository creates a new episode repository
func NewEpisodeRepository(db *gorm.DB, logger *zap.Logger) repository.EpisodeRepository {
	return &episodeRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// dbTime normalizes timestamps to the precision the database keeps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// nextVersion returns a token strictly greater than prev.
func nextVersion(now, prev time.Time) time.Time {
	v := dbTime(now)
	if !v.After(prev) {
		v = dbTime(prev).Add(time.Microsecond)
	}
	return v
}

// Create inserts a new RETRYING episode
func (r *episodeRepository) Create(ctx context.Context, subscriptionID string, failedAt time.Time, lastError string, nextRetryAt time.Time) (*entity.Episode, error) {
	now := dbTime(r.now())
	next := dbTime(nextRetryAt)
	row := &model.DunningEpisode{
		SubscriptionID: subscriptionID,
		FailedAt:       dbTime(failedAt),
		State:          string(entity.StateRetrying),
		LastError:      lastError,
		NextRetryAt:    &next,
		Metadata:       model.StringMap{},
		PendingEffects: model.StringList{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The partial unique index rejects a second open episode
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, domainErrors.Conflict(subscriptionID, "open episode exists")
		}
		r.logger.Error("Failed to create episode",
			zap.String("subscription_id", subscriptionID),
			zap.Error(result.Error))
		return nil, fmt.Errorf("failed to create episode: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domainErrors.Conflict(subscriptionID, "open episode exists")
	}

	return r.modelToEntity(row), nil
}

// Get retrieves the open episode, falling back to the most recent resolved one
func (r *episodeRepository) Get(ctx context.Context, subscriptionID string) (*entity.Episode, error) {
	row, err := r.current(r.db.WithContext(ctx), subscriptionID)
	if err != nil {
		return nil, err
	}
	return r.modelToEntity(row), nil
}

func (r *episodeRepository) current(tx *gorm.DB, subscriptionID string) (*model.DunningEpisode, error) {
	var row model.DunningEpisode
	err := tx.
		Where("subscription_id = ?", subscriptionID).
		Order(openFirst).
		Order("id DESC").
		Take(&row).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NotFound(subscriptionID)
		}
		r.logger.Error("Failed to get episode",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return &row, nil
}

// CompareAndUpdate applies patch when the stored version equals expected
func (r *episodeRepository) CompareAndUpdate(ctx context.Context, subscriptionID string, expected time.Time, patch entity.EpisodePatch) (*entity.Episode, error) {
	var updated model.DunningEpisode

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := r.current(tx, subscriptionID)
		if err != nil {
			return err
		}
		if !row.UpdatedAt.Equal(dbTime(expected)) {
			return domainErrors.Conflict(subscriptionID, "stale version")
		}

		updates := r.patchToUpdates(row, patch)
		result := tx.Model(&model.DunningEpisode{}).
			Where("id = ? AND updated_at = ?", row.ID, dbTime(row.UpdatedAt)).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update episode: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return domainErrors.Conflict(subscriptionID, "concurrent update")
		}

		return tx.Where("id = ?", row.ID).Take(&updated).Error
	})

	if err != nil {
		if !domainErrors.IsConflict(err) && !domainErrors.IsNotFound(err) {
			r.logger.Error("Failed to compare-and-update episode",
				zap.String("subscription_id", subscriptionID),
				zap.Error(err))
		}
		return nil, err
	}

	return r.modelToEntity(&updated), nil
}

func (r *episodeRepository) patchToUpdates(row *model.DunningEpisode, patch entity.EpisodePatch) map[string]interface{} {
	updates := map[string]interface{}{
		"updated_at": nextVersion(r.now(), row.UpdatedAt),
	}
	if patch.State != nil {
		updates["state"] = string(*patch.State)
	}
	if patch.RetryCount != nil {
		updates["retry_count"] = *patch.RetryCount
	}
	if patch.LastError != nil {
		updates["last_error"] = *patch.LastError
	}
	if patch.ClearNextRetryAt {
		updates["next_retry_at"] = gorm.Expr("NULL")
	} else if patch.NextRetryAt != nil {
		updates["next_retry_at"] = dbTime(*patch.NextRetryAt)
	}
	if patch.ResolvedAt != nil {
		updates["resolved_at"] = dbTime(*patch.ResolvedAt)
	}
	if len(patch.Metadata) > 0 {
		merged := model.StringMap{}
		for k, v := range row.Metadata {
			merged[k] = v
		}
		for k, v := range patch.Metadata {
			merged[k] = v
		}
		updates["metadata"] = merged
	}
	if patch.PendingEffects != nil {
		effects := make(model.StringList, 0, len(*patch.PendingEffects))
		for _, e := range *patch.PendingEffects {
			effects = append(effects, string(e))
		}
		updates["pending_effects"] = effects
		updates["effects_pending"] = len(effects) > 0
	}
	return updates
}

// List retrieves episodes for operator tooling, newest first
func (r *episodeRepository) List(ctx context.Context, filter entity.EpisodeFilter, page entity.PaginationParams) ([]*entity.Episode, int64, error) {
	page.Validate()

	query := r.db.WithContext(ctx).Model(&model.DunningEpisode{})
	if filter.State != nil {
		query = query.Where("state = ?", string(*filter.State))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		r.logger.Error("Failed to count episodes", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count episodes: %w", err)
	}

	var rows []model.DunningEpisode
	err := query.
		Order("id DESC").
		Offset(page.CalculateOffset()).
		Limit(page.Limit).
		Find(&rows).Error
	if err != nil {
		r.logger.Error("Failed to list episodes", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list episodes: %w", err)
	}

	return r.modelsToEntities(rows), total, nil
}

// ListOverdue retrieves non-terminal episodes whose retry is due at cutoff
func (r *episodeRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Episode, error) {
	var rows []model.DunningEpisode

	query := r.db.WithContext(ctx).
		Where("state NOT IN ?", []string{string(entity.StateSuspended), string(entity.StateResolved)}).
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", dbTime(cutoff)).
		Order("next_retry_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		r.logger.Error("Failed to list overdue episodes", zap.Error(err))
		return nil, fmt.Errorf("failed to list overdue episodes: %w", err)
	}
	return r.modelsToEntities(rows), nil
}

// ListPendingEffects retrieves episodes with undelivered side effects
func (r *episodeRepository) ListPendingEffects(ctx context.Context, limit int) ([]*entity.Episode, error) {
	var rows []model.DunningEpisode

	query := r.db.WithContext(ctx).
		Where("effects_pending = ?", true).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		r.logger.Error("Failed to list episodes with pending effects", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending effects: %w", err)
	}
	return r.modelsToEntities(rows), nil
}

func (r *episodeRepository) modelsToEntities(rows []model.DunningEpisode) []*entity.Episode {
	out := make([]*entity.Episode, 0, len(rows))
	for i := range rows {
		out = append(out, r.modelToEntity(&rows[i]))
	}
	return out
}

func (r *episodeRepository) modelToEntity(m *model.DunningEpisode) *entity.Episode {
	ep := &entity.Episode{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		FailedAt:       m.FailedAt.UTC(),
		RetryCount:     m.RetryCount,
		State:          entity.EpisodeState(m.State),
		LastError:      m.LastError,
		Metadata:       map[string]string{},
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	if m.NextRetryAt != nil {
		t := m.NextRetryAt.UTC()
		ep.NextRetryAt = &t
	}
	if m.ResolvedAt != nil {
		t := m.ResolvedAt.UTC()
		ep.ResolvedAt = &t
	}
	for k, v := range m.Metadata {
		ep.Metadata[k] = v
	}
	for _, e := range m.PendingEffects {
		ep.PendingEffects = append(ep.PendingEffects, entity.SideEffect(e))
	}
	return ep
}
