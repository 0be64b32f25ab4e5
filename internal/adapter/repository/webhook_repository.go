package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/model"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxWebhookAttempts bounds redelivery of a failing event
const maxWebhookAttempts = 10

type webhookRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *gorm.DB, logger *zap.Logger) repository.WebhookEventRepository {
	return &webhookRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Save stores a new webhook event; duplicates are ignored
func (r *webhookRepository) Save(ctx context.Context, event *entity.WebhookEvent) (bool, error) {
	row := &model.DunningWebhookEvent{
		EventID:    event.EventID,
		EventType:  event.EventType,
		Status:     model.WebhookStatusPending,
		Data:       model.JSONB(event.Payload),
		OccurredAt: event.OccurredAt,
		CreatedAt:  dbTime(r.now()),
	}
	if row.Data == nil {
		row.Data = model.JSONB{}
	}

	// Use ON CONFLICT to handle duplicate deliveries
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)

	if result.Error != nil {
		r.logger.Error("Failed to save webhook event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(result.Error))
		return false, fmt.Errorf("failed to save webhook event: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// Get retrieves a webhook event by ID, nil if unknown
func (r *webhookRepository) Get(ctx context.Context, eventID string) (*entity.WebhookEvent, error) {
	var row model.DunningWebhookEvent

	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Take(&row).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get webhook event",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return r.modelToEntity(&row), nil
}

// MarkProcessed marks a webhook event as processed
func (r *webhookRepository) MarkProcessed(ctx context.Context, eventID string) error {
	now := dbTime(r.now())

	result := r.db.WithContext(ctx).
		Model(&model.DunningWebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":        model.WebhookStatusCompleted,
			"processed_at":  now,
			"next_retry_at": gorm.Expr("NULL"),
		})

	if result.Error != nil {
		r.logger.Error("Failed to mark webhook as processed",
			zap.String("event_id", eventID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to mark webhook as processed: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("webhook event not found: %s", eventID)
	}

	return nil
}

// MarkFailed records a processing failure and schedules redelivery
func (r *webhookRepository) MarkFailed(ctx context.Context, eventID string, cause error) error {
	var row model.DunningWebhookEvent
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Take(&row).Error; err != nil {
		r.logger.Error("Failed to get webhook event for failure update",
			zap.String("event_id", eventID),
			zap.Error(err))
		return fmt.Errorf("failed to get webhook event: %w", err)
	}

	// Exponential backoff: 10, 20, 40 minutes ... capped at 24 hours
	attempts := row.ProcessingAttempts + 1
	retryMinutes := 5 * (1 << attempts)
	if retryMinutes > 1440 {
		retryMinutes = 1440
	}
	nextRetry := dbTime(r.now().Add(time.Duration(retryMinutes) * time.Minute))
	errorMsg := cause.Error()

	result := r.db.WithContext(ctx).
		Model(&model.DunningWebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":              model.WebhookStatusFailed,
			"processing_attempts": attempts,
			"last_error":          errorMsg,
			"next_retry_at":       nextRetry,
		})

	if result.Error != nil {
		r.logger.Error("Failed to mark webhook as failed",
			zap.String("event_id", eventID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to mark webhook as failed: %w", result.Error)
	}

	return nil
}

// ListPending retrieves events awaiting (re)processing
func (r *webhookRepository) ListPending(ctx context.Context, now time.Time, limit int) ([]*entity.WebhookEvent, error) {
	var rows []model.DunningWebhookEvent

	query := r.db.WithContext(ctx).
		Where("status IN ?", []model.WebhookStatus{model.WebhookStatusPending, model.WebhookStatusFailed}).
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", dbTime(now)).
		Where("processing_attempts < ?", maxWebhookAttempts).
		Order("created_at ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		r.logger.Error("Failed to get pending webhook events", zap.Error(err))
		return nil, fmt.Errorf("failed to get pending webhook events: %w", err)
	}

	out := make([]*entity.WebhookEvent, 0, len(rows))
	for i := range rows {
		out = append(out, r.modelToEntity(&rows[i]))
	}
	return out, nil
}

func (r *webhookRepository) modelToEntity(m *model.DunningWebhookEvent) *entity.WebhookEvent {
	ev := &entity.WebhookEvent{
		ID:         m.ID,
		EventID:    m.EventID,
		EventType:  m.EventType,
		Status:     string(m.Status),
		Attempts:   m.ProcessingAttempts,
		Payload:    map[string]interface{}(m.Data),
		CreatedAt:  m.CreatedAt.UTC(),
		OccurredAt: m.OccurredAt,
	}
	if m.LastError != nil {
		ev.LastError = *m.LastError
	}
	return ev
}
