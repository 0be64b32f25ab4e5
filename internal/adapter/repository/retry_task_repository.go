package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/model"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type retryTaskRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRetryTaskRepository creates a new retry task repository
func NewRetryTaskRepository(db *gorm.DB, logger *zap.Logger) repository.RetryTaskRepository {
	return &retryTaskRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue upserts the task for a subscription
func (r *retryTaskRepository) Enqueue(ctx context.Context, subscriptionID string, runAt time.Time) error {
	now := dbTime(r.now())
	task := &model.DunningRetryTask{
		SubscriptionID: subscriptionID,
		RunAt:          dbTime(runAt),
		Status:         string(entity.TaskPending),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// A re-enqueue drops any lease so the running worker's Complete becomes a no-op
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subscription_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"run_at":       task.RunAt,
				"attempts":     0,
				"status":       task.Status,
				"lease_id":     gorm.Expr("NULL"),
				"locked_until": gorm.Expr("NULL"),
				"last_error":   "",
				"updated_at":   now,
			}),
		}).
		Create(task).Error

	if err != nil {
		r.logger.Error("Failed to enqueue retry task",
			zap.String("subscription_id", subscriptionID),
			zap.Time("run_at", task.RunAt),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue retry task: %w", err)
	}
	return nil
}

// ClaimDue leases due tasks, including running tasks whose lease expired
func (r *retryTaskRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entity.RetryTask, error) {
	now = dbTime(now)
	var candidates []model.DunningRetryTask

	query := r.db.WithContext(ctx).
		Where("run_at <= ?", now).
		Where("(status = ? OR (status = ? AND locked_until < ?))", string(entity.TaskPending), string(entity.TaskRunning), now).
		Order("run_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&candidates).Error; err != nil {
		r.logger.Error("Failed to query due retry tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to query due retry tasks: %w", err)
	}

	claimed := make([]*entity.RetryTask, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		leaseID := uuid.NewString()
		lockedUntil := now.Add(lease)

		// Conditional on the observed version so two dispatchers cannot claim the same row
		result := r.db.WithContext(ctx).
			Model(&model.DunningRetryTask{}).
			Where("subscription_id = ? AND updated_at = ?", c.SubscriptionID, dbTime(c.UpdatedAt)).
			Updates(map[string]interface{}{
				"status":       string(entity.TaskRunning),
				"lease_id":     leaseID,
				"locked_until": lockedUntil,
				"updated_at":   nextVersion(r.now(), c.UpdatedAt),
			})
		if result.Error != nil {
			r.logger.Error("Failed to claim retry task",
				zap.String("subscription_id", c.SubscriptionID),
				zap.Error(result.Error))
			return claimed, fmt.Errorf("failed to claim retry task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}

		c.Status = string(entity.TaskRunning)
		c.LeaseID = &leaseID
		c.LockedUntil = &lockedUntil
		claimed = append(claimed, r.modelToEntity(c))
	}

	return claimed, nil
}

// Complete removes a finished task if the lease is still ours
func (r *retryTaskRepository) Complete(ctx context.Context, task *entity.RetryTask) error {
	result := r.db.WithContext(ctx).
		Where("subscription_id = ? AND lease_id = ?", task.SubscriptionID, task.LeaseID).
		Delete(&model.DunningRetryTask{})

	if result.Error != nil {
		r.logger.Error("Failed to complete retry task",
			zap.String("subscription_id", task.SubscriptionID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to complete retry task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		r.logger.Debug("Retry task was re-enqueued while running",
			zap.String("subscription_id", task.SubscriptionID))
	}
	return nil
}

// Fail records a failed attempt and either reschedules or buries the task
func (r *retryTaskRepository) Fail(ctx context.Context, task *entity.RetryTask, nextRunAt *time.Time, cause string) error {
	updates := map[string]interface{}{
		"attempts":     task.Attempts + 1,
		"lease_id":     gorm.Expr("NULL"),
		"locked_until": gorm.Expr("NULL"),
		"last_error":   cause,
		"updated_at":   dbTime(r.now()),
	}
	if nextRunAt == nil {
		updates["status"] = string(entity.TaskDead)
	} else {
		updates["status"] = string(entity.TaskPending)
		updates["run_at"] = dbTime(*nextRunAt)
	}

	result := r.db.WithContext(ctx).
		Model(&model.DunningRetryTask{}).
		Where("subscription_id = ? AND lease_id = ?", task.SubscriptionID, task.LeaseID).
		Updates(updates)

	if result.Error != nil {
		r.logger.Error("Failed to record retry task failure",
			zap.String("subscription_id", task.SubscriptionID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to record retry task failure: %w", result.Error)
	}
	return nil
}

// Get retrieves the task for a subscription, nil if none exists
func (r *retryTaskRepository) Get(ctx context.Context, subscriptionID string) (*entity.RetryTask, error) {
	var row model.DunningRetryTask

	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get retry task",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get retry task: %w", err)
	}
	return r.modelToEntity(&row), nil
}

func (r *retryTaskRepository) modelToEntity(m *model.DunningRetryTask) *entity.RetryTask {
	task := &entity.RetryTask{
		SubscriptionID: m.SubscriptionID,
		RunAt:          m.RunAt.UTC(),
		Attempts:       m.Attempts,
		Status:         entity.RetryTaskStatus(m.Status),
		LastError:      m.LastError,
	}
	if m.LeaseID != nil {
		task.LeaseID = *m.LeaseID
	}
	if m.LockedUntil != nil {
		t := m.LockedUntil.UTC()
		task.LockedUntil = &t
	}
	return task
}
