package repository

import (
	"context"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
)

// RetryTaskRepository is the durable due-task table behind the retry scheduler.
type RetryTaskRepository interface {
	// Enqueue upserts the subscription's task: run time replaced, attempts reset.
	Enqueue(ctx context.Context, subscriptionID string, runAt time.Time) error
	// ClaimDue leases up to limit due tasks until now+lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entity.RetryTask, error)
	// Complete deletes the task if it is still held under the claimed lease.
	Complete(ctx context.Context, task *entity.RetryTask) error
	// Fail releases the lease. A nil nextRunAt marks the task dead.
	Fail(ctx context.Context, task *entity.RetryTask, nextRunAt *time.Time, cause string) error
	Get(ctx context.Context, subscriptionID string) (*entity.RetryTask, error)
}
