package usecase

import (
	"context"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/config"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-dunning/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RetryHandler runs one retry for a subscription
type RetryHandler func(ctx context.Context, subscriptionID string) error

// SchedulerOption customizes a DurableRetryScheduler
type SchedulerOption func(*DurableRetryScheduler)

// WithSchedulerClock overrides the time source
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *DurableRetryScheduler) { s.now = now }
}

// WithSchedulerMetrics attaches a metrics sink
func WithSchedulerMetrics(m Metrics) SchedulerOption {
	return func(s *DurableRetryScheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// DurableRetryScheduler delivers retries at least once from the due-task table.
// Each subscription has at most one task; failures back off exponentially until
// MaxAttempts, after which the task is left dead for the sweep.
type DurableRetryScheduler struct {
	tasks   repository.RetryTaskRepository
	cfg     config.SchedulerConfig
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time
}

// NewRetryScheduler creates a new scheduler over the task repository
func NewRetryScheduler(tasks repository.RetryTaskRepository, cfg config.SchedulerConfig, logger *zap.Logger, opts ...SchedulerOption) *DurableRetryScheduler {
	s := &DurableRetryScheduler{
		tasks:   tasks,
		cfg:     cfg,
		logger:  logger,
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule enqueues or replaces the subscription's retry
func (s *DurableRetryScheduler) Schedule(ctx context.Context, subscriptionID string, runAt time.Time) error {
	if err := s.tasks.Enqueue(ctx, subscriptionID, runAt); err != nil {
		return err
	}
	s.logger.Debug("Retry scheduled",
		zap.String("subscription_id", subscriptionID),
		zap.Time("run_at", runAt))
	return nil
}

// Run polls for due tasks until ctx is cancelled
func (s *DurableRetryScheduler) Run(ctx context.Context, handler RetryHandler) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("Retry scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("concurrency", s.cfg.Concurrency))

	for {
		if _, err := s.DispatchDue(ctx, handler); err != nil && ctx.Err() == nil {
			s.logger.Error("Retry dispatch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Retry scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchDue claims due tasks and runs them with bounded concurrency.
// It returns the number of tasks claimed.
func (s *DurableRetryScheduler) DispatchDue(ctx context.Context, handler RetryHandler) (int, error) {
	claimed, err := s.tasks.ClaimDue(ctx, s.now(), s.cfg.Lease, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Concurrency, 1))
	for _, task := range claimed {
		g.Go(func() error {
			s.runTask(gctx, handler, task)
			return nil
		})
	}
	return len(claimed), g.Wait()
}

func (s *DurableRetryScheduler) runTask(ctx context.Context, handler RetryHandler, task *entity.RetryTask) {
	err := handler(ctx, task.SubscriptionID)

	// A missing episode can never succeed, so the task is done
	if err == nil || domainErrors.IsNotFound(err) {
		if cerr := s.tasks.Complete(ctx, task); cerr != nil {
			s.logger.Error("Failed to complete retry task",
				zap.String("subscription_id", task.SubscriptionID),
				zap.Error(cerr))
		}
		s.metrics.TaskOutcome(TaskCompleted)
		return
	}

	attempts := task.Attempts + 1
	if attempts >= s.cfg.MaxAttempts {
		if ferr := s.tasks.Fail(ctx, task, nil, err.Error()); ferr != nil {
			s.logger.Error("Failed to bury retry task",
				zap.String("subscription_id", task.SubscriptionID),
				zap.Error(ferr))
		}
		s.metrics.TaskOutcome(TaskDead)
		s.logger.Error("Retry task exhausted, leaving it to the escalation sweep",
			zap.String("subscription_id", task.SubscriptionID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}

	next := s.now().Add(s.Backoff(task.Attempts))
	if ferr := s.tasks.Fail(ctx, task, &next, err.Error()); ferr != nil {
		s.logger.Error("Failed to reschedule retry task",
			zap.String("subscription_id", task.SubscriptionID),
			zap.Error(ferr))
	}
	s.metrics.TaskOutcome(TaskRescheduled)
	apperrors.LogError(s.logger, err, "Retry task failed, backing off",
		zap.String("subscription_id", task.SubscriptionID),
		zap.Int("attempts", attempts),
		zap.Time("next_run_at", next))
}

// Backoff returns base * 2^attempts capped at MaxBackoff
func (s *DurableRetryScheduler) Backoff(attempts int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff || d <= 0 {
			return s.cfg.MaxBackoff
		}
	}
	if d > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return d
}
