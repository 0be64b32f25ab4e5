package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wekeepgrowing/semo-dunning/internal/config"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-dunning/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SweepTarget is what the sweep re-drives
type SweepTarget interface {
	RetryOverdue(ctx context.Context, subscriptionID string) (bool, error)
	RedriveEffects(ctx context.Context, subscriptionID string) (*entity.Episode, error)
	Ladder() entity.Ladder
}

// EventRedeliverer replays billing events that failed to process
type EventRedeliverer interface {
	RedeliverPending(ctx context.Context, limit int) (int, error)
}

// SweepReport summarizes one sweep pass
type SweepReport struct {
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	Overdue           int           `json:"overdue"`
	Retried           int           `json:"retried"`
	Skipped           int           `json:"skipped"`
	Failed            int           `json:"failed"`
	EffectsRedriven   int           `json:"effects_redriven"`
	EventsRedelivered int           `json:"events_redelivered"`
}

// EscalationSweep periodically re-drives open episodes whose retry is overdue,
// episodes with undelivered side effects, and failed billing events.
type EscalationSweep struct {
	target      SweepTarget
	episodes    repository.EpisodeRepository
	redeliverer EventRedeliverer
	cfg         config.SweepConfig
	limiter     *rate.Limiter
	logger      *zap.Logger
	metrics     Metrics
	now         func() time.Time
}

// SweepOption customizes an EscalationSweep
type SweepOption func(*EscalationSweep)

// WithSweepClock overrides the time source
func WithSweepClock(now func() time.Time) SweepOption {
	return func(s *EscalationSweep) { s.now = now }
}

// WithSweepMetrics attaches a metrics sink
func WithSweepMetrics(m Metrics) SweepOption {
	return func(s *EscalationSweep) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithEventRedelivery makes each pass replay failed billing events
func WithEventRedelivery(r EventRedeliverer) SweepOption {
	return func(s *EscalationSweep) { s.redeliverer = r }
}

// NewEscalationSweep creates a new sweep
func NewEscalationSweep(target SweepTarget, episodes repository.EpisodeRepository, cfg config.SweepConfig, logger *zap.Logger, opts ...SweepOption) *EscalationSweep {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	s := &EscalationSweep{
		target:   target,
		episodes: episodes,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, max(cfg.Burst, 1)),
		logger:   logger,
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes RunOnce on the configured cron schedule until ctx is cancelled
func (s *EscalationSweep) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Escalation sweep failed", zap.Error(err))
		}
	}); err != nil {
		return apperrors.NewAppError(apperrors.ErrInvalidArgument, "invalid sweep schedule", err)
	}

	c.Start()
	s.logger.Info("Escalation sweep scheduled", zap.String("schedule", s.cfg.Schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Escalation sweep stopped")
	return nil
}

// RunOnce performs one sweep pass
func (s *EscalationSweep) RunOnce(ctx context.Context) (SweepReport, error) {
	report := SweepReport{StartedAt: s.now().UTC()}
	cutoff := report.StartedAt.Add(-s.cfg.Grace)

	candidates, err := s.episodes.ListOverdue(ctx, report.StartedAt, s.cfg.PageSize)
	if err != nil {
		return report, err
	}
	overdue := s.due(candidates, report.StartedAt, cutoff)
	report.Overdue = len(overdue)

	for _, ep := range overdue {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, err
		}
		charged, err := s.target.RetryOverdue(ctx, ep.SubscriptionID)
		switch {
		case err == nil && charged:
			report.Retried++
		case err == nil, errors.Is(err, domainErrors.ErrRetryInFlight):
			report.Skipped++
		default:
			report.Failed++
			apperrors.LogError(s.logger, err, "Sweep retry failed",
				zap.String("subscription_id", ep.SubscriptionID),
				zap.String("state", string(ep.State)))
		}
	}

	pending, err := s.episodes.ListPendingEffects(ctx, s.cfg.PageSize)
	if err != nil {
		return report, err
	}
	for _, ep := range pending {
		// Effects of a fresh transition are still being delivered by its writer
		if ep.UpdatedAt.After(cutoff) {
			continue
		}
		updated, err := s.target.RedriveEffects(ctx, ep.SubscriptionID)
		if err != nil {
			apperrors.LogError(s.logger, err, "Sweep effect redrive failed",
				zap.String("subscription_id", ep.SubscriptionID))
			continue
		}
		if len(updated.PendingEffects) < len(ep.PendingEffects) {
			report.EffectsRedriven++
		}
	}

	if s.redeliverer != nil {
		n, err := s.redeliverer.RedeliverPending(ctx, s.cfg.PageSize)
		if err != nil {
			s.logger.Error("Sweep event redelivery failed", zap.Error(err))
		}
		report.EventsRedelivered = n
	}

	report.Duration = s.now().UTC().Sub(report.StartedAt)
	s.metrics.SweepCompleted(report)
	s.logger.Info("Escalation sweep completed",
		zap.Int("overdue", report.Overdue),
		zap.Int("retried", report.Retried),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("effects_redriven", report.EffectsRedriven),
		zap.Int("events_redelivered", report.EventsRedelivered))

	return report, nil
}

// due keeps episodes whose retry is past the grace window, plus those whose ladder
// stage has come due. Stage deadlines skip the grace so a sweep-driven episode
// escalates on its ladder day rather than one pass later.
func (s *EscalationSweep) due(candidates []*entity.Episode, now, cutoff time.Time) []*entity.Episode {
	ladder := s.target.Ladder()
	out := candidates[:0]
	for _, ep := range candidates {
		switch {
		case ep.NextRetryAt == nil, !ep.NextRetryAt.After(cutoff):
		case ladder.Rank(ladder.StageFor(now.Sub(ep.FailedAt)).State) > ladder.Rank(ep.State):
		default:
			continue
		}
		out = append(out, ep)
	}
	return out
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
