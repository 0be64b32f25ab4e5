package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/provider"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-dunning/pkg/errors"
	"go.uber.org/zap"
)

// ResolveReasonPaymentSucceeded is recorded when a charge or billing event settles the invoice
const ResolveReasonPaymentSucceeded = "payment_succeeded"

// RetryScheduler enqueues a retryPayment for a subscription at runAt.
type RetryScheduler interface {
	Schedule(ctx context.Context, subscriptionID string, runAt time.Time) error
}

// DunningDeps are the collaborators of the orchestrator
type DunningDeps struct {
	Episodes  repository.EpisodeRepository
	Scheduler RetryScheduler
	Gateway   provider.PaymentGateway
	Notifier  provider.Notifier
	Access    provider.AccessControl
	Guard     RetryGuard
}

// DunningOption customizes a DunningService
type DunningOption func(*DunningService)

// WithClock overrides the time source
func WithClock(now func() time.Time) DunningOption {
	return func(s *DunningService) { s.now = now }
}

// WithMetrics attaches a metrics sink
func WithMetrics(m Metrics) DunningOption {
	return func(s *DunningService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxConflictRetries bounds how often a lost compare-and-update is recomputed
func WithMaxConflictRetries(n int) DunningOption {
	return func(s *DunningService) {
		if n > 0 {
			s.maxConflictRetries = n
		}
	}
}

// WithMinRetryDelay sets the delay used when no ladder day is left to aim for
func WithMinRetryDelay(d time.Duration) DunningOption {
	return func(s *DunningService) {
		if d > 0 {
			s.minRetryDelay = d
		}
	}
}

// DunningService is the payment-recovery state machine. Every transition is a
// compare-and-update on the episode version; side effects are committed as
// pending effects with the transition and delivered afterwards.
type DunningService struct {
	episodes  repository.EpisodeRepository
	scheduler RetryScheduler
	gateway   provider.PaymentGateway
	notifier  provider.Notifier
	access    provider.AccessControl
	guard     RetryGuard
	ladder    entity.Ladder
	logger    *zap.Logger
	metrics   Metrics

	now                func() time.Time
	maxConflictRetries int
	minRetryDelay      time.Duration
}

// NewDunningService creates a new orchestrator. The ladder is validated.
func NewDunningService(deps DunningDeps, ladder entity.Ladder, logger *zap.Logger, opts ...DunningOption) (*DunningService, error) {
	if err := ladder.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrInvalidLadder, err)
	}
	if deps.Episodes == nil || deps.Scheduler == nil || deps.Gateway == nil || deps.Notifier == nil || deps.Access == nil {
		return nil, fmt.Errorf("dunning service: missing collaborator")
	}

	s := &DunningService{
		episodes:           deps.Episodes,
		scheduler:          deps.Scheduler,
		gateway:            deps.Gateway,
		notifier:           deps.Notifier,
		access:             deps.Access,
		guard:              deps.Guard,
		ladder:             ladder,
		logger:             logger,
		metrics:            noopMetrics{},
		now:                time.Now,
		maxConflictRetries: 5,
		minRetryDelay:      time.Hour,
	}
	if s.guard == nil {
		s.guard = NewLocalGuard()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ladder returns the escalation table in use
func (s *DunningService) Ladder() entity.Ladder {
	return s.ladder
}

func (s *DunningService) clock() time.Time {
	return s.now().UTC()
}

// StartDunning opens an episode for a failed charge. It is idempotent: when an open
// episode already exists it is returned unchanged. A failure that happened before the
// latest resolution is stale and returns the resolved episode.
func (s *DunningService) StartDunning(ctx context.Context, subscriptionID string, failedAt time.Time, lastError string) (*entity.Episode, error) {
	if subscriptionID == "" {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "subscription id is required", nil)
	}

	now := s.clock()
	if failedAt.IsZero() || failedAt.After(now) {
		failedAt = now
	}

	latest, err := s.episodes.Get(ctx, subscriptionID)
	if err != nil && !domainErrors.IsNotFound(err) {
		return nil, err
	}
	if latest != nil && latest.State == entity.StateResolved && latest.ResolvedAt != nil && !failedAt.After(*latest.ResolvedAt) {
		s.logger.Info("Ignoring payment failure older than the last recovery",
			zap.String("subscription_id", subscriptionID),
			zap.Int64("episode_id", latest.ID),
			zap.Time("failed_at", failedAt),
			zap.Time("resolved_at", *latest.ResolvedAt))
		return latest, nil
	}

	for attempt := 0; ; attempt++ {
		ep, err := s.episodes.Create(ctx, subscriptionID, failedAt, lastError, now)
		if err == nil {
			s.metrics.EpisodeStarted()
			s.logger.Info("Dunning started",
				zap.String("subscription_id", subscriptionID),
				zap.Int64("episode_id", ep.ID),
				zap.Time("failed_at", ep.FailedAt),
				zap.String("last_error", lastError))
			s.schedule(ctx, subscriptionID, now)
			return ep, nil
		}
		if !domainErrors.IsConflict(err) {
			return nil, err
		}

		existing, getErr := s.episodes.Get(ctx, subscriptionID)
		if getErr != nil && !domainErrors.IsNotFound(getErr) {
			return nil, getErr
		}
		if existing != nil && existing.State.IsOpen() {
			s.logger.Debug("Dunning already in progress",
				zap.String("subscription_id", subscriptionID),
				zap.String("state", string(existing.State)))
			return existing, nil
		}
		// The open episode was resolved between the insert and the read
		if attempt >= s.maxConflictRetries {
			return nil, err
		}
	}
}

// RetryPayment charges the latest invoice and advances the episode on the outcome.
// Terminal episodes are left alone, which makes stale retry tasks inert.
func (s *DunningService) RetryPayment(ctx context.Context, subscriptionID string) error {
	_, err := s.retry(ctx, subscriptionID, false)
	return err
}

// RetryOverdue is the sweep's retry. It charges only if nextRetryAt is still due once
// the guard is held, so a retry that ran since the sweep listed the episode is not
// repeated. A transient gateway failure still walks the ladder and pushes nextRetryAt
// forward. It reports whether a charge was attempted.
func (s *DunningService) RetryOverdue(ctx context.Context, subscriptionID string) (bool, error) {
	return s.retry(ctx, subscriptionID, true)
}

func (s *DunningService) retry(ctx context.Context, subscriptionID string, overdueOnly bool) (bool, error) {
	release, err := s.guard.Acquire(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	defer release()

	ep, err := s.episodes.Get(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	if ep.State.IsTerminal() {
		s.metrics.RetryOutcome(OutcomeSkipped)
		s.logger.Debug("Skipping retry for terminal episode",
			zap.String("subscription_id", subscriptionID),
			zap.String("state", string(ep.State)))
		return false, nil
	}
	if overdueOnly && ep.NextRetryAt != nil && ep.NextRetryAt.After(s.clock()) {
		s.metrics.RetryOutcome(OutcomeSkipped)
		s.logger.Debug("Skipping retry that is no longer due",
			zap.String("subscription_id", subscriptionID),
			zap.Time("next_retry_at", *ep.NextRetryAt))
		return false, nil
	}

	result, err := s.gateway.ChargeLatestInvoice(ctx, subscriptionID)
	if err != nil {
		result = &provider.ChargeResult{Transient: true, ErrorMessage: err.Error()}
	}

	switch {
	case result.Succeeded:
		s.metrics.RetryOutcome(OutcomeSucceeded)
		_, err := s.ResolveDunning(ctx, subscriptionID, ResolveReasonPaymentSucceeded)
		return true, err

	case result.Transient:
		s.metrics.RetryOutcome(OutcomeTransient)
		s.logger.Warn("Transient gateway failure, retry will back off",
			zap.String("subscription_id", subscriptionID),
			zap.String("error", result.ErrorMessage))
		if overdueOnly {
			// retryCount is untouched; only the calendar moves the ladder
			if _, err := s.escalate(ctx, subscriptionID, ep.RetryCount, true); err != nil {
				return true, err
			}
		}
		return true, domainErrors.Transient(subscriptionID, result.ErrorMessage)

	default:
		s.metrics.RetryOutcome(OutcomeDeclined)
		return true, s.recordDecline(ctx, ep, result)
	}
}

// recordDecline increments retryCount and records the decline, then escalates.
func (s *DunningService) recordDecline(ctx context.Context, ep *entity.Episode, result *provider.ChargeResult) error {
	episodeID := ep.ID
	message := result.ErrorMessage
	if message == "" {
		message = "payment declined"
	}

	meta := map[string]string{}
	if result.InvoiceID != "" {
		meta[entity.MetaInvoiceID] = result.InvoiceID
	}
	if result.Currency != "" {
		meta[entity.MetaAmountDue] = entity.FormatAmount(result.AmountDue, result.Currency)
		meta[entity.MetaCurrency] = result.Currency
	}

	for attempt := 0; ; attempt++ {
		if ep.ID != episodeID || ep.State.IsTerminal() {
			// Resolved or replaced while charging: the decline is moot
			return nil
		}

		retryCount := ep.RetryCount + 1
		updated, err := s.episodes.CompareAndUpdate(ctx, ep.SubscriptionID, ep.Version(), entity.EpisodePatch{
			RetryCount: &retryCount,
			LastError:  &message,
			Metadata:   meta,
		})
		if err == nil {
			s.logger.Info("Payment retry declined",
				zap.String("subscription_id", ep.SubscriptionID),
				zap.Int("retry_count", updated.RetryCount),
				zap.String("last_error", message))
			_, err = s.EscalateDunning(ctx, ep.SubscriptionID, updated.RetryCount)
			return err
		}
		if !domainErrors.IsConflict(err) || attempt >= s.maxConflictRetries {
			return err
		}
		if ep, err = s.episodes.Get(ctx, ep.SubscriptionID); err != nil {
			return err
		}
	}
}

// EscalateDunning moves the episode to the furthest ladder stage whose day has
// elapsed. When the stage does not change, the next retry is aimed at the next
// unreached ladder day.
func (s *DunningService) EscalateDunning(ctx context.Context, subscriptionID string, retryCount int) (*entity.Episode, error) {
	return s.escalate(ctx, subscriptionID, retryCount, false)
}

// escalate applies the ladder. With soon set, the next retry is never later than
// now+minRetryDelay, for charges that failed without a decline.
func (s *DunningService) escalate(ctx context.Context, subscriptionID string, retryCount int, soon bool) (*entity.Episode, error) {
	for attempt := 0; ; attempt++ {
		ep, err := s.episodes.Get(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if ep.State.IsTerminal() {
			return ep, nil
		}

		now := s.clock()
		elapsed := now.Sub(ep.FailedAt)
		target := s.ladder.StageFor(elapsed)
		advance := s.ladder.Rank(target.State) > s.ladder.Rank(ep.State)

		var patch entity.EpisodePatch
		var scheduleAt *time.Time

		if advance {
			effects := append([]entity.SideEffect(nil), ep.PendingEffects...)
			if target.Template != "" {
				effects = append(effects, entity.NotifyEffect(target.Template))
			}
			patch.State = entity.StatePtr(target.State)
			if target.RetriesPayment {
				next := s.nextRetryAt(ep, elapsed, now, soon)
				patch.NextRetryAt = &next
				scheduleAt = &next
			} else {
				effects = append(effects, entity.EffectSuspend)
				patch.ClearNextRetryAt = true
			}
			patch.PendingEffects = &effects
		} else {
			next := s.nextRetryAt(ep, elapsed, now, soon)
			patch.NextRetryAt = &next
			scheduleAt = &next
		}

		updated, err := s.episodes.CompareAndUpdate(ctx, subscriptionID, ep.Version(), patch)
		if err != nil {
			if domainErrors.IsConflict(err) && attempt < s.maxConflictRetries {
				continue
			}
			return nil, err
		}

		if advance {
			s.metrics.EpisodeTransitioned(ep.State, updated.State)
			s.logger.Info("Dunning escalated",
				zap.String("subscription_id", subscriptionID),
				zap.String("from", string(ep.State)),
				zap.String("to", string(updated.State)),
				zap.Int("retry_count", retryCount),
				zap.Duration("elapsed", elapsed))
			updated = s.applyEffects(ctx, updated)
		}
		if scheduleAt != nil {
			s.schedule(ctx, subscriptionID, *scheduleAt)
		}
		return updated, nil
	}
}

// nextRetryAt aims at the next unreached ladder day, never earlier than now+minRetryDelay
// once the ladder day has already passed. With soon set it is capped at now+minRetryDelay.
func (s *DunningService) nextRetryAt(ep *entity.Episode, elapsed time.Duration, now time.Time, soon bool) time.Time {
	fallback := now.Add(s.minRetryDelay)
	if next, ok := s.ladder.NextAfter(elapsed); ok {
		at := ep.FailedAt.Add(next.Offset())
		if at.After(now) && !(soon && at.After(fallback)) {
			return at
		}
	}
	return fallback
}

// ResolveDunning closes the episode after a successful payment.
func (s *DunningService) ResolveDunning(ctx context.Context, subscriptionID, reason string) (*entity.Episode, error) {
	return s.resolve(ctx, subscriptionID, reason, "")
}

// ManualResolve closes the episode on an operator's behalf, from any state.
func (s *DunningService) ManualResolve(ctx context.Context, subscriptionID, actorID, reason string) (*entity.Episode, error) {
	if actorID == "" || reason == "" {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "actor and reason are required", nil)
	}
	return s.resolve(ctx, subscriptionID, reason, actorID)
}

func (s *DunningService) resolve(ctx context.Context, subscriptionID, reason, actorID string) (*entity.Episode, error) {
	for attempt := 0; ; attempt++ {
		ep, err := s.episodes.Get(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if ep.State == entity.StateResolved {
			return ep, nil
		}

		now := s.clock()
		// Undelivered ladder notices are dropped once the customer has paid
		effects := []entity.SideEffect{entity.NotifyEffect(entity.TemplatePaymentRecovered)}
		if ep.State == entity.StateSuspended {
			effects = append(effects, entity.EffectReactivate)
		}

		meta := map[string]string{entity.MetaResolveReason: reason}
		if actorID != "" {
			meta[entity.MetaResolvedBy] = actorID
			meta[entity.MetaOverride] = "manual_resolve"
		}

		updated, err := s.episodes.CompareAndUpdate(ctx, subscriptionID, ep.Version(), entity.EpisodePatch{
			State:            entity.StatePtr(entity.StateResolved),
			ResolvedAt:       &now,
			ClearNextRetryAt: true,
			Metadata:         meta,
			PendingEffects:   &effects,
		})
		if err != nil {
			if domainErrors.IsConflict(err) && attempt < s.maxConflictRetries {
				continue
			}
			return nil, err
		}

		s.metrics.EpisodeTransitioned(ep.State, entity.StateResolved)
		s.metrics.EpisodeResolved(reason)
		s.logger.Info("Dunning resolved",
			zap.String("subscription_id", subscriptionID),
			zap.String("from", string(ep.State)),
			zap.String("reason", reason),
			zap.String("actor", actorID))

		return s.applyEffects(ctx, updated), nil
	}
}

// ManualSuspend forces the episode to SUSPENDED. A resolved episode cannot be suspended.
func (s *DunningService) ManualSuspend(ctx context.Context, subscriptionID, actorID, reason string) (*entity.Episode, error) {
	if actorID == "" {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "actor is required", nil)
	}

	template := entity.TemplateAccountSuspended
	if step, ok := s.ladder.Step(entity.StateSuspended); ok && step.Template != "" {
		template = step.Template
	}

	for attempt := 0; ; attempt++ {
		ep, err := s.episodes.Get(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		switch ep.State {
		case entity.StateSuspended:
			return ep, nil
		case entity.StateResolved:
			return nil, domainErrors.InvalidTransition(subscriptionID, "episode is already resolved")
		}

		effects := append([]entity.SideEffect(nil), ep.PendingEffects...)
		effects = append(effects, entity.NotifyEffect(template), entity.EffectSuspend)

		meta := map[string]string{
			entity.MetaSuspendedBy: actorID,
			entity.MetaOverride:    "manual_suspend",
		}
		if reason != "" {
			meta[entity.MetaSuspendReason] = reason
		}

		updated, err := s.episodes.CompareAndUpdate(ctx, subscriptionID, ep.Version(), entity.EpisodePatch{
			State:            entity.StatePtr(entity.StateSuspended),
			ClearNextRetryAt: true,
			Metadata:         meta,
			PendingEffects:   &effects,
		})
		if err != nil {
			if domainErrors.IsConflict(err) && attempt < s.maxConflictRetries {
				continue
			}
			return nil, err
		}

		s.metrics.EpisodeTransitioned(ep.State, entity.StateSuspended)
		s.logger.Info("Dunning manually suspended",
			zap.String("subscription_id", subscriptionID),
			zap.String("from", string(ep.State)),
			zap.String("actor", actorID))

		return s.applyEffects(ctx, updated), nil
	}
}

// ManualRetry records the operator and enqueues an immediate retry.
func (s *DunningService) ManualRetry(ctx context.Context, subscriptionID, actorID string) (*entity.Episode, error) {
	if actorID == "" {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "actor is required", nil)
	}

	for attempt := 0; ; attempt++ {
		ep, err := s.episodes.Get(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if ep.State.IsTerminal() {
			return nil, domainErrors.InvalidTransition(subscriptionID, "no retries in state "+string(ep.State))
		}

		updated, err := s.episodes.CompareAndUpdate(ctx, subscriptionID, ep.Version(), entity.EpisodePatch{
			Metadata: map[string]string{entity.MetaRetriedBy: actorID},
		})
		if err != nil {
			if domainErrors.IsConflict(err) && attempt < s.maxConflictRetries {
				continue
			}
			return nil, err
		}

		if err := s.scheduler.Schedule(ctx, subscriptionID, s.clock()); err != nil {
			return nil, apperrors.Wrap(err, "failed to schedule retry")
		}
		s.logger.Info("Manual retry scheduled",
			zap.String("subscription_id", subscriptionID),
			zap.String("actor", actorID))
		return updated, nil
	}
}

// GetEpisode returns the subscription's current episode
func (s *DunningService) GetEpisode(ctx context.Context, subscriptionID string) (*entity.Episode, error) {
	return s.episodes.Get(ctx, subscriptionID)
}

// ListEpisodes pages through episodes, optionally filtered by state
func (s *DunningService) ListEpisodes(ctx context.Context, filter entity.EpisodeFilter, page entity.PaginationParams) (*entity.PaginatedEpisodesResponse, error) {
	page.Validate()

	episodes, total, err := s.episodes.List(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	return &entity.PaginatedEpisodesResponse{
		Data:       episodes,
		Pagination: entity.NewPaginationMeta(page.Page, page.Limit, total),
	}, nil
}

// RedriveEffects re-attempts the episode's undelivered side effects.
func (s *DunningService) RedriveEffects(ctx context.Context, subscriptionID string) (*entity.Episode, error) {
	ep, err := s.episodes.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return s.applyEffects(ctx, ep), nil
}

// applyEffects delivers pending effects and clears the delivered ones. Failures stay
// pending for the sweep; the transition that produced them is already committed.
func (s *DunningService) applyEffects(ctx context.Context, ep *entity.Episode) *entity.Episode {
	if len(ep.PendingEffects) == 0 {
		return ep
	}

	var delivered []entity.SideEffect
	for _, effect := range ep.PendingEffects {
		err := s.deliver(ctx, ep, effect)
		s.metrics.EffectDelivered(effect, err)
		if err != nil {
			s.logger.Warn("Side effect delivery failed, left pending",
				zap.String("subscription_id", ep.SubscriptionID),
				zap.String("effect", string(effect)),
				zap.Error(err))
			continue
		}
		delivered = append(delivered, effect)
	}
	if len(delivered) == 0 {
		return ep
	}

	episodeID := ep.ID
	current := ep
	for attempt := 0; ; attempt++ {
		remaining := subtractEffects(current.PendingEffects, delivered)
		updated, err := s.episodes.CompareAndUpdate(ctx, current.SubscriptionID, current.Version(), entity.EpisodePatch{
			PendingEffects: &remaining,
		})
		if err == nil {
			return updated
		}
		if !domainErrors.IsConflict(err) || attempt >= s.maxConflictRetries {
			s.logger.Warn("Failed to clear delivered side effects",
				zap.String("subscription_id", current.SubscriptionID),
				zap.Error(err))
			return current
		}
		reread, getErr := s.episodes.Get(ctx, current.SubscriptionID)
		if getErr != nil || reread.ID != episodeID {
			return current
		}
		current = reread
	}
}

func (s *DunningService) deliver(ctx context.Context, ep *entity.Episode, effect entity.SideEffect) error {
	if template, ok := effect.Template(); ok {
		return s.notifier.Send(ctx, template, ep.SubscriptionID, notificationVariables(ep))
	}
	switch effect {
	case entity.EffectSuspend:
		// A resolution committed after the suspension makes it moot
		if cur, err := s.episodes.Get(ctx, ep.SubscriptionID); err == nil && cur.ID == ep.ID && cur.State != entity.StateSuspended {
			s.logger.Info("Skipping suspension of recovered episode",
				zap.String("subscription_id", ep.SubscriptionID),
				zap.String("state", string(cur.State)))
			return nil
		}
		if err := s.access.Suspend(ctx, ep.SubscriptionID); err != nil {
			return err
		}
		s.undoLateSuspension(ctx, ep)
		return nil
	case entity.EffectReactivate:
		return s.access.Reactivate(ctx, ep.SubscriptionID)
	default:
		s.logger.Error("Dropping unknown side effect",
			zap.String("subscription_id", ep.SubscriptionID),
			zap.String("effect", string(effect)))
		return nil
	}
}

// undoLateSuspension reactivates access when the episode was resolved while the
// suspension was in flight. The resolution's own reactivate may have run first.
func (s *DunningService) undoLateSuspension(ctx context.Context, ep *entity.Episode) {
	cur, err := s.episodes.Get(ctx, ep.SubscriptionID)
	if err != nil || cur.ID != ep.ID || cur.State == entity.StateSuspended {
		return
	}

	s.logger.Info("Episode resolved during suspension, reactivating",
		zap.String("subscription_id", ep.SubscriptionID),
		zap.String("state", string(cur.State)))
	err = s.access.Reactivate(ctx, ep.SubscriptionID)
	if err == nil {
		return
	}
	s.logger.Warn("Reactivation after late suspension failed, queued for the sweep",
		zap.String("subscription_id", ep.SubscriptionID),
		zap.Error(err))
	if err := s.queueEffect(ctx, ep.SubscriptionID, ep.ID, entity.EffectReactivate); err != nil {
		s.logger.Error("Failed to queue reactivation",
			zap.String("subscription_id", ep.SubscriptionID),
			zap.Error(err))
	}
}

// queueEffect appends an effect to the episode's pending list.
func (s *DunningService) queueEffect(ctx context.Context, subscriptionID string, episodeID int64, effect entity.SideEffect) error {
	for attempt := 0; ; attempt++ {
		cur, err := s.episodes.Get(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if cur.ID != episodeID {
			return nil
		}
		effects := append(append([]entity.SideEffect(nil), cur.PendingEffects...), effect)
		_, err = s.episodes.CompareAndUpdate(ctx, subscriptionID, cur.Version(), entity.EpisodePatch{
			PendingEffects: &effects,
		})
		if err == nil || !domainErrors.IsConflict(err) || attempt >= s.maxConflictRetries {
			return err
		}
	}
}

func (s *DunningService) schedule(ctx context.Context, subscriptionID string, runAt time.Time) {
	if err := s.scheduler.Schedule(ctx, subscriptionID, runAt); err != nil {
		// The sweep picks the episode up once nextRetryAt passes
		apperrors.LogError(s.logger, err, "Failed to schedule retry",
			zap.String("subscription_id", subscriptionID),
			zap.Time("run_at", runAt))
	}
}

func notificationVariables(ep *entity.Episode) map[string]string {
	vars := map[string]string{
		"subscription_id": ep.SubscriptionID,
		"state":           string(ep.State),
		"retry_count":     strconv.Itoa(ep.RetryCount),
		"failed_at":       ep.FailedAt.Format(time.RFC3339),
	}
	if ep.LastError != "" {
		vars["last_error"] = ep.LastError
	}
	for _, key := range []string{entity.MetaAmountDue, entity.MetaCurrency, entity.MetaInvoiceID, entity.MetaResolveReason} {
		if v, ok := ep.Metadata[key]; ok {
			vars[key] = v
		}
	}
	return vars
}

// subtractEffects removes one occurrence of each delivered effect.
func subtractEffects(pending, delivered []entity.SideEffect) []entity.SideEffect {
	counts := make(map[entity.SideEffect]int, len(delivered))
	for _, e := range delivered {
		counts[e]++
	}
	out := make([]entity.SideEffect, 0, len(pending))
	for _, e := range pending {
		if counts[e] > 0 {
			counts[e]--
			continue
		}
		out = append(out, e)
	}
	return out
}
