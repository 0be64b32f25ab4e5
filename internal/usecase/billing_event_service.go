package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	"go.uber.org/zap"
)

// DunningTrigger is the part of the orchestrator driven by billing events
type DunningTrigger interface {
	StartDunning(ctx context.Context, subscriptionID string, failedAt time.Time, lastError string) (*entity.Episode, error)
	ResolveDunning(ctx context.Context, subscriptionID, reason string) (*entity.Episode, error)
}

// Payload keys of a stored billing event
const (
	payloadKind           = "kind"
	payloadSubscriptionID = "subscription_id"
	payloadFailureReason  = "failure_reason"
	payloadOccurredAt     = "occurred_at"
)

// redeliverMinAge keeps the sweep away from events still being handled by the webhook
const redeliverMinAge = time.Minute

// BillingEventService turns upstream charge outcomes into dunning operations.
// Events are stored by id first, so a redelivered event is processed at most once
// successfully.
type BillingEventService struct {
	events  repository.WebhookEventRepository
	dunning DunningTrigger
	logger  *zap.Logger
	now     func() time.Time
}

// NewBillingEventService creates a new billing event service
func NewBillingEventService(events repository.WebhookEventRepository, dunning DunningTrigger, logger *zap.Logger) *BillingEventService {
	return &BillingEventService{
		events:  events,
		dunning: dunning,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle records and processes a billing event
func (s *BillingEventService) Handle(ctx context.Context, ev entity.BillingEvent) error {
	if ev.EventID == "" || ev.SubscriptionID == "" {
		return fmt.Errorf("billing event requires event and subscription ids")
	}

	occurred := ev.OccurredAt
	inserted, err := s.events.Save(ctx, &entity.WebhookEvent{
		EventID:    ev.EventID,
		EventType:  ev.EventType,
		Payload:    toPayload(ev),
		OccurredAt: &occurred,
	})
	if err != nil {
		return err
	}

	if !inserted {
		stored, err := s.events.Get(ctx, ev.EventID)
		if err != nil {
			return err
		}
		if stored != nil && stored.Status == entity.EventCompleted {
			s.logger.Debug("Duplicate billing event ignored",
				zap.String("event_id", ev.EventID),
				zap.String("event_type", ev.EventType))
			return nil
		}
	}

	if err := s.process(ctx, ev); err != nil {
		if markErr := s.events.MarkFailed(ctx, ev.EventID, err); markErr != nil {
			s.logger.Error("Failed to mark billing event as failed",
				zap.String("event_id", ev.EventID),
				zap.Error(markErr))
		}
		return err
	}

	return s.events.MarkProcessed(ctx, ev.EventID)
}

func (s *BillingEventService) process(ctx context.Context, ev entity.BillingEvent) error {
	switch ev.Kind {
	case entity.BillingPaymentFailed:
		ep, err := s.dunning.StartDunning(ctx, ev.SubscriptionID, ev.OccurredAt, ev.FailureReason)
		if err != nil {
			return err
		}
		s.logger.Info("Payment failure recorded",
			zap.String("event_id", ev.EventID),
			zap.String("subscription_id", ev.SubscriptionID),
			zap.String("state", string(ep.State)))
		return nil

	case entity.BillingPaymentSucceeded:
		_, err := s.dunning.ResolveDunning(ctx, ev.SubscriptionID, ResolveReasonPaymentSucceeded)
		if domainErrors.IsNotFound(err) {
			// Regular renewal, nothing to recover
			return nil
		}
		return err

	default:
		s.logger.Warn("Ignoring billing event of unknown kind",
			zap.String("event_id", ev.EventID),
			zap.String("kind", string(ev.Kind)))
		return nil
	}
}

// RedeliverPending re-processes stored events that failed or were never finished
func (s *BillingEventService) RedeliverPending(ctx context.Context, limit int) (int, error) {
	now := s.now()
	pending, err := s.events.ListPending(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	redelivered := 0
	for _, stored := range pending {
		if stored.Status == entity.EventPending && now.Sub(stored.CreatedAt) < redeliverMinAge {
			continue
		}
		ev, ok := fromPayload(stored)
		if !ok {
			s.logger.Error("Stored billing event is malformed",
				zap.String("event_id", stored.EventID))
			continue
		}
		if err := s.Handle(ctx, ev); err != nil {
			s.logger.Warn("Billing event redelivery failed",
				zap.String("event_id", stored.EventID),
				zap.Int("attempts", stored.Attempts+1),
				zap.Error(err))
			continue
		}
		redelivered++
	}
	return redelivered, nil
}

func toPayload(ev entity.BillingEvent) map[string]interface{} {
	payload := map[string]interface{}{}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	payload[payloadKind] = string(ev.Kind)
	payload[payloadSubscriptionID] = ev.SubscriptionID
	payload[payloadFailureReason] = ev.FailureReason
	payload[payloadOccurredAt] = ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	return payload
}

func fromPayload(stored *entity.WebhookEvent) (entity.BillingEvent, bool) {
	kind, _ := stored.Payload[payloadKind].(string)
	sub, _ := stored.Payload[payloadSubscriptionID].(string)
	if kind == "" || sub == "" {
		return entity.BillingEvent{}, false
	}
	reason, _ := stored.Payload[payloadFailureReason].(string)

	ev := entity.BillingEvent{
		EventID:        stored.EventID,
		EventType:      stored.EventType,
		Kind:           entity.BillingEventKind(kind),
		SubscriptionID: sub,
		FailureReason:  reason,
		Payload:        stored.Payload,
	}
	if raw, ok := stored.Payload[payloadOccurredAt].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ev.OccurredAt = t
		}
	}
	return ev, true
}
