package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	apperrors "github.com/wekeepgrowing/semo-dunning/pkg/errors"
	"go.uber.org/zap"
)

// maxWebhookBodyBytes bounds the payload read from Stripe
const maxWebhookBodyBytes = 65536

// BillingEventHandler processes provider-neutral billing events
type BillingEventHandler interface {
	Handle(ctx context.Context, ev entity.BillingEvent) error
}

type WebhookHandler struct {
	logger        *zap.Logger
	webhookSecret string
	events        BillingEventHandler
}

func NewWebhookHandler(logger *zap.Logger, webhookSecret string, events BillingEventHandler) *WebhookHandler {
	return &WebhookHandler{
		logger:        logger,
		webhookSecret: webhookSecret,
		events:        events,
	}
}

func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("Error reading request body", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Error reading request body"})
	}

	sig := c.Request().Header.Get("Stripe-Signature")

	event, err := webhook.ConstructEventWithOptions(
		body,
		sig,
		h.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Webhook signature verification failed",
		})
	}

	h.logger.Info("Received webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	ev, ok, err := h.toBillingEvent(event)
	if err != nil {
		h.logger.Error("Error parsing invoice",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Error parsing invoice"})
	}
	if !ok {
		return c.JSON(http.StatusOK, echo.Map{"received": true, "ignored": true})
	}

	if err := h.events.Handle(c.Request().Context(), ev); err != nil {
		// the event is stored; Stripe and the sweep both redeliver it
		apperrors.LogError(h.logger, err, "Failed to process billing event",
			zap.String("event_id", ev.EventID),
			zap.String("subscription_id", ev.SubscriptionID))
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{"received": true})
}

// toBillingEvent maps invoice events onto billing events. Other event types and
// invoices without a subscription are acknowledged and ignored.
func (h *WebhookHandler) toBillingEvent(event stripe.Event) (entity.BillingEvent, bool, error) {
	var kind entity.BillingEventKind
	switch event.Type {
	case stripe.EventTypeInvoicePaymentFailed:
		kind = entity.BillingPaymentFailed
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		kind = entity.BillingPaymentSucceeded
	default:
		h.logger.Debug("Unhandled event type", zap.String("event_type", string(event.Type)))
		return entity.BillingEvent{}, false, nil
	}

	if event.Data == nil {
		return entity.BillingEvent{}, false, fmt.Errorf("event %s has no data", event.ID)
	}

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return entity.BillingEvent{}, false, err
	}
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		h.logger.Debug("Invoice without subscription ignored",
			zap.String("invoice_id", invoice.ID))
		return entity.BillingEvent{}, false, nil
	}

	ev := entity.BillingEvent{
		EventID:        event.ID,
		EventType:      string(event.Type),
		Kind:           kind,
		SubscriptionID: invoice.Subscription.ID,
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
		Payload: map[string]interface{}{
			entity.MetaInvoiceID: invoice.ID,
			entity.MetaAmountDue: invoice.AmountDue,
			entity.MetaCurrency:  string(invoice.Currency),
		},
	}
	if kind == entity.BillingPaymentFailed {
		ev.FailureReason = failureReason(&invoice)
	}
	return ev, true, nil
}

func failureReason(invoice *stripe.Invoice) string {
	if invoice.LastFinalizationError != nil && invoice.LastFinalizationError.Msg != "" {
		return invoice.LastFinalizationError.Msg
	}
	if invoice.PaymentIntent != nil && invoice.PaymentIntent.LastPaymentError != nil && invoice.PaymentIntent.LastPaymentError.Msg != "" {
		return invoice.PaymentIntent.LastPaymentError.Msg
	}
	return fmt.Sprintf("invoice %s payment failed (attempt %d)", invoice.ID, invoice.AttemptCount)
}
