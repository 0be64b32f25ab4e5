package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/provider"
	"go.uber.org/zap"
)

// StripeProvider implements the PaymentGateway interface for Stripe Billing
type StripeProvider struct {
	api    *client.API
	logger *zap.Logger
}

// Option customizes the Stripe backend
type Option func(*stripe.BackendConfig)

// WithBackendURL points the client at a Stripe-compatible server
func WithBackendURL(url string) Option {
	return func(c *stripe.BackendConfig) {
		if url != "" {
			c.URL = stripe.String(url)
		}
	}
}

// WithMaxNetworkRetries overrides the library's own retry count
func WithMaxNetworkRetries(n int64) Option {
	return func(c *stripe.BackendConfig) { c.MaxNetworkRetries = stripe.Int64(n) }
}

// WithHTTPClient sets the HTTP client used for API calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *stripe.BackendConfig) { c.HTTPClient = hc }
}

// NewStripeProvider creates a new Stripe gateway with its own API client
func NewStripeProvider(secretKey string, logger *zap.Logger, opts ...Option) *StripeProvider {
	cfg := &stripe.BackendConfig{
		LeveledLogger: logger.Named("stripe").Sugar(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(secretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &StripeProvider{
		api:    api,
		logger: logger,
	}
}

// GetProviderName returns the provider name
func (s *StripeProvider) GetProviderName() string {
	return string(provider.ProviderTypeStripe)
}

// ChargeLatestInvoice pays the newest open invoice of the subscription.
// A subscription without an open invoice has nothing outstanding and counts as paid.
func (s *StripeProvider) ChargeLatestInvoice(ctx context.Context, subscriptionID string) (*provider.ChargeResult, error) {
	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
		Status:       stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := s.api.Invoices.List(params)
	var invoice *stripe.Invoice
	if iter.Next() {
		invoice = iter.Invoice()
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("Failed to list open invoices",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return classifyError(err), nil
	}

	if invoice == nil {
		s.logger.Info("No open invoice, treating subscription as paid",
			zap.String("subscription_id", subscriptionID))
		return &provider.ChargeResult{Succeeded: true}, nil
	}

	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx

	paid, err := s.api.Invoices.Pay(invoice.ID, payParams)
	if err != nil {
		result := classifyError(err)
		result.InvoiceID = invoice.ID
		result.AmountDue = invoice.AmountDue
		result.Currency = string(invoice.Currency)

		s.logger.Info("Invoice payment attempt failed",
			zap.String("subscription_id", subscriptionID),
			zap.String("invoice_id", invoice.ID),
			zap.Bool("transient", result.Transient),
			zap.String("error", result.ErrorMessage))
		return result, nil
	}

	result := &provider.ChargeResult{
		InvoiceID: paid.ID,
		AmountDue: paid.AmountDue,
		Currency:  string(paid.Currency),
	}
	if paid.Status == stripe.InvoiceStatusPaid {
		result.Succeeded = true
		s.logger.Info("Invoice paid",
			zap.String("subscription_id", subscriptionID),
			zap.String("invoice_id", paid.ID))
		return result, nil
	}

	// Pay returned without error but the invoice is still open, e.g. awaiting customer action
	result.ErrorMessage = fmt.Sprintf("invoice %s is %s after payment attempt", paid.ID, paid.Status)
	return result, nil
}

// classifyError separates retryable failures from definitive declines.
// Card errors and invalid requests are declines; rate limits, 5xx and api_error
// responses, and anything that is not a Stripe error (network) are transient.
func classifyError(err error) *provider.ChargeResult {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &provider.ChargeResult{Transient: true, ErrorMessage: err.Error()}
	}

	message := stripeErr.Msg
	if stripeErr.DeclineCode != "" {
		message = fmt.Sprintf("%s (%s)", message, stripeErr.DeclineCode)
	} else if stripeErr.Code != "" && message == "" {
		message = string(stripeErr.Code)
	}

	transient := stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
		stripeErr.Type == stripe.ErrorTypeAPI ||
		stripeErr.Type == stripe.ErrorTypeIdempotency

	return &provider.ChargeResult{Transient: transient, ErrorMessage: message}
}
