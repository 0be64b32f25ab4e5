package provider

import (
	"context"
)

// PaymentGateway charges the outstanding invoice of a subscription.
type PaymentGateway interface {
	// ChargeLatestInvoice attempts to collect the newest unpaid invoice.
	// Declines and transient failures are reported in the result; a non-nil error
	// means the outcome is unknown and is treated as transient.
	ChargeLatestInvoice(ctx context.Context, subscriptionID string) (*ChargeResult, error)

	// GetProviderName returns the provider name
	GetProviderName() string
}

// ChargeResult is the provider-agnostic outcome of a charge attempt
type ChargeResult struct {
	Succeeded    bool   `json:"succeeded"`
	Transient    bool   `json:"transient"`
	ErrorMessage string `json:"error_message,omitempty"`
	InvoiceID    string `json:"invoice_id,omitempty"`
	AmountDue    int64  `json:"amount_due,omitempty"` // Amount in smallest currency unit
	Currency     string `json:"currency,omitempty"`
}

// Notifier delivers a templated customer message. Delivery is best-effort.
type Notifier interface {
	Send(ctx context.Context, template, subscriptionID string, variables map[string]string) error
}

// AccessControl toggles account access. Both operations are idempotent.
type AccessControl interface {
	Suspend(ctx context.Context, subscriptionID string) error
	Reactivate(ctx context.Context, subscriptionID string) error
}

// ProviderType represents the type of payment provider
type ProviderType string

const (
	ProviderTypeStripe ProviderType = "stripe"
)

// ProviderError describes a provider failure that could not be classified as a decline
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}
