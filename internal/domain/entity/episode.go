package entity

import (
	"strings"
	"time"
)

// EpisodeState is the dunning stage of a payment-failure episode.
type EpisodeState string

const (
	StateRetrying       EpisodeState = "RETRYING"
	StateWarningSent    EpisodeState = "WARNING_SENT"
	StateActionRequired EpisodeState = "ACTION_REQUIRED"
	StateFinalWarning   EpisodeState = "FINAL_WARNING"
	StateSuspended      EpisodeState = "SUSPENDED"
	StateResolved       EpisodeState = "RESOLVED"
)

// AllStates lists every state in ladder order, RESOLVED last.
var AllStates = []EpisodeState{
	StateRetrying,
	StateWarningSent,
	StateActionRequired,
	StateFinalWarning,
	StateSuspended,
	StateResolved,
}

// ParseEpisodeState accepts any casing of a known state.
func ParseEpisodeState(s string) (EpisodeState, bool) {
	candidate := EpisodeState(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range AllStates {
		if st == candidate {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further retries happen in this state.
func (s EpisodeState) IsTerminal() bool {
	return s == StateSuspended || s == StateResolved
}

// IsOpen reports whether the episode still counts as the subscription's active episode.
func (s EpisodeState) IsOpen() bool {
	return s != StateResolved
}

// SideEffect is an external action committed together with a transition.
type SideEffect string

const (
	EffectSuspend    SideEffect = "suspend"
	EffectReactivate SideEffect = "reactivate"

	notifyPrefix = "notify:"
)

// NotifyEffect builds the effect that sends the given notification template.
func NotifyEffect(template string) SideEffect {
	return SideEffect(notifyPrefix + template)
}

// Template returns the notification template for notify effects.
func (e SideEffect) Template() (string, bool) {
	if strings.HasPrefix(string(e), notifyPrefix) {
		return strings.TrimPrefix(string(e), notifyPrefix), true
	}
	return "", false
}

// Metadata keys written by the orchestrator.
const (
	MetaResolveReason = "resolve_reason"
	MetaResolvedBy    = "resolved_by"
	MetaSuspendedBy   = "suspended_by"
	MetaSuspendReason = "suspend_reason"
	MetaRetriedBy     = "retried_by"
	MetaOverride      = "override"
	MetaAmountDue     = "amount_due"
	MetaCurrency      = "currency"
	MetaInvoiceID     = "invoice_id"
)

// Episode is one payment-failure cycle of a subscription.
type Episode struct {
	ID             int64             `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	FailedAt       time.Time         `json:"failed_at"`
	RetryCount     int               `json:"retry_count"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	State          EpisodeState      `json:"state"`
	LastError      string            `json:"last_error,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	PendingEffects []SideEffect      `json:"pending_effects,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Version returns the optimistic concurrency token.
func (e *Episode) Version() time.Time {
	return e.UpdatedAt
}

// EpisodePatch describes a conditional update. Nil fields are left unchanged.
type EpisodePatch struct {
	State            *EpisodeState
	RetryCount       *int
	LastError        *string
	NextRetryAt      *time.Time
	ClearNextRetryAt bool
	ResolvedAt       *time.Time
	// Metadata is merged into the stored bag.
	Metadata map[string]string
	// PendingEffects replaces the stored list when set.
	PendingEffects *[]SideEffect
}

// Apply returns a copy of ep with the patch applied. UpdatedAt is not touched.
func (p EpisodePatch) Apply(ep Episode) Episode {
	out := ep
	if p.State != nil {
		out.State = *p.State
	}
	if p.RetryCount != nil {
		out.RetryCount = *p.RetryCount
	}
	if p.LastError != nil {
		out.LastError = *p.LastError
	}
	if p.ClearNextRetryAt {
		out.NextRetryAt = nil
	} else if p.NextRetryAt != nil {
		t := *p.NextRetryAt
		out.NextRetryAt = &t
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		out.ResolvedAt = &t
	}
	if len(p.Metadata) > 0 {
		merged := make(map[string]string, len(ep.Metadata)+len(p.Metadata))
		for k, v := range ep.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		out.Metadata = merged
	}
	if p.PendingEffects != nil {
		out.PendingEffects = append([]SideEffect(nil), (*p.PendingEffects)...)
	}
	return out
}

// StatePtr is a helper for building patches.
func StatePtr(s EpisodeState) *EpisodeState { return &s }
