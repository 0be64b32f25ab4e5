package errors

import (
	"errors"
	"fmt"

	apperrors "github.com/wekeepgrowing/semo-dunning/pkg/errors"
)

var (
	// ErrNotFound indicates that no episode exists for the subscription
	ErrNotFound = errors.New("episode not found")

	// ErrConflict indicates an open episode already exists or the version token is stale
	ErrConflict = errors.New("episode conflict")

	// ErrTransientGateway indicates a retryable gateway failure (network, rate limit, 5xx)
	ErrTransientGateway = errors.New("transient gateway error")

	// ErrDefinitiveDecline indicates the gateway declined the charge
	ErrDefinitiveDecline = errors.New("payment declined")

	// ErrRetryInFlight indicates another worker is already retrying the subscription
	ErrRetryInFlight = errors.New("retry already in flight")

	// ErrInvalidTransition indicates the requested transition is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidLadder indicates a malformed escalation ladder
	ErrInvalidLadder = errors.New("invalid escalation ladder")
)

// EpisodeError carries the subscription id alongside a dunning error
type EpisodeError struct {
	SubscriptionID string
	Err            error
	Detail         string
}

func (e *EpisodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v (subscription: %s): %s", e.Err, e.SubscriptionID, e.Detail)
	}
	return fmt.Sprintf("%v (subscription: %s)", e.Err, e.SubscriptionID)
}

func (e *EpisodeError) Unwrap() error {
	return e.Err
}

// Code maps the error onto the shared error codes
func (e *EpisodeError) Code() string {
	switch {
	case errors.Is(e.Err, ErrNotFound):
		return apperrors.ErrNotFound
	case errors.Is(e.Err, ErrConflict), errors.Is(e.Err, ErrRetryInFlight), errors.Is(e.Err, ErrInvalidTransition):
		return apperrors.ErrConflict
	case errors.Is(e.Err, ErrTransientGateway):
		return apperrors.ErrUnavailable
	case errors.Is(e.Err, ErrDefinitiveDecline):
		return apperrors.ErrPaymentDeclined
	case errors.Is(e.Err, ErrInvalidLadder):
		return apperrors.ErrInvalidArgument
	default:
		return apperrors.ErrInternal
	}
}

func newEpisodeError(err error, subscriptionID, detail string) *EpisodeError {
	return &EpisodeError{SubscriptionID: subscriptionID, Err: err, Detail: detail}
}

// NotFound builds a NotFoundError
func NotFound(subscriptionID string) *EpisodeError {
	return newEpisodeError(ErrNotFound, subscriptionID, "")
}

// Conflict builds a ConflictError
func Conflict(subscriptionID, detail string) *EpisodeError {
	return newEpisodeError(ErrConflict, subscriptionID, detail)
}

// Transient builds a TransientGatewayError
func Transient(subscriptionID, detail string) *EpisodeError {
	return newEpisodeError(ErrTransientGateway, subscriptionID, detail)
}

// Declined builds a DefinitiveDeclineError
func Declined(subscriptionID, detail string) *EpisodeError {
	return newEpisodeError(ErrDefinitiveDecline, subscriptionID, detail)
}

// RetryInFlight reports that the in-flight guard is held elsewhere
func RetryInFlight(subscriptionID string) *EpisodeError {
	return newEpisodeError(ErrRetryInFlight, subscriptionID, "")
}

// InvalidTransition reports a rejected transition
func InvalidTransition(subscriptionID, detail string) *EpisodeError {
	return newEpisodeError(ErrInvalidTransition, subscriptionID, detail)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsTransient reports whether err is a TransientGatewayError
func IsTransient(err error) bool { return errors.Is(err, ErrTransientGateway) }
