package domain

import (
	"context"
	"errors"
)

// Error classes shared by every layer. Concrete errors wrap one of these so
// callers can decide how to react with errors.Is.
var (
	// ErrValidation is returned when an entity or input record is malformed.
	// Such failures are dropped and logged, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrTransientExternal marks network failures, timeouts and upstream
	// overload. Operations failing with it may be retried with backoff.
	ErrTransientExternal = errors.New("transient external failure")

	// ErrPersistenceConflict marks a failed commit, serialization failure or
	// lost conditional update. The whole transaction may be retried.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrPermanentProvider marks a provider failure that retrying cannot fix,
	// such as bad credentials or a rejected address. Operators must act.
	ErrPermanentProvider = errors.New("permanent provider failure")
)

// Validation errors for domain entities.
var (
	ErrEmptyRecipientID      = errors.New("recipient ID cannot be empty")
	ErrEmptyContactAddress   = errors.New("contact address cannot be empty")
	ErrInvalidContactAddress = errors.New("invalid contact address")
	ErrNoCategories          = errors.New("at least one category is required")
	ErrEmptyCategory         = errors.New("category cannot be empty")
	ErrEmptyExternalID       = errors.New("external ID cannot be empty")
	ErrInvalidDeliveryStatus = errors.New("invalid delivery status")
	ErrInvalidCadence        = errors.New("invalid cadence")
)

// IsRetryable reports whether err belongs to a class that may succeed when the
// operation is attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentProvider) || errors.Is(err, ErrValidation) {
		return false
	}
	return errors.Is(err, ErrTransientExternal) ||
		errors.Is(err, ErrPersistenceConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}
