package model

import "errors"

var (
	// ErrNotFound is returned when a product, user, pass or subscription does not exist.
	ErrNotFound = errors.New("not_found")
	// ErrInsufficientFunds is returned when a deduction would make a credit balance negative.
	ErrInsufficientFunds = errors.New("insufficient_funds")
	// ErrStoreUnavailable wraps transient store failures.
	ErrStoreUnavailable = errors.New("store_unavailable")
	// ErrInvariantViolation is returned when a mutation would break a store invariant,
	// e.g. a second active pass in one scope.
	ErrInvariantViolation = errors.New("invariant_violation")
	// ErrInvalidInput is returned for malformed requests and events.
	ErrInvalidInput = errors.New("invalid_input")
	// ErrInvalidTransition is returned when a subscription status change is not allowed.
	ErrInvalidTransition = errors.New("invalid_transition")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryable reports whether the operation that produced err may succeed on redelivery.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvariantViolation),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInsufficientFunds):
		return false
	}
	return true
}
