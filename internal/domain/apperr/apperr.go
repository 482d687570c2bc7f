// Package apperr holds the error taxonomy shared by the deadline core.
//
// Callers wrap one of the sentinels with context (fmt.Errorf("...: %w", apperr.ErrNotFound))
// and inspect them with errors.Is. Stores translate driver errors into these sentinels so the
// application layer never depends on a specific database.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input, e.g. a missing required date.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPolicyViolation marks a business-rule block, e.g. deleting a protected deadline type.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrConflict marks a concurrent mutation; the enclosing transaction may be retried.
	ErrConflict = errors.New("conflict")
	// ErrTransientDelivery marks a retryable notification delivery failure.
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrPermanentDelivery marks a delivery failure that must not be retried.
	ErrPermanentDelivery = errors.New("permanent delivery failure")
)

// Validation returns a formatted ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns a formatted ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// PolicyViolation returns a formatted ErrPolicyViolation.
func PolicyViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPolicyViolation, fmt.Sprintf(format, args...))
}

// Conflict returns a formatted ErrConflict.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether err allows the enclosing transaction to be replayed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
