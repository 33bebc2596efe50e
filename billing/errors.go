/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match sentinels with errors.Is and pull details with errors.As.

ERROR CATEGORIES:
  1. Validation errors - Malformed input, raised before any computation
  2. State errors - An operation attempted from a state that forbids it
  3. Duplicate errors - A second obligation for the same scope+period
  4. Configuration errors - A scope lacks rate configuration (sweep only)
  5. Store errors - Not found, concurrent modification, idempotency

PROPAGATION:
  Calculator errors are pure and safe to retry. State-machine and store
  errors leave the record unchanged; Service runs every mutation inside
  one store transaction so a failure rolls the whole write back.

SEE ALSO:
  - lifecycle.go: Raises InvalidStateTransitionError
  - sweep.go: Collects per-scope errors into a SweepReport
  - api/handlers.go: Maps errors to HTTP status codes
*/
package billing

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation error")

	// ErrInvalidStateTransition is returned when an operation is invoked from
	// a state outside its valid source states.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrDuplicateObligation is returned when an obligation already exists
	// for the same kind, scope and period.
	ErrDuplicateObligation = errors.New("duplicate obligation")

	// ErrConfigurationMissing is returned when a scope lacks rate configuration.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrLockNotObtained is returned when another worker holds the sweep lock.
	ErrLockNotObtained = errors.New("lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateTransitionError names the current state and the attempted operation.
type InvalidStateTransitionError struct {
	ObligationID ObligationID
	Current      Status
	Operation    string
	Detail       string
}

func (e *InvalidStateTransitionError) Error() string {
	msg := fmt.Sprintf("invalid state transition: cannot %s obligation %s in status %s",
		e.Operation, e.ObligationID, e.Current)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// DuplicateObligationError identifies the scope+period that already has an obligation.
type DuplicateObligationError struct {
	Kind        Kind
	Scope       Scope
	PeriodStart string
	ExistingID  ObligationID
}

func (e *DuplicateObligationError) Error() string {
	return fmt.Sprintf("duplicate obligation: %s for %s starting %s already exists (id: %s)",
		e.Kind, e.Scope, e.PeriodStart, e.ExistingID)
}

func (e *DuplicateObligationError) Unwrap() error { return ErrDuplicateObligation }

// ConfigurationMissingError names the franchise and the missing rate field.
type ConfigurationMissingError struct {
	FranchiseID FranchiseID
	Field       string
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("configuration missing: franchise %s has no %s", e.FranchiseID, e.Field)
}

func (e *ConfigurationMissingError) Unwrap() error { return ErrConfigurationMissing }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockNotObtained)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrDuplicateObligation) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
