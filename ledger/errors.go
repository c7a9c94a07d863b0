/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All domain error types in one place. The API boundary maps these onto
  machine-readable codes and 4xx statuses; no error here is fatal to the
  process.

ERROR CATEGORIES:
  1. Lookup errors   - missing users, products, workouts, redemptions
  2. Input errors    - bad shapes/values from callers
  3. State errors    - state machine misuse, stale concurrent updates
  4. Balance errors  - overdraws and stock shortfalls

USAGE:
  Store implementations translate driver errors (unique constraint, busy)
  into these before returning. Callers test with errors.Is:

    if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

SEE ALSO:
  - ledger.go, balance.go: producers of these errors
  - api/handlers.go: maps them to HTTP responses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotFound is returned when a referenced record (product, workout,
	// redemption, entry) doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for bad input shapes or values.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a state machine operation is
	// attempted from a state that doesn't allow it. Repeating a terminal
	// transition is an error, not a silent no-op: that is what prevents
	// double-crediting.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInsufficientBalance is returned when a debit would drive a user's
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnavailable is returned when a product is inactive or stock cannot
	// cover the requested quantity.
	ErrUnavailable = errors.New("product unavailable")

	// ErrConflict is returned when optimistic retries on a contended write
	// are exhausted.
	ErrConflict = errors.New("write conflict")

	// ErrDuplicateEntry is returned when an entry with the same idempotency
	// key already exists. Expected behavior for retries.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %v, requested %v",
		e.UserID, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidTransitionError names the state that blocked a transition.
type InvalidTransitionError struct {
	Kind    string // "workout", "redemption"
	ID      string
	From    string
	Attempt string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: status is %q", e.Attempt, e.Kind, e.ID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserNotFound)
}

// IsClientError returns true if the error is due to invalid caller input or
// state, as opposed to an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrDuplicateEntry)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
