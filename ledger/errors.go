/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All business-rule failures in one place. Callers branch with
  errors.Is/errors.As; HTTP handlers map these to status codes.

ERROR CATEGORIES:
  1. Validation errors - bad input (empty description, zero delta)
  2. Balance errors - debit would go negative
  3. Lookup errors - missing account, unknown referral code

PROPAGATION POLICY:
  Business failures return synchronously to the caller; nothing is
  retried inside the engine. Audit-log and notification failures are the
  exception: they are logged operationally and swallowed.
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
	// ErrInsufficientBalance is returned when a debit would take the
	// balance below zero. The ledger and balance are left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound is returned when the target account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountDisabled is returned for customer-initiated operations
	// against a disabled account. Admin operations ignore the flag.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrInvalidReferralCode is returned at registration when the supplied
	// code resolves to no account (or to the registrant itself).
	ErrInvalidReferralCode = errors.New("invalid referral code")

	// ErrValidation is the base for all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrEntryNotFound is returned when a referenced ledger entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports how short the account is.
type InsufficientBalanceError struct {
	AccountID int64
	Balance   int64
	Requested int64 // absolute value of the attempted debit
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %d: have %d, need %d",
		e.AccountID, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the failure is the caller's fault rather
// than a storage problem.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAccountDisabled) ||
		errors.Is(err, ErrInvalidReferralCode)
}

// IsNotFound reports whether the failure is a missing account or entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrEntryNotFound)
}
