package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientCredit is returned when a debit (or negative adjustment)
	// would drive a balance below zero.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidAmount is returned for zero amounts or amounts whose sign does
	// not match the transaction type.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrBalanceMismatch is returned by Reconcile when the denormalized
	// balance diverges from the transaction log.
	ErrBalanceMismatch = errors.New("balance does not match ledger")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientCreditError carries the shortfall details.
type InsufficientCreditError struct {
	UserID    UserID
	Balance   int64
	Requested int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for %s: balance %d, requested %d",
		e.UserID, e.Balance, e.Requested)
}

func (e *InsufficientCreditError) Unwrap() error {
	return ErrInsufficientCredit
}

// BalanceMismatchError reports an account whose counter disagrees with Σ(amount).
type BalanceMismatchError struct {
	UserID  UserID
	Stored  int64
	Derived int64
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("balance mismatch for %s: stored %d, ledger sum %d",
		e.UserID, e.Stored, e.Derived)
}

func (e *BalanceMismatchError) Unwrap() error {
	return ErrBalanceMismatch
}
