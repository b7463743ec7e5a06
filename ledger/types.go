/*
Package ledger provides the append-only credit ledger.

PURPOSE:
  Every change to a guardian's prepaid credit balance is recorded here as an
  immutable Transaction. The per-user balance is a denormalized counter that
  is only ever moved in the same atomic unit as the transaction justifying it.

KEY CONCEPTS IN THIS FILE (types.go):
  - UserID: the owner of a credit account (a guardian)
  - Transaction: an immutable, signed ledger entry
  - TransactionType: debit, credit, refund, manual_adjustment
  - Account: the denormalized balance row for one user

INVARIANT:
  For every user, at all times:

    balance(user) == Σ(amount) over all transactions of that user

USAGE:
  l := ledger.New(txScopedStore)
  tx, err := l.Debit(ctx, "guardian-1", 1, "res-42", "admin-1")

SEE ALSO:
  - ledger.go: Debit / Refund / Credit / Adjust / Reconcile
  - store.go: Persistence contract
  - errors.go: Sentinel and structured errors
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TransactionID string

// =============================================================================
// TRANSACTION - Immutable change to a credit balance
// =============================================================================

type TransactionType string

const (
	TxDebit            TransactionType = "debit"             // Credit consumed by an approved reservation
	TxCredit           TransactionType = "credit"            // Credits granted (package purchase recorded elsewhere)
	TxRefund           TransactionType = "refund"            // Debit returned after cancellation/revocation
	TxManualAdjustment TransactionType = "manual_adjustment" // Admin correction, no reservation link
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxDebit, TxCredit, TxRefund, TxManualAdjustment:
		return true
	}
	return false
}

type Transaction struct {
	ID            TransactionID
	UserID        UserID
	ReservationID string // empty for manual adjustments
	Amount        int64  // signed; debits are negative
	Type          TransactionType
	Description   string

	// IdempotencyKey is unique across the ledger. Reservation-linked entries
	// use "debit:<id>" / "refund:<id>" so a reservation can never be debited
	// or refunded twice.
	IdempotencyKey string

	// SettledAmount is cash already collected outside the system for a
	// top-up. Recorded for audit only.
	SettledAmount decimal.NullDecimal

	CreatedBy string
	CreatedAt time.Time
}

// Account is the denormalized balance for one user.
type Account struct {
	UserID    UserID
	Balance   int64
	UpdatedAt time.Time
}

// Sum returns Σ(amount) over txs.
func Sum(txs []Transaction) int64 {
	var total int64
	for _, tx := range txs {
		total += tx.Amount
	}
	return total
}

// DebitKey is the idempotency key of the debit taken for a reservation.
func DebitKey(reservationID string) string { return "debit:" + reservationID }

// RefundKey is the idempotency key of the refund issued for a reservation.
func RefundKey(reservationID string) string { return "refund:" + reservationID }

// AuditRun records one pass of the balance == Σ(amount) check over every account.
type AuditRun struct {
	ID          string
	Status      string // completed, failed
	Accounts    int
	Mismatches  int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// AuditLog keeps audit runs. Append-only.
type AuditLog interface {
	SaveAuditRun(ctx context.Context, run AuditRun) error
	AuditRuns(ctx context.Context, limit int) ([]AuditRun, error)
}
