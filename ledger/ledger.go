/*
ledger.go - Credit ledger operations

PURPOSE:
  Debit, refund, credit and adjust a user's prepaid credit balance.
  Each operation appends exactly one immutable Transaction and moves the
  denormalized balance by the same signed amount.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: transactions are never updated or deleted.
  2. NON-NEGATIVE: a debit or negative adjustment that would leave the
     balance below zero fails before anything is written.
  3. ATOMIC: the Ledger does not open its own transaction. Callers run it
     against a transaction-scoped Store so the append, the counter move and
     the reservation transition that triggered them commit together.

CORRECTIONS:
  Mistakes are corrected with a new manual_adjustment row, never by editing.

SEE ALSO:
  - booking/service.go: runs ledger operations inside Store.WithTx
  - store.go: persistence contract
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger applies credit operations against a Store.
type Ledger struct {
	Store Store
	Now   func() time.Time
	NewID func() string
}

// New creates a ledger over store with a wall clock and random ids.
func New(store Store) *Ledger {
	return &Ledger{
		Store: store,
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// Debit consumes amount credits for a reservation.
// Fails with *InsufficientCreditError if the balance would go negative.
func (l *Ledger) Debit(ctx context.Context, userID UserID, amount int64, reservationID, actor string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: debit must be positive, got %d", ErrInvalidAmount, amount)
	}
	return l.apply(ctx, Transaction{
		UserID:         userID,
		ReservationID:  reservationID,
		Amount:         -amount,
		Type:           TxDebit,
		Description:    "session booking",
		IdempotencyKey: DebitKey(reservationID),
		CreatedBy:      actor,
	})
}

// Refund returns amount credits previously debited for a reservation.
// A second refund for the same reservation fails with ErrDuplicateIdempotencyKey.
func (l *Ledger) Refund(ctx context.Context, userID UserID, amount int64, reservationID, actor, reason string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: refund must be positive, got %d", ErrInvalidAmount, amount)
	}
	if reason == "" {
		reason = "session cancelled"
	}
	return l.apply(ctx, Transaction{
		UserID:         userID,
		ReservationID:  reservationID,
		Amount:         amount,
		Type:           TxRefund,
		Description:    reason,
		IdempotencyKey: RefundKey(reservationID),
		CreatedBy:      actor,
	})
}

// Credit grants amount credits, optionally linked to a reservation.
func (l *Ledger) Credit(ctx context.Context, userID UserID, amount int64, reservationID, description, actor string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: credit must be positive, got %d", ErrInvalidAmount, amount)
	}
	return l.apply(ctx, Transaction{
		UserID:        userID,
		ReservationID: reservationID,
		Amount:        amount,
		Type:          TxCredit,
		Description:   description,
		CreatedBy:     actor,
	})
}

// Adjust records a manual correction. amount is signed and non-zero.
// settled is the cash already collected for a top-up, if any.
func (l *Ledger) Adjust(ctx context.Context, userID UserID, amount int64, description string, settled decimal.NullDecimal, actor string) (Transaction, error) {
	if amount == 0 {
		return Transaction{}, fmt.Errorf("%w: adjustment cannot be zero", ErrInvalidAmount)
	}
	if settled.Valid && settled.Decimal.IsNegative() {
		return Transaction{}, fmt.Errorf("%w: settled amount cannot be negative", ErrInvalidAmount)
	}
	return l.apply(ctx, Transaction{
		UserID:        userID,
		Amount:        amount,
		Type:          TxManualAdjustment,
		Description:   description,
		SettledAmount: settled,
		CreatedBy:     actor,
	})
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID UserID) (int64, error) {
	return l.Store.Balance(ctx, userID)
}

// Reconcile recomputes Σ(amount) for the user and compares it with the
// denormalized balance.
func (l *Ledger) Reconcile(ctx context.Context, userID UserID) error {
	stored, err := l.Store.Balance(ctx, userID)
	if err != nil {
		return err
	}
	txs, err := l.Store.Transactions(ctx, userID)
	if err != nil {
		return err
	}
	if derived := Sum(txs); derived != stored {
		return &BalanceMismatchError{UserID: userID, Stored: stored, Derived: derived}
	}
	return nil
}

func (l *Ledger) apply(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.Amount < 0 {
		balance, err := l.Store.Balance(ctx, tx.UserID)
		if err != nil {
			return Transaction{}, err
		}
		if balance+tx.Amount < 0 {
			return Transaction{}, &InsufficientCreditError{
				UserID:    tx.UserID,
				Balance:   balance,
				Requested: -tx.Amount,
			}
		}
	}

	tx.ID = TransactionID(l.NewID())
	tx.CreatedAt = l.Now().UTC()

	if err := l.Store.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	if _, err := l.Store.AddToBalance(ctx, tx.UserID, tx.Amount); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}
