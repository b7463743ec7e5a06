package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coaching-engine/ledger"
	"github.com/warp/coaching-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.Memory) {
	t.Helper()
	store := memory.New()
	l := ledger.New(store)

	n := 0
	l.NewID = func() string { n++; return fmt.Sprintf("tx-%d", n) }
	l.Now = func() time.Time { return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC) }
	return l, store
}

func topUp(t *testing.T, l *ledger.Ledger, user ledger.UserID, amount int64) {
	t.Helper()
	_, err := l.Adjust(context.Background(), user, amount, "top-up", decimal.NullDecimal{}, "admin")
	require.NoError(t, err)
}

// =============================================================================
// DEBIT / REFUND
// =============================================================================

func TestLedger_Debit_ReducesBalance(t *testing.T) {
	// GIVEN: A guardian with 3 credits
	// WHEN: A reservation costing 1 is debited
	// THEN: Balance is 2 and the row carries the debit key

	l, _ := newTestLedger(t)
	ctx := context.Background()
	topUp(t, l, "g-1", 3)

	tx, err := l.Debit(ctx, "g-1", 1, "r-1", "admin")
	require.NoError(t, err)

	assert.Equal(t, int64(-1), tx.Amount)
	assert.Equal(t, ledger.TxDebit, tx.Type)
	assert.Equal(t, "debit:r-1", tx.IdempotencyKey)
	assert.Equal(t, "r-1", tx.ReservationID)

	balance, err := l.Balance(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
}

func TestLedger_Debit_InsufficientCredit(t *testing.T) {
	// GIVEN: A guardian with 1 credit
	// WHEN: Debiting 2
	// THEN: InsufficientCreditError, nothing written

	l, store := newTestLedger(t)
	ctx := context.Background()
	topUp(t, l, "g-1", 1)

	_, err := l.Debit(ctx, "g-1", 2, "r-1", "admin")
	require.ErrorIs(t, err, ledger.ErrInsufficientCredit)

	var ice *ledger.InsufficientCreditError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, int64(1), ice.Balance)
	assert.Equal(t, int64(2), ice.Requested)

	txs, err := store.Transactions(ctx, "g-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only the top-up")
}

func TestLedger_Debit_ExactBalanceAllowed(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	topUp(t, l, "g-1", 2)

	_, err := l.Debit(ctx, "g-1", 2, "r-1", "admin")
	require.NoError(t, err)

	balance, _ := l.Balance(ctx, "g-1")
	assert.Zero(t, balance)
}

func TestLedger_Debit_TwiceForSameReservation_Rejected(t *testing.T) {
	// GIVEN: A reservation already debited
	// WHEN: Debiting it again
	// THEN: Duplicate idempotency key, balance unchanged

	l, _ := newTestLedger(t)
	ctx := context.Background()
	topUp(t, l, "g-1", 5)

	_, err := l.Debit(ctx, "g-1", 1, "r-1", "admin")
	require.NoError(t, err)

	_, err = l.Debit(ctx, "g-1", 1, "r-1", "admin")
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	balance, _ := l.Balance(ctx, "g-1")
	assert.Equal(t, int64(4), balance)
}

func TestLedger_Refund_RestoresDebit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	topUp(t, l, "g-1", 1)

	_, err := l.Debit(ctx, "g-1", 1, "r-1", "admin")
	require.NoError(t, err)

	tx, err := l.Refund(ctx, "g-1", 1, "r-1", "g-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Amount)
	assert.Equal(t, ledger.TxRefund, tx.Type)
	assert.Equal(t, "refund:r-1", tx.IdempotencyKey)
	assert.Equal(t, "session cancelled", tx.Description)

	_, err = l.Refund(ctx, "g-1", 1, "r-1", "g-1", "again")
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	balance, _ := l.Balance(ctx, "g-1")
	assert.Equal(t, int64(1), balance)
}

func TestLedger_NonPositiveAmounts_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Debit(ctx, "g-1", 0, "r-1", "admin")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = l.Refund(ctx, "g-1", -1, "r-1", "admin", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = l.Credit(ctx, "g-1", 0, "", "bonus", "admin")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = l.Adjust(ctx, "g-1", 0, "nothing", decimal.NullDecimal{}, "admin")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestLedger_Adjust_NegativeCannotOverdraw(t *testing.T) {
	// GIVEN: A balance of 2
	// WHEN: Adjusting by -3
	// THEN: Refused; -2 succeeds

	l, _ := newTestLedger(t)
	ctx := context.Background()
	topUp(t, l, "g-1", 2)

	_, err := l.Adjust(ctx, "g-1", -3, "correction", decimal.NullDecimal{}, "admin")
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredit)

	_, err = l.Adjust(ctx, "g-1", -2, "correction", decimal.NullDecimal{}, "admin")
	require.NoError(t, err)

	balance, _ := l.Balance(ctx, "g-1")
	assert.Zero(t, balance)
}

func TestLedger_Adjust_RecordsSettledAmount(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	settled := decimal.NewNullDecimal(decimal.RequireFromString("150000.00"))
	_, err := l.Adjust(ctx, "g-1", 10, "cash top-up", settled, "admin")
	require.NoError(t, err)

	txs, err := store.Transactions(ctx, "g-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxManualAdjustment, txs[0].Type)
	assert.True(t, txs[0].SettledAmount.Valid)
	assert.True(t, txs[0].SettledAmount.Decimal.Equal(decimal.RequireFromString("150000")))

	_, err = l.Adjust(ctx, "g-1", 1, "bad", decimal.NewNullDecimal(decimal.NewFromInt(-5)), "admin")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestLedger_Reconcile_BalanceEqualsSum(t *testing.T) {
	// GIVEN: A mix of top-ups, debits and refunds
	// THEN: Balance == Σ(amount)

	l, store := newTestLedger(t)
	ctx := context.Background()

	topUp(t, l, "g-1", 5)
	for i := 1; i <= 3; i++ {
		_, err := l.Debit(ctx, "g-1", 1, fmt.Sprintf("r-%d", i), "admin")
		require.NoError(t, err)
	}
	_, err := l.Refund(ctx, "g-1", 1, "r-2", "admin", "")
	require.NoError(t, err)

	require.NoError(t, l.Reconcile(ctx, "g-1"))

	txs, _ := store.Transactions(ctx, "g-1")
	balance, _ := l.Balance(ctx, "g-1")
	assert.Equal(t, ledger.Sum(txs), balance)
	assert.Equal(t, int64(3), balance)
}

func TestLedger_Reconcile_DetectsDrift(t *testing.T) {
	// GIVEN: A balance counter changed behind the ledger's back
	// THEN: Reconcile reports a BalanceMismatchError

	l, store := newTestLedger(t)
	ctx := context.Background()
	topUp(t, l, "g-1", 2)

	_, err := store.AddToBalance(ctx, "g-1", 7)
	require.NoError(t, err)

	err = l.Reconcile(ctx, "g-1")
	require.ErrorIs(t, err, ledger.ErrBalanceMismatch)

	var m *ledger.BalanceMismatchError
	require.ErrorAs(t, err, &m)
	assert.Equal(t, int64(9), m.Stored)
	assert.Equal(t, int64(2), m.Derived)
}

func TestTransactionType_Valid(t *testing.T) {
	for _, typ := range []ledger.TransactionType{ledger.TxDebit, ledger.TxCredit, ledger.TxRefund, ledger.TxManualAdjustment} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, ledger.TransactionType("bonus").Valid())
}
