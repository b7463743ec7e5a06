package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coaching-engine/booking"
	"github.com/warp/coaching-engine/ledger"
	"github.com/warp/coaching-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var monday1800 = time.Date(2024, time.June, 10, 18, 0, 0, 0, time.UTC)

func pending(id booking.ReservationID, g booking.UserID, start time.Time) booking.Reservation {
	return booking.Reservation{
		ID:         id,
		GuardianID: g,
		Start:      start,
		End:        start.Add(time.Hour),
		Status:     booking.StatusPending,
		CreditCost: 1,
		Version:    1,
		CreatedAt:  start.Add(-48 * time.Hour),
		UpdatedAt:  start.Add(-48 * time.Hour),
	}
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestStore_ReservationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := pending("r-1", "g-1", monday1800)
	r.PlayerID = "p-1"
	require.NoError(t, s.InsertReservation(ctx, r))

	got, err := s.GetReservation(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, booking.UserID("g-1"), got.GuardianID)
	assert.Equal(t, "p-1", got.PlayerID)
	assert.True(t, got.Start.Equal(monday1800))
	assert.Nil(t, got.ProposedStart)

	_, err = s.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, booking.ErrReservationNotFound)
}

func TestStore_UpdateReservation_CompareAndSwap(t *testing.T) {
	// GIVEN: A reservation at version 1
	// WHEN: Two writers both read version 1 and update
	// THEN: The first wins, the second gets ErrConcurrentModification

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertReservation(ctx, pending("r-1", "g-1", monday1800)))

	first, _ := s.GetReservation(ctx, "r-1")
	second := first

	proposed := monday1800.Add(time.Hour)
	proposedEnd := proposed.Add(time.Hour)
	first.Status = booking.StatusParentReview
	first.ProposedStart, first.ProposedEnd = &proposed, &proposedEnd
	first.ProposalMessage = "19:00?"
	first.ProposedBy = "admin"
	first.Version = 2
	require.NoError(t, s.UpdateReservation(ctx, first, 1))

	second.Status = booking.StatusRejected
	second.Version = 2
	err := s.UpdateReservation(ctx, second, 1)
	require.ErrorIs(t, err, booking.ErrConcurrentModification)

	got, err := s.GetReservation(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusParentReview, got.Status)
	assert.Equal(t, 2, got.Version)
	require.NotNil(t, got.ProposedStart)
	assert.True(t, got.ProposedStart.Equal(proposed))
	assert.Equal(t, "19:00?", got.ProposalMessage)

	ghost := pending("ghost", "g-1", monday1800)
	assert.ErrorIs(t, s.UpdateReservation(ctx, ghost, 1), booking.ErrReservationNotFound)
}

func TestStore_ListOccupying(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertReservation(ctx, pending("r-1", "g-1", monday1800)))
	require.NoError(t, s.InsertReservation(ctx, pending("r-2", "g-2", monday1800)))
	require.NoError(t, s.InsertReservation(ctx, pending("r-3", "g-3", monday1800.Add(time.Hour))))

	cancelled := pending("r-4", "g-4", monday1800)
	cancelled.Status = booking.StatusCancelled
	require.NoError(t, s.InsertReservation(ctx, cancelled))

	w := booking.Window{Start: monday1800, End: monday1800.Add(time.Hour)}
	got, err := s.ListOccupying(ctx, w, "r-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, booking.ReservationID("r-1"), got[0].ID)
}

func TestStore_ListReservations_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertReservation(ctx, pending("r-1", "g-1", monday1800)))
	require.NoError(t, s.InsertReservation(ctx, pending("r-2", "g-1", monday1800.AddDate(0, 0, 1))))
	other := pending("r-3", "g-2", monday1800)
	other.Status = booking.StatusApproved
	require.NoError(t, s.InsertReservation(ctx, other))

	mine, err := s.ListReservations(ctx, booking.ReservationFilter{GuardianID: "g-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, booking.ReservationID("r-1"), mine[0].ID)

	approved, err := s.ListReservations(ctx, booking.ReservationFilter{Statuses: []booking.Status{booking.StatusApproved}})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, booking.ReservationID("r-3"), approved[0].ID)

	tuesday, err := s.ListReservations(ctx, booking.ReservationFilter{From: monday1800.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, tuesday, 1)
	assert.Equal(t, booking.ReservationID("r-2"), tuesday[0].ID)

	limited, err := s.ListReservations(ctx, booking.ReservationFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_AppendTransaction_IdempotencyKeyUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := ledger.Transaction{
		ID: "tx-1", UserID: "g-1", ReservationID: "r-1", Amount: -1,
		Type: ledger.TxDebit, IdempotencyKey: ledger.DebitKey("r-1"), CreatedAt: monday1800,
	}
	require.NoError(t, s.AppendTransaction(ctx, tx))

	tx.ID = "tx-2"
	assert.ErrorIs(t, s.AppendTransaction(ctx, tx), ledger.ErrDuplicateIdempotencyKey)

	// Rows without a key never collide.
	for _, id := range []ledger.TransactionID{"tx-3", "tx-4"} {
		require.NoError(t, s.AppendTransaction(ctx, ledger.Transaction{
			ID: id, UserID: "g-1", Amount: 5, Type: ledger.TxManualAdjustment, Description: "top-up", CreatedAt: monday1800,
		}))
	}

	rows, err := s.TransactionsByReservation(ctx, "r-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	all, err := s.Transactions(ctx, "g-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, int64(9), ledger.Sum(all))
}

func TestStore_SettledAmountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTransaction(ctx, ledger.Transaction{
		ID: "tx-1", UserID: "g-1", Amount: 10, Type: ledger.TxManualAdjustment,
		Description:   "cash",
		SettledAmount: decimal.NewNullDecimal(decimal.RequireFromString("150000.50")),
		CreatedAt:     monday1800,
	}))
	require.NoError(t, s.AppendTransaction(ctx, ledger.Transaction{
		ID: "tx-2", UserID: "g-1", Amount: 1, Type: ledger.TxCredit, Description: "bonus", CreatedAt: monday1800,
	}))

	rows, err := s.Transactions(ctx, "g-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].SettledAmount.Valid)
	assert.True(t, rows[0].SettledAmount.Decimal.Equal(decimal.RequireFromString("150000.5")))
	assert.False(t, rows[1].SettledAmount.Valid)
}

func TestStore_AddToBalance_NeverNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b, err := s.AddToBalance(ctx, "g-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b)

	_, err = s.AddToBalance(ctx, "g-1", -3)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredit)

	b, err = s.Balance(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), b)

	b, err = s.Balance(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, b)

	accounts, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, ledger.UserID("g-1"), accounts[0].UserID)
}

func TestStore_AddToBalance_DebitsExistingAccount(t *testing.T) {
	// GIVEN: An account holding 5 credits
	// WHEN: It is debited down to exactly zero
	// THEN: Every step succeeds and the counter carries the store clock

	s := newTestStore(t)
	stamp := monday1800.Add(-time.Hour)
	s.Now = func() time.Time { return stamp }
	ctx := context.Background()

	_, err := s.AddToBalance(ctx, "g-1", 5)
	require.NoError(t, err)

	b, err := s.AddToBalance(ctx, "g-1", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), b)

	b, err = s.AddToBalance(ctx, "g-1", -4)
	require.NoError(t, err)
	assert.Zero(t, b)

	_, err = s.AddToBalance(ctx, "g-2", -1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredit)

	accounts, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1, "a refused debit must not leave an account behind")
	assert.True(t, accounts[0].UpdatedAt.Equal(stamp))
}

func TestStore_ApproveSpendsLastCredit(t *testing.T) {
	// GIVEN: A guardian with exactly one credit
	// WHEN: The admin approves their request
	// THEN: The approval succeeds and the balance is zero

	s := newTestStore(t)
	ctx := context.Background()
	svc := booking.NewService(s, booking.Nop, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.Now = func() time.Time { return monday1800.Add(-72 * time.Hour) }
	p := booking.DefaultPolicy()
	admin := booking.Admin("admin")

	_, err := svc.ManualAdjust(ctx, p, admin, booking.AdjustRequest{UserID: "g-1", Amount: 1, Description: "top-up"})
	require.NoError(t, err)
	r, err := svc.CreateReservation(ctx, p, booking.Guardian("g-1"), booking.CreateRequest{Start: monday1800, End: monday1800.Add(time.Hour)})
	require.NoError(t, err)

	approved, err := svc.AdminDecide(ctx, p, admin, r.ID, booking.Decision{Action: booking.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, booking.StatusApproved, approved.Status)

	b, err := svc.Balance(ctx, "g-1")
	require.NoError(t, err)
	assert.Zero(t, b)
}

func TestStore_KeepsSubSecondTimes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := monday1800.Add(250 * time.Millisecond)
	r := pending("r-1", "g-1", start)
	r.CreatedAt = monday1800.Add(-time.Hour + 123456789*time.Nanosecond)
	require.NoError(t, s.InsertReservation(ctx, r))

	got, err := s.GetReservation(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, got.Start.Equal(start), got.Start)
	assert.True(t, got.CreatedAt.Equal(r.CreatedAt), got.CreatedAt)

	// The session ends at 19:00:00.25, so a window starting at 19:00 still overlaps it.
	occupying, err := s.ListOccupying(ctx, booking.Window{Start: monday1800.Add(time.Hour), End: monday1800.Add(2 * time.Hour)}, "")
	require.NoError(t, err)
	assert.Len(t, occupying, 1)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts a reservation and debits, then fails
	// THEN: Neither the reservation nor the ledger row survives

	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(st booking.Store) error {
		if err := st.InsertReservation(ctx, pending("r-1", "g-1", monday1800)); err != nil {
			return err
		}
		if err := st.AppendTransaction(ctx, ledger.Transaction{
			ID: "tx-1", UserID: "g-1", ReservationID: "r-1", Amount: 3,
			Type: ledger.TxCredit, Description: "x", CreatedAt: monday1800,
		}); err != nil {
			return err
		}
		if _, err := st.AddToBalance(ctx, "g-1", 3); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetReservation(ctx, "r-1")
	assert.ErrorIs(t, err, booking.ErrReservationNotFound)
	rows, err := s.Transactions(ctx, "g-1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	b, _ := s.Balance(ctx, "g-1")
	assert.Zero(t, b)
}

func TestStore_ServiceLifecycle(t *testing.T) {
	// GIVEN: The booking service on SQLite
	// WHEN: A guardian is topped up, books, is approved and cancels in time
	// THEN: The ledger holds top-up, debit and refund and reconciles

	s := newTestStore(t)
	ctx := context.Background()
	now := monday1800.Add(-72 * time.Hour)

	svc := booking.NewService(s, booking.Nop, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.Now = func() time.Time { return now }
	p := booking.DefaultPolicy()
	admin := booking.Admin("admin")

	_, err := svc.ManualAdjust(ctx, p, admin, booking.AdjustRequest{UserID: "g-1", Amount: 2, Description: "top-up"})
	require.NoError(t, err)

	r, err := svc.CreateReservation(ctx, p, booking.Guardian("g-1"), booking.CreateRequest{Start: monday1800, End: monday1800.Add(time.Hour)})
	require.NoError(t, err)

	_, err = svc.AdminDecide(ctx, p, admin, r.ID, booking.Decision{Action: booking.ActionApprove, ExpectedVersion: 1})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, p, booking.Guardian("g-1"), r.ID, "holiday")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Equal(t, 3, cancelled.Version)

	history, err := svc.History(ctx, "g-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ledger.TxManualAdjustment, history[0].Type)
	assert.Equal(t, ledger.TxDebit, history[1].Type)
	assert.Equal(t, ledger.TxRefund, history[2].Type)
	assert.Equal(t, "holiday", history[2].Description)

	mismatches, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

// =============================================================================
// POLICIES & AUDITS
// =============================================================================

func TestStore_PolicyRevisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestPolicy(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first, err := s.SavePolicy(ctx, booking.PolicyRecord{ConfigJSON: `{"max_capacity_per_slot":6}`, UpdatedBy: "admin"})
	require.NoError(t, err)
	second, err := s.SavePolicy(ctx, booking.PolicyRecord{ConfigJSON: `{"max_capacity_per_slot":8}`, UpdatedBy: "admin"})
	require.NoError(t, err)
	assert.Greater(t, second.Version, first.Version)

	latest, err = s.LatestPolicy(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.Version, latest.Version)
	assert.Equal(t, `{"max_capacity_per_slot":8}`, latest.ConfigJSON)
	assert.Equal(t, booking.UserID("admin"), latest.UpdatedBy)
}

func TestStore_AuditRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a-1", "a-2", "a-3"} {
		started := monday1800.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.SaveAuditRun(ctx, ledger.AuditRun{
			ID: id, Status: "completed", Accounts: 4, StartedAt: started, CompletedAt: started.Add(time.Second),
		}))
	}
	require.NoError(t, s.SaveAuditRun(ctx, ledger.AuditRun{
		ID: "a-4", Status: "failed", Error: "disk full", StartedAt: monday1800.Add(5 * time.Hour),
	}))

	runs, err := s.AuditRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a-4", runs[0].ID)
	assert.Equal(t, "disk full", runs[0].Error)
	assert.True(t, runs[0].CompletedAt.IsZero())
	assert.Equal(t, "a-3", runs[1].ID)
	assert.Equal(t, 4, runs[1].Accounts)
}
