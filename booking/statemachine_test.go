package booking_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coaching-engine/booking"
)

func TestNext_LegalTransitions(t *testing.T) {
	tests := []struct {
		from   booking.Status
		role   booking.Role
		action booking.Action
		to     booking.Status
		guard  booking.Guard
		effect booking.LedgerEffect
	}{
		{booking.StatusPending, booking.RoleAdmin, booking.ActionApprove, booking.StatusApproved, booking.GuardCapacity, booking.EffectDebit},
		{booking.StatusPending, booking.RoleAdmin, booking.ActionReject, booking.StatusRejected, booking.GuardNone, booking.EffectNone},
		{booking.StatusPending, booking.RoleAdmin, booking.ActionPropose, booking.StatusParentReview, booking.GuardNone, booking.EffectNone},
		{booking.StatusParentReview, booking.RoleGuardian, booking.ActionAccept, booking.StatusApproved, booking.GuardCapacity, booking.EffectDebit},
		{booking.StatusParentReview, booking.RoleGuardian, booking.ActionCounterPropose, booking.StatusCounterProposal, booking.GuardNone, booking.EffectNone},
		{booking.StatusCounterProposal, booking.RoleAdmin, booking.ActionAccept, booking.StatusApproved, booking.GuardCapacity, booking.EffectDebit},
		{booking.StatusCounterProposal, booking.RoleAdmin, booking.ActionPropose, booking.StatusParentReview, booking.GuardNone, booking.EffectNone},
		{booking.StatusApproved, booking.RoleGuardian, booking.ActionCancel, booking.StatusCancelled, booking.GuardCancellationNotice, booking.EffectRefund},
		{booking.StatusApproved, booking.RoleAdmin, booking.ActionReject, booking.StatusRejected, booking.GuardNone, booking.EffectRefund},
		{booking.StatusApproved, booking.RoleAdmin, booking.ActionComplete, booking.StatusCompleted, booking.GuardSessionEnded, booking.EffectNone},
		{booking.StatusApproved, booking.RoleAdmin, booking.ActionNoShow, booking.StatusNoShow, booking.GuardSessionEnded, booking.EffectNone},
		{booking.StatusParentReview, booking.RoleGuardian, booking.ActionCancel, booking.StatusCancelled, booking.GuardNone, booking.EffectNone},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%s", tt.from, tt.role, tt.action), func(t *testing.T) {
			tr, err := booking.Next(tt.from, tt.role, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.to, tr.To)
			assert.Equal(t, tt.guard, tr.Guard)
			assert.Equal(t, tt.effect, tr.Effect)
		})
	}
}

func TestNext_Refusals(t *testing.T) {
	tests := []struct {
		name   string
		from   booking.Status
		role   booking.Role
		action booking.Action
		want   error
	}{
		{"terminal", booking.StatusCompleted, booking.RoleAdmin, booking.ActionCancel, booking.ErrWrongState},
		{"second approve", booking.StatusApproved, booking.RoleAdmin, booking.ActionApprove, booking.ErrWrongState},
		{"guardian replies to pending", booking.StatusPending, booking.RoleGuardian, booking.ActionAccept, booking.ErrWrongTurn},
		{"admin replies to parent_review", booking.StatusParentReview, booking.RoleAdmin, booking.ActionPropose, booking.ErrWrongTurn},
		{"guardian marks outcome", booking.StatusApproved, booking.RoleGuardian, booking.ActionComplete, booking.ErrForbidden},
		{"guardian rejects approved", booking.StatusApproved, booking.RoleGuardian, booking.ActionReject, booking.ErrForbidden},
		{"outcome before approval", booking.StatusPending, booking.RoleAdmin, booking.ActionNoShow, booking.ErrWrongState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := booking.Next(tt.from, tt.role, tt.action)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNext_TerminalStatesAcceptNothing(t *testing.T) {
	for _, s := range booking.AllStatuses {
		if !s.IsTerminal() {
			continue
		}
		assert.Empty(t, booking.Allowed(s, booking.RoleAdmin), s)
		assert.Empty(t, booking.Allowed(s, booking.RoleGuardian), s)
	}
}

func TestAllowed(t *testing.T) {
	assert.ElementsMatch(t,
		[]booking.Action{booking.ActionAccept, booking.ActionReject, booking.ActionCounterPropose, booking.ActionCancel},
		booking.Allowed(booking.StatusParentReview, booking.RoleGuardian))
	assert.ElementsMatch(t,
		[]booking.Action{booking.ActionReject, booking.ActionCancel, booking.ActionComplete, booking.ActionNoShow},
		booking.Allowed(booking.StatusApproved, booking.RoleAdmin))
}

func TestStatus_Occupancy(t *testing.T) {
	occupying := map[booking.Status]bool{
		booking.StatusPending:   true,
		booking.StatusApproved:  true,
		booking.StatusCompleted: true,
	}
	for _, s := range booking.AllStatuses {
		assert.Equal(t, occupying[s], s.OccupiesCapacity(), s)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestKind(t *testing.T) {
	wrapped := &booking.TransitionError{ReservationID: "r-1", From: booking.StatusPending, Err: booking.ErrWrongTurn}

	assert.Equal(t, booking.KindWrongTurn, booking.Kind(wrapped))
	assert.Equal(t, booking.KindCapacityExceeded, booking.Kind(&booking.CapacityError{Occupied: 6, Capacity: 6}))
	assert.Equal(t, booking.KindNotFound, booking.Kind(fmt.Errorf("load: %w", booking.ErrReservationNotFound)))
	assert.Equal(t, booking.KindInternal, booking.Kind(errors.New("disk on fire")))
	assert.Equal(t, booking.ErrorKind(""), booking.Kind(nil))
}

func TestRetryOnConflict(t *testing.T) {
	// GIVEN: An operation that conflicts twice then succeeds
	// THEN: RetryOnConflict runs it three times

	calls := 0
	err := booking.RetryOnConflict(context.Background(), 5, func(context.Context) error {
		calls++
		if calls < 3 {
			return booking.ErrConcurrentModification
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// Non-retryable errors return immediately.
	calls = 0
	err = booking.RetryOnConflict(context.Background(), 5, func(context.Context) error {
		calls++
		return booking.ErrWrongState
	})
	assert.ErrorIs(t, err, booking.ErrWrongState)
	assert.Equal(t, 1, calls)
}
