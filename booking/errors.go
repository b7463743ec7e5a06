/*
errors.go - Error taxonomy for the reservation lifecycle

PURPOSE:
  All guard failures are returned to the caller as values; none change state.
  Each error unwraps to exactly one sentinel below so callers can branch with
  errors.Is, and Kind() gives a stable string code for transports.

RETRY POLICY:
  Only ErrConcurrentModification is retryable: re-read the reservation and
  decide again. Every other kind needs a different user decision.

SEE ALSO:
  - ledger/errors.go: ErrInsufficientCredit originates there
  - api/handlers.go: maps kinds to HTTP status codes
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/coaching-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrCapacityExceeded         = errors.New("slot capacity exceeded")
	ErrOutsideActiveWindow      = errors.New("outside active hours")
	ErrWrongState               = errors.New("action not allowed in current status")
	ErrWrongTurn                = errors.New("not this party's turn")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrConcurrentModification   = errors.New("concurrent modification detected")
	ErrInvalidProposal          = errors.New("invalid proposal")
	ErrSessionNotEnded          = errors.New("session has not ended yet")
	ErrReservationNotFound      = errors.New("reservation not found")
	ErrForbidden                = errors.New("forbidden")
	ErrInvalidInput             = errors.New("invalid input")

	// ErrInsufficientCredit is the ledger's sentinel, re-exported so callers of
	// this package need not import ledger to branch on it.
	ErrInsufficientCredit = ledger.ErrInsufficientCredit
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError explains why an action was refused for a reservation.
type TransitionError struct {
	ReservationID ReservationID
	From          Status
	Action        Action
	Role          Role
	Reason        string
	Err           error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s on %s reservation %s: %v", e.Role, e.Action, e.From, e.ReservationID, e.Err)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Err }

// CapacityError names the first full hour bucket.
type CapacityError struct {
	Slot     time.Time
	Occupied int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("slot %s is full: %d/%d booked", e.Slot.Format("2006-01-02 15:04"), e.Occupied, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// =============================================================================
// KINDS
// =============================================================================

type ErrorKind string

const (
	KindCapacityExceeded         ErrorKind = "capacity_exceeded"
	KindOutsideActiveWindow      ErrorKind = "outside_active_window"
	KindWrongState               ErrorKind = "wrong_state"
	KindWrongTurn                ErrorKind = "wrong_turn"
	KindCancellationWindowClosed ErrorKind = "cancellation_window_closed"
	KindInsufficientCredit       ErrorKind = "insufficient_credit"
	KindConcurrentModification   ErrorKind = "concurrent_modification"
	KindInvalidProposal          ErrorKind = "invalid_proposal"
	KindSessionNotEnded          ErrorKind = "session_not_ended"
	KindNotFound                 ErrorKind = "not_found"
	KindForbidden                ErrorKind = "forbidden"
	KindInvalidInput             ErrorKind = "invalid_input"
	KindInternal                 ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrCapacityExceeded, KindCapacityExceeded},
	{ErrOutsideActiveWindow, KindOutsideActiveWindow},
	{ErrWrongTurn, KindWrongTurn},
	{ErrWrongState, KindWrongState},
	{ErrCancellationWindowClosed, KindCancellationWindowClosed},
	{ErrInsufficientCredit, KindInsufficientCredit},
	{ErrConcurrentModification, KindConcurrentModification},
	{ErrInvalidProposal, KindInvalidProposal},
	{ErrSessionNotEnded, KindSessionNotEnded},
	{ErrReservationNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
	{ErrInvalidInput, KindInvalidInput},
	{ledger.ErrInvalidAmount, KindInvalidInput},
}

// Kind classifies err. Unknown errors are KindInternal; nil is "".
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// RetryOnConflict runs fn up to attempts times while it fails with a
// retryable error. fn must re-read whatever state it decides on.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
