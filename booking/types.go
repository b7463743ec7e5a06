/*
Package booking implements the reservation lifecycle for limited-capacity
coaching slots.

PURPOSE:
  Guardians request one-hour coaching slots; an administrator approves,
  rejects, or negotiates a different time. Approval consumes prepaid credit
  from the ledger package, cancellation of an approved session refunds it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: the eight lifecycle states
  - Actor / Role: who is acting (guardian or admin)
  - Reservation: the booking record and its negotiation fields
  - Window: a half-open [Start, End) time range

LIFECYCLE:
  ┌─────────┐ propose ┌───────────────┐ counter ┌──────────────────┐
  │ pending │───────▶│ parent_review │───────▶│ counter_proposal │
  └─────────┘         └───────────────┘◀───────└──────────────────┘
       │ approve              │ accept          propose │ accept
       ▼                      ▼                         ▼
  ┌──────────┐  cancel  ┌───────────┐
  │ approved │────────▶│ cancelled │   (refund)
  └──────────┘          └───────────┘
       │ complete / no-show
       ▼
  completed | no_show

SEE ALSO:
  - statemachine.go: the transition table
  - negotiation.go: turn-taking and proposal validation
  - service.go: atomic orchestration of store + ledger
*/
package booking

import (
	"time"

	"github.com/warp/coaching-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ReservationID string

// UserID is shared with the ledger so guardian ids address credit accounts directly.
type UserID = ledger.UserID

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending         Status = "pending"
	StatusParentReview    Status = "parent_review"
	StatusCounterProposal Status = "counter_proposal"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusCompleted       Status = "completed"
	StatusNoShow          Status = "no_show"
	StatusCancelled       Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusParentReview, StatusCounterProposal, StatusApproved,
	StatusRejected, StatusCompleted, StatusNoShow, StatusCancelled,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusNoShow, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// InNegotiation reports whether s is one of the pre-approval states.
func (s Status) InNegotiation() bool {
	switch s {
	case StatusPending, StatusParentReview, StatusCounterProposal:
		return true
	}
	return false
}

// OccupiesCapacity reports whether a reservation in status s counts toward
// slot occupancy.
func (s Status) OccupiesCapacity() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted:
		return true
	}
	return false
}

// OccupyingStatuses is the set OccupiesCapacity accepts, for store queries.
var OccupyingStatuses = []Status{StatusPending, StatusApproved, StatusCompleted}

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RoleGuardian Role = "guardian"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool { return r == RoleGuardian || r == RoleAdmin }

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   UserID
	Role Role
}

func Admin(id UserID) Actor    { return Actor{ID: id, Role: RoleAdmin} }
func Guardian(id UserID) Actor { return Actor{ID: id, Role: RoleGuardian} }

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// =============================================================================
// WINDOW
// =============================================================================

// Window is the half-open range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Overlaps reports whether w and o share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// =============================================================================
// RESERVATION
// =============================================================================

type Reservation struct {
	ID         ReservationID
	GuardianID UserID
	PlayerID   string // optional
	TrainerID  string // optional

	Start time.Time
	End   time.Time

	Status     Status
	CreditCost int64

	// Only the latest proposal is retained.
	ProposedStart   *time.Time
	ProposedEnd     *time.Time
	ProposalMessage string
	ProposedBy      UserID

	// Version increments on every committed transition (optimistic lock).
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) Window() Window { return Window{Start: r.Start, End: r.End} }

// ProposedWindow returns the latest proposed time, if the proposal carried one.
func (r Reservation) ProposedWindow() (Window, bool) {
	if r.ProposedStart == nil || r.ProposedEnd == nil {
		return Window{}, false
	}
	return Window{Start: *r.ProposedStart, End: *r.ProposedEnd}, true
}

// TargetWindow is the time an acceptance would book: the proposed window when
// one exists, otherwise the original request.
func (r Reservation) TargetWindow() Window {
	if w, ok := r.ProposedWindow(); ok {
		return w
	}
	return r.Window()
}

// ReservationFilter narrows ListReservations. Zero fields match everything.
type ReservationFilter struct {
	GuardianID UserID
	Statuses   []Status
	From       time.Time // reservations ending after From
	To         time.Time // reservations starting before To
	Limit      int
}

// Outcome is the post-session result recorded by the admin.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNoShow    Outcome = "no_show"
)
