/*
negotiation.go - Authorship, turn-taking and proposals

PURPOSE:
  The thin layer between a caller's decision and the transition table:
  - a guardian may only act on their own reservations; the admin on any
  - pending and counter_proposal wait on the admin, parent_review on the guardian
  - a propose / counter_propose must carry a message, a time, or both

PROPOSALS:
  Only the latest proposal is kept. A new proposal overwrites every proposal
  field, so a message-only proposal clears any time proposed earlier.
  Accepting a proposal books the proposed window when there is one and the
  original window otherwise.
*/
package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Decision is one party's reply in the negotiation, or an admin outcome.
type Decision struct {
	Action Action

	// Proposal fields, used by ActionPropose and ActionCounterPropose.
	Message string
	Start   *time.Time
	End     *time.Time

	// Reason is recorded on refunds and in events.
	Reason string

	// ExpectedVersion, when non-zero, must match the stored version or the
	// decision fails with ErrConcurrentModification.
	ExpectedVersion int
}

// Turn reports whose reply a reservation in status s is waiting on.
// ok is false outside negotiation.
func Turn(s Status) (role Role, ok bool) {
	switch s {
	case StatusPending, StatusCounterProposal:
		return RoleAdmin, true
	case StatusParentReview:
		return RoleGuardian, true
	}
	return "", false
}

// Authorize checks that actor may act on r at all.
func Authorize(r Reservation, actor Actor) error {
	if !actor.Role.Valid() || actor.ID == "" {
		return fmt.Errorf("%w: unknown actor", ErrForbidden)
	}
	if actor.IsAdmin() || r.GuardianID == actor.ID {
		return nil
	}
	return fmt.Errorf("%w: reservation %s belongs to another guardian", ErrForbidden, r.ID)
}

// ValidateProposal checks a propose / counter_propose decision. A proposed
// time must be complete, well-formed and inside operating hours.
func ValidateProposal(p SystemPolicy, d Decision) error {
	hasMessage := strings.TrimSpace(d.Message) != ""
	hasStart, hasEnd := d.Start != nil, d.End != nil

	switch {
	case !hasMessage && !hasStart && !hasEnd:
		return fmt.Errorf("%w: a proposal needs a message or a time", ErrInvalidProposal)
	case hasStart != hasEnd:
		return fmt.Errorf("%w: a proposed time needs both start and end", ErrInvalidProposal)
	case !hasStart:
		return nil
	}

	err := CheckWindow(p, Window{Start: *d.Start, End: *d.End})
	if errors.Is(err, ErrInvalidInput) {
		return fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	return err
}

// applyProposal replaces r's proposal with d's.
func applyProposal(r *Reservation, by UserID, d Decision) {
	r.ProposalMessage = strings.TrimSpace(d.Message)
	r.ProposedBy = by
	r.ProposedStart, r.ProposedEnd = nil, nil
	if d.Start != nil && d.End != nil {
		start, end := d.Start.UTC(), d.End.UTC()
		r.ProposedStart, r.ProposedEnd = &start, &end
	}
}

// acceptProposal moves r to the window being accepted. The proposal fields
// stay as a record of what was agreed.
func acceptProposal(r *Reservation) {
	w := r.TargetWindow()
	r.Start, r.End = w.Start, w.End
}
