/*
statemachine.go - Reservation transition table

PURPOSE:
  Declares every legal (from, role, action) triple, where it leads, which
  guard must pass first, and what the ledger must do in the same commit.
  Next() is pure: it never looks at time, capacity or balances. The service
  evaluates the guard the transition names.

TRANSITIONS:
  from              role      action           to                guard        ledger
  ----------------  --------  ---------------  ----------------  -----------  ------
  (new)             guardian  create           pending           capacity     -
  (new)             admin     create           pending           capacity     -
  pending           admin     approve          approved          capacity     debit
  pending           admin     reject           rejected          -            -
  pending           admin     propose          parent_review     -            -
  parent_review     guardian  accept           approved          capacity     debit
  parent_review     guardian  reject           rejected          -            -
  parent_review     guardian  counter_propose  counter_proposal  -            -
  counter_proposal  admin     accept           approved          capacity     debit
  counter_proposal  admin     reject           rejected          -            -
  counter_proposal  admin     propose          parent_review     -            -
  approved          either    cancel           cancelled         notice       refund
  approved          admin     reject           rejected          -            refund
  approved          admin     complete         completed         ended        -
  approved          admin     no_show          no_show           ended        -
  pending..counter  either    cancel           cancelled         -            -

REFUSALS:
  - from is terminal                               -> ErrWrongState
  - negotiation state, a reply by the party whose
    turn it is not (see Turn)                      -> ErrWrongTurn
  - admin-only action by a guardian                -> ErrForbidden
  - anything else not in the table                 -> ErrWrongState

  Repeating an action that already moved the reservation (a second approve)
  lands in the last row: the reservation is no longer in the from state.
*/
package booking

import "fmt"

type Action string

const (
	ActionCreate         Action = "create"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionPropose        Action = "propose"
	ActionAccept         Action = "accept"
	ActionCounterPropose Action = "counter_propose"
	ActionCancel         Action = "cancel"
	ActionComplete       Action = "complete"
	ActionNoShow         Action = "no_show"
)

// LedgerEffect is the credit movement committed with a transition.
type LedgerEffect int

const (
	EffectNone LedgerEffect = iota
	EffectDebit
	EffectRefund
)

func (e LedgerEffect) String() string {
	switch e {
	case EffectDebit:
		return "debit"
	case EffectRefund:
		return "refund"
	default:
		return "none"
	}
}

// Guard names the time- or capacity-dependent precondition of a transition.
type Guard int

const (
	GuardNone Guard = iota
	// GuardCapacity re-counts occupancy at the target window.
	GuardCapacity
	// GuardCancellationNotice requires more than the cancellation window before start.
	GuardCancellationNotice
	// GuardSessionEnded requires the session end to have passed.
	GuardSessionEnded
)

// Transition is one row of the table.
type Transition struct {
	From   Status
	Role   Role
	Action Action
	To     Status
	Guard  Guard
	Effect LedgerEffect
}

// statusNew is the pseudo-state a reservation is in before it exists.
const statusNew Status = ""

type transitionKey struct {
	from   Status
	role   Role
	action Action
}

var transitions = map[transitionKey]Transition{}

func init() {
	rows := []Transition{
		{statusNew, RoleGuardian, ActionCreate, StatusPending, GuardCapacity, EffectNone},
		{statusNew, RoleAdmin, ActionCreate, StatusPending, GuardCapacity, EffectNone},

		{StatusPending, RoleAdmin, ActionApprove, StatusApproved, GuardCapacity, EffectDebit},
		{StatusPending, RoleAdmin, ActionReject, StatusRejected, GuardNone, EffectNone},
		{StatusPending, RoleAdmin, ActionPropose, StatusParentReview, GuardNone, EffectNone},

		{StatusParentReview, RoleGuardian, ActionAccept, StatusApproved, GuardCapacity, EffectDebit},
		{StatusParentReview, RoleGuardian, ActionReject, StatusRejected, GuardNone, EffectNone},
		{StatusParentReview, RoleGuardian, ActionCounterPropose, StatusCounterProposal, GuardNone, EffectNone},

		{StatusCounterProposal, RoleAdmin, ActionAccept, StatusApproved, GuardCapacity, EffectDebit},
		{StatusCounterProposal, RoleAdmin, ActionReject, StatusRejected, GuardNone, EffectNone},
		{StatusCounterProposal, RoleAdmin, ActionPropose, StatusParentReview, GuardNone, EffectNone},

		{StatusApproved, RoleGuardian, ActionCancel, StatusCancelled, GuardCancellationNotice, EffectRefund},
		{StatusApproved, RoleAdmin, ActionCancel, StatusCancelled, GuardCancellationNotice, EffectRefund},
		{StatusApproved, RoleAdmin, ActionReject, StatusRejected, GuardNone, EffectRefund},
		{StatusApproved, RoleAdmin, ActionComplete, StatusCompleted, GuardSessionEnded, EffectNone},
		{StatusApproved, RoleAdmin, ActionNoShow, StatusNoShow, GuardSessionEnded, EffectNone},
	}
	// Withdrawing a request that was never approved: nothing was debited.
	for _, s := range []Status{StatusPending, StatusParentReview, StatusCounterProposal} {
		rows = append(rows,
			Transition{s, RoleGuardian, ActionCancel, StatusCancelled, GuardNone, EffectNone},
			Transition{s, RoleAdmin, ActionCancel, StatusCancelled, GuardNone, EffectNone},
		)
	}
	for _, t := range rows {
		transitions[transitionKey{t.From, t.Role, t.Action}] = t
	}
}

// Next looks up the transition for role performing action on a reservation
// in status from. The returned error wraps ErrWrongState, ErrWrongTurn or
// ErrForbidden.
func Next(from Status, role Role, action Action) (Transition, error) {
	if t, ok := transitions[transitionKey{from, role, action}]; ok {
		return t, nil
	}
	if from.IsTerminal() {
		return Transition{}, fmt.Errorf("%w: %s is terminal", ErrWrongState, from)
	}

	if turn, ok := Turn(from); ok && turn != role && action.negotiates() {
		return Transition{}, fmt.Errorf("%w: %s is waiting on the %s", ErrWrongTurn, from, turn)
	}
	if _, otherMay := transitions[transitionKey{from, otherRole(role), action}]; otherMay {
		return Transition{}, fmt.Errorf("%w: only the %s may %s", ErrForbidden, otherRole(role), action)
	}
	return Transition{}, fmt.Errorf("%w: cannot %s a %s reservation", ErrWrongState, action, displayStatus(from))
}

// Allowed lists the actions role may take on a reservation in status s.
func Allowed(s Status, role Role) []Action {
	var out []Action
	for _, a := range []Action{
		ActionApprove, ActionReject, ActionPropose, ActionAccept,
		ActionCounterPropose, ActionCancel, ActionComplete, ActionNoShow,
	} {
		if _, ok := transitions[transitionKey{s, role, a}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// negotiates reports whether a is a reply in the propose/accept exchange.
func (a Action) negotiates() bool {
	switch a {
	case ActionApprove, ActionReject, ActionPropose, ActionAccept, ActionCounterPropose:
		return true
	}
	return false
}

func otherRole(r Role) Role {
	if r == RoleAdmin {
		return RoleGuardian
	}
	return RoleAdmin
}

func displayStatus(s Status) string {
	if s == statusNew {
		return "new"
	}
	return string(s)
}
