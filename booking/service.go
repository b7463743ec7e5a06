/*
service.go - Reservation lifecycle orchestration

PURPOSE:
  Service is the only writer of reservations and credit. Every mutating
  operation follows the same shape:

    WithTx {
      read reservation (and fresh occupancy)
      authorize -> Next() -> guard -> ledger effect -> CAS update
    }
    log + notify (post-commit, failures ignored)

  Nothing inside the transaction calls out to a collaborator, so a slow
  notifier never holds the write lock.

POLICY:
  SystemPolicy is an argument to every call that needs it. The service
  holds no configuration of its own.

EXAMPLE:
  svc := booking.NewService(store, notifier, log)
  r, err := svc.CreateReservation(ctx, policy, booking.Guardian("g-1"), booking.CreateRequest{
      Start: at(18), End: at(19),
  })
  r, err = svc.AdminDecide(ctx, policy, booking.Admin("admin"), r.ID, booking.Decision{Action: booking.ActionApprove})

SEE ALSO:
  - statemachine.go: which transitions exist
  - negotiation.go: authorship and proposals
  - ledger/ledger.go: debit and refund
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/coaching-engine/ledger"
)

// DefaultNotifyTimeout bounds each post-commit notification.
const DefaultNotifyTimeout = 5 * time.Second

type Service struct {
	Store    TxStore
	Notifier Notifier
	Logger   *slog.Logger

	// NotifyTimeout caps how long a committed call waits on its notifier.
	NotifyTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

// NewService wires a service with a wall clock and random ids. A nil
// notifier or logger falls back to Nop and slog.Default().
func NewService(store TxStore, notifier Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:    store,
		Notifier: notifier,
		Logger:   logger,

		NotifyTimeout: DefaultNotifyTimeout,

		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

func (s *Service) now() time.Time { return s.Now().UTC() }

func (s *Service) ledger(st ledger.Store) *ledger.Ledger {
	return &ledger.Ledger{Store: st, Now: s.Now, NewID: s.NewID}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateRequest describes a new booking.
type CreateRequest struct {
	// GuardianID defaults to the acting guardian. Required when an admin books.
	GuardianID UserID
	PlayerID   string
	TrainerID  string
	Start      time.Time
	End        time.Time

	// CreditCost defaults to the policy's DefaultCreditCost.
	CreditCost int64

	// Approve books directly into approved, debiting in the same commit.
	// Admin only.
	Approve bool
}

// CreateReservation inserts a pending reservation if the window is inside
// operating hours and every hour it covers has room. No credit moves unless
// an admin books with Approve set.
func (s *Service) CreateReservation(ctx context.Context, p SystemPolicy, actor Actor, req CreateRequest) (Reservation, error) {
	if err := p.Validate(); err != nil {
		return Reservation{}, err
	}
	if _, err := Next(statusNew, actor.Role, ActionCreate); err != nil {
		return Reservation{}, err
	}

	guardian := req.GuardianID
	switch {
	case actor.ID == "":
		return Reservation{}, fmt.Errorf("%w: unknown actor", ErrForbidden)
	case actor.IsAdmin() && guardian == "":
		return Reservation{}, fmt.Errorf("%w: guardian is required", ErrInvalidInput)
	case !actor.IsAdmin() && guardian == "":
		guardian = actor.ID
	case !actor.IsAdmin() && guardian != actor.ID:
		return Reservation{}, fmt.Errorf("%w: guardians book for themselves", ErrForbidden)
	}
	if req.Approve && !actor.IsAdmin() {
		return Reservation{}, fmt.Errorf("%w: only the admin may book directly", ErrForbidden)
	}

	cost := req.CreditCost
	if cost == 0 {
		cost = p.DefaultCreditCost
	}
	if cost < 1 {
		return Reservation{}, fmt.Errorf("%w: credit cost must be positive", ErrInvalidInput)
	}

	now := s.now()
	w := Window{Start: req.Start.UTC(), End: req.End.UTC()}
	if err := CheckWindow(p, w); err != nil {
		return Reservation{}, err
	}
	if !w.Start.After(now) {
		return Reservation{}, fmt.Errorf("%w: session must start in the future", ErrInvalidInput)
	}

	r := Reservation{
		ID:         ReservationID(s.NewID()),
		GuardianID: guardian,
		PlayerID:   req.PlayerID,
		TrainerID:  req.TrainerID,
		Start:      w.Start,
		End:        w.End,
		Status:     StatusPending,
		CreditCost: cost,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var balance *int64
	err := s.Store.WithTx(ctx, func(st Store) error {
		occupying, err := st.ListOccupying(ctx, w, "")
		if err != nil {
			return err
		}
		if err := CheckCapacity(p, w, occupying); err != nil {
			return err
		}
		if req.Approve {
			if _, err := Next(StatusPending, RoleAdmin, ActionApprove); err != nil {
				return err
			}
			l := s.ledger(st)
			if _, err := l.Debit(ctx, r.GuardianID, r.CreditCost, string(r.ID), string(actor.ID)); err != nil {
				return err
			}
			b, err := l.Balance(ctx, r.GuardianID)
			if err != nil {
				return err
			}
			balance = &b
			r.Status = StatusApproved
		}
		return st.InsertReservation(ctx, r)
	})
	if err != nil {
		s.Logger.Debug("create refused",
			"guardian_id", guardian, "start", w.Start, "end", w.End, "kind", Kind(err), "error", err)
		return Reservation{}, err
	}

	s.Logger.Info("reservation created",
		"reservation_id", r.ID, "guardian_id", r.GuardianID, "status", r.Status, "start", r.Start)
	s.publish(ctx, s.event(EventReservationCreated, r, actor, statusNew, StatusPending))
	if r.Status == StatusApproved {
		e := s.event(EventReservationApproved, r, actor, StatusPending, StatusApproved)
		e.Amount, e.Balance = -r.CreditCost, balance
		s.publish(ctx, e)
		s.checkLowCredit(ctx, p, r.GuardianID, *balance)
	}
	return r, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// AdminDecide applies an admin reply: approve, reject, propose, or accept a
// guardian's counter-proposal. Rejecting an approved reservation revokes it
// and refunds the debit.
func (s *Service) AdminDecide(ctx context.Context, p SystemPolicy, actor Actor, id ReservationID, d Decision) (Reservation, error) {
	if !actor.IsAdmin() {
		return Reservation{}, fmt.Errorf("%w: admin decisions need the admin role", ErrForbidden)
	}
	switch d.Action {
	case ActionApprove, ActionReject, ActionPropose, ActionAccept:
	default:
		return Reservation{}, fmt.Errorf("%w: %q is not an admin decision", ErrInvalidInput, d.Action)
	}
	return s.transition(ctx, p, actor, id, d)
}

// GuardianDecide applies a guardian reply to the admin's proposal: accept,
// reject or counter_propose.
func (s *Service) GuardianDecide(ctx context.Context, p SystemPolicy, actor Actor, id ReservationID, d Decision) (Reservation, error) {
	if actor.Role != RoleGuardian {
		return Reservation{}, fmt.Errorf("%w: guardian decisions need the guardian role", ErrForbidden)
	}
	switch d.Action {
	case ActionAccept, ActionReject, ActionCounterPropose:
	default:
		return Reservation{}, fmt.Errorf("%w: %q is not a guardian decision", ErrInvalidInput, d.Action)
	}
	return s.transition(ctx, p, actor, id, d)
}

// Cancel withdraws a reservation. Approved sessions need more than the
// cancellation window of notice and are refunded; unapproved ones can be
// withdrawn at any time.
func (s *Service) Cancel(ctx context.Context, p SystemPolicy, actor Actor, id ReservationID, reason string) (Reservation, error) {
	return s.transition(ctx, p, actor, id, Decision{Action: ActionCancel, Reason: reason})
}

// MarkOutcome records whether an approved session took place. Only after it ended.
func (s *Service) MarkOutcome(ctx context.Context, p SystemPolicy, actor Actor, id ReservationID, outcome Outcome) (Reservation, error) {
	var action Action
	switch outcome {
	case OutcomeCompleted:
		action = ActionComplete
	case OutcomeNoShow:
		action = ActionNoShow
	default:
		return Reservation{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, outcome)
	}
	return s.transition(ctx, p, actor, id, Decision{Action: action})
}

// committed carries what a transition wrote out of the store transaction.
type committed struct {
	before  Reservation
	after   Reservation
	tr      Transition
	tx      *ledger.Transaction
	balance int64
}

func (s *Service) transition(ctx context.Context, p SystemPolicy, actor Actor, id ReservationID, d Decision) (Reservation, error) {
	if err := p.Validate(); err != nil {
		return Reservation{}, err
	}

	var c committed
	err := s.Store.WithTx(ctx, func(st Store) error {
		r, err := st.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(r, actor); err != nil {
			return err
		}
		if d.ExpectedVersion != 0 && d.ExpectedVersion != r.Version {
			return fmt.Errorf("%w: reservation %s is at version %d, expected %d",
				ErrConcurrentModification, r.ID, r.Version, d.ExpectedVersion)
		}

		tr, err := Next(r.Status, actor.Role, d.Action)
		if err != nil {
			return &TransitionError{ReservationID: r.ID, From: r.Status, Action: d.Action, Role: actor.Role, Err: err}
		}
		c.before, c.tr = r, tr
		refuse := func(err error) error {
			return &TransitionError{ReservationID: r.ID, From: r.Status, Action: d.Action, Role: actor.Role, Err: err}
		}

		now := s.now()
		switch d.Action {
		case ActionPropose, ActionCounterPropose:
			if err := ValidateProposal(p, d); err != nil {
				return refuse(err)
			}
			applyProposal(&r, actor.ID, d)
		case ActionApprove, ActionAccept:
			acceptProposal(&r)
		}

		switch tr.Guard {
		case GuardCapacity:
			if err := CheckWindow(p, r.Window()); err != nil {
				return refuse(err)
			}
			occupying, err := st.ListOccupying(ctx, r.Window(), r.ID)
			if err != nil {
				return err
			}
			if err := CheckCapacity(p, r.Window(), occupying); err != nil {
				return refuse(err)
			}
		case GuardCancellationNotice:
			if err := CheckCancellation(p, now, r.Start); err != nil {
				return refuse(err)
			}
		case GuardSessionEnded:
			if err := CheckSessionEnded(now, r.End); err != nil {
				return refuse(err)
			}
		}

		l := s.ledger(st)
		switch tr.Effect {
		case EffectDebit:
			tx, err := l.Debit(ctx, r.GuardianID, r.CreditCost, string(r.ID), string(actor.ID))
			if err != nil {
				return err
			}
			c.tx = &tx
		case EffectRefund:
			tx, err := s.refund(ctx, st, l, r, actor, d)
			if err != nil {
				return err
			}
			c.tx = &tx
		}
		if c.tx != nil {
			if c.balance, err = l.Balance(ctx, r.GuardianID); err != nil {
				return err
			}
		}

		r.Status = tr.To
		r.Version = c.before.Version + 1
		r.UpdatedAt = now
		if err := st.UpdateReservation(ctx, r, c.before.Version); err != nil {
			return err
		}
		c.after = r
		return nil
	})
	if err != nil {
		s.Logger.Debug("transition refused",
			"reservation_id", id, "action", d.Action, "role", actor.Role, "kind", Kind(err), "error", err)
		return Reservation{}, err
	}

	s.Logger.Info("reservation transitioned",
		"reservation_id", c.after.ID,
		"action", d.Action,
		"from", c.before.Status,
		"to", c.after.Status,
		"actor_id", actor.ID,
		"ledger", c.tr.Effect.String())

	e := s.event(eventFor[c.after.Status], c.after, actor, c.before.Status, c.after.Status)
	if c.tx != nil {
		e.Amount, e.Balance = c.tx.Amount, &c.balance
	}
	if d.Action == ActionPropose || d.Action == ActionCounterPropose {
		e.Message = c.after.ProposalMessage
		e.Start = c.after.ProposedStart
	} else if d.Reason != "" {
		e.Message = d.Reason
	}
	s.publish(ctx, e)
	if c.tr.Effect == EffectDebit {
		s.checkLowCredit(ctx, p, c.after.GuardianID, c.balance)
	}
	return c.after, nil
}

// refund returns exactly what the reservation's debit took.
func (s *Service) refund(ctx context.Context, st Store, l *ledger.Ledger, r Reservation, actor Actor, d Decision) (ledger.Transaction, error) {
	txs, err := st.TransactionsByReservation(ctx, string(r.ID))
	if err != nil {
		return ledger.Transaction{}, err
	}
	var debited int64
	for _, tx := range txs {
		if tx.Type == ledger.TxDebit {
			debited = -tx.Amount
		}
	}
	if debited == 0 {
		return ledger.Transaction{}, fmt.Errorf("reservation %s is approved but has no debit", r.ID)
	}

	reason := d.Reason
	if reason == "" && d.Action == ActionReject {
		reason = "reservation revoked"
	}
	return l.Refund(ctx, r.GuardianID, debited, string(r.ID), string(actor.ID), reason)
}

// =============================================================================
// CREDIT
// =============================================================================

// AdjustRequest is a manual correction or cash top-up recorded by the admin.
type AdjustRequest struct {
	UserID      UserID
	Amount      int64
	Description string

	// SettledAmount is cash already collected outside the system, if any.
	SettledAmount decimal.NullDecimal

	// Grant records a credit grant (type credit) instead of a
	// manual_adjustment. The amount must be positive.
	Grant bool
}

// ManualAdjust appends a manual_adjustment, or a credit when req.Grant is
// set. A negative amount may not take the balance below zero.
func (s *Service) ManualAdjust(ctx context.Context, p SystemPolicy, actor Actor, req AdjustRequest) (ledger.Transaction, error) {
	if !actor.IsAdmin() {
		return ledger.Transaction{}, fmt.Errorf("%w: adjustments need the admin role", ErrForbidden)
	}
	if req.UserID == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if req.Description == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if req.Grant && req.SettledAmount.Valid {
		return ledger.Transaction{}, fmt.Errorf("%w: settled amounts are recorded on manual adjustments", ErrInvalidInput)
	}

	var (
		tx      ledger.Transaction
		balance int64
	)
	err := s.Store.WithTx(ctx, func(st Store) error {
		l := s.ledger(st)
		var err error
		if req.Grant {
			tx, err = l.Credit(ctx, req.UserID, req.Amount, "", req.Description, string(actor.ID))
		} else {
			tx, err = l.Adjust(ctx, req.UserID, req.Amount, req.Description, req.SettledAmount, string(actor.ID))
		}
		if err != nil {
			return err
		}
		balance, err = l.Balance(ctx, req.UserID)
		return err
	})
	if err != nil {
		s.Logger.Debug("adjustment refused", "user_id", req.UserID, "amount", req.Amount, "error", err)
		return ledger.Transaction{}, err
	}

	s.Logger.Info("credit adjusted",
		"user_id", req.UserID, "amount", req.Amount, "balance", balance, "actor_id", actor.ID)
	s.publish(ctx, Event{
		Name:       EventCreditAdjusted,
		GuardianID: req.UserID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Message:    req.Description,
		Amount:     req.Amount,
		Balance:    &balance,
		OccurredAt: tx.CreatedAt,
	})
	if req.Amount < 0 {
		s.checkLowCredit(ctx, p, req.UserID, balance)
	}
	return tx, nil
}

// Balance returns the user's current credit balance.
func (s *Service) Balance(ctx context.Context, userID UserID) (int64, error) {
	return s.Store.Balance(ctx, userID)
}

// History returns the user's ledger, oldest first.
func (s *Service) History(ctx context.Context, userID UserID) ([]ledger.Transaction, error) {
	return s.Store.Transactions(ctx, userID)
}

// Accounts lists every balance.
func (s *Service) Accounts(ctx context.Context) ([]ledger.Account, error) {
	return s.Store.Accounts(ctx)
}

// LowCreditAccounts lists accounts at or below the policy threshold.
func (s *Service) LowCreditAccounts(ctx context.Context, p SystemPolicy) ([]ledger.Account, error) {
	accounts, err := s.Store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	var low []ledger.Account
	for _, a := range accounts {
		if a.Balance <= p.LowCreditThreshold {
			low = append(low, a)
		}
	}
	return low, nil
}

// NotifyLowCredit publishes credit.low for every account at or below the
// threshold and returns how many were found.
func (s *Service) NotifyLowCredit(ctx context.Context, p SystemPolicy) (int, error) {
	low, err := s.LowCreditAccounts(ctx, p)
	if err != nil {
		return 0, err
	}
	for _, a := range low {
		s.checkLowCredit(ctx, p, a.UserID, a.Balance)
	}
	return len(low), nil
}

// Reconcile checks balance == Σ(amount) for every account and returns the
// mismatches found.
func (s *Service) Reconcile(ctx context.Context) ([]*ledger.BalanceMismatchError, error) {
	accounts, err := s.Store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	l := s.ledger(s.Store)
	var mismatches []*ledger.BalanceMismatchError
	for _, a := range accounts {
		err := l.Reconcile(ctx, a.UserID)
		var m *ledger.BalanceMismatchError
		switch {
		case errors.As(err, &m):
			s.Logger.Error("ledger mismatch", "user_id", m.UserID, "stored", m.Stored, "derived", m.Derived)
			mismatches = append(mismatches, m)
		case err != nil:
			return mismatches, err
		}
	}
	return mismatches, nil
}

// =============================================================================
// READS
// =============================================================================

// Capacity returns the occupancy grid for w. It reads a recent snapshot and
// does not serialize with writers.
func (s *Service) Capacity(ctx context.Context, p SystemPolicy, w Window) ([]CapacitySlot, error) {
	if !w.End.After(w.Start) {
		return nil, fmt.Errorf("%w: window end must be after start", ErrInvalidInput)
	}
	if w.Duration() > 62*24*time.Hour {
		return nil, fmt.Errorf("%w: window is limited to 62 days", ErrInvalidInput)
	}
	occupying, err := s.Store.ListOccupying(ctx, w, "")
	if err != nil {
		return nil, err
	}
	return BuildGrid(p, w, occupying), nil
}

// GetReservation returns a reservation the actor may see.
func (s *Service) GetReservation(ctx context.Context, actor Actor, id ReservationID) (Reservation, error) {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if err := Authorize(r, actor); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// ListReservations lists reservations; guardians only ever see their own.
func (s *Service) ListReservations(ctx context.Context, actor Actor, f ReservationFilter) ([]Reservation, error) {
	if !actor.Role.Valid() || actor.ID == "" {
		return nil, fmt.Errorf("%w: unknown actor", ErrForbidden)
	}
	if !actor.IsAdmin() {
		f.GuardianID = actor.ID
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, st)
		}
	}
	return s.Store.ListReservations(ctx, f)
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Service) event(name EventName, r Reservation, actor Actor, from, to Status) Event {
	start := r.Start
	return Event{
		Name:          name,
		ReservationID: r.ID,
		GuardianID:    r.GuardianID,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		From:          from,
		To:            to,
		Start:         &start,
		OccurredAt:    r.UpdatedAt,
	}
}

func (s *Service) checkLowCredit(ctx context.Context, p SystemPolicy, userID UserID, balance int64) {
	if balance > p.LowCreditThreshold {
		return
	}
	s.publish(ctx, Event{
		Name:       EventCreditLow,
		GuardianID: userID,
		Balance:    &balance,
		OccurredAt: s.now(),
	})
}

// publish delivers e after commit. The request context may already be
// cancelled by the time we get here; delivery still goes ahead, for at most
// NotifyTimeout.
func (s *Service) publish(ctx context.Context, e Event) {
	timeout := s.NotifyTimeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.Notifier.Notify(ctx, e); err != nil {
		s.Logger.Warn("notification failed", "event", e.Name, "reservation_id", e.ReservationID, "error", err)
	}
}
