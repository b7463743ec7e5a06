/*
events.go - Post-commit events

PURPOSE:
  Every committed transition and ledger adjustment produces an Event that
  is handed to a Notifier after the store transaction commits. Delivery is
  fire-and-forget: a Notifier error is logged by the service and never
  undoes the transition.

SEE ALSO:
  - notify/: log, Kafka and AMQP notifiers
*/
package booking

import (
	"context"
	"time"
)

type EventName string

const (
	EventReservationCreated         EventName = "reservation.created"
	EventReservationApproved        EventName = "reservation.approved"
	EventReservationRejected        EventName = "reservation.rejected"
	EventReservationProposed        EventName = "reservation.proposed"
	EventReservationCounterProposed EventName = "reservation.counter_proposed"
	EventReservationCancelled       EventName = "reservation.cancelled"
	EventReservationCompleted       EventName = "reservation.completed"
	EventReservationNoShow          EventName = "reservation.no_show"
	EventCreditAdjusted             EventName = "credit.adjusted"
	EventCreditLow                  EventName = "credit.low"
)

// eventFor maps the status a transition lands in to its event.
var eventFor = map[Status]EventName{
	StatusPending:         EventReservationCreated,
	StatusApproved:        EventReservationApproved,
	StatusRejected:        EventReservationRejected,
	StatusParentReview:    EventReservationProposed,
	StatusCounterProposal: EventReservationCounterProposed,
	StatusCancelled:       EventReservationCancelled,
	StatusCompleted:       EventReservationCompleted,
	StatusNoShow:          EventReservationNoShow,
}

// Event describes something that has already been committed.
type Event struct {
	Name          EventName     `json:"name"`
	ReservationID ReservationID `json:"reservation_id,omitempty"`
	GuardianID    UserID        `json:"guardian_id"`
	ActorID       UserID        `json:"actor_id,omitempty"`
	ActorRole     Role          `json:"actor_role,omitempty"`
	From          Status        `json:"from,omitempty"`
	To            Status        `json:"to,omitempty"`
	Start         *time.Time    `json:"start,omitempty"`
	Message       string        `json:"message,omitempty"`
	Amount        int64         `json:"amount,omitempty"`  // signed ledger movement, if any
	Balance       *int64        `json:"balance,omitempty"` // balance after the movement
	OccurredAt    time.Time     `json:"occurred_at"`
}

// Key is the partitioning key for ordered transports: events for the same
// guardian stay in order.
func (e Event) Key() string { return string(e.GuardianID) }

// Notifier receives committed events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards events.
var Nop Notifier = NotifierFunc(func(context.Context, Event) error { return nil })
