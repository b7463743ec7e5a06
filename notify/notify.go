/*
Package notify delivers committed booking events to the outside world.

PURPOSE:
  booking.Service hands every committed event to a booking.Notifier after
  the store transaction commits. This package provides the notifiers the
  server can be configured with:

    Log    structured log line per event (default)
    Kafka  one message per event on a topic, keyed by guardian
    AMQP   one persistent JSON message per event on a durable queue
    Multi  fan-out to several of the above

DELIVERY:
  At most once from the engine's point of view. A failed delivery is
  returned to the service, which logs it at warn and moves on.

SEE ALSO:
  - booking/events.go: Event and the Notifier interface
  - config/config.go: NOTIFY_DRIVER selects the notifiers
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/warp/coaching-engine/booking"
)

// =============================================================================
// LOG
// =============================================================================

// Log writes each event as a structured log line.
type Log struct {
	Logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{Logger: logger}
}

func (l *Log) Notify(ctx context.Context, e booking.Event) error {
	attrs := []any{
		"event", e.Name,
		"guardian_id", e.GuardianID,
		"occurred_at", e.OccurredAt,
	}
	if e.ReservationID != "" {
		attrs = append(attrs, "reservation_id", e.ReservationID, "from", e.From, "to", e.To)
	}
	if e.Balance != nil {
		attrs = append(attrs, "amount", e.Amount, "balance", *e.Balance)
	}
	l.Logger.InfoContext(ctx, "event", attrs...)
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers to every notifier and joins their errors.
type Multi []booking.Notifier

func (m Multi) Notify(ctx context.Context, e booking.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPERS
// =============================================================================

func encode(e booking.Event) ([]byte, error) {
	return json.Marshal(e)
}
