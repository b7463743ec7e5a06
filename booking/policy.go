/*
policy.go - System policy snapshot and stateless guard checks

PURPOSE:
  SystemPolicy is the operator's configuration: operating hours, active
  weekdays, slot capacity, cancellation notice, low-credit threshold.
  It is passed into every Service call as a value; the core never reads a
  "current config" on its own.

  The Check* functions are the policy evaluator. They are pure: callers feed
  them a fresh occupancy read taken inside the same store transaction as the
  write they guard.

SEE ALSO:
  - capacity.go: occupancy counting used by CheckCapacity
  - factory/policy.go: JSON parsing of SystemPolicy
*/
package booking

import (
	"context"
	"fmt"
	"math"
	"time"
)

// =============================================================================
// SYSTEM POLICY
// =============================================================================

type SystemPolicy struct {
	// Sessions may start at OpenHour and must end by CloseHour (local time).
	OpenHour  int
	CloseHour int

	ActiveWeekdays []time.Weekday

	// MaxCapacityPerSlot is the ceiling C of concurrent bookings per hour.
	MaxCapacityPerSlot int

	// NearFullRatio classifies a slot near_full once occupied >= ceil(ratio*C).
	NearFullRatio float64

	// Cancelling an approved session requires strictly more than this much notice.
	CancellationWindowHours int

	// LowCreditThreshold triggers a credit.low event when a balance drops to it.
	LowCreditThreshold int64

	// DefaultCreditCost applies when a create request does not name a cost.
	DefaultCreditCost int64

	// Location is the timezone days and hours are evaluated in. nil means UTC.
	Location *time.Location
}

// DefaultPolicy mirrors the academy's stock configuration.
func DefaultPolicy() SystemPolicy {
	return SystemPolicy{
		OpenHour:  8,
		CloseHour: 22,
		ActiveWeekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
		},
		MaxCapacityPerSlot:      6,
		NearFullRatio:           2.0 / 3.0,
		CancellationWindowHours: 24,
		LowCreditThreshold:      1,
		DefaultCreditCost:       1,
		Location:                time.UTC,
	}
}

// Validate rejects snapshots the evaluator cannot apply.
func (p SystemPolicy) Validate() error {
	switch {
	case p.OpenHour < 0 || p.OpenHour > 23:
		return fmt.Errorf("%w: open hour %d out of range", ErrInvalidInput, p.OpenHour)
	case p.CloseHour < 1 || p.CloseHour > 24:
		return fmt.Errorf("%w: close hour %d out of range", ErrInvalidInput, p.CloseHour)
	case p.CloseHour <= p.OpenHour:
		return fmt.Errorf("%w: close hour %d must be after open hour %d", ErrInvalidInput, p.CloseHour, p.OpenHour)
	case len(p.ActiveWeekdays) == 0:
		return fmt.Errorf("%w: at least one active weekday is required", ErrInvalidInput)
	case p.MaxCapacityPerSlot < 1:
		return fmt.Errorf("%w: capacity must be at least 1", ErrInvalidInput)
	case p.NearFullRatio <= 0 || p.NearFullRatio > 1:
		return fmt.Errorf("%w: near-full ratio must be in (0, 1]", ErrInvalidInput)
	case p.CancellationWindowHours < 0:
		return fmt.Errorf("%w: cancellation window cannot be negative", ErrInvalidInput)
	case p.DefaultCreditCost < 1:
		return fmt.Errorf("%w: default credit cost must be positive", ErrInvalidInput)
	}
	return nil
}

// Loc returns the policy timezone, defaulting to UTC.
func (p SystemPolicy) Loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// NearFullThreshold is ceil(NearFullRatio * capacity), at least 1.
// With the default ratio and capacity 6 this is 4.
func (p SystemPolicy) NearFullThreshold() int {
	t := int(math.Ceil(p.NearFullRatio*float64(p.MaxCapacityPerSlot) - 1e-9))
	if t < 1 {
		return 1
	}
	return t
}

func (p SystemPolicy) CancellationWindow() time.Duration {
	return time.Duration(p.CancellationWindowHours) * time.Hour
}

// IsActiveDay reports whether bookings are accepted on weekday d.
func (p SystemPolicy) IsActiveDay(d time.Weekday) bool {
	for _, active := range p.ActiveWeekdays {
		if active == d {
			return true
		}
	}
	return false
}

// IsOpenSlot reports whether the hour bucket starting at t is bookable.
func (p SystemPolicy) IsOpenSlot(t time.Time) bool {
	local := t.In(p.Loc())
	return p.IsActiveDay(local.Weekday()) && local.Hour() >= p.OpenHour && local.Hour() < p.CloseHour
}

// =============================================================================
// GUARDS
// =============================================================================

// CheckWindow validates the shape of w and that it lies inside operating
// hours on an active weekday. Shape problems are ErrInvalidInput.
func CheckWindow(p SystemPolicy, w Window) error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidInput)
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: end %s must be after start %s", ErrInvalidInput,
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}

	loc := p.Loc()
	start, end := w.Start.In(loc), w.End.In(loc)
	closeAt := time.Date(start.Year(), start.Month(), start.Day(), p.CloseHour, 0, 0, 0, loc)
	openAt := time.Date(start.Year(), start.Month(), start.Day(), p.OpenHour, 0, 0, 0, loc)

	if !sameDay(start, end) && !(end.Equal(closeAt) && p.CloseHour == 24) {
		return fmt.Errorf("%w: session must start and end on the same day", ErrInvalidInput)
	}
	if !p.IsActiveDay(start.Weekday()) {
		return fmt.Errorf("%w: %s is not an active day", ErrOutsideActiveWindow, start.Weekday())
	}
	if start.Before(openAt) || end.After(closeAt) {
		return fmt.Errorf("%w: %s-%s is outside %02d:00-%02d:00", ErrOutsideActiveWindow,
			start.Format("15:04"), end.Format("15:04"), p.OpenHour, p.CloseHour)
	}
	return nil
}

// CheckCapacity fails if any hour bucket w overlaps already holds
// MaxCapacityPerSlot occupying reservations. occupying must be a fresh read
// and must not contain the reservation being placed.
func CheckCapacity(p SystemPolicy, w Window, occupying []Reservation) error {
	counts := Occupancy(p, occupying, w)
	for _, slot := range HourBuckets(p, w) {
		if n := counts[slot.Unix()]; n >= p.MaxCapacityPerSlot {
			return &CapacityError{Slot: slot, Occupied: n, Capacity: p.MaxCapacityPerSlot}
		}
	}
	return nil
}

// CheckCancellation allows cancelling only when now is strictly more than
// the cancellation window before start.
func CheckCancellation(p SystemPolicy, now, start time.Time) error {
	if start.Sub(now) > p.CancellationWindow() {
		return nil
	}
	return fmt.Errorf("%w: cancellations need more than %dh notice, session starts %s",
		ErrCancellationWindowClosed, p.CancellationWindowHours, start.Format(time.RFC3339))
}

// CheckSessionEnded allows recording an outcome once end has passed.
func CheckSessionEnded(now, end time.Time) error {
	if now.Before(end) {
		return fmt.Errorf("%w: ends %s", ErrSessionNotEnded, end.Format(time.RFC3339))
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// POLICY HISTORY
// =============================================================================

// PolicyRecord is one saved revision of the system policy, kept as the JSON
// document factory.ParsePolicy reads.
type PolicyRecord struct {
	Version    int
	ConfigJSON string
	UpdatedBy  UserID
	CreatedAt  time.Time
}

// PolicyStore keeps policy revisions. The newest revision is the one in force.
type PolicyStore interface {
	// SavePolicy appends a revision and returns it with its assigned version.
	SavePolicy(ctx context.Context, rec PolicyRecord) (PolicyRecord, error)

	// LatestPolicy returns the newest revision, or nil if none was saved.
	LatestPolicy(ctx context.Context) (*PolicyRecord, error)
}
