/*
capacity.go - Slot occupancy and the capacity grid

PURPOSE:
  Pure functions over a window and a snapshot of reservations. They never
  prevent overbooking by themselves: the service re-counts occupancy inside
  the write transaction and calls CheckCapacity. The grid is for display.

BUCKETS:
  A slot is a one-hour bucket aligned to the hour in the policy timezone.
  A reservation occupies every bucket its [Start, End) overlaps, so an
  18:00-19:30 session counts toward both 18:00 and 19:00.

CLASSIFICATION:
  unavailable  bucket outside operating hours or on an inactive weekday
  full         occupied >= C
  near_full    occupied >= ceil(NearFullRatio * C)   (4 of 6 by default)
  available    otherwise
*/
package booking

import (
	"time"
)

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotNearFull    SlotStatus = "near_full"
	SlotFull        SlotStatus = "full"
	SlotUnavailable SlotStatus = "unavailable"
)

// CapacitySlot is the derived occupancy of one hour bucket.
type CapacitySlot struct {
	Start     time.Time
	End       time.Time
	Day       string // YYYY-MM-DD in the policy timezone
	Hour      int
	Occupied  int
	Capacity  int
	Available int
	Status    SlotStatus
}

// HourBuckets returns the start of every hour bucket w overlaps.
func HourBuckets(p SystemPolicy, w Window) []time.Time {
	if !w.End.After(w.Start) {
		return nil
	}
	loc := p.Loc()
	s := w.Start.In(loc)
	t := time.Date(s.Year(), s.Month(), s.Day(), s.Hour(), 0, 0, 0, loc)

	var buckets []time.Time
	for ; t.Before(w.End); t = t.Add(time.Hour) {
		buckets = append(buckets, t)
	}
	return buckets
}

// Occupancy counts, per bucket start (unix seconds), the occupying
// reservations overlapping w. Reservations in non-occupying statuses are
// ignored.
func Occupancy(p SystemPolicy, reservations []Reservation, w Window) map[int64]int {
	counts := make(map[int64]int)
	for _, r := range reservations {
		if !r.Status.OccupiesCapacity() || !r.Window().Overlaps(w) {
			continue
		}
		for _, b := range HourBuckets(p, r.Window()) {
			bucket := Window{Start: b, End: b.Add(time.Hour)}
			if bucket.Overlaps(w) {
				counts[b.Unix()]++
			}
		}
	}
	return counts
}

// Classify maps an occupancy count to a slot status.
func Classify(p SystemPolicy, occupied int) SlotStatus {
	switch {
	case occupied >= p.MaxCapacityPerSlot:
		return SlotFull
	case occupied >= p.NearFullThreshold():
		return SlotNearFull
	default:
		return SlotAvailable
	}
}

// BuildGrid produces one CapacitySlot per hour bucket in w.
func BuildGrid(p SystemPolicy, w Window, reservations []Reservation) []CapacitySlot {
	counts := Occupancy(p, reservations, w)
	buckets := HourBuckets(p, w)
	grid := make([]CapacitySlot, 0, len(buckets))

	for _, b := range buckets {
		occupied := counts[b.Unix()]
		slot := CapacitySlot{
			Start:    b,
			End:      b.Add(time.Hour),
			Day:      b.Format("2006-01-02"),
			Hour:     b.Hour(),
			Occupied: occupied,
			Capacity: p.MaxCapacityPerSlot,
		}
		if !p.IsOpenSlot(b) {
			slot.Status = SlotUnavailable
		} else {
			slot.Available = max(0, p.MaxCapacityPerSlot-occupied)
			slot.Status = Classify(p, occupied)
		}
		grid = append(grid, slot)
	}
	return grid
}
