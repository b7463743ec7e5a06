/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON system policy documents into booking.SystemPolicy values.
  Operators edit opening hours, capacity and notice periods as JSON (in a
  file or via PUT /api/policy) and the factory turns them into the snapshot
  every booking.Service call receives.

JSON SCHEMA:
  {
    "open_hour": 8,
    "close_hour": 22,
    "active_weekdays": ["mon", "tue", "wed", "thu", "fri", "sat"],
    "max_capacity_per_slot": 6,
    "near_full_ratio": 0.6667,
    "cancellation_window_hours": 24,
    "low_credit_threshold": 1,
    "default_credit_cost": 1,
    "timezone": "Asia/Jakarta"
  }

DEFAULTS:
  Omitted keys keep booking.DefaultPolicy() values, so a document that only
  says {"max_capacity_per_slot": 8} is valid.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString)
  policy, err := f.LoadFile("./policy.json")

SEE ALSO:
  - booking/policy.go: SystemPolicy and its Validate rules
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/warp/coaching-engine/booking"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a system policy.
type PolicyJSON struct {
	OpenHour                int      `json:"open_hour"`
	CloseHour               int      `json:"close_hour"`
	ActiveWeekdays          []string `json:"active_weekdays"`
	MaxCapacityPerSlot      int      `json:"max_capacity_per_slot"`
	NearFullRatio           float64  `json:"near_full_ratio"`
	CancellationWindowHours int      `json:"cancellation_window_hours"`
	LowCreditThreshold      int64    `json:"low_credit_threshold"`
	DefaultCreditCost       int64    `json:"default_credit_cost"`
	Timezone                string   `json:"timezone,omitempty"` // IANA name, default UTC
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON document over the default policy and validates
// the result.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (booking.SystemPolicy, error) {
	pj := f.ToJSON(booking.DefaultPolicy())
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pj); err != nil {
		return booking.SystemPolicy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadFile reads and parses a policy document from disk.
func (f *PolicyFactory) LoadFile(path string) (booking.SystemPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return booking.SystemPolicy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return f.ParsePolicy(string(data))
}

// FromJSON converts PolicyJSON to a validated booking.SystemPolicy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (booking.SystemPolicy, error) {
	loc := time.UTC
	if pj.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(pj.Timezone); err != nil {
			return booking.SystemPolicy{}, fmt.Errorf("%w: unknown timezone %q", booking.ErrInvalidInput, pj.Timezone)
		}
	}

	weekdays := make([]time.Weekday, 0, len(pj.ActiveWeekdays))
	for _, name := range pj.ActiveWeekdays {
		d, err := parseWeekday(name)
		if err != nil {
			return booking.SystemPolicy{}, err
		}
		weekdays = append(weekdays, d)
	}

	p := booking.SystemPolicy{
		OpenHour:                pj.OpenHour,
		CloseHour:               pj.CloseHour,
		ActiveWeekdays:          weekdays,
		MaxCapacityPerSlot:      pj.MaxCapacityPerSlot,
		NearFullRatio:           pj.NearFullRatio,
		CancellationWindowHours: pj.CancellationWindowHours,
		LowCreditThreshold:      pj.LowCreditThreshold,
		DefaultCreditCost:       pj.DefaultCreditCost,
		Location:                loc,
	}
	if err := p.Validate(); err != nil {
		return booking.SystemPolicy{}, err
	}
	return p, nil
}

// ToJSON converts a SystemPolicy to PolicyJSON.
func (f *PolicyFactory) ToJSON(p booking.SystemPolicy) PolicyJSON {
	pj := PolicyJSON{
		OpenHour:                p.OpenHour,
		CloseHour:               p.CloseHour,
		MaxCapacityPerSlot:      p.MaxCapacityPerSlot,
		NearFullRatio:           p.NearFullRatio,
		CancellationWindowHours: p.CancellationWindowHours,
		LowCreditThreshold:      p.LowCreditThreshold,
		DefaultCreditCost:       p.DefaultCreditCost,
	}
	for _, d := range p.ActiveWeekdays {
		pj.ActiveWeekdays = append(pj.ActiveWeekdays, weekdayNames[d])
	}
	if loc := p.Loc(); loc != time.UTC {
		pj.Timezone = loc.String()
	}
	return pj
}

// Encode renders p as an indented JSON document.
func (f *PolicyFactory) Encode(p booking.SystemPolicy) (string, error) {
	data, err := json.MarshalIndent(f.ToJSON(p), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "sun",
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
}

// parseWeekday accepts "mon", "monday" or "Monday".
func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, short := range weekdayNames {
		if s == short || s == strings.ToLower(d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", booking.ErrInvalidInput, s)
}
