/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario goes through booking.Service exactly like
	real traffic, so every row it creates obeys the same guards and ledger
	rules.

AVAILABLE SCENARIOS:

	starter-credit:  three demo guardians topped up with 10 credits each
	busy-evening:    the next open evening at 18:00 booked to near-full
	negotiation:     a request the admin has answered with a new time
	low-credit:      a guardian down to the last credit

HOW SCENARIOS WORK:
 1. Top up the scenario's guardians (manual_adjustment)
 2. Create reservations on the next active day
 3. Optionally move them through the negotiation

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-evening"}

NOTE:

	Scenarios add data; they never clear the store. Loading one twice books
	twice, subject to capacity. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the endpoints these mirror
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/coaching-engine/booking"
)

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest names the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoAdmin booking.UserID = "admin-demo"

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-credit",
		Name:        "Starter Credit",
		Description: "Three guardians with 10 credits each",
	},
	{
		ID:          "busy-evening",
		Name:        "Busy Evening",
		Description: "Next open evening at 18:00 booked to near-full",
	},
	{
		ID:          "negotiation",
		Name:        "Negotiation",
		Description: "A pending request answered with a proposed new time",
	},
	{
		ID:          "low-credit",
		Name:        "Low Credit",
		Description: "A guardian with a single credit left",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"starter-credit": (*Handler).loadStarterCreditScenario,
	"busy-evening":   (*Handler).loadBusyEveningScenario,
	"negotiation":    (*Handler).loadNegotiationScenario,
	"low-credit":     (*Handler).loadLowCreditScenario,
}

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios})
}

// LoadScenario runs a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q not found", req.ScenarioID))
		return
	}
	if err := load(h, r.Context()); err != nil {
		h.writeServiceError(w, fmt.Errorf("scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.Cache.Invalidate(r.Context())
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStarterCreditScenario(ctx context.Context) error {
	for _, g := range []booking.UserID{"guardian-demo-1", "guardian-demo-2", "guardian-demo-3"} {
		if err := h.topUp(ctx, g, 10); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBusyEveningScenario(ctx context.Context) error {
	policy, _ := h.Policy()
	start, err := nextOpenSlot(policy, h.Service.Now(), 18)
	if err != nil {
		return err
	}

	threshold := policy.NearFullThreshold()
	for i := 1; i <= threshold; i++ {
		g := booking.UserID(fmt.Sprintf("guardian-evening-%d", i))
		if err := h.topUp(ctx, g, 5); err != nil {
			return err
		}
		_, err := h.Service.CreateReservation(ctx, policy, booking.Admin(demoAdmin), booking.CreateRequest{
			GuardianID: g,
			PlayerID:   fmt.Sprintf("player-evening-%d", i),
			Start:      start,
			End:        start.Add(time.Hour),
			Approve:    true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadNegotiationScenario(ctx context.Context) error {
	policy, _ := h.Policy()
	start, err := nextOpenSlot(policy, h.Service.Now(), 17)
	if err != nil {
		return err
	}

	g := booking.UserID("guardian-negotiation")
	if err := h.topUp(ctx, g, 3); err != nil {
		return err
	}
	res, err := h.Service.CreateReservation(ctx, policy, booking.Guardian(g), booking.CreateRequest{
		Start: start,
		End:   start.Add(time.Hour),
	})
	if err != nil {
		return err
	}

	proposedStart, proposedEnd := start.Add(time.Hour), start.Add(2*time.Hour)
	_, err = h.Service.AdminDecide(ctx, policy, booking.Admin(demoAdmin), res.ID, booking.Decision{
		Action:  booking.ActionPropose,
		Message: "17:00 is taken by the squad, how about 18:00?",
		Start:   &proposedStart,
		End:     &proposedEnd,
	})
	return err
}

func (h *Handler) loadLowCreditScenario(ctx context.Context) error {
	return h.topUp(ctx, "guardian-low-credit", 1)
}

func (h *Handler) topUp(ctx context.Context, g booking.UserID, amount int64) error {
	policy, _ := h.Policy()
	_, err := h.Service.ManualAdjust(ctx, policy, booking.Admin(demoAdmin), booking.AdjustRequest{
		UserID:      g,
		Amount:      amount,
		Description: "demo credit package",
		Grant:       true,
	})
	return err
}

// nextOpenSlot returns hour:00 on the first active day after now, in the
// policy timezone.
func nextOpenSlot(p booking.SystemPolicy, now time.Time, hour int) (time.Time, error) {
	if hour < p.OpenHour || hour >= p.CloseHour {
		hour = p.OpenHour
	}
	loc := p.Loc()
	day := now.In(loc)
	for i := 1; i <= 7; i++ {
		d := day.AddDate(0, 0, i)
		if p.IsActiveDay(d.Weekday()) {
			return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no active day in the coming week", booking.ErrInvalidInput)
}
