/*
handlers.go - HTTP API handlers for the coaching engine

PURPOSE:
  Exposes booking.Service via REST. Handles HTTP request/response, JSON
  serialization and validation, and delegates every decision to the core.

ENDPOINTS:
  Reservations:
    POST   /api/reservations                         Book a slot
    GET    /api/reservations                         List (guardian_id, status, from, to, limit)
    GET    /api/reservations/{id}                    Get one
    POST   /api/reservations/{id}/admin-decision     approve | reject | propose | accept
    POST   /api/reservations/{id}/guardian-decision  accept | reject | counter_propose
    POST   /api/reservations/{id}/cancel             Cancel (refund when approved)
    POST   /api/reservations/{id}/outcome            completed | no_show (admin)

  Capacity:
    GET    /api/capacity?from=&to=                   Hourly grid

  Guardians:
    GET    /api/guardians/{id}                       Overview (balance, upcoming, ledger)
    GET    /api/guardians/{id}/balance               Balance
    GET    /api/guardians/{id}/transactions          Ledger history

  Policy:
    GET    /api/policy                               Policy in force
    PUT    /api/policy                               Save a new revision (admin)

  Admin:
    POST   /api/admin/adjustments                    Manual adjustment or credit grant
    GET    /api/admin/accounts                       Balances (?low=true)
    GET    /api/admin/audits                         Ledger audit history
    POST   /api/admin/audits                         Run a ledger audit now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Service: booking.Service, the only writer
  - Store: policy revisions and audit history
  - Cache: optional Redis capacity grid cache
  - policy: the SystemPolicy snapshot in force, swapped atomically on PUT

REQUEST FLOW:
  1. Resolve the actor (auth.go)
  2. Decode and validate the body
  3. Call the service with a copy of the current policy
  4. Serialize response
  5. Map errors by booking.Kind

ERROR HANDLING:
  Errors are returned as ErrorResponse{error, code, details}:
  - 400: invalid_input, invalid_proposal
  - 401: unauthenticated
  - 403: forbidden
  - 404: not_found
  - 409: capacity_exceeded, wrong_state, wrong_turn, concurrent_modification
  - 422: outside_active_window, cancellation_window_closed,
         insufficient_credit, session_not_ended
  - 500: internal

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background jobs sharing this handler
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/coaching-engine/booking"
	"github.com/warp/coaching-engine/factory"
	"github.com/warp/coaching-engine/ledger"
)

const (
	defaultCapacityDays     = 7
	overviewTransactions    = 20
	defaultAuditRunsListLen = 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the HTTP layer needs besides the service.
type Store interface {
	booking.PolicyStore
	ledger.AuditLog
}

type policyState struct {
	policy  booking.SystemPolicy
	version int
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service       *booking.Service
	Store         Store
	PolicyFactory *factory.PolicyFactory
	Cache         *CapacityCache
	Logger        *slog.Logger

	validate *validator.Validate
	policy   atomic.Pointer[policyState]
}

// NewHandler creates a handler running on the default policy until
// LoadPolicy or SetPolicy says otherwise.
func NewHandler(svc *booking.Service, store Store, cache *CapacityCache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		Service:       svc,
		Store:         store,
		PolicyFactory: factory.NewPolicyFactory(),
		Cache:         cache,
		Logger:        logger,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
	h.policy.Store(&policyState{policy: booking.DefaultPolicy()})
	return h
}

// Policy returns the snapshot in force and its revision (0 = built-in default).
func (h *Handler) Policy() (booking.SystemPolicy, int) {
	st := h.policy.Load()
	return st.policy, st.version
}

// SetPolicy swaps the snapshot in force.
func (h *Handler) SetPolicy(p booking.SystemPolicy, version int) {
	h.policy.Store(&policyState{policy: p, version: version})
}

// LoadPolicy installs the newest stored revision. It reports false when the
// store has none.
func (h *Handler) LoadPolicy(ctx context.Context) (bool, error) {
	rec, err := h.Store.LatestPolicy(ctx)
	if err != nil || rec == nil {
		return false, err
	}
	p, err := h.PolicyFactory.ParsePolicy(rec.ConfigJSON)
	if err != nil {
		return false, fmt.Errorf("policy revision %d: %w", rec.Version, err)
	}
	h.SetPolicy(p, rec.Version)
	return true, nil
}

// SavePolicy stores p as a new revision and puts it in force.
func (h *Handler) SavePolicy(ctx context.Context, p booking.SystemPolicy, by booking.UserID) (booking.PolicyRecord, error) {
	doc, err := h.PolicyFactory.Encode(p)
	if err != nil {
		return booking.PolicyRecord{}, err
	}
	rec, err := h.Store.SavePolicy(ctx, booking.PolicyRecord{
		ConfigJSON: doc,
		UpdatedBy:  by,
		CreatedAt:  h.Service.Now().UTC(),
	})
	if err != nil {
		return booking.PolicyRecord{}, err
	}
	h.SetPolicy(p, rec.Version)
	h.Cache.Invalidate(ctx)
	return rec, nil
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation books a slot.
// POST /api/reservations
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)

	var req CreateReservationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err)
		return
	}

	policy, _ := h.Policy()
	res, err := h.Service.CreateReservation(r.Context(), policy, actor, booking.CreateRequest{
		GuardianID: booking.UserID(req.GuardianID),
		PlayerID:   req.PlayerID,
		TrainerID:  req.TrainerID,
		Start:      req.Start,
		End:        req.End,
		CreditCost: req.CreditCost,
		Approve:    req.Approve,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.Cache.Invalidate(r.Context())
	writeJSON(w, http.StatusCreated, toReservationDTO(res))
}

// ListReservations lists reservations. Guardians only ever see their own.
// GET /api/reservations?guardian_id=&status=pending,approved&from=&to=&limit=
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	q := r.URL.Query()

	f := booking.ReservationFilter{GuardianID: booking.UserID(q.Get("guardian_id"))}
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, booking.Status(s))
			}
		}
	}
	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			h.writeServiceError(w, fmt.Errorf("%w: limit must be a non-negative integer", booking.ErrInvalidInput))
			return
		}
	}

	list, err := h.Service.ListReservations(r.Context(), actor, f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": toReservationDTOs(list)})
}

// GetReservation returns one reservation.
// GET /api/reservations/{id}
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetReservation(r.Context(), mustActor(r), reservationID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// AdminDecision applies an admin reply to a reservation.
// POST /api/reservations/{id}/admin-decision
func (h *Handler) AdminDecision(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Service.AdminDecide)
}

// GuardianDecision applies the guardian's reply to a reservation.
// POST /api/reservations/{id}/guardian-decision
func (h *Handler) GuardianDecision(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Service.GuardianDecide)
}

type decideFunc func(ctx context.Context, p booking.SystemPolicy, actor booking.Actor, id booking.ReservationID, d booking.Decision) (booking.Reservation, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err)
		return
	}

	policy, _ := h.Policy()
	res, err := fn(r.Context(), policy, mustActor(r), reservationID(r), booking.Decision{
		Action:          booking.Action(req.Action),
		Message:         req.Message,
		Start:           req.ProposedStart,
		End:             req.ProposedEnd,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.Cache.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// CancelReservation cancels a reservation.
// POST /api/reservations/{id}/cancel
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err)
		return
	}

	policy, _ := h.Policy()
	res, err := h.Service.Cancel(r.Context(), policy, mustActor(r), reservationID(r), req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.Cache.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// RecordOutcome marks an approved session completed or no_show.
// POST /api/reservations/{id}/outcome
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err)
		return
	}

	policy, _ := h.Policy()
	res, err := h.Service.MarkOutcome(r.Context(), policy, mustActor(r), reservationID(r), booking.Outcome(req.Outcome))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.Cache.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// =============================================================================
// CAPACITY HANDLERS
// =============================================================================

// GetCapacity returns the hourly grid for [from, to). Without parameters it
// covers the next seven days from the start of today.
// GET /api/capacity?from=2024-06-10T00:00:00Z&to=2024-06-11T00:00:00Z
func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policy, version := h.Policy()
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if from.IsZero() {
		now := h.Service.Now().In(policy.Loc())
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, policy.Loc())
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, defaultCapacityDays)
	}
	from, to = from.UTC(), to.UTC()

	cached, cacheKey, ok := h.Cache.Get(ctx, version, from, to)
	if ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	slots, err := h.Service.Capacity(ctx, policy, booking.Window{Start: from, End: to})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := CapacityResponse{From: from, To: to, Slots: toCapacitySlotDTOs(slots)}
	h.Cache.Put(ctx, cacheKey, resp)
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// GUARDIAN HANDLERS
// =============================================================================

// GetGuardian returns the guardian overview: balance, upcoming reservations
// and the latest ledger rows, fetched concurrently.
// GET /api/guardians/{id}
func (h *Handler) GetGuardian(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	id, err := guardianScope(r, actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	policy, _ := h.Policy()

	var (
		balance      int64
		reservations []booking.Reservation
		history      []ledger.Transaction
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		balance, err = h.Service.Balance(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		reservations, err = h.Service.ListReservations(ctx, actor, booking.ReservationFilter{
			GuardianID: id,
			From:       h.Service.Now().UTC(),
		})
		return err
	})
	g.Go(func() error {
		var err error
		history, err = h.Service.History(ctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		h.writeServiceError(w, err)
		return
	}

	txs := toTransactionDTOs(history)
	if len(txs) > overviewTransactions {
		txs = txs[len(txs)-overviewTransactions:]
	}
	writeJSON(w, http.StatusOK, GuardianOverviewDTO{
		GuardianID:   string(id),
		Balance:      BalanceDTO{UserID: string(id), Balance: balance, Low: balance <= policy.LowCreditThreshold},
		Reservations: toReservationDTOs(reservations),
		Transactions: txs,
	})
}

// GetGuardianBalance returns a guardian's credit balance.
// GET /api/guardians/{id}/balance
func (h *Handler) GetGuardianBalance(w http.ResponseWriter, r *http.Request) {
	id, err := guardianScope(r, mustActor(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	balance, err := h.Service.Balance(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	policy, _ := h.Policy()
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: balance, Low: balance <= policy.LowCreditThreshold})
}

// GetGuardianTransactions returns a guardian's ledger in append order.
// GET /api/guardians/{id}/transactions
func (h *Handler) GetGuardianTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := guardianScope(r, mustActor(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	txs, err := h.Service.History(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionDTOs(txs)})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// GetPolicy returns the policy in force.
// GET /api/policy
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, version := h.Policy()
	writeJSON(w, http.StatusOK, PolicyDTO{Version: version, Policy: h.PolicyFactory.ToJSON(policy)})
}

// UpdatePolicy saves a new policy revision from a JSON document. Omitted keys
// take their default values, not the values currently in force.
// PUT /api/policy
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	policy, err := h.PolicyFactory.ParsePolicy(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}

	actor := mustActor(r)
	rec, err := h.SavePolicy(r.Context(), policy, actor.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.Logger.Info("policy updated", "version", rec.Version, "actor_id", actor.ID)
	writeJSON(w, http.StatusOK, PolicyDTO{Version: rec.Version, Policy: h.PolicyFactory.ToJSON(policy)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment records a manual credit adjustment.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, err)
		return
	}

	adj := booking.AdjustRequest{
		UserID:      booking.UserID(req.UserID),
		Amount:      req.Amount,
		Description: req.Description,
		Grant:       req.Type == string(ledger.TxCredit),
	}
	if req.SettledAmount != nil {
		adj.SettledAmount = decimal.NewNullDecimal(*req.SettledAmount)
	}

	policy, _ := h.Policy()
	tx, err := h.Service.ManualAdjust(r.Context(), policy, mustActor(r), adj)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	dto := toTransactionDTOs([]ledger.Transaction{tx})[0]
	if balance, err := h.Service.Balance(r.Context(), tx.UserID); err == nil {
		dto.BalanceAfter = balance
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ListAccounts returns every balance, or only low ones with ?low=true.
// GET /api/admin/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []ledger.Account
		err      error
	)
	if low, _ := strconv.ParseBool(r.URL.Query().Get("low")); low {
		policy, _ := h.Policy()
		accounts, err = h.Service.LowCreditAccounts(r.Context(), policy)
	} else {
		accounts, err = h.Service.Accounts(r.Context())
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": toAccountDTOs(accounts)})
}

// ListAudits returns ledger audit history, newest first.
// GET /api/admin/audits?limit=
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditRunsListLen
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeServiceError(w, fmt.Errorf("%w: limit must be a positive integer", booking.ErrInvalidInput))
			return
		}
		limit = n
	}

	runs, err := h.Store.AuditRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit runs", err)
		return
	}

	dtos := make([]AuditRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAuditRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// RunAudit audits the ledger now.
// POST /api/admin/audits
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	run, err := h.AuditLedger(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ledger audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditRunDTO(run))
}

// =============================================================================
// SHARED OPERATIONS (HTTP and scheduled)
// =============================================================================

// AuditLedger checks balance == Σ(amount) for every account and records the
// run. A failed run is still recorded.
func (h *Handler) AuditLedger(ctx context.Context) (ledger.AuditRun, error) {
	run := ledger.AuditRun{ID: uuid.NewString(), StartedAt: h.Service.Now().UTC()}

	accounts, err := h.Service.Accounts(ctx)
	var mismatches []*ledger.BalanceMismatchError
	if err == nil {
		mismatches, err = h.Service.Reconcile(ctx)
	}

	run.Accounts = len(accounts)
	run.Mismatches = len(mismatches)
	run.CompletedAt = h.Service.Now().UTC()
	run.Status = "completed"
	if err != nil {
		run.Status, run.Error = "failed", err.Error()
	}

	if saveErr := h.Store.SaveAuditRun(context.WithoutCancel(ctx), run); saveErr != nil {
		return run, errors.Join(err, saveErr)
	}
	return run, err
}

// ScanLowCredit publishes credit.low for every account at or below the
// threshold of the policy in force.
func (h *Handler) ScanLowCredit(ctx context.Context) (int, error) {
	policy, _ := h.Policy()
	return h.Service.NotifyLowCredit(ctx, policy)
}

// =============================================================================
// HELPERS
// =============================================================================

// Health reports liveness, pinging the store when it supports it.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v and validates it. An empty body decodes
// as {}.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON: %v", booking.ErrInvalidInput, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", booking.ErrInvalidInput, err)
	}
	return nil
}

func mustActor(r *http.Request) booking.Actor {
	actor, _ := actorFrom(r.Context())
	return actor
}

func reservationID(r *http.Request) booking.ReservationID {
	return booking.ReservationID(chi.URLParam(r, "id"))
}

// guardianScope returns the guardian id in the path, refusing guardians who
// ask about someone else.
func guardianScope(r *http.Request, actor booking.Actor) (booking.UserID, error) {
	id := booking.UserID(chi.URLParam(r, "id"))
	if !actor.IsAdmin() && actor.ID != id {
		return "", fmt.Errorf("%w: guardians may only view their own account", booking.ErrForbidden)
	}
	return id, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not an RFC 3339 time", booking.ErrInvalidInput, v)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		switch kind := booking.Kind(err); {
		case errors.Is(err, errUnauthenticated):
			resp.Code = "unauthenticated"
		case kind != booking.KindInternal:
			resp.Code = string(kind)
		}
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a core error to its HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	kind := booking.Kind(err)
	status, message := statusFor(kind)
	resp := ErrorResponse{Error: message, Code: string(kind), Details: err.Error()}
	if kind == booking.KindInternal {
		resp.Details = ""
		h.Logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, resp)
}

func statusFor(kind booking.ErrorKind) (int, string) {
	switch kind {
	case booking.KindInvalidInput:
		return http.StatusBadRequest, "Invalid request"
	case booking.KindInvalidProposal:
		return http.StatusBadRequest, "Invalid proposal"
	case booking.KindForbidden:
		return http.StatusForbidden, "Not allowed"
	case booking.KindNotFound:
		return http.StatusNotFound, "Not found"
	case booking.KindCapacityExceeded:
		return http.StatusConflict, "Slot is full"
	case booking.KindWrongState:
		return http.StatusConflict, "Reservation is not in a state that allows this"
	case booking.KindWrongTurn:
		return http.StatusConflict, "Waiting on the other party"
	case booking.KindConcurrentModification:
		return http.StatusConflict, "Reservation changed, retry"
	case booking.KindOutsideActiveWindow:
		return http.StatusUnprocessableEntity, "Outside operating hours"
	case booking.KindCancellationWindowClosed:
		return http.StatusUnprocessableEntity, "Cancellation window closed"
	case booking.KindInsufficientCredit:
		return http.StatusUnprocessableEntity, "Insufficient credit"
	case booking.KindSessionNotEnded:
		return http.StatusUnprocessableEntity, "Session has not ended"
	}
	return http.StatusInternalServerError, "Internal error"
}
