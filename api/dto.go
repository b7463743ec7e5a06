/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the booking and ledger models from the external API contract, so field
  names and formats can change without touching the core.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reservations:
    ReservationDTO, CreateReservationRequest, DecisionRequest,
    CancelRequest, OutcomeRequest

  Capacity:
    CapacitySlotDTO, CapacityResponse

  Credit:
    TransactionDTO, BalanceDTO, AccountDTO, AdjustmentRequest

  Guardians:
    GuardianOverviewDTO

  Policy:
    PolicyDTO (wraps factory.PolicyJSON)

  Audits:
    AuditRunDTO

  Errors:
    ErrorResponse

VALIDATION:
  Request types carry go-playground/validator tags, checked by
  Handler.decode before anything reaches the service. Rules that depend on
  the policy (operating hours, capacity) stay in the booking package.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/coaching-engine/booking"
	"github.com/warp/coaching-engine/factory"
	"github.com/warp/coaching-engine/ledger"
)

// =============================================================================
// RESERVATIONS
// =============================================================================

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID         string    `json:"id"`
	GuardianID string    `json:"guardian_id"`
	PlayerID   string    `json:"player_id,omitempty"`
	TrainerID  string    `json:"trainer_id,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     string    `json:"status"`
	CreditCost int64     `json:"credit_cost"`

	ProposedStart   *time.Time `json:"proposed_start,omitempty"`
	ProposedEnd     *time.Time `json:"proposed_end,omitempty"`
	ProposalMessage string     `json:"proposal_message,omitempty"`
	ProposedBy      string     `json:"proposed_by,omitempty"`

	// AwaitingRole is whose reply the negotiation waits on, if any.
	AwaitingRole string `json:"awaiting_role,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateReservationRequest is the request body for booking a slot.
type CreateReservationRequest struct {
	GuardianID string    `json:"guardian_id,omitempty"` // admin only; guardians book for themselves
	PlayerID   string    `json:"player_id,omitempty" validate:"omitempty,max=64"`
	TrainerID  string    `json:"trainer_id,omitempty" validate:"omitempty,max=64"`
	Start      time.Time `json:"start" validate:"required"`
	End        time.Time `json:"end" validate:"required,gtfield=Start"`
	CreditCost int64     `json:"credit_cost,omitempty" validate:"gte=0"`
	Approve    bool      `json:"approve,omitempty"`
}

// DecisionRequest is a reply in the negotiation. Which actions are accepted
// depends on the endpoint: admin-decision or guardian-decision.
type DecisionRequest struct {
	Action          string     `json:"action" validate:"required,oneof=approve reject propose accept counter_propose"`
	Message         string     `json:"message,omitempty" validate:"max=1000"`
	ProposedStart   *time.Time `json:"proposed_start,omitempty"`
	ProposedEnd     *time.Time `json:"proposed_end,omitempty"`
	Reason          string     `json:"reason,omitempty" validate:"max=500"`
	ExpectedVersion int        `json:"expected_version,omitempty" validate:"gte=0"`
}

// CancelRequest is the optional body of a cancellation.
type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// OutcomeRequest records how an approved session went.
type OutcomeRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=completed no_show"`
}

// =============================================================================
// CAPACITY
// =============================================================================

// CapacitySlotDTO is one hour bucket of the capacity grid.
type CapacitySlotDTO struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Day       string    `json:"day"`
	Hour      int       `json:"hour"`
	Occupied  int       `json:"occupied"`
	Capacity  int       `json:"capacity"`
	Available int       `json:"available"`
	Status    string    `json:"status"`
}

// CapacityResponse wraps the grid for a window.
type CapacityResponse struct {
	From  time.Time         `json:"from"`
	To    time.Time         `json:"to"`
	Slots []CapacitySlotDTO `json:"slots"`
}

// =============================================================================
// CREDIT
// =============================================================================

// TransactionDTO represents a ledger row in API responses.
type TransactionDTO struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	ReservationID  string           `json:"reservation_id,omitempty"`
	Amount         int64            `json:"amount"`
	Type           string           `json:"type"`
	Description    string           `json:"description,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	SettledAmount  *decimal.Decimal `json:"settled_amount,omitempty"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	BalanceAfter   int64            `json:"balance_after"`
}

// BalanceDTO is a user's current credit.
type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
	Low     bool   `json:"low"`
}

// AccountDTO is one row of the admin balance listing.
type AccountDTO struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdjustmentRequest is a manual correction or cash top-up.
type AdjustmentRequest struct {
	UserID        string           `json:"user_id" validate:"required"`
	Amount        int64            `json:"amount" validate:"required"`
	Description   string           `json:"description" validate:"required,max=500"`
	SettledAmount *decimal.Decimal `json:"settled_amount,omitempty"`

	// Type is manual_adjustment (default) or credit for a package grant.
	Type string `json:"type,omitempty" validate:"omitempty,oneof=manual_adjustment credit"`
}

// =============================================================================
// GUARDIANS
// =============================================================================

// GuardianOverviewDTO is the guardian dashboard: balance, upcoming
// reservations and recent ledger activity in one response.
type GuardianOverviewDTO struct {
	GuardianID   string           `json:"guardian_id"`
	Balance      BalanceDTO       `json:"balance"`
	Reservations []ReservationDTO `json:"reservations"`
	Transactions []TransactionDTO `json:"transactions"`
}

// =============================================================================
// POLICY & AUDITS
// =============================================================================

// PolicyDTO is the policy in force, with its revision number.
type PolicyDTO struct {
	Version int                `json:"version"`
	Policy  factory.PolicyJSON `json:"policy"`
}

// AuditRunDTO represents one ledger audit in API responses.
type AuditRunDTO struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Accounts    int       `json:"accounts"`
	Mismatches  int       `json:"mismatches"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ErrorResponse is the body of every non-2xx response. Code is the
// booking.ErrorKind when the failure came from the core.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toReservationDTO(r booking.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:              string(r.ID),
		GuardianID:      string(r.GuardianID),
		PlayerID:        r.PlayerID,
		TrainerID:       r.TrainerID,
		Start:           r.Start,
		End:             r.End,
		Status:          string(r.Status),
		CreditCost:      r.CreditCost,
		ProposedStart:   r.ProposedStart,
		ProposedEnd:     r.ProposedEnd,
		ProposalMessage: r.ProposalMessage,
		ProposedBy:      string(r.ProposedBy),
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if role, ok := booking.Turn(r.Status); ok {
		dto.AwaitingRole = string(role)
	}
	return dto
}

func toReservationDTOs(rs []booking.Reservation) []ReservationDTO {
	dtos := make([]ReservationDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toReservationDTO(r)
	}
	return dtos
}

func toCapacitySlotDTOs(slots []booking.CapacitySlot) []CapacitySlotDTO {
	dtos := make([]CapacitySlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = CapacitySlotDTO{
			Start:     s.Start,
			End:       s.End,
			Day:       s.Day,
			Hour:      s.Hour,
			Occupied:  s.Occupied,
			Capacity:  s.Capacity,
			Available: s.Available,
			Status:    string(s.Status),
		}
	}
	return dtos
}

// toTransactionDTOs converts ledger rows (append order) and fills in the
// running balance after each row.
func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	var running int64
	for i, tx := range txs {
		running += tx.Amount
		dtos[i] = TransactionDTO{
			ID:             string(tx.ID),
			UserID:         string(tx.UserID),
			ReservationID:  tx.ReservationID,
			Amount:         tx.Amount,
			Type:           string(tx.Type),
			Description:    tx.Description,
			IdempotencyKey: tx.IdempotencyKey,
			CreatedBy:      tx.CreatedBy,
			CreatedAt:      tx.CreatedAt,
			BalanceAfter:   running,
		}
		if tx.SettledAmount.Valid {
			settled := tx.SettledAmount.Decimal
			dtos[i].SettledAmount = &settled
		}
	}
	return dtos
}

func toAccountDTOs(accounts []ledger.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = AccountDTO{UserID: string(a.UserID), Balance: a.Balance, UpdatedAt: a.UpdatedAt}
	}
	return dtos
}

func toAuditRunDTO(run ledger.AuditRun) AuditRunDTO {
	return AuditRunDTO{
		ID:          run.ID,
		Status:      run.Status,
		Accounts:    run.Accounts,
		Mismatches:  run.Mismatches,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
}
