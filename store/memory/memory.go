// Package memory provides an in-memory booking.TxStore for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/coaching-engine/booking"
	"github.com/warp/coaching-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	reservations map[booking.ReservationID]booking.Reservation
	transactions []ledger.Transaction
	idempotency  map[string]bool
	accounts     map[ledger.UserID]ledger.Account
	policies     []booking.PolicyRecord
	auditRuns    []ledger.AuditRun
}

func New() *Memory {
	return &Memory{
		reservations: make(map[booking.ReservationID]booking.Reservation),
		idempotency:  make(map[string]bool),
		accounts:     make(map[ledger.UserID]ledger.Account),
	}
}

// =============================================================================
// LEDGER (ledger.Store)
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	m.transactions = append(m.transactions, tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) AddToBalance(_ context.Context, userID ledger.UserID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(userID, delta), nil
}

func (m *Memory) addLocked(userID ledger.UserID, delta int64) int64 {
	a := m.accounts[userID]
	a.UserID = userID
	a.Balance += delta
	a.UpdatedAt = time.Now().UTC()
	m.accounts[userID] = a
	return a.Balance
}

func (m *Memory) Balance(_ context.Context, userID ledger.UserID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts[userID].Balance, nil
}

func (m *Memory) Transactions(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(tx ledger.Transaction) bool { return tx.UserID == userID }), nil
}

func (m *Memory) TransactionsByReservation(_ context.Context, reservationID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(tx ledger.Transaction) bool { return tx.ReservationID == reservationID }), nil
}

func (m *Memory) filterLocked(keep func(ledger.Transaction) bool) []ledger.Transaction {
	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if keep(tx) {
			result = append(result, tx)
		}
	}
	return result
}

func (m *Memory) Accounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountsLocked(), nil
}

func (m *Memory) accountsLocked() []ledger.Account {
	result := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

// =============================================================================
// RESERVATIONS (booking.Store)
// =============================================================================

func (m *Memory) InsertReservation(_ context.Context, r booking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(r)
}

func (m *Memory) insertLocked(r booking.Reservation) error {
	if _, ok := m.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	m.reservations[r.ID] = cloneReservation(r)
	return nil
}

func (m *Memory) GetReservation(_ context.Context, id booking.ReservationID) (booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id booking.ReservationID) (booking.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return booking.Reservation{}, fmt.Errorf("%w: %s", booking.ErrReservationNotFound, id)
	}
	return cloneReservation(r), nil
}

func (m *Memory) UpdateReservation(_ context.Context, r booking.Reservation, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(r, expectedVersion)
}

func (m *Memory) updateLocked(r booking.Reservation, expectedVersion int) error {
	current, ok := m.reservations[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", booking.ErrReservationNotFound, r.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: reservation %s is at version %d, expected %d",
			booking.ErrConcurrentModification, r.ID, current.Version, expectedVersion)
	}
	m.reservations[r.ID] = cloneReservation(r)
	return nil
}

func (m *Memory) ListOccupying(_ context.Context, w booking.Window, exclude booking.ReservationID) ([]booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.occupyingLocked(w, exclude), nil
}

func (m *Memory) occupyingLocked(w booking.Window, exclude booking.ReservationID) []booking.Reservation {
	var result []booking.Reservation
	for _, r := range m.reservations {
		if r.ID != exclude && r.Status.OccupiesCapacity() && r.Window().Overlaps(w) {
			result = append(result, cloneReservation(r))
		}
	}
	sortByStart(result)
	return result
}

func (m *Memory) ListReservations(_ context.Context, f booking.ReservationFilter) ([]booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(f), nil
}

func (m *Memory) listLocked(f booking.ReservationFilter) []booking.Reservation {
	statuses := make(map[booking.Status]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}

	var result []booking.Reservation
	for _, r := range m.reservations {
		switch {
		case f.GuardianID != "" && r.GuardianID != f.GuardianID:
		case len(statuses) > 0 && !statuses[r.Status]:
		case !f.From.IsZero() && !r.End.After(f.From):
		case !f.To.IsZero() && !r.Start.Before(f.To):
		default:
			result = append(result, cloneReservation(r))
		}
	}
	sortByStart(result)
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}

// =============================================================================
// POLICY HISTORY (booking.PolicyStore)
// =============================================================================

func (m *Memory) SavePolicy(_ context.Context, rec booking.PolicyRecord) (booking.PolicyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Version = len(m.policies) + 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.policies = append(m.policies, rec)
	return rec, nil
}

func (m *Memory) LatestPolicy(_ context.Context) (*booking.PolicyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.policies) == 0 {
		return nil, nil
	}
	rec := m.policies[len(m.policies)-1]
	return &rec, nil
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog)
// =============================================================================

func (m *Memory) SaveAuditRun(_ context.Context, run ledger.AuditRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditRuns = append(m.auditRuns, run)
	return nil
}

// AuditRuns returns the most recent runs first.
func (m *Memory) AuditRuns(_ context.Context, limit int) ([]ledger.AuditRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.AuditRun
	for i := len(m.auditRuns) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.auditRuns[i])
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	reservations map[booking.ReservationID]booking.Reservation
	transactions []ledger.Transaction
	idempotency  map[string]bool
	accounts     map[ledger.UserID]ledger.Account
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		reservations: make(map[booking.ReservationID]booking.Reservation, len(m.reservations)),
		transactions: append([]ledger.Transaction{}, m.transactions...),
		idempotency:  make(map[string]bool, len(m.idempotency)),
		accounts:     make(map[ledger.UserID]ledger.Account, len(m.accounts)),
	}
	for k, v := range m.reservations {
		s.reservations[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.reservations = s.reservations
	m.transactions = s.transactions
	m.idempotency = s.idempotency
	m.accounts = s.accounts
}

// txView is the Store handed to WithTx callbacks. The parent lock is already
// held, so every method goes straight to the *Locked helpers.
type txView struct {
	parent *Memory
}

func (tv *txView) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) AddToBalance(_ context.Context, userID ledger.UserID, delta int64) (int64, error) {
	return tv.parent.addLocked(userID, delta), nil
}

func (tv *txView) Balance(_ context.Context, userID ledger.UserID) (int64, error) {
	return tv.parent.accounts[userID].Balance, nil
}

func (tv *txView) Transactions(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return tv.parent.filterLocked(func(tx ledger.Transaction) bool { return tx.UserID == userID }), nil
}

func (tv *txView) TransactionsByReservation(_ context.Context, reservationID string) ([]ledger.Transaction, error) {
	return tv.parent.filterLocked(func(tx ledger.Transaction) bool { return tx.ReservationID == reservationID }), nil
}

func (tv *txView) Accounts(_ context.Context) ([]ledger.Account, error) {
	return tv.parent.accountsLocked(), nil
}

func (tv *txView) InsertReservation(_ context.Context, r booking.Reservation) error {
	return tv.parent.insertLocked(r)
}

func (tv *txView) GetReservation(_ context.Context, id booking.ReservationID) (booking.Reservation, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) UpdateReservation(_ context.Context, r booking.Reservation, expectedVersion int) error {
	return tv.parent.updateLocked(r, expectedVersion)
}

func (tv *txView) ListOccupying(_ context.Context, w booking.Window, exclude booking.ReservationID) ([]booking.Reservation, error) {
	return tv.parent.occupyingLocked(w, exclude), nil
}

func (tv *txView) ListReservations(_ context.Context, f booking.ReservationFilter) ([]booking.Reservation, error) {
	return tv.parent.listLocked(f), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// cloneReservation copies the proposal pointers so callers cannot mutate
// stored state.
func cloneReservation(r booking.Reservation) booking.Reservation {
	if r.ProposedStart != nil {
		t := *r.ProposedStart
		r.ProposedStart = &t
	}
	if r.ProposedEnd != nil {
		t := *r.ProposedEnd
		r.ProposedEnd = &t
	}
	return r
}

func sortByStart(rs []booking.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start.Equal(rs[j].Start) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].Start.Before(rs[j].Start)
	})
}
