/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements booking.TxStore (reservations plus the credit ledger),
  booking.PolicyStore and ledger.AuditLog on one SQLite database, so a
  reservation transition and its debit or refund commit in one SQL
  transaction.

INTERFACES IMPLEMENTED:
  booking.TxStore:     Reservations, ledger rows, balance counters, WithTx
  booking.PolicyStore: Versioned system policy documents
  ledger.AuditLog:     Ledger audit runs

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on credit_transactions
  - credit_balances is only moved by AddToBalance, inside the same WithTx
    as the row that justifies it
  - CHECK (balance >= 0) backs up the ledger's own overdraft check

KEY TABLES:
  reservations:        One row per booking, CAS-updated on (id, version)
  credit_transactions: Immutable ledger (idempotency_key UNIQUE)
  credit_balances:     Denormalized per-user balance
  system_policies:     Policy revisions, newest in force
  ledger_audit_runs:   Results of the scheduled balance audit

INDEXES:
  - idx_reservations_window: occupancy queries (hot path for every create)
  - idx_reservations_guardian: per-guardian listings
  - idx_credit_transactions_user / _reservation: history and refund lookup

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole callback, which is what makes the capacity re-check and the insert
  one step. The pool is limited to one connection so ":memory:" databases
  are shared by every query.

USAGE:
  store, err := sqlite.New("./data/coaching.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := booking.NewService(store, notifier, log)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - booking/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/coaching-engine/booking"
	"github.com/warp/coaching-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Now stamps balance counters and policy revisions. Defaults to time.Now.
	Now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, Now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		guardian_id TEXT NOT NULL,
		player_id TEXT,
		trainer_id TEXT,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL,
		credit_cost INTEGER NOT NULL CHECK (credit_cost > 0),
		proposed_start TEXT,
		proposed_end TEXT,
		proposal_message TEXT,
		proposed_by TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_window
		ON reservations(start_at, end_at, status);
	CREATE INDEX IF NOT EXISTS idx_reservations_guardian
		ON reservations(guardian_id, start_at);

	-- Credit transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		reservation_id TEXT,
		amount INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		settled_amount TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_transactions_user
		ON credit_transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_credit_transactions_reservation
		ON credit_transactions(reservation_id) WHERE reservation_id IS NOT NULL;

	-- Denormalized balances
	CREATE TABLE IF NOT EXISTS credit_balances (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TEXT NOT NULL
	);

	-- System policy revisions
	CREATE TABLE IF NOT EXISTS system_policies (
		version INTEGER PRIMARY KEY AUTOINCREMENT,
		config_json TEXT NOT NULL,
		updated_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Ledger audit runs
	CREATE TABLE IF NOT EXISTS ledger_audit_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		accounts INTEGER NOT NULL DEFAULT 0,
		mismatches INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_audit_runs_started
		ON ledger_audit_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

const transactionColumns = `id, user_id, reservation_id, amount, tx_type, description,
	idempotency_key, settled_amount, created_by, created_at`

// AppendTransaction adds a row to the ledger.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, q querier, tx ledger.Transaction) error {
	query := `INSERT INTO credit_transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		nullString(tx.ReservationID),
		tx.Amount,
		tx.Type,
		tx.Description,
		nullString(tx.IdempotencyKey),
		tx.SettledAmount,
		tx.CreatedBy,
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AddToBalance moves the user's counter by delta.
func (s *Store) AddToBalance(ctx context.Context, userID ledger.UserID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	b, err := addToBalance(ctx, sqlTx, userID, delta, s.Now())
	if err != nil {
		return 0, err
	}
	return b, sqlTx.Commit()
}

// addToBalance opens the account at zero, then moves it. The CHECK runs on
// the updated row, so only a real overdraft is refused.
func addToBalance(ctx context.Context, q querier, userID ledger.UserID, delta int64, now time.Time) (int64, error) {
	stamp := formatTime(now)
	if _, err := q.ExecContext(ctx,
		"INSERT INTO credit_balances (user_id, balance, updated_at) VALUES (?, 0, ?) ON CONFLICT(user_id) DO NOTHING",
		userID, stamp,
	); err != nil {
		return 0, fmt.Errorf("failed to open balance: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		"UPDATE credit_balances SET balance = balance + ?, updated_at = ? WHERE user_id = ?",
		delta, stamp, userID,
	); err != nil {
		if strings.Contains(err.Error(), "CHECK constraint failed") {
			return 0, fmt.Errorf("%w: balance of %s would go negative", ledger.ErrInsufficientCredit, userID)
		}
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return balance(ctx, q, userID)
}

// Balance returns the user's counter, zero if the user has no account.
func (s *Store) Balance(ctx context.Context, userID ledger.UserID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balance(ctx, s.db, userID)
}

func balance(ctx context.Context, q querier, userID ledger.UserID) (int64, error) {
	var b int64
	err := q.QueryRowContext(ctx, "SELECT balance FROM credit_balances WHERE user_id = ?", userID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return b, err
}

// Transactions returns the user's ledger in insertion order.
func (s *Store) Transactions(ctx context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE user_id = ? ORDER BY rowid ASC", userID)
}

// TransactionsByReservation returns rows linked to a reservation.
func (s *Store) TransactionsByReservation(ctx context.Context, reservationID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE reservation_id = ? ORDER BY rowid ASC", reservationID)
}

// Accounts lists every balance counter.
func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return accounts(ctx, s.db)
}

func accounts(ctx context.Context, q querier) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx, "SELECT user_id, balance, updated_at FROM credit_balances ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var result []ledger.Account
	for rows.Next() {
		var (
			a         ledger.Account
			updatedAt string
		)
		if err := rows.Scan(&a.UserID, &a.Balance, &updatedAt); err != nil {
			return nil, err
		}
		a.UpdatedAt = parseTime(updatedAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		reservationID  sql.NullString
		description    sql.NullString
		idempotencyKey sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.UserID, &reservationID, &tx.Amount, &tx.Type, &description,
		&idempotencyKey, &tx.SettledAmount, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.ReservationID = reservationID.String
	tx.Description = description.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

// =============================================================================
// RESERVATION STORE (booking.Store interface)
// =============================================================================

const reservationColumns = `id, guardian_id, player_id, trainer_id, start_at, end_at, status,
	credit_cost, proposed_start, proposed_end, proposal_message, proposed_by, version,
	created_at, updated_at`

// InsertReservation persists a new reservation.
func (s *Store) InsertReservation(ctx context.Context, r booking.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertReservation(ctx, s.db, r)
}

func insertReservation(ctx context.Context, q querier, r booking.Reservation) error {
	query := `INSERT INTO reservations (` + reservationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		r.ID, r.GuardianID, nullString(r.PlayerID), nullString(r.TrainerID),
		formatTime(r.Start), formatTime(r.End), r.Status, r.CreditCost,
		nullTime(r.ProposedStart), nullTime(r.ProposedEnd),
		nullString(r.ProposalMessage), nullString(string(r.ProposedBy)),
		r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// GetReservation loads one reservation.
func (s *Store) GetReservation(ctx context.Context, id booking.ReservationID) (booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReservation(ctx, s.db, id)
}

func getReservation(ctx context.Context, q querier, id booking.ReservationID) (booking.Reservation, error) {
	rs, err := queryReservations(ctx, q, "SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id)
	if err != nil {
		return booking.Reservation{}, err
	}
	if len(rs) == 0 {
		return booking.Reservation{}, fmt.Errorf("%w: %s", booking.ErrReservationNotFound, id)
	}
	return rs[0], nil
}

// UpdateReservation writes r only if the row is still at expectedVersion.
func (s *Store) UpdateReservation(ctx context.Context, r booking.Reservation, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateReservation(ctx, s.db, r, expectedVersion)
}

func updateReservation(ctx context.Context, q querier, r booking.Reservation, expectedVersion int) error {
	query := `
		UPDATE reservations SET
			start_at = ?, end_at = ?, status = ?,
			proposed_start = ?, proposed_end = ?, proposal_message = ?, proposed_by = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, query,
		formatTime(r.Start), formatTime(r.End), r.Status,
		nullTime(r.ProposedStart), nullTime(r.ProposedEnd),
		nullString(r.ProposalMessage), nullString(string(r.ProposedBy)),
		r.Version, formatTime(r.UpdatedAt),
		r.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := getReservation(ctx, q, r.ID); err != nil {
		return err
	}
	return fmt.Errorf("%w: reservation %s is no longer at version %d",
		booking.ErrConcurrentModification, r.ID, expectedVersion)
}

// ListOccupying returns occupying reservations overlapping w.
func (s *Store) ListOccupying(ctx context.Context, w booking.Window, exclude booking.ReservationID) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOccupying(ctx, s.db, w, exclude)
}

func listOccupying(ctx context.Context, q querier, w booking.Window, exclude booking.ReservationID) ([]booking.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE start_at < ? AND end_at > ? AND id != ?
		  AND status IN (` + placeholders(len(booking.OccupyingStatuses)) + `)
		ORDER BY start_at ASC, created_at ASC`

	args := []any{formatTime(w.End), formatTime(w.Start), exclude}
	for _, st := range booking.OccupyingStatuses {
		args = append(args, st)
	}
	return queryReservations(ctx, q, query, args...)
}

// ListReservations returns reservations matching f.
func (s *Store) ListReservations(ctx context.Context, f booking.ReservationFilter) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listReservations(ctx, s.db, f)
}

func listReservations(ctx context.Context, q querier, f booking.ReservationFilter) ([]booking.Reservation, error) {
	var (
		where []string
		args  []any
	)
	if f.GuardianID != "" {
		where = append(where, "guardian_id = ?")
		args = append(args, f.GuardianID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if !f.From.IsZero() {
		where = append(where, "end_at > ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, formatTime(f.To))
	}

	query := "SELECT " + reservationColumns + " FROM reservations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_at ASC, created_at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return queryReservations(ctx, q, query, args...)
}

func queryReservations(ctx context.Context, q querier, query string, args ...any) ([]booking.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var result []booking.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanReservation(rows *sql.Rows) (booking.Reservation, error) {
	var (
		r                    booking.Reservation
		playerID, trainerID  sql.NullString
		start, end           string
		proposedStart        sql.NullString
		proposedEnd          sql.NullString
		proposalMessage      sql.NullString
		proposedBy           sql.NullString
		createdAt, updatedAt string
	)

	err := rows.Scan(
		&r.ID, &r.GuardianID, &playerID, &trainerID, &start, &end, &r.Status,
		&r.CreditCost, &proposedStart, &proposedEnd, &proposalMessage, &proposedBy, &r.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan reservation: %w", err)
	}

	r.PlayerID = playerID.String
	r.TrainerID = trainerID.String
	r.Start = parseTime(start)
	r.End = parseTime(end)
	r.ProposedStart = parseNullTime(proposedStart)
	r.ProposedEnd = parseNullTime(proposedEnd)
	r.ProposalMessage = proposalMessage.String
	r.ProposedBy = booking.UserID(proposedBy.String)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store booking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, now: s.Now}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every query on the open *sql.Tx. The parent lock is already
// held by WithTx.
type txStore struct {
	tx  *sql.Tx
	now func() time.Time
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) AddToBalance(ctx context.Context, userID ledger.UserID, delta int64) (int64, error) {
	return addToBalance(ctx, ts.tx, userID, delta, ts.now())
}

func (ts *txStore) Balance(ctx context.Context, userID ledger.UserID) (int64, error) {
	return balance(ctx, ts.tx, userID)
}

func (ts *txStore) Transactions(ctx context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, ts.tx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE user_id = ? ORDER BY rowid ASC", userID)
}

func (ts *txStore) TransactionsByReservation(ctx context.Context, reservationID string) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, ts.tx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE reservation_id = ? ORDER BY rowid ASC", reservationID)
}

func (ts *txStore) Accounts(ctx context.Context) ([]ledger.Account, error) {
	return accounts(ctx, ts.tx)
}

func (ts *txStore) InsertReservation(ctx context.Context, r booking.Reservation) error {
	return insertReservation(ctx, ts.tx, r)
}

func (ts *txStore) GetReservation(ctx context.Context, id booking.ReservationID) (booking.Reservation, error) {
	return getReservation(ctx, ts.tx, id)
}

func (ts *txStore) UpdateReservation(ctx context.Context, r booking.Reservation, expectedVersion int) error {
	return updateReservation(ctx, ts.tx, r, expectedVersion)
}

func (ts *txStore) ListOccupying(ctx context.Context, w booking.Window, exclude booking.ReservationID) ([]booking.Reservation, error) {
	return listOccupying(ctx, ts.tx, w, exclude)
}

func (ts *txStore) ListReservations(ctx context.Context, f booking.ReservationFilter) ([]booking.Reservation, error) {
	return listReservations(ctx, ts.tx, f)
}

// =============================================================================
// POLICY STORE (booking.PolicyStore interface)
// =============================================================================

// SavePolicy appends a policy revision.
func (s *Store) SavePolicy(ctx context.Context, rec booking.PolicyRecord) (booking.PolicyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.Now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO system_policies (config_json, updated_by, created_at) VALUES (?, ?, ?)",
		rec.ConfigJSON, nullString(string(rec.UpdatedBy)), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return booking.PolicyRecord{}, fmt.Errorf("failed to save policy: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return booking.PolicyRecord{}, err
	}
	rec.Version = int(id)
	rec.CreatedAt = parseTime(formatTime(rec.CreatedAt))
	return rec, nil
}

// LatestPolicy returns the newest revision, or nil if none was saved.
func (s *Store) LatestPolicy(ctx context.Context) (*booking.PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec       booking.PolicyRecord
		updatedBy sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT version, config_json, updated_by, created_at FROM system_policies ORDER BY version DESC LIMIT 1",
	).Scan(&rec.Version, &rec.ConfigJSON, &updatedBy, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.UpdatedBy = booking.UserID(updatedBy.String)
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog interface)
// =============================================================================

// SaveAuditRun records a ledger audit run.
func (s *Store) SaveAuditRun(ctx context.Context, run ledger.AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt *string
	if !run.CompletedAt.IsZero() {
		c := formatTime(run.CompletedAt)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_audit_runs (id, status, accounts, mismatches, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.Accounts, run.Mismatches, nullString(run.Error),
		formatTime(run.StartedAt), completedAt,
	)
	return err
}

// AuditRuns returns the most recent runs first.
func (s *Store) AuditRuns(ctx context.Context, limit int) ([]ledger.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, accounts, mismatches, error, started_at, completed_at
		FROM ledger_audit_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ledger.AuditRun
	for rows.Next() {
		var (
			r                    ledger.AuditRun
			errText, completedAt sql.NullString
			startedAt            string
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.Accounts, &r.Mismatches, &errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			r.CompletedAt = parseTime(completedAt.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

// timeLayout is fixed width so stored times compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
