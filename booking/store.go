/*
store.go - Persistence contract for reservations

PURPOSE:
  Store extends the ledger's Store with reservation rows so one backend can
  commit a status change and its credit movement in a single transaction.

OPTIMISTIC LOCKING:
  UpdateReservation is a compare-and-swap on (id, version). The row is only
  written if the stored version still equals expectedVersion; otherwise it
  returns ErrConcurrentModification and nothing changes. The caller sets the
  new Version (expectedVersion + 1) on r before calling.

SERIALIZATION:
  WithTx runs fn with exclusive write access. Occupancy read through the
  transaction-scoped Store is therefore fresh for the insert that follows it.

IMPLEMENTATIONS:
  - store/memory: snapshot-and-restore, for tests
  - store/sqlite: database/sql with go-sqlite3
*/
package booking

import (
	"context"

	"github.com/warp/coaching-engine/ledger"
)

type Store interface {
	ledger.Store

	// InsertReservation persists a new reservation.
	InsertReservation(ctx context.Context, r Reservation) error

	// GetReservation returns ErrReservationNotFound if id is unknown.
	GetReservation(ctx context.Context, id ReservationID) (Reservation, error)

	// UpdateReservation compare-and-swaps r over the row at expectedVersion.
	UpdateReservation(ctx context.Context, r Reservation, expectedVersion int) error

	// ListOccupying returns reservations in an occupying status whose window
	// overlaps w, leaving out exclude.
	ListOccupying(ctx context.Context, w Window, exclude ReservationID) ([]Reservation, error)

	// ListReservations returns reservations matching f ordered by start time.
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
