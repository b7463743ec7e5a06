package ledger

import "context"

// Store persists ledger rows and the denormalized balance counter.
//
// APPEND-ONLY: there is no Update or Delete for transactions. Implementations
// are expected to be called through a transactional scope (see booking.TxStore)
// so that AppendTransaction and AddToBalance commit or roll back together.
type Store interface {
	// AppendTransaction persists tx. Returns ErrDuplicateIdempotencyKey if
	// tx.IdempotencyKey is already present.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// AddToBalance moves the user's counter by delta and returns the new value.
	// A missing account starts at zero.
	AddToBalance(ctx context.Context, userID UserID, delta int64) (int64, error)

	// Balance returns the denormalized counter (zero for unknown users).
	Balance(ctx context.Context, userID UserID) (int64, error)

	// Transactions returns every row for the user, oldest first.
	Transactions(ctx context.Context, userID UserID) ([]Transaction, error)

	// TransactionsByReservation returns rows linked to a reservation, oldest first.
	TransactionsByReservation(ctx context.Context, reservationID string) ([]Transaction, error)

	// Accounts lists every balance counter.
	Accounts(ctx context.Context) ([]Account, error)
}
