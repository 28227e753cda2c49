package ledger

import (
	"context"
	"time"
)

// TxFunc is the unit of work executed inside one store transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Store opens transactions over books and rental sessions.
//
// RunInTx commits only when fn returns nil. A non-nil error or a panic rolls the transaction back,
// and the underlying connection is released on every path.
type Store interface {
	RunInTx(ctx context.Context, fn TxFunc) error
}

// Tx is the set of reads and writes available inside a transaction.
type Tx interface {
	// LockBook reads a book and holds it against concurrent writers until the transaction ends.
	LockBook(ctx context.Context, bookID int64) (Book, error)

	// FindActiveRental looks up the rented session for the (user, book) pair, if any.
	FindActiveRental(ctx context.Context, userID, bookID int64) (RentalSession, bool, error)

	// DecrementStock takes one copy. It returns ErrOutOfStock when no copy is left.
	DecrementStock(ctx context.Context, bookID int64) error

	// IncrementStock puts one copy back.
	IncrementStock(ctx context.Context, bookID int64) error

	// InsertRental stores a new session and returns it with its assigned id.
	InsertRental(ctx context.Context, session RentalSession) (RentalSession, error)

	// LockRental reads a session and holds it against concurrent writers until the transaction ends.
	LockRental(ctx context.Context, rentalID int64) (RentalSession, error)

	// CloseRental persists return time, status, and fee of a rented session.
	// It returns ErrAlreadyReturned when the stored session is no longer rented.
	CloseRental(ctx context.Context, session RentalSession) error

	InsertBook(ctx context.Context, book NewBook, now time.Time) (Book, error)
	GetBook(ctx context.Context, bookID int64) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	GetRental(ctx context.Context, rentalID int64) (RentalSession, error)
	ListRentalsByUser(ctx context.Context, userID int64) ([]RentalSession, error)
	ListRentalsByBook(ctx context.Context, bookID int64) ([]RentalSession, error)
}

// InTx runs fn in a transaction of store and returns its value. The zero value is returned on failure.
func InTx[T any](ctx context.Context, store Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var result T

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		value, err := fn(ctx, tx)
		if err != nil {
			return err
		}

		result = value

		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return result, nil
}
