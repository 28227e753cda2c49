package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/retry"
)

// Engine orchestrates checkouts and returns against a ledger.Store.
type Engine struct {
	store            ledger.Store
	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
	metricsCollector ledger.MetricsCollector
	tracingCollector ledger.TracingCollector
	retryOptions     []retry.Option
	newOperationID   func() string
}

// New creates an Engine over store.
func New(store ledger.Store, options ...Option) (*Engine, error) {
	if store == nil {
		return nil, ledger.ErrNilStore
	}

	e := &Engine{
		store:          store,
		newOperationID: uuid.NewString,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Checkout rents one copy of bookID to userID at now.
//
// It fails with a *ledger.NotFoundError for an unknown book, ledger.ErrOutOfStock when no copy is
// available, or ledger.ErrAlreadyRented when the user already holds this book. Nothing is written
// unless the whole checkout succeeds.
func (e *Engine) Checkout(ctx context.Context, userID, bookID int64, now time.Time) (ledger.RentalSession, error) {
	var session ledger.RentalSession
	var remainingStock int

	op := e.startOperation(ctx, operationCheckout, attrUserID, userID, attrBookID, bookID)

	err := op.run(func(ctx context.Context) error {
		return e.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			book, err := tx.LockBook(ctx, bookID)
			if err != nil {
				return err
			}

			if book.Stock <= 0 {
				return ledger.ErrOutOfStock
			}

			_, rented, err := tx.FindActiveRental(ctx, userID, bookID)
			if err != nil {
				return err
			}

			if rented {
				return ledger.ErrAlreadyRented
			}

			if err := tx.DecrementStock(ctx, bookID); err != nil {
				return err
			}

			inserted, err := tx.InsertRental(ctx, ledger.NewRentalSession(userID, bookID, now))
			if err != nil {
				return err
			}

			session = inserted
			remainingStock = book.Stock - 1

			return nil
		})
	})
	if err != nil {
		return ledger.RentalSession{}, op.fail(err)
	}

	e.recordStockLevel(op.ctx, bookID, remainingStock)
	op.succeed(attrRentalID, session.ID, attrDueTime, session.DueTime)

	return session, nil
}

// Return closes rentalID at now, charging the overdue fee and putting the copy back into stock.
//
// It fails with a *ledger.NotFoundError for an unknown session and ledger.ErrAlreadyReturned for a
// session that is no longer rented. Calling Return twice therefore succeeds exactly once.
func (e *Engine) Return(ctx context.Context, rentalID int64, now time.Time) (ledger.RentalSession, error) {
	var closed ledger.RentalSession
	var restoredStock int

	op := e.startOperation(ctx, operationReturn, attrRentalID, rentalID)

	err := op.run(func(ctx context.Context) error {
		return e.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			session, err := tx.LockRental(ctx, rentalID)
			if err != nil {
				return err
			}

			if !session.IsRented() {
				return ledger.ErrAlreadyReturned
			}

			next := session.Closed(now)
			if err := tx.CloseRental(ctx, next); err != nil {
				return err
			}

			if err := tx.IncrementStock(ctx, session.BookID); err != nil {
				return err
			}

			book, err := tx.GetBook(ctx, session.BookID)
			if err != nil {
				return err
			}

			closed = next
			restoredStock = book.Stock

			return nil
		})
	})
	if err != nil {
		return ledger.RentalSession{}, op.fail(err)
	}

	e.recordStockLevel(op.ctx, closed.BookID, restoredStock)
	e.recordOverdueFee(op.ctx, closed.OverdueFee)
	op.succeed(attrBookID, closed.BookID, attrOverdueFee, closed.OverdueFee.String())

	return closed, nil
}

// AddBook adds a book to the catalog with its initial stock.
func (e *Engine) AddBook(ctx context.Context, book ledger.NewBook, now time.Time) (ledger.Book, error) {
	if err := book.Validate(); err != nil {
		return ledger.Book{}, err
	}

	op := e.startOperation(ctx, operationAddBook, attrStock, book.Stock)

	added, err := transact(op, e.store, func(ctx context.Context, tx ledger.Tx) (ledger.Book, error) {
		return tx.InsertBook(ctx, book, now)
	})
	if err != nil {
		return ledger.Book{}, op.fail(err)
	}

	op.succeed(attrBookID, added.ID)

	return added, nil
}

// GetBook returns one book.
func (e *Engine) GetBook(ctx context.Context, bookID int64) (ledger.Book, error) {
	op := e.startOperation(ctx, operationGetBook, attrBookID, bookID)

	book, err := transact(op, e.store, func(ctx context.Context, tx ledger.Tx) (ledger.Book, error) {
		return tx.GetBook(ctx, bookID)
	})
	if err != nil {
		return ledger.Book{}, op.fail(err)
	}

	op.succeed()

	return book, nil
}

// ListBooks returns the catalog ordered by id.
func (e *Engine) ListBooks(ctx context.Context) ([]ledger.Book, error) {
	op := e.startOperation(ctx, operationListBooks)

	books, err := transact(op, e.store, func(ctx context.Context, tx ledger.Tx) ([]ledger.Book, error) {
		return tx.ListBooks(ctx)
	})
	if err != nil {
		return nil, op.fail(err)
	}

	op.succeed(attrResultCount, len(books))

	return books, nil
}

// GetRental returns one rental session.
func (e *Engine) GetRental(ctx context.Context, rentalID int64) (ledger.RentalSession, error) {
	op := e.startOperation(ctx, operationGetRental, attrRentalID, rentalID)

	session, err := transact(op, e.store, func(ctx context.Context, tx ledger.Tx) (ledger.RentalSession, error) {
		return tx.GetRental(ctx, rentalID)
	})
	if err != nil {
		return ledger.RentalSession{}, op.fail(err)
	}

	op.succeed()

	return session, nil
}

// ListRentalsByUser returns the sessions of one user ordered by checkout time.
func (e *Engine) ListRentalsByUser(ctx context.Context, userID int64) ([]ledger.RentalSession, error) {
	op := e.startOperation(ctx, operationListRentals, attrUserID, userID)

	sessions, err := transact(op, e.store, func(ctx context.Context, tx ledger.Tx) ([]ledger.RentalSession, error) {
		return tx.ListRentalsByUser(ctx, userID)
	})
	if err != nil {
		return nil, op.fail(err)
	}

	op.succeed(attrResultCount, len(sessions))

	return sessions, nil
}

// ListRentalsByBook returns the sessions of one book ordered by checkout time.
func (e *Engine) ListRentalsByBook(ctx context.Context, bookID int64) ([]ledger.RentalSession, error) {
	op := e.startOperation(ctx, operationListRentals, attrBookID, bookID)

	sessions, err := transact(op, e.store, func(ctx context.Context, tx ledger.Tx) ([]ledger.RentalSession, error) {
		return tx.ListRentalsByBook(ctx, bookID)
	})
	if err != nil {
		return nil, op.fail(err)
	}

	op.succeed(attrResultCount, len(sessions))

	return sessions, nil
}

// transact runs fn in one transaction under the operation's retry policy.
func transact[T any](op *operation, store ledger.Store, fn func(ctx context.Context, tx ledger.Tx) (T, error)) (T, error) {
	var result T

	err := op.run(func(ctx context.Context) error {
		value, err := ledger.InTx(ctx, store, fn)
		if err != nil {
			return err
		}

		result = value

		return nil
	})

	return result, err
}
