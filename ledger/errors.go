package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("ledger: not found")

	// ErrOutOfStock is returned when a checkout finds no available copy of the book.
	ErrOutOfStock = errors.New("ledger: book is out of stock")

	// ErrAlreadyRented is returned when the user already holds a rented session for the same book.
	ErrAlreadyRented = errors.New("ledger: book is already rented by this user")

	// ErrAlreadyReturned is returned when a return targets a session that is no longer rented.
	ErrAlreadyReturned = errors.New("ledger: rental is already returned")

	// ErrTransactionConflict is returned when the store aborted the transaction because of concurrent access.
	// It is the only failure that is safe to retry without new input.
	ErrTransactionConflict = errors.New("ledger: transaction conflict")

	// ErrStoreUnavailable is returned when the store cannot be reached or the connection broke.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")

	// ErrInvalidInput is returned when a catalog operation receives a malformed value.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrNilStore is returned when a component is constructed without a store.
	ErrNilStore = errors.New("ledger: store must not be nil")
)

// Entity names the kind of record a NotFoundError refers to.
type Entity string

const (
	EntityBook   Entity = "book"
	EntityRental Entity = "rental"
)

// NotFoundError reports a missing book or rental session.
type NotFoundError struct {
	Entity Entity
	ID     int64
}

// NewNotFoundError creates a NotFoundError for the given entity and id.
func NewNotFoundError(entity Entity, id int64) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ledger: %s %d not found", e.Entity, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) true for every NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Kind is a stable, presentation-independent classification of a failure.
type Kind string

const (
	KindNone                Kind = "none"
	KindNotFound            Kind = "not_found"
	KindOutOfStock          Kind = "out_of_stock"
	KindAlreadyRented       Kind = "already_rented"
	KindAlreadyReturned     Kind = "already_returned"
	KindTransactionConflict Kind = "transaction_conflict"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindInvalidInput        Kind = "invalid_input"
	KindCanceled            Kind = "context_canceled"
	KindDeadlineExceeded    Kind = "context_deadline_exceeded"
	KindUnknown             Kind = "unknown"
)

// KindOf classifies err. Business failures take precedence over infrastructure failures
// when an error chain carries both.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrOutOfStock):
		return KindOutOfStock
	case errors.Is(err, ErrAlreadyRented):
		return KindAlreadyRented
	case errors.Is(err, ErrAlreadyReturned):
		return KindAlreadyReturned
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTransactionConflict):
		return KindTransactionConflict
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether the whole operation may be retried unchanged.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransactionConflict
}

func invalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
