// Package memstore provides an in-process ledger.Store.
//
// Transactions are serialized by a single lock and work on a private copy of the state,
// which replaces the committed state only when the transaction function succeeds.
// It enforces the same constraints as the SQL schemas: stock never drops below zero
// and at most one rented session exists per (user, book) pair.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

type state struct {
	books        map[int64]ledger.Book
	rentals      map[int64]ledger.RentalSession
	nextBookID   int64
	nextRentalID int64
}

func (s state) clone() state {
	return state{
		books:        maps.Clone(s.books),
		rentals:      maps.Clone(s.rentals),
		nextBookID:   s.nextBookID,
		nextRentalID: s.nextRentalID,
	}
}

// Store is an in-memory ledger.Store. The zero value is not usable; call New.
type Store struct {
	mu        sync.Mutex
	committed state
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		committed: state{
			books:   make(map[int64]ledger.Book),
			rentals: make(map[int64]ledger.RentalSession),
		},
	}
}

// RunInTx implements ledger.Store.
func (s *Store) RunInTx(ctx context.Context, fn ledger.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{working: s.committed.clone()}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.committed = tx.working

	return nil
}

type tx struct {
	working state
}

func (t *tx) LockBook(_ context.Context, bookID int64) (ledger.Book, error) {
	return t.book(bookID)
}

func (t *tx) GetBook(_ context.Context, bookID int64) (ledger.Book, error) {
	return t.book(bookID)
}

func (t *tx) book(bookID int64) (ledger.Book, error) {
	book, ok := t.working.books[bookID]
	if !ok {
		return ledger.Book{}, ledger.NewNotFoundError(ledger.EntityBook, bookID)
	}

	return book, nil
}

func (t *tx) FindActiveRental(_ context.Context, userID, bookID int64) (ledger.RentalSession, bool, error) {
	for _, session := range t.working.rentals {
		if session.UserID == userID && session.BookID == bookID && session.IsRented() {
			return session, true, nil
		}
	}

	return ledger.RentalSession{}, false, nil
}

func (t *tx) DecrementStock(_ context.Context, bookID int64) error {
	book, err := t.book(bookID)
	if err != nil {
		return err
	}

	if book.Stock <= 0 {
		return ledger.ErrOutOfStock
	}

	book.Stock--
	t.working.books[bookID] = book

	return nil
}

func (t *tx) IncrementStock(_ context.Context, bookID int64) error {
	book, err := t.book(bookID)
	if err != nil {
		return err
	}

	book.Stock++
	t.working.books[bookID] = book

	return nil
}

func (t *tx) InsertRental(ctx context.Context, session ledger.RentalSession) (ledger.RentalSession, error) {
	if _, err := t.book(session.BookID); err != nil {
		return ledger.RentalSession{}, err
	}

	if session.IsRented() {
		if _, found, _ := t.FindActiveRental(ctx, session.UserID, session.BookID); found {
			return ledger.RentalSession{}, ledger.ErrAlreadyRented
		}
	}

	t.working.nextRentalID++
	session.ID = t.working.nextRentalID
	t.working.rentals[session.ID] = session

	return session, nil
}

func (t *tx) LockRental(_ context.Context, rentalID int64) (ledger.RentalSession, error) {
	return t.rental(rentalID)
}

func (t *tx) GetRental(_ context.Context, rentalID int64) (ledger.RentalSession, error) {
	return t.rental(rentalID)
}

func (t *tx) rental(rentalID int64) (ledger.RentalSession, error) {
	session, ok := t.working.rentals[rentalID]
	if !ok {
		return ledger.RentalSession{}, ledger.NewNotFoundError(ledger.EntityRental, rentalID)
	}

	return session, nil
}

func (t *tx) CloseRental(_ context.Context, session ledger.RentalSession) error {
	stored, err := t.rental(session.ID)
	if err != nil {
		return err
	}

	if !stored.IsRented() {
		return ledger.ErrAlreadyReturned
	}

	stored.ReturnTime = session.ReturnTime
	stored.Status = session.Status
	stored.OverdueFee = session.OverdueFee
	t.working.rentals[session.ID] = stored

	return nil
}

func (t *tx) InsertBook(_ context.Context, book ledger.NewBook, now time.Time) (ledger.Book, error) {
	if err := book.Validate(); err != nil {
		return ledger.Book{}, err
	}

	t.working.nextBookID++
	stored := ledger.Book{
		ID:        t.working.nextBookID,
		Title:     book.Title,
		Author:    book.Author,
		Stock:     book.Stock,
		CreatedAt: now,
	}
	t.working.books[stored.ID] = stored

	return stored, nil
}

func (t *tx) ListBooks(_ context.Context) ([]ledger.Book, error) {
	books := slices.Collect(maps.Values(t.working.books))
	slices.SortFunc(books, func(a, b ledger.Book) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return books, nil
}

func (t *tx) ListRentalsByUser(_ context.Context, userID int64) ([]ledger.RentalSession, error) {
	return t.rentalsWhere(func(s ledger.RentalSession) bool { return s.UserID == userID }), nil
}

func (t *tx) ListRentalsByBook(_ context.Context, bookID int64) ([]ledger.RentalSession, error) {
	return t.rentalsWhere(func(s ledger.RentalSession) bool { return s.BookID == bookID }), nil
}

func (t *tx) rentalsWhere(match func(ledger.RentalSession) bool) []ledger.RentalSession {
	sessions := make([]ledger.RentalSession, 0)
	for _, session := range t.working.rentals {
		if match(session) {
			sessions = append(sessions, session)
		}
	}

	slices.SortFunc(sessions, func(a, b ledger.RentalSession) int {
		if c := a.CheckoutTime.Compare(b.CheckoutTime); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return sessions
}

var _ ledger.Store = (*Store)(nil)
