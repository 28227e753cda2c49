package helper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// FixtureT0 is the reference checkout time used across test suites.
var FixtureT0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// GivenUniqueTitle returns a book title that does not collide with other test runs.
func GivenUniqueTitle(t testing.TB) string {
	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return "Book " + id.String()
}

// GivenBookWasAdded adds a book with the given stock and returns it.
func GivenBookWasAdded(t testing.TB, ctx context.Context, store ledger.Store, stock int) ledger.Book {
	book, err := ledger.InTx(ctx, store, func(ctx context.Context, tx ledger.Tx) (ledger.Book, error) {
		return tx.InsertBook(ctx, ledger.NewBook{Title: GivenUniqueTitle(t), Author: "Test Author", Stock: stock}, FixtureT0)
	})
	require.NoError(t, err, "error in arranging test data")

	return book
}

// QueryBook reads a book outside any engine operation.
func QueryBook(t testing.TB, ctx context.Context, store ledger.Store, bookID int64) ledger.Book {
	book, err := ledger.InTx(ctx, store, func(ctx context.Context, tx ledger.Tx) (ledger.Book, error) {
		return tx.GetBook(ctx, bookID)
	})
	require.NoError(t, err, "error in querying the book")

	return book
}

// QueryRentalsByBook lists the sessions of a book outside any engine operation.
func QueryRentalsByBook(t testing.TB, ctx context.Context, store ledger.Store, bookID int64) []ledger.RentalSession {
	sessions, err := ledger.InTx(ctx, store, func(ctx context.Context, tx ledger.Tx) ([]ledger.RentalSession, error) {
		return tx.ListRentalsByBook(ctx, bookID)
	})
	require.NoError(t, err, "error in querying the rentals")

	return sessions
}

// CountRented counts the sessions in status rented.
func CountRented(sessions []ledger.RentalSession) int {
	count := 0
	for _, session := range sessions {
		if session.IsRented() {
			count++
		}
	}

	return count
}
