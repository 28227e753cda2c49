package sqlitestore

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/internal/adapters"
)

var errBuildingQuery = errors.New("sqlitestore: building query failed")

const (
	dialectSQLite   = "sqlite3"
	tableBooks      = "books"
	tableRentals    = "rental_sessions"
	colID           = "id"
	colTitle        = "title"
	colAuthor       = "author"
	colStock        = "stock"
	colCreatedAt    = "created_at"
	colUserID       = "user_id"
	colBookID       = "book_id"
	colCheckoutTime = "checkout_time"
	colDueTime      = "due_time"
	colReturnTime   = "return_time"
	colStatus       = "status"
	colOverdueFee   = "overdue_fee"
	exprStockMinus  = "stock - 1"
	exprStockPlus   = "stock + 1"
	timeLayout      = time.RFC3339Nano
)

var (
	bookColumns   = []any{colID, colTitle, colAuthor, colStock, colCreatedAt}
	rentalColumns = []any{colID, colUserID, colBookID, colCheckoutTime, colDueTime, colReturnTime, colStatus, colOverdueFee}
)

type tx struct {
	store *Store
	db    adapters.DBTx
}

func builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectSQLite)
}

func toSQL(ds interface{ ToSQL() (string, []any, error) }) (string, error) {
	sqlQuery, _, err := ds.ToSQL()
	if err != nil {
		return "", errors.Join(errBuildingQuery, err)
	}

	return sqlQuery, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlitestore: parse time %q: %w", value, err)
	}

	return t.UTC(), nil
}

// LockBook reads the book. The write lock is already held since BEGIN IMMEDIATE.
func (t *tx) LockBook(ctx context.Context, bookID int64) (ledger.Book, error) {
	return t.GetBook(ctx, bookID)
}

func (t *tx) GetBook(ctx context.Context, bookID int64) (ledger.Book, error) {
	books, err := t.queryBooks(ctx, "get book",
		builder().From(tableBooks).Select(bookColumns...).Where(goqu.C(colID).Eq(bookID)))
	if err != nil {
		return ledger.Book{}, err
	}

	if len(books) == 0 {
		return ledger.Book{}, ledger.NewNotFoundError(ledger.EntityBook, bookID)
	}

	return books[0], nil
}

func (t *tx) ListBooks(ctx context.Context) ([]ledger.Book, error) {
	return t.queryBooks(ctx, "list books",
		builder().From(tableBooks).Select(bookColumns...).Order(goqu.C(colID).Asc()))
}

func (t *tx) InsertBook(ctx context.Context, book ledger.NewBook, now time.Time) (ledger.Book, error) {
	if err := book.Validate(); err != nil {
		return ledger.Book{}, err
	}

	ds := builder().Insert(tableBooks).Rows(goqu.Record{
		colTitle:     book.Title,
		colAuthor:    book.Author,
		colStock:     book.Stock,
		colCreatedAt: formatTime(now),
	})

	id, err := t.insert(ctx, "insert book", ds)
	if err != nil {
		return ledger.Book{}, err
	}

	return ledger.Book{ID: id, Title: book.Title, Author: book.Author, Stock: book.Stock, CreatedAt: now.UTC()}, nil
}

func (t *tx) FindActiveRental(ctx context.Context, userID, bookID int64) (ledger.RentalSession, bool, error) {
	sessions, err := t.queryRentals(ctx, "find active rental",
		builder().From(tableRentals).Select(rentalColumns...).
			Where(
				goqu.C(colUserID).Eq(userID),
				goqu.C(colBookID).Eq(bookID),
				goqu.C(colStatus).Eq(string(ledger.StatusRented)),
			).
			Limit(1))
	if err != nil {
		return ledger.RentalSession{}, false, err
	}

	if len(sessions) == 0 {
		return ledger.RentalSession{}, false, nil
	}

	return sessions[0], true, nil
}

func (t *tx) DecrementStock(ctx context.Context, bookID int64) error {
	affected, err := t.update(ctx, "decrement stock",
		builder().Update(tableBooks).
			Set(goqu.Record{colStock: goqu.L(exprStockMinus)}).
			Where(goqu.C(colID).Eq(bookID), goqu.C(colStock).Gt(0)))
	if err != nil {
		return err
	}

	if affected == 0 {
		return ledger.ErrOutOfStock
	}

	return nil
}

func (t *tx) IncrementStock(ctx context.Context, bookID int64) error {
	affected, err := t.update(ctx, "increment stock",
		builder().Update(tableBooks).
			Set(goqu.Record{colStock: goqu.L(exprStockPlus)}).
			Where(goqu.C(colID).Eq(bookID)))
	if err != nil {
		return err
	}

	if affected == 0 {
		return ledger.NewNotFoundError(ledger.EntityBook, bookID)
	}

	return nil
}

func (t *tx) InsertRental(ctx context.Context, session ledger.RentalSession) (ledger.RentalSession, error) {
	session.CheckoutTime = session.CheckoutTime.UTC()
	session.DueTime = session.DueTime.UTC()

	ds := builder().Insert(tableRentals).Rows(goqu.Record{
		colUserID:       session.UserID,
		colBookID:       session.BookID,
		colCheckoutTime: formatTime(session.CheckoutTime),
		colDueTime:      formatTime(session.DueTime),
		colStatus:       string(session.Status),
		colOverdueFee:   session.OverdueFee.Cents(),
	})

	id, err := t.insert(ctx, "insert rental", ds)
	if err != nil {
		return ledger.RentalSession{}, err
	}

	session.ID = id

	return session, nil
}

// LockRental reads the session. The write lock is already held since BEGIN IMMEDIATE.
func (t *tx) LockRental(ctx context.Context, rentalID int64) (ledger.RentalSession, error) {
	return t.GetRental(ctx, rentalID)
}

func (t *tx) GetRental(ctx context.Context, rentalID int64) (ledger.RentalSession, error) {
	sessions, err := t.queryRentals(ctx, "get rental",
		builder().From(tableRentals).Select(rentalColumns...).Where(goqu.C(colID).Eq(rentalID)))
	if err != nil {
		return ledger.RentalSession{}, err
	}

	if len(sessions) == 0 {
		return ledger.RentalSession{}, ledger.NewNotFoundError(ledger.EntityRental, rentalID)
	}

	return sessions[0], nil
}

func (t *tx) CloseRental(ctx context.Context, session ledger.RentalSession) error {
	if session.ReturnTime == nil {
		return fmt.Errorf("%w: closing rental %d without return time", ledger.ErrInvalidInput, session.ID)
	}

	affected, err := t.update(ctx, "close rental",
		builder().Update(tableRentals).
			Set(goqu.Record{
				colReturnTime: formatTime(*session.ReturnTime),
				colStatus:     string(session.Status),
				colOverdueFee: session.OverdueFee.Cents(),
			}).
			Where(goqu.C(colID).Eq(session.ID), goqu.C(colStatus).Eq(string(ledger.StatusRented))))
	if err != nil {
		return err
	}

	if affected == 0 {
		return ledger.ErrAlreadyReturned
	}

	return nil
}

func (t *tx) ListRentalsByUser(ctx context.Context, userID int64) ([]ledger.RentalSession, error) {
	return t.listRentals(ctx, goqu.C(colUserID).Eq(userID))
}

func (t *tx) ListRentalsByBook(ctx context.Context, bookID int64) ([]ledger.RentalSession, error) {
	return t.listRentals(ctx, goqu.C(colBookID).Eq(bookID))
}

// listRentals orders by checkout time. RFC 3339 text in UTC sorts chronologically only for equal
// fraction lengths, so the id breaks ties and the order is applied again after parsing.
func (t *tx) listRentals(ctx context.Context, where exp.Expression) ([]ledger.RentalSession, error) {
	sessions, err := t.queryRentals(ctx, "list rentals",
		builder().From(tableRentals).Select(rentalColumns...).
			Where(where).
			Order(goqu.C(colID).Asc()))
	if err != nil {
		return nil, err
	}

	sortByCheckoutTime(sessions)

	return sessions, nil
}

func (t *tx) queryBooks(ctx context.Context, action string, ds *goqu.SelectDataset) ([]ledger.Book, error) {
	sqlQuery, err := toSQL(ds)
	if err != nil {
		return nil, err
	}

	rows, err := t.store.query(ctx, t.db, action, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer t.store.closeRows(ctx, rows)

	books := make([]ledger.Book, 0)
	for rows.Next() {
		var book ledger.Book
		var createdAt string

		if err := rows.Scan(&book.ID, &book.Title, &book.Author, &book.Stock, &createdAt); err != nil {
			return nil, classify(err)
		}

		if book.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}

		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return books, nil
}

func (t *tx) queryRentals(ctx context.Context, action string, ds *goqu.SelectDataset) ([]ledger.RentalSession, error) {
	sqlQuery, err := toSQL(ds)
	if err != nil {
		return nil, err
	}

	rows, err := t.store.query(ctx, t.db, action, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer t.store.closeRows(ctx, rows)

	sessions := make([]ledger.RentalSession, 0)
	for rows.Next() {
		session, err := scanRental(rows)
		if err != nil {
			return nil, err
		}

		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return sessions, nil
}

func scanRental(rows adapters.DBRows) (ledger.RentalSession, error) {
	var session ledger.RentalSession
	var checkoutTime, dueTime, status string
	var returnTime sql.NullString
	var feeCents int64

	err := rows.Scan(&session.ID, &session.UserID, &session.BookID, &checkoutTime, &dueTime, &returnTime, &status, &feeCents)
	if err != nil {
		return ledger.RentalSession{}, classify(err)
	}

	if session.CheckoutTime, err = parseTime(checkoutTime); err != nil {
		return ledger.RentalSession{}, err
	}

	if session.DueTime, err = parseTime(dueTime); err != nil {
		return ledger.RentalSession{}, err
	}

	if returnTime.Valid {
		returned, err := parseTime(returnTime.String)
		if err != nil {
			return ledger.RentalSession{}, err
		}

		session.ReturnTime = &returned
	}

	session.Status = ledger.Status(status)
	session.OverdueFee = ledger.Money(feeCents)

	return session, nil
}

func (t *tx) insert(ctx context.Context, action string, ds *goqu.InsertDataset) (int64, error) {
	sqlQuery, err := toSQL(ds)
	if err != nil {
		return 0, err
	}

	result, err := t.store.exec(ctx, t.db, action, sqlQuery)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: last insert id: %w", err)
	}

	return id, nil
}

func (t *tx) update(ctx context.Context, action string, ds *goqu.UpdateDataset) (int64, error) {
	sqlQuery, err := toSQL(ds)
	if err != nil {
		return 0, err
	}

	result, err := t.store.exec(ctx, t.db, action, sqlQuery)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: rows affected: %w", err)
	}

	return affected, nil
}

func sortByCheckoutTime(sessions []ledger.RentalSession) {
	slices.SortStableFunc(sessions, func(a, b ledger.RentalSession) int {
		if c := a.CheckoutTime.Compare(b.CheckoutTime); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})
}

var _ ledger.Tx = (*tx)(nil)
