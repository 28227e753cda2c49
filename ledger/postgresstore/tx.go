package postgresstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/internal/adapters"
)

// ErrBuildingQueryFailed is joined to goqu errors.
var ErrBuildingQueryFailed = errors.New("postgresstore: building query failed")

const (
	dialectPostgres  = "postgres"
	tableBooks       = "books"
	tableRentals     = "rental_sessions"
	colID            = "id"
	colTitle         = "title"
	colAuthor        = "author"
	colStock         = "stock"
	colCreatedAt     = "created_at"
	colUserID        = "user_id"
	colBookID        = "book_id"
	colCheckoutTime  = "checkout_time"
	colDueTime       = "due_time"
	colReturnTime    = "return_time"
	colStatus        = "status"
	colOverdueFee    = "overdue_fee"
	exprStatusText   = "status::text"
	exprFeeCents     = "(overdue_fee * 100)::bigint"
	castNumeric      = "?::numeric"
	exprStockMinus   = "stock - 1"
	exprStockPlus    = "stock + 1"
	actionLockBook   = "lock book"
	actionGetBook    = "get book"
	actionListBooks  = "list books"
	actionInsertBook = "insert book"
	actionFindActive = "find active rental"
	actionDecrement  = "decrement stock"
	actionIncrement  = "increment stock"
	actionInsert     = "insert rental"
	actionLockRental = "lock rental"
	actionGetRental  = "get rental"
	actionClose      = "close rental"
	actionList       = "list rentals"
)

var (
	bookColumns   = []any{colID, colTitle, colAuthor, colStock, colCreatedAt}
	rentalColumns = []any{
		colID, colUserID, colBookID, colCheckoutTime, colDueTime, colReturnTime,
		goqu.L(exprStatusText), goqu.L(exprFeeCents),
	}
)

type tx struct {
	store *Store
	db    adapters.DBTx
}

func builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

func toSQL(ds interface{ ToSQL() (string, []any, error) }) (string, error) {
	sqlQuery, _, err := ds.ToSQL()
	if err != nil {
		return "", errors.Join(ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}

func (t *tx) LockBook(ctx context.Context, bookID int64) (ledger.Book, error) {
	return t.selectBook(ctx, actionLockBook, bookID, true)
}

func (t *tx) GetBook(ctx context.Context, bookID int64) (ledger.Book, error) {
	return t.selectBook(ctx, actionGetBook, bookID, false)
}

func (t *tx) selectBook(ctx context.Context, action string, bookID int64, lock bool) (ledger.Book, error) {
	ds := builder().From(tableBooks).Select(bookColumns...).Where(goqu.C(colID).Eq(bookID))
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}

	books, err := t.queryBooks(ctx, action, ds)
	if err != nil {
		return ledger.Book{}, err
	}

	if len(books) == 0 {
		return ledger.Book{}, ledger.NewNotFoundError(ledger.EntityBook, bookID)
	}

	return books[0], nil
}

func (t *tx) ListBooks(ctx context.Context) ([]ledger.Book, error) {
	ds := builder().From(tableBooks).Select(bookColumns...).Order(goqu.C(colID).Asc())

	return t.queryBooks(ctx, actionListBooks, ds)
}

func (t *tx) InsertBook(ctx context.Context, book ledger.NewBook, now time.Time) (ledger.Book, error) {
	if err := book.Validate(); err != nil {
		return ledger.Book{}, err
	}

	createdAt := now.UTC()
	ds := builder().Insert(tableBooks).Rows(goqu.Record{
		colTitle:     book.Title,
		colAuthor:    book.Author,
		colStock:     book.Stock,
		colCreatedAt: createdAt,
	}).Returning(colID)

	id, err := t.insertReturningID(ctx, actionInsertBook, ds)
	if err != nil {
		return ledger.Book{}, err
	}

	return ledger.Book{ID: id, Title: book.Title, Author: book.Author, Stock: book.Stock, CreatedAt: createdAt}, nil
}

func (t *tx) FindActiveRental(ctx context.Context, userID, bookID int64) (ledger.RentalSession, bool, error) {
	ds := builder().From(tableRentals).Select(rentalColumns...).
		Where(
			goqu.C(colUserID).Eq(userID),
			goqu.C(colBookID).Eq(bookID),
			goqu.C(colStatus).Eq(string(ledger.StatusRented)),
		).
		Limit(1)

	sessions, err := t.queryRentals(ctx, actionFindActive, ds)
	if err != nil {
		return ledger.RentalSession{}, false, err
	}

	if len(sessions) == 0 {
		return ledger.RentalSession{}, false, nil
	}

	return sessions[0], true, nil
}

func (t *tx) DecrementStock(ctx context.Context, bookID int64) error {
	ds := builder().Update(tableBooks).
		Set(goqu.Record{colStock: goqu.L(exprStockMinus)}).
		Where(goqu.C(colID).Eq(bookID), goqu.C(colStock).Gt(0))

	affected, err := t.execUpdate(ctx, actionDecrement, ds)
	if err != nil {
		return err
	}

	if affected == 0 {
		return ledger.ErrOutOfStock
	}

	return nil
}

func (t *tx) IncrementStock(ctx context.Context, bookID int64) error {
	ds := builder().Update(tableBooks).
		Set(goqu.Record{colStock: goqu.L(exprStockPlus)}).
		Where(goqu.C(colID).Eq(bookID))

	affected, err := t.execUpdate(ctx, actionIncrement, ds)
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
		colCheckoutTime: session.CheckoutTime,
		colDueTime:      session.DueTime,
		colStatus:       string(session.Status),
		colOverdueFee:   goqu.L(castNumeric, session.OverdueFee.String()),
	}).Returning(colID)

	id, err := t.insertReturningID(ctx, actionInsert, ds)
	if err != nil {
		return ledger.RentalSession{}, err
	}

	session.ID = id

	return session, nil
}

func (t *tx) LockRental(ctx context.Context, rentalID int64) (ledger.RentalSession, error) {
	return t.selectRental(ctx, actionLockRental, rentalID, true)
}

func (t *tx) GetRental(ctx context.Context, rentalID int64) (ledger.RentalSession, error) {
	return t.selectRental(ctx, actionGetRental, rentalID, false)
}

func (t *tx) selectRental(ctx context.Context, action string, rentalID int64, lock bool) (ledger.RentalSession, error) {
	ds := builder().From(tableRentals).Select(rentalColumns...).Where(goqu.C(colID).Eq(rentalID))
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}

	sessions, err := t.queryRentals(ctx, action, ds)
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

	ds := builder().Update(tableRentals).
		Set(goqu.Record{
			colReturnTime: session.ReturnTime.UTC(),
			colStatus:     string(session.Status),
			colOverdueFee: goqu.L(castNumeric, session.OverdueFee.String()),
		}).
		Where(goqu.C(colID).Eq(session.ID), goqu.C(colStatus).Eq(string(ledger.StatusRented)))

	affected, err := t.execUpdate(ctx, actionClose, ds)
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

func (t *tx) listRentals(ctx context.Context, where exp.Expression) ([]ledger.RentalSession, error) {
	ds := builder().From(tableRentals).Select(rentalColumns...).
		Where(where).
		Order(goqu.C(colCheckoutTime).Asc(), goqu.C(colID).Asc())

	return t.queryRentals(ctx, actionList, ds)
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
		if err := rows.Scan(&book.ID, &book.Title, &book.Author, &book.Stock, &book.CreatedAt); err != nil {
			return nil, classify(err)
		}

		book.CreatedAt = book.CreatedAt.UTC()
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
	var returnTime sql.NullTime
	var status string
	var feeCents int64

	err := rows.Scan(
		&session.ID,
		&session.UserID,
		&session.BookID,
		&session.CheckoutTime,
		&session.DueTime,
		&returnTime,
		&status,
		&feeCents,
	)
	if err != nil {
		return ledger.RentalSession{}, classify(err)
	}

	session.CheckoutTime = session.CheckoutTime.UTC()
	session.DueTime = session.DueTime.UTC()
	if returnTime.Valid {
		returned := returnTime.Time.UTC()
		session.ReturnTime = &returned
	}
	session.Status = ledger.Status(status)
	session.OverdueFee = ledger.Money(feeCents)

	return session, nil
}

func (t *tx) insertReturningID(ctx context.Context, action string, ds *goqu.InsertDataset) (int64, error) {
	sqlQuery, err := toSQL(ds)
	if err != nil {
		return 0, err
	}

	rows, err := t.store.query(ctx, t.db, action, sqlQuery)
	if err != nil {
		return 0, err
	}
	defer t.store.closeRows(ctx, rows)

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, classify(err)
		}
	}

	// pgx reports constraint violations of INSERT ... RETURNING only through rows.Err
	if err := rows.Err(); err != nil {
		t.store.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error(), logAttrQuery, sqlQuery)
		return 0, classify(err)
	}

	if id == 0 {
		return 0, fmt.Errorf("postgresstore: %s returned no id", action)
	}

	return id, nil
}

func (t *tx) execUpdate(ctx context.Context, action string, ds *goqu.UpdateDataset) (int64, error) {
	sqlQuery, err := toSQL(ds)
	if err != nil {
		return 0, err
	}

	return t.store.exec(ctx, t.db, action, sqlQuery)
}

var _ ledger.Tx = (*tx)(nil)
