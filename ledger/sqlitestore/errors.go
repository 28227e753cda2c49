package sqlitestore

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// classify attaches the ledger failure kind to a driver error. Errors without a known kind are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, driver.ErrBadConn) {
		return errors.Join(ledger.ErrStoreUnavailable, err)
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch {
	case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
		return errors.Join(ledger.ErrTransactionConflict, err)

	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return errors.Join(ledger.ErrAlreadyRented, err)

	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
		return errors.Join(ledger.ErrOutOfStock, err)

	case sqliteErr.Code == sqlite3.ErrCantOpen, sqliteErr.Code == sqlite3.ErrIoErr, sqliteErr.Code == sqlite3.ErrNotADB:
		return errors.Join(ledger.ErrStoreUnavailable, err)
	}

	return err
}
