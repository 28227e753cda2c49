package postgresstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// ErrNilDatabaseConnection is returned when a constructor receives a nil connection.
var ErrNilDatabaseConnection = errors.New("postgresstore: database connection must not be nil")

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateUniqueViolation      = "23505"
	sqlStateCheckViolation       = "23514"
	sqlStateAdminShutdown        = "57P01"
	sqlStateCannotConnectNow     = "57P03"
	sqlStateClassConnection      = "08"
	constraintActivePair         = "rental_sessions_active_pair_uidx"
	constraintStockNonNegative   = "books_stock_check"
)

// classify attaches the ledger failure kind to a driver error. Errors without a known kind are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code, constraint := sqlState(err)

	switch {
	case code == sqlStateSerializationFailure, code == sqlStateDeadlockDetected, code == sqlStateLockNotAvailable:
		return errors.Join(ledger.ErrTransactionConflict, err)

	case code == sqlStateUniqueViolation && (constraint == "" || constraint == constraintActivePair):
		return errors.Join(ledger.ErrAlreadyRented, err)

	case code == sqlStateCheckViolation && (constraint == "" || constraint == constraintStockNonNegative):
		return errors.Join(ledger.ErrOutOfStock, err)

	case strings.HasPrefix(code, sqlStateClassConnection), code == sqlStateAdminShutdown, code == sqlStateCannotConnectNow:
		return errors.Join(ledger.ErrStoreUnavailable, err)

	case code == "" && isConnectionFailure(err):
		return errors.Join(ledger.ErrStoreUnavailable, err)
	}

	return err
}

// sqlState extracts the SQLSTATE and constraint name from pgx and lib/pq errors.
func sqlState(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint
	}

	return "", ""
}

func isConnectionFailure(err error) bool {
	var connectErr *pgconn.ConnectError
	var netErr net.Error

	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	default:
		return false
	}
}
