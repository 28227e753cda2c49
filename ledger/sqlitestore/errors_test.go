package sqlitestore

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

func Test_Classify_Maps_SQLite_Errors_To_Kinds(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantKind ledger.Kind
	}{
		{name: "busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, wantKind: ledger.KindTransactionConflict},
		{name: "locked", err: sqlite3.Error{Code: sqlite3.ErrLocked}, wantKind: ledger.KindTransactionConflict},
		{name: "unique", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, wantKind: ledger.KindAlreadyRented},
		{name: "check", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}, wantKind: ledger.KindOutOfStock},
		{name: "cannot open", err: sqlite3.Error{Code: sqlite3.ErrCantOpen}, wantKind: ledger.KindStoreUnavailable},
		{name: "bad connection", err: driver.ErrBadConn, wantKind: ledger.KindStoreUnavailable},
		{name: "foreign key", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, wantKind: ledger.KindUnknown},
		{name: "plain", err: errors.New("boom"), wantKind: ledger.KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantKind, ledger.KindOf(classify(tc.err)))
		})
	}
}
