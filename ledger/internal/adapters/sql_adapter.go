package adapters

import (
	"context"
	"database/sql"
)

// SQLAdapter implements DBAdapter for sql.DB.
type SQLAdapter struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewSQLAdapter creates a new SQL adapter. Transactions run at read committed isolation.
func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

// NewSQLAdapterWithDefaultIsolation creates a SQL adapter that leaves the isolation level to the driver.
// SQLite rejects explicit read committed transactions.
func NewSQLAdapterWithDefaultIsolation(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

func (s *SQLAdapter) BeginTx(ctx context.Context) (DBTx, error) {
	tx, err := s.db.BeginTx(ctx, s.opts)
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx}, nil
}

func (s *SQLAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

func (s *SQLAdapter) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
