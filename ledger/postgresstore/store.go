package postgresstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/internal/adapters"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrBeginTxFailed is joined to errors raised while opening a transaction.
	ErrBeginTxFailed = errors.New("postgresstore: begin transaction failed")

	// ErrCommitFailed is joined to errors raised while committing.
	ErrCommitFailed = errors.New("postgresstore: commit failed")

	// ErrMigrationFailed is joined to errors raised while applying the schema.
	ErrMigrationFailed = errors.New("postgresstore: migration failed")
)

const (
	logMsgSQLExecuted      = "executed sql for: "
	logMsgDBQueryFailed    = "database query execution failed"
	logMsgDBExecFailed     = "database execution failed"
	logMsgBeginTxFailed    = "failed to begin transaction"
	logMsgCommitFailed     = "failed to commit transaction"
	logMsgRollbackFailed   = "failed to roll back transaction"
	logMsgCloseRowsFailed  = "failed to close database rows"
	logMsgMigrationApplied = "schema migration applied"
	logAttrError           = "error"
	logAttrQuery           = "query"
	logAttrDurationMS      = "duration_ms"
)

// Store is a PostgreSQL ledger.Store.
type Store struct {
	db               adapters.DBAdapter
	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
}

// NewFromPGXPool creates a Store using a pgx Pool with optional configuration.
func NewFromPGXPool(db *pgxpool.Pool, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(db), options)
}

// NewFromSQLDB creates a Store using a sql.DB opened with the lib/pq driver.
func NewFromSQLDB(db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), options)
}

// NewFromSQLX creates a Store using a sqlx.DB with optional configuration.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), options)
}

func newStore(db adapters.DBAdapter, options []Option) (*Store, error) {
	s := &Store{db: db}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Migrate creates the enum type, tables and indexes when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.Exec(ctx, schemaSQL)
	s.logQueryWithDuration(ctx, "migrate", "schema.sql", time.Since(start))

	if err != nil {
		s.logError(ctx, logMsgDBExecFailed, logAttrError, err.Error())
		return errors.Join(ErrMigrationFailed, classify(err))
	}

	s.logInfo(ctx, logMsgMigrationApplied)

	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return classify(err)
	}

	return nil
}

// RunInTx implements ledger.Store.
func (s *Store) RunInTx(ctx context.Context, fn ledger.TxFunc) error {
	dbTx, err := s.db.BeginTx(ctx)
	if err != nil {
		s.logError(ctx, logMsgBeginTxFailed, logAttrError, err.Error())
		return errors.Join(ErrBeginTxFailed, classify(err))
	}

	committed := false
	defer func() {
		if !committed {
			s.rollback(ctx, dbTx)
		}
	}()

	if err := fn(ctx, &tx{store: s, db: dbTx}); err != nil {
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		s.logError(ctx, logMsgCommitFailed, logAttrError, err.Error())
		return errors.Join(ErrCommitFailed, classify(err))
	}

	committed = true

	return nil
}

// rollback runs even when ctx is already canceled, so the connection is handed back clean.
func (s *Store) rollback(ctx context.Context, dbTx adapters.DBTx) {
	if err := dbTx.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.logWarn(ctx, logMsgRollbackFailed, logAttrError, err.Error())
	}
}

func (s *Store) query(ctx context.Context, db adapters.DBTx, action, sqlQuery string) (adapters.DBRows, error) {
	start := time.Now()
	rows, err := db.Query(ctx, sqlQuery)
	s.logQueryWithDuration(ctx, action, sqlQuery, time.Since(start))

	if err != nil {
		s.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error(), logAttrQuery, sqlQuery)
		return nil, classify(err)
	}

	return rows, nil
}

func (s *Store) exec(ctx context.Context, db adapters.DBTx, action, sqlQuery string) (int64, error) {
	start := time.Now()
	result, err := db.Exec(ctx, sqlQuery)
	s.logQueryWithDuration(ctx, action, sqlQuery, time.Since(start))

	if err != nil {
		s.logError(ctx, logMsgDBExecFailed, logAttrError, err.Error(), logAttrQuery, sqlQuery)
		return 0, classify(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgresstore: rows affected: %w", err)
	}

	return affected, nil
}

func (s *Store) closeRows(ctx context.Context, rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		s.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

// logQueryWithDuration logs the executed SQL at debug level with its timing.
func (s *Store) logQueryWithDuration(ctx context.Context, action, sqlQuery string, duration time.Duration) {
	s.logDebug(ctx, logMsgSQLExecuted+action,
		logAttrDurationMS, toMilliseconds(duration),
		logAttrQuery, sqlQuery,
	)
}

func (s *Store) logDebug(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.DebugContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Store) logInfo(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.InfoContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Store) logWarn(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.WarnContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Store) logError(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.ErrorContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
