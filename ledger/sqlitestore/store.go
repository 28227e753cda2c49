package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/internal/adapters"
)

//go:embed schema.sql
var schemaSQL string

// ErrEmptyPath is returned when Open receives an empty database path.
var ErrEmptyPath = errors.New("sqlitestore: database path must not be empty")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const (
	logMsgSQLExecuted     = "executed sql for: "
	logMsgDBQueryFailed   = "database query execution failed"
	logMsgDBExecFailed    = "database execution failed"
	logMsgRollbackFailed  = "failed to roll back transaction"
	logMsgCloseRowsFailed = "failed to close database rows"
	logAttrError          = "error"
	logAttrQuery          = "query"
	logAttrDurationMS     = "duration_ms"
)

// Store is a SQLite ledger.Store.
type Store struct {
	db               *sql.DB
	adapter          adapters.DBAdapter
	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
}

// Option defines a functional option for configuring Store.
type Option func(*Store) error

// WithLogger sets the logger. SQL statements are logged at debug level with their timing.
func WithLogger(logger ledger.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger. It takes precedence over WithLogger.
func WithContextualLogger(logger ledger.ContextualLogger) Option {
	return func(s *Store) error {
		s.contextualLogger = logger
		return nil
	}
}

// Open creates or opens the SQLite database at path and applies the schema.
//
// The database is configured with:
//   - a single connection, so transactions of this process never contend for the write lock
//   - BEGIN IMMEDIATE transactions
//   - WAL mode and a 5-second busy timeout against other processes
//   - Foreign key enforcement
//
// Opening an existing database is safe; the schema is only created when missing.
func Open(path string, options ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, adapter: adapters.NewSQLAdapterWithDefaultIsolation(db)}

	for _, option := range options {
		if err := option(s); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	ctx := context.Background()

	if err := s.adapter.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ledger.ErrStoreUnavailable, err)
	}

	if err := s.applyPragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate applies the embedded schema. It is idempotent and already called by Open.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.adapter.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlitestore: apply schema: %w", err)
	}

	return nil
}

// Ping verifies that the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.adapter.Ping(ctx); err != nil {
		return errors.Join(ledger.ErrStoreUnavailable, err)
	}

	return nil
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
}

func (s *Store) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := s.adapter.Exec(ctx, pragma); err != nil {
			return fmt.Errorf("sqlitestore: execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx implements ledger.Store.
func (s *Store) RunInTx(ctx context.Context, fn ledger.TxFunc) error {
	dbTx, err := s.adapter.BeginTx(ctx)
	if err != nil {
		return classify(err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := dbTx.Rollback(context.WithoutCancel(ctx)); err != nil {
				s.logWarn(ctx, logMsgRollbackFailed, logAttrError, err.Error())
			}
		}
	}()

	if err := fn(ctx, &tx{store: s, db: dbTx}); err != nil {
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return classify(err)
	}

	committed = true

	return nil
}

func (s *Store) query(ctx context.Context, db adapters.DBTx, action, sqlQuery string) (adapters.DBRows, error) {
	start := time.Now()
	rows, err := db.Query(ctx, sqlQuery)
	s.logDebug(ctx, logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(time.Since(start)), logAttrQuery, sqlQuery)

	if err != nil {
		s.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error(), logAttrQuery, sqlQuery)
		return nil, classify(err)
	}

	return rows, nil
}

func (s *Store) exec(ctx context.Context, db adapters.DBTx, action, sqlQuery string) (adapters.DBResult, error) {
	start := time.Now()
	result, err := db.Exec(ctx, sqlQuery)
	s.logDebug(ctx, logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(time.Since(start)), logAttrQuery, sqlQuery)

	if err != nil {
		s.logError(ctx, logMsgDBExecFailed, logAttrError, err.Error(), logAttrQuery, sqlQuery)
		return nil, classify(err)
	}

	return result, nil
}

func (s *Store) closeRows(ctx context.Context, rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		s.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

func (s *Store) logDebug(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.DebugContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Debug(msg, args...)
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

func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
