// Package postgreswrapper opens a postgresstore.Store for integration tests.
//
// The adapter comes from the ADAPTER_TYPE environment variable (pgx.pool, sql.db or sqlx.db; default pgx.pool)
// and the database from LEDGER_POSTGRES_DSN. Tests are skipped when the database cannot be reached.
package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/rental-ledger-go/config"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/postgresstore"
)

const (
	envAdapterType = "ADAPTER_TYPE"
	connectTimeout = 3 * time.Second
	truncateTables = "TRUNCATE TABLE rental_sessions, books RESTART IDENTITY"
)

// Wrapper abstracts over the different connection types.
type Wrapper interface {
	GetStore() *postgresstore.Store
	Exec(ctx context.Context, query string) error
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing.
type PGXPoolWrapper struct {
	pool  *pgxpool.Pool
	store *postgresstore.Store
}

func (w *PGXPoolWrapper) GetStore() *postgresstore.Store {
	return w.store
}

func (w *PGXPoolWrapper) Exec(ctx context.Context, query string) error {
	_, err := w.pool.Exec(ctx, query)
	return err
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing.
type SQLDBWrapper struct {
	db    *sql.DB
	store *postgresstore.Store
}

func (w *SQLDBWrapper) GetStore() *postgresstore.Store {
	return w.store
}

func (w *SQLDBWrapper) Exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx.DB-based testing.
type SQLXWrapper struct {
	db    *sqlx.DB
	store *postgresstore.Store
}

func (w *SQLXWrapper) GetStore() *postgresstore.Store {
	return w.store
}

func (w *SQLXWrapper) Exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// CreateWrapperWithTestConfig connects with the adapter from ADAPTER_TYPE, migrates the schema
// and registers Close as test cleanup. It skips the test when the database is unreachable.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgresstore.Option) Wrapper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	dsn := config.PostgresDSN()
	adapterType := strings.ToLower(os.Getenv(envAdapterType))

	var wrapper Wrapper

	switch adapterType {
	case config.AdapterPGXPool, "":
		pool, err := config.NewPGXPool(ctx, dsn)
		if err != nil {
			t.Skipf("postgres unavailable at %s: %v", dsn, err)
		}

		store, err := postgresstore.NewFromPGXPool(pool, options...)
		require.NoError(t, err, "error creating the store in test setup")
		wrapper = &PGXPoolWrapper{pool: pool, store: store}

	case config.AdapterSQLDB:
		db, err := config.NewSQLDB(ctx, dsn)
		if err != nil {
			t.Skipf("postgres unavailable at %s: %v", dsn, err)
		}

		store, err := postgresstore.NewFromSQLDB(db, options...)
		require.NoError(t, err, "error creating the store in test setup")
		wrapper = &SQLDBWrapper{db: db, store: store}

	case config.AdapterSQLX:
		db, err := config.NewSQLX(ctx, dsn)
		if err != nil {
			t.Skipf("postgres unavailable at %s: %v", dsn, err)
		}

		store, err := postgresstore.NewFromSQLX(db, options...)
		require.NoError(t, err, "error creating the store in test setup")
		wrapper = &SQLXWrapper{db: db, store: store}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported adapter type from env: %s", adapterType))
	}

	t.Cleanup(wrapper.Close)

	require.NoError(t, wrapper.GetStore().Migrate(ctx), "error migrating the schema in test setup")

	return wrapper
}

// CleanUp empties both tables and resets their id sequences.
func CleanUp(t testing.TB, wrapper Wrapper) {
	t.Helper()

	err := wrapper.Exec(context.Background(), truncateTables)
	require.NoError(t, err, "error cleaning up the ledger tables")
}
