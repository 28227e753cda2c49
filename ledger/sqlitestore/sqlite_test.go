package sqlitestore_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/sqlitestore"
	. "github.com/AntonStoeckl/rental-ledger-go/testutil/helper" //nolint:revive
)

func givenStore(t *testing.T, options ...sqlitestore.Option) *sqlitestore.Store {
	t.Helper()

	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "ledger.db"), options...)
	require.NoError(t, err, "error opening the store in test setup")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func Test_Open_Rejects_Empty_Path(t *testing.T) {
	_, err := sqlitestore.Open("")

	assert.ErrorIs(t, err, sqlitestore.ErrEmptyPath)
}

func Test_SQLite_Migrate_Is_Idempotent_And_Ping_Succeeds(t *testing.T) {
	// setup
	ctx := context.Background()
	store := givenStore(t)

	// act
	migrateErr := store.Migrate(ctx)
	pingErr := store.Ping(ctx)

	// assert
	assert.NoError(t, migrateErr)
	assert.NoError(t, pingErr)
}

func Test_SQLite_Ping_Fails_After_Close(t *testing.T) {
	// setup
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// act
	err = store.Ping(context.Background())

	// assert
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func Test_SQLite_Scenario_Checkout_OutOfStock_Return_With_Fee(t *testing.T) {
	// setup
	ctx := context.Background()
	store := givenStore(t)
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)

	// act
	session, err := eng.Checkout(ctx, 7, book.ID, FixtureT0)
	require.NoError(t, err)
	_, outOfStockErr := eng.Checkout(ctx, 8, book.ID, FixtureT0.Add(time.Hour))
	returned, err := eng.Return(ctx, session.ID, FixtureT0.Add(8*24*time.Hour))
	require.NoError(t, err)

	// assert
	assert.ErrorIs(t, outOfStockErr, ledger.ErrOutOfStock)
	assert.Equal(t, ledger.MoneyFromUnits(5), returned.OverdueFee)
	assert.Equal(t, 1, QueryBook(t, ctx, store, book.ID).Stock)

	stored, err := eng.GetRental(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, returned, stored)
}

func Test_SQLite_Unique_Index_Rejects_Second_Active_Rental(t *testing.T) {
	// setup
	ctx := context.Background()
	store := givenStore(t)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 5)
	insert := func(now time.Time) error {
		return store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			_, err := tx.InsertRental(ctx, ledger.NewRentalSession(7, book.ID, now))
			return err
		})
	}
	require.NoError(t, insert(FixtureT0))

	// act
	err := insert(FixtureT0.Add(time.Minute))

	// assert
	assert.ErrorIs(t, err, ledger.ErrAlreadyRented)
	assert.Len(t, QueryRentalsByBook(t, ctx, store, book.ID), 1)
}

func Test_SQLite_RunInTx_Rolls_Back_On_Error(t *testing.T) {
	// setup
	ctx := context.Background()
	store := givenStore(t)
	failure := errors.New("abort")

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 2)

	// act
	err := store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.DecrementStock(ctx, book.ID); err != nil {
			return err
		}

		return failure
	})

	// assert
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 2, QueryBook(t, ctx, store, book.ID).Stock)
}

func Test_SQLite_Concurrent_Checkouts_Never_Oversell(t *testing.T) {
	// setup
	ctx := context.Background()
	store := givenStore(t)
	eng, err := engine.New(store)
	require.NoError(t, err)

	const stock = 3
	const callers = 20

	// arrange
	book := GivenBookWasAdded(t, ctx, store, stock)

	// act
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := eng.Checkout(ctx, userID, book.ID, FixtureT0)
			errs <- err
		}(int64(100 + i))
	}

	wg.Wait()
	close(errs)

	// assert
	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ledger.ErrOutOfStock)
	}

	assert.Equal(t, stock, successes)
	assert.Equal(t, 0, QueryBook(t, ctx, store, book.ID).Stock)
	assert.Equal(t, stock, CountRented(QueryRentalsByBook(t, ctx, store, book.ID)))
}

func Test_SQLite_Data_Survives_Reopen(t *testing.T) {
	// setup
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := sqlitestore.Open(path)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 4)
	require.NoError(t, store.Close())

	// act
	reopened, err := sqlitestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	// assert
	assert.Equal(t, book, QueryBook(t, ctx, reopened, book.ID))
}

func Test_SQLite_Rentals_Are_Ordered_By_Checkout_Time(t *testing.T) {
	// setup
	ctx := context.Background()
	store := givenStore(t)
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	first := GivenBookWasAdded(t, ctx, store, 1)
	second := GivenBookWasAdded(t, ctx, store, 1)
	later, err := eng.Checkout(ctx, 7, second.ID, FixtureT0.Add(1500*time.Millisecond))
	require.NoError(t, err)
	earlier, err := eng.Checkout(ctx, 7, first.ID, FixtureT0.Add(time.Second))
	require.NoError(t, err)

	// act
	rentals, err := eng.ListRentalsByUser(ctx, 7)

	// assert
	require.NoError(t, err)
	assert.Equal(t, []ledger.RentalSession{earlier, later}, rentals)
}

func Test_SQLite_Logs_SQL_At_Debug_Level(t *testing.T) {
	// setup
	ctx := context.Background()
	handler := NewLogHandlerSpy(false)
	store := givenStore(t, sqlitestore.WithLogger(slog.New(handler)))

	// act
	GivenBookWasAdded(t, ctx, store, 1)

	// assert
	assert.True(t, handler.HasDebugLogWithDurationMS("executed sql for: insert book"))
}
