package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/memstore"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/retry"
	. "github.com/AntonStoeckl/rental-ledger-go/testutil/helper" //nolint:revive
)

func Test_Scenario_Checkout_OutOfStock_Return_With_Fee(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)
	t0 := FixtureT0

	// act
	session, err := eng.Checkout(ctx, 7, book.ID, t0)

	// assert
	require.NoError(t, err, "first checkout should succeed")
	assert.Equal(t, ledger.StatusRented, session.Status)
	assert.Equal(t, t0.Add(7*24*time.Hour), session.DueTime)
	assert.Equal(t, 0, QueryBook(t, ctx, store, book.ID).Stock)

	// act
	_, err = eng.Checkout(ctx, 8, book.ID, t0.Add(time.Hour))

	// assert
	assert.ErrorIs(t, err, ledger.ErrOutOfStock)
	assert.Equal(t, 0, QueryBook(t, ctx, store, book.ID).Stock, "stock must be unchanged")

	// act
	returned, err := eng.Return(ctx, session.ID, t0.Add(8*24*time.Hour))

	// assert
	require.NoError(t, err, "return should succeed")
	assert.Equal(t, ledger.StatusReturned, returned.Status)
	assert.Equal(t, ledger.MoneyFromUnits(5), returned.OverdueFee)
	assert.Equal(t, 1, QueryBook(t, ctx, store, book.ID).Stock)
}

func Test_Checkout_Fails_When_Book_Does_Not_Exist(t *testing.T) {
	// setup
	ctx := context.Background()
	eng, err := engine.New(memstore.New())
	require.NoError(t, err)

	// act
	_, err = eng.Checkout(ctx, 7, 404, FixtureT0)

	// assert
	var notFound *ledger.NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, ledger.EntityBook, notFound.Entity)
	assert.Equal(t, int64(404), notFound.ID)
	assert.Equal(t, ledger.KindNotFound, ledger.KindOf(err))
}

func Test_Checkout_Fails_When_Same_User_Already_Rented_The_Book(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 3)
	_, err = eng.Checkout(ctx, 7, book.ID, FixtureT0)
	require.NoError(t, err)

	// act
	_, err = eng.Checkout(ctx, 7, book.ID, FixtureT0.Add(time.Minute))

	// assert
	assert.ErrorIs(t, err, ledger.ErrAlreadyRented)
	assert.Equal(t, 2, QueryBook(t, ctx, store, book.ID).Stock, "the rejected checkout must not take a copy")
	assert.Equal(t, 1, CountRented(QueryRentalsByBook(t, ctx, store, book.ID)))
}

func Test_Checkout_Allows_Same_User_Again_After_Return(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)
	first, err := eng.Checkout(ctx, 7, book.ID, FixtureT0)
	require.NoError(t, err)
	_, err = eng.Return(ctx, first.ID, FixtureT0.Add(time.Hour))
	require.NoError(t, err)

	// act
	second, err := eng.Checkout(ctx, 7, book.ID, FixtureT0.Add(2*time.Hour))

	// assert
	assert.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "each checkout gets a new id")
}

func Test_Checkout_Then_Return_Restores_Stock(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 4)

	// act
	session, err := eng.Checkout(ctx, 7, book.ID, FixtureT0)
	require.NoError(t, err)
	assert.Equal(t, 3, QueryBook(t, ctx, store, book.ID).Stock)
	returned, err := eng.Return(ctx, session.ID, FixtureT0.Add(time.Hour))

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 4, QueryBook(t, ctx, store, book.ID).Stock)
	assert.True(t, returned.OverdueFee.IsZero(), "returned before the due time")
	if assert.NotNil(t, returned.ReturnTime) {
		assert.Equal(t, FixtureT0.Add(time.Hour), *returned.ReturnTime)
	}
}

func Test_Return_Twice_Fails_With_AlreadyReturned(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)
	session, err := eng.Checkout(ctx, 7, book.ID, FixtureT0)
	require.NoError(t, err)
	_, err = eng.Return(ctx, session.ID, FixtureT0.Add(time.Hour))
	require.NoError(t, err)

	// act
	_, err = eng.Return(ctx, session.ID, FixtureT0.Add(2*time.Hour))

	// assert
	assert.ErrorIs(t, err, ledger.ErrAlreadyReturned)
	assert.Equal(t, 1, QueryBook(t, ctx, store, book.ID).Stock, "stock must be incremented exactly once")
}

func Test_Return_Fails_When_Rental_Does_Not_Exist(t *testing.T) {
	// setup
	eng, err := engine.New(memstore.New())
	require.NoError(t, err)

	// act
	_, err = eng.Return(context.Background(), 99, FixtureT0)

	// assert
	var notFound *ledger.NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, ledger.EntityRental, notFound.Entity)
}

func Test_Return_Charges_Every_Started_Day(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)
	session, err := eng.Checkout(ctx, 7, book.ID, FixtureT0)
	require.NoError(t, err)

	// act
	returned, err := eng.Return(ctx, session.ID, session.DueTime.Add(25*time.Hour))

	// assert
	require.NoError(t, err)
	assert.Equal(t, ledger.MoneyFromUnits(10), returned.OverdueFee)

	stored, err := eng.GetRental(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, returned, stored, "the stored session matches the returned one")
}

func Test_Concurrent_Checkouts_Never_Oversell(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
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

	assert.Equal(t, stock, successes, "exactly stock checkouts may succeed")
	assert.Equal(t, 0, QueryBook(t, ctx, store, book.ID).Stock)
	assert.Equal(t, stock, CountRented(QueryRentalsByBook(t, ctx, store, book.ID)))
}

func Test_Concurrent_Checkouts_Of_Same_Pair_Succeed_Once(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	const callers = 10

	// arrange
	book := GivenBookWasAdded(t, ctx, store, callers)

	// act
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Checkout(ctx, 7, book.ID, FixtureT0)
			errs <- err
		}()
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
		assert.ErrorIs(t, err, ledger.ErrAlreadyRented)
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, QueryBook(t, ctx, store, book.ID).Stock)
}

func Test_Concurrent_Returns_Of_Same_Rental_Succeed_Once(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	eng, err := engine.New(store)
	require.NoError(t, err)

	const callers = 10

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)
	session, err := eng.Checkout(ctx, 7, book.ID, FixtureT0)
	require.NoError(t, err)

	// act
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Return(ctx, session.ID, FixtureT0.Add(time.Hour))
			errs <- err
		}()
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
		assert.ErrorIs(t, err, ledger.ErrAlreadyReturned)
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, QueryBook(t, ctx, store, book.ID).Stock)
}

func Test_Checkout_Rolls_Back_When_Insert_Fails(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	failure := errors.New("disk full")
	faulty := &faultyStore{delegate: store, insertErr: failure}
	eng, err := engine.New(faulty)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)

	// act
	_, err = eng.Checkout(ctx, 7, book.ID, FixtureT0)

	// assert
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 1, QueryBook(t, ctx, store, book.ID).Stock, "the decrement must be rolled back")
	assert.Empty(t, QueryRentalsByBook(t, ctx, store, book.ID))
}

func Test_Checkout_Retries_TransactionConflict(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	faulty := &faultyStore{delegate: store, conflicts: 2}
	metricsCollector := NewMetricsCollectorSpy(true)
	eng, err := engine.New(faulty,
		engine.WithMetrics(metricsCollector),
		engine.WithRetryOptions(retry.WithBaseDelay(time.Millisecond)),
	)
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)

	// act
	_, err = eng.Checkout(ctx, 7, book.ID, FixtureT0)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 3, faulty.calls(), "two conflicts and one successful attempt")
	assert.Equal(t, 0, QueryBook(t, ctx, store, book.ID).Stock)
	assert.True(t, metricsCollector.HasCounterRecordForMetric(retry.RetriesMetric).
		WithOperation("checkout").
		WithErrorType("transaction_conflict").
		Assert(), "should record retries")
}

func Test_Checkout_Surfaces_TransactionConflict_Without_Retries(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	faulty := &faultyStore{delegate: store, conflicts: 1}
	eng, err := engine.New(faulty, engine.WithRetryOptions(retry.WithMaxAttempts(1)))
	require.NoError(t, err)

	// arrange
	book := GivenBookWasAdded(t, ctx, store, 1)

	// act
	_, err = eng.Checkout(ctx, 7, book.ID, FixtureT0)

	// assert
	assert.ErrorIs(t, err, ledger.ErrTransactionConflict)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, 1, QueryBook(t, ctx, store, book.ID).Stock)
}

func Test_Return_Does_Not_Retry_StoreUnavailable(t *testing.T) {
	// setup
	faulty := &faultyStore{delegate: memstore.New(), unavailable: true}
	eng, err := engine.New(faulty)
	require.NoError(t, err)

	// act
	_, err = eng.Return(context.Background(), 1, FixtureT0)

	// assert
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, 1, faulty.calls())
}

func Test_New_Validates_Arguments(t *testing.T) {
	_, err := engine.New(nil)
	assert.ErrorIs(t, err, ledger.ErrNilStore)

	_, err = engine.New(memstore.New(), engine.WithRetryOptions(retry.WithMaxAttempts(0)))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)

	_, err = engine.New(memstore.New(), engine.WithOperationIDGenerator(nil))
	assert.ErrorIs(t, err, engine.ErrNilOperationIDGenerator)
}

func Test_Catalog_Operations(t *testing.T) {
	// setup
	ctx := context.Background()
	eng, err := engine.New(memstore.New())
	require.NoError(t, err)

	// act
	dune, err := eng.AddBook(ctx, ledger.NewBook{Title: "Dune", Author: "Frank Herbert", Stock: 2}, FixtureT0)
	require.NoError(t, err)
	emma, err := eng.AddBook(ctx, ledger.NewBook{Title: "Emma", Author: "Jane Austen", Stock: 0}, FixtureT0)
	require.NoError(t, err)
	_, invalidErr := eng.AddBook(ctx, ledger.NewBook{Title: "", Author: "Nobody", Stock: 1}, FixtureT0)

	session, err := eng.Checkout(ctx, 7, dune.ID, FixtureT0)
	require.NoError(t, err)

	books, err := eng.ListBooks(ctx)
	require.NoError(t, err)
	fetched, err := eng.GetBook(ctx, dune.ID)
	require.NoError(t, err)
	byUser, err := eng.ListRentalsByUser(ctx, 7)
	require.NoError(t, err)
	byBook, err := eng.ListRentalsByBook(ctx, dune.ID)
	require.NoError(t, err)
	_, missingErr := eng.GetBook(ctx, 404)

	// assert
	assert.ErrorIs(t, invalidErr, ledger.ErrInvalidInput)
	assert.Len(t, books, 2)
	assert.Equal(t, []int64{dune.ID, emma.ID}, []int64{books[0].ID, books[1].ID})
	assert.Equal(t, 1, fetched.Stock)
	assert.Equal(t, FixtureT0, fetched.CreatedAt)
	assert.Equal(t, []ledger.RentalSession{session}, byUser)
	assert.Equal(t, []ledger.RentalSession{session}, byBook)
	assert.ErrorIs(t, missingErr, ledger.ErrNotFound)
}

// faultyStore wraps a store and injects failures.
type faultyStore struct {
	delegate    ledger.Store
	conflicts   int
	unavailable bool
	insertErr   error

	mu      sync.Mutex
	counter int
}

func (s *faultyStore) RunInTx(ctx context.Context, fn ledger.TxFunc) error {
	s.mu.Lock()
	s.counter++
	attempt := s.counter
	s.mu.Unlock()

	if s.unavailable {
		return errors.Join(ledger.ErrStoreUnavailable, errors.New("connection refused"))
	}

	if attempt <= s.conflicts {
		return errors.Join(ledger.ErrTransactionConflict, errors.New("could not serialize access"))
	}

	return s.delegate.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, insertErr: s.insertErr})
	})
}

func (s *faultyStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counter
}

type faultyTx struct {
	ledger.Tx
	insertErr error
}

func (t *faultyTx) InsertRental(ctx context.Context, session ledger.RentalSession) (ledger.RentalSession, error) {
	if t.insertErr != nil {
		return ledger.RentalSession{}, t.insertErr
	}

	return t.Tx.InsertRental(ctx, session)
}
