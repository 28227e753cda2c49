package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/httpapi"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/memstore"
	. "github.com/AntonStoeckl/rental-ledger-go/testutil/helper" //nolint:revive
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func givenRouter(t *testing.T) (*gin.Engine, *fakeClock) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	eng, err := engine.New(memstore.New())
	require.NoError(t, err)

	clock := &fakeClock{now: FixtureT0}
	router := gin.New()
	require.NoError(t, httpapi.RegisterRoutes(router, eng, httpapi.WithClock(clock.Now)))

	return router, clock
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())

	return v
}

func givenBookWasCreated(t *testing.T, router http.Handler, stock int) httpapi.BookResponse {
	t.Helper()

	rec := do(t, router, http.MethodPost, "/books",
		`{"title":"The Go Programming Language","author":"Donovan","stock":`+strconv.Itoa(stock)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	return decode[httpapi.BookResponse](t, rec)
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func Test_CreateBook_Returns_Created_With_Location(t *testing.T) {
	// setup
	router, _ := givenRouter(t)

	// act
	rec := do(t, router, http.MethodPost, "/books", `{"title":"Dune","author":"Herbert","stock":0}`)

	// assert
	require.Equal(t, http.StatusCreated, rec.Code)
	book := decode[httpapi.BookResponse](t, rec)
	assert.Equal(t, "/books/1", rec.Header().Get("Location"))
	assert.Equal(t, int64(1), book.ID)
	assert.Equal(t, 0, book.Stock)
	assert.Equal(t, FixtureT0, book.CreatedAt)
}

func Test_CreateBook_Rejects_Missing_Fields(t *testing.T) {
	testCases := []struct {
		description string
		body        string
		expected    int
	}{
		{description: "malformed json", body: `{"title":`, expected: http.StatusBadRequest},
		{description: "missing stock", body: `{"title":"Dune","author":"Herbert"}`, expected: http.StatusBadRequest},
		{description: "missing title", body: `{"author":"Herbert","stock":1}`, expected: http.StatusBadRequest},
		{description: "negative stock", body: `{"title":"Dune","author":"Herbert","stock":-1}`, expected: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// setup
			router, _ := givenRouter(t)

			// act
			rec := do(t, router, http.MethodPost, "/books", tc.body)

			// assert
			assert.Equal(t, tc.expected, rec.Code)
			assert.Equal(t, httpapi.CodeInvalidArgument, decode[httpapi.ErrorBody](t, rec).Error.Code)
		})
	}
}

func Test_Checkout_And_Return_Overdue_Computes_Fee(t *testing.T) {
	// setup
	router, clock := givenRouter(t)

	// arrange
	book := givenBookWasCreated(t, router, 1)

	// act
	checkout := do(t, router, http.MethodPost, "/rentals", `{"user_id":7,"book_id":`+id(book.ID)+`}`)
	require.Equal(t, http.StatusCreated, checkout.Code, checkout.Body.String())
	rental := decode[httpapi.RentalResponse](t, checkout)

	clock.Advance(ledger.LoanPeriod + 25*time.Hour)
	overdue := do(t, router, http.MethodGet, "/rentals/"+id(rental.ID), "")
	returned := do(t, router, http.MethodPost, "/rentals/"+id(rental.ID)+"/return", "")

	// assert
	assert.Equal(t, "/rentals/1", checkout.Header().Get("Location"))
	assert.Equal(t, "rented", rental.Status)
	assert.Equal(t, "0.00", rental.OverdueFee)
	assert.Equal(t, FixtureT0.Add(ledger.LoanPeriod), rental.DueTime)

	require.Equal(t, http.StatusOK, overdue.Code)
	assert.Equal(t, "overdue", decode[httpapi.RentalResponse](t, overdue).Status)

	require.Equal(t, http.StatusOK, returned.Code, returned.Body.String())
	closed := decode[httpapi.RentalResponse](t, returned)
	assert.Equal(t, "returned", closed.Status)
	assert.Equal(t, "10.00", closed.OverdueFee)
	require.NotNil(t, closed.ReturnTime)
	assert.Equal(t, clock.Now(), *closed.ReturnTime)

	bookAfter := decode[httpapi.BookResponse](t, do(t, router, http.MethodGet, "/books/"+id(book.ID), ""))
	assert.Equal(t, 1, bookAfter.Stock)
}

func Test_Checkout_Maps_Failure_Kinds_To_Status_Codes(t *testing.T) {
	// setup
	router, _ := givenRouter(t)

	// arrange
	twoCopies := givenBookWasCreated(t, router, 2)
	oneCopy := givenBookWasCreated(t, router, 1)
	duplicateBody := `{"user_id":7,"book_id":` + id(twoCopies.ID) + `}`
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/rentals", duplicateBody).Code)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/rentals", `{"user_id":7,"book_id":`+id(oneCopy.ID)+`}`).Code)

	// act
	again := do(t, router, http.MethodPost, "/rentals", duplicateBody)
	otherUser := do(t, router, http.MethodPost, "/rentals", `{"user_id":8,"book_id":`+id(oneCopy.ID)+`}`)
	missing := do(t, router, http.MethodPost, "/rentals", `{"user_id":7,"book_id":999}`)
	invalid := do(t, router, http.MethodPost, "/rentals", `{"user_id":7}`)

	// assert
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, httpapi.CodeAlreadyRented, decode[httpapi.ErrorBody](t, again).Error.Code)
	assert.Equal(t, http.StatusConflict, otherUser.Code)
	assert.Equal(t, httpapi.CodeOutOfStock, decode[httpapi.ErrorBody](t, otherUser).Error.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, httpapi.CodeNotFound, decode[httpapi.ErrorBody](t, missing).Error.Code)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	bookAfter := decode[httpapi.BookResponse](t, do(t, router, http.MethodGet, "/books/"+id(twoCopies.ID), ""))
	assert.Equal(t, 1, bookAfter.Stock)
}

func Test_Checkout_Rejects_Non_Positive_Body_Ids(t *testing.T) {
	// setup
	router, _ := givenRouter(t)
	book := givenBookWasCreated(t, router, 1)

	tests := []struct {
		name string
		body string
	}{
		{"negative user", `{"user_id":-7,"book_id":` + id(book.ID) + `}`},
		{"negative book", `{"user_id":7,"book_id":-1}`},
		{"zero user", `{"user_id":0,"book_id":` + id(book.ID) + `}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// act
			rec := do(t, router, http.MethodPost, "/rentals", tc.body)

			// assert
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, httpapi.CodeInvalidArgument, decode[httpapi.ErrorBody](t, rec).Error.Code)
		})
	}

	rentals := decode[httpapi.ListResponse[httpapi.RentalResponse]](t, do(t, router, http.MethodGet, "/books/"+id(book.ID)+"/rentals", ""))
	assert.Zero(t, rentals.Total)
}

func Test_Return_Twice_Returns_Conflict(t *testing.T) {
	// setup
	router, _ := givenRouter(t)

	// arrange
	book := givenBookWasCreated(t, router, 1)
	rental := decode[httpapi.RentalResponse](t,
		do(t, router, http.MethodPost, "/rentals", `{"user_id":7,"book_id":`+id(book.ID)+`}`))
	path := "/rentals/" + id(rental.ID) + "/return"
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, path, "").Code)

	// act
	rec := do(t, router, http.MethodPost, path, "")

	// assert
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httpapi.CodeAlreadyReturned, decode[httpapi.ErrorBody](t, rec).Error.Code)
}

func Test_Path_IDs_Must_Be_Positive_Integers(t *testing.T) {
	// setup
	router, _ := givenRouter(t)

	for _, path := range []string{"/books/abc", "/books/0", "/rentals/-1", "/users/x/rentals"} {
		// act
		rec := do(t, router, http.MethodGet, path, "")

		// assert
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func Test_List_Endpoints_Return_Items_In_Order(t *testing.T) {
	// setup
	router, clock := givenRouter(t)

	// arrange
	first := givenBookWasCreated(t, router, 2)
	second := givenBookWasCreated(t, router, 2)
	for _, bookID := range []int64{second.ID, first.ID} {
		rec := do(t, router, http.MethodPost, "/rentals", `{"user_id":7,"book_id":`+id(bookID)+`}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		clock.Advance(time.Minute)
	}

	// act
	books := decode[httpapi.ListResponse[httpapi.BookResponse]](t, do(t, router, http.MethodGet, "/books", ""))
	byUser := decode[httpapi.ListResponse[httpapi.RentalResponse]](t, do(t, router, http.MethodGet, "/users/7/rentals", ""))
	byBook := decode[httpapi.ListResponse[httpapi.RentalResponse]](t,
		do(t, router, http.MethodGet, "/books/"+id(first.ID)+"/rentals", ""))
	nobody := decode[httpapi.ListResponse[httpapi.RentalResponse]](t, do(t, router, http.MethodGet, "/users/99/rentals", ""))

	// assert
	require.Equal(t, 2, books.Total)
	assert.Equal(t, first.ID, books.Items[0].ID)
	assert.Equal(t, second.ID, books.Items[1].ID)

	require.Equal(t, 2, byUser.Total)
	assert.Equal(t, second.ID, byUser.Items[0].BookID)
	assert.Equal(t, first.ID, byUser.Items[1].BookID)

	require.Equal(t, 1, byBook.Total)
	assert.Equal(t, first.ID, byBook.Items[0].BookID)

	assert.Equal(t, 0, nobody.Total)
	assert.NotNil(t, nobody.Items)
}

func Test_ToHTTPStatus_Maps_Every_Kind(t *testing.T) {
	testCases := []struct {
		err      error
		expected int
	}{
		{err: nil, expected: http.StatusOK},
		{err: ledger.NewNotFoundError(ledger.EntityBook, 1), expected: http.StatusNotFound},
		{err: ledger.ErrOutOfStock, expected: http.StatusConflict},
		{err: ledger.ErrAlreadyRented, expected: http.StatusConflict},
		{err: ledger.ErrAlreadyReturned, expected: http.StatusConflict},
		{err: ledger.ErrInvalidInput, expected: http.StatusBadRequest},
		{err: ledger.ErrTransactionConflict, expected: http.StatusServiceUnavailable},
		{err: ledger.ErrStoreUnavailable, expected: http.StatusServiceUnavailable},
		{err: assert.AnError, expected: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, httpapi.ToHTTPStatus(tc.err), "%v", tc.err)
	}
}

func Test_NewHandler_Validates_Input(t *testing.T) {
	// setup
	eng, err := engine.New(memstore.New())
	require.NoError(t, err)

	// act
	_, nilLedgerErr := httpapi.NewHandler(nil)
	_, nilClockErr := httpapi.NewHandler(eng, httpapi.WithClock(nil))

	// assert
	assert.ErrorIs(t, nilLedgerErr, httpapi.ErrNilLedger)
	assert.ErrorIs(t, nilClockErr, httpapi.ErrNilClock)
}
