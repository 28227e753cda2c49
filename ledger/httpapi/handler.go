package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// Ledger is the set of engine operations the handlers call. *engine.Engine satisfies it.
type Ledger interface {
	Checkout(ctx context.Context, userID, bookID int64, now time.Time) (ledger.RentalSession, error)
	Return(ctx context.Context, rentalID int64, now time.Time) (ledger.RentalSession, error)
	AddBook(ctx context.Context, book ledger.NewBook, now time.Time) (ledger.Book, error)
	GetBook(ctx context.Context, bookID int64) (ledger.Book, error)
	ListBooks(ctx context.Context) ([]ledger.Book, error)
	GetRental(ctx context.Context, rentalID int64) (ledger.RentalSession, error)
	ListRentalsByUser(ctx context.Context, userID int64) ([]ledger.RentalSession, error)
	ListRentalsByBook(ctx context.Context, bookID int64) ([]ledger.RentalSession, error)
}

// Handler serves the ledger routes.
type Handler struct {
	ledger Ledger
	now    func() time.Time
}

// NewHandler creates a Handler for the given ledger.
func NewHandler(l Ledger, options ...Option) (*Handler, error) {
	if l == nil {
		return nil, ErrNilLedger
	}

	h := &Handler{
		ledger: l,
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		if err := option(h); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// RegisterRoutes creates a Handler and mounts its routes on r.
func RegisterRoutes(r gin.IRoutes, l Ledger, options ...Option) error {
	h, err := NewHandler(l, options...)
	if err != nil {
		return err
	}

	h.Register(r)

	return nil
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/books", h.CreateBook)
	r.GET("/books", h.ListBooks)
	r.GET("/books/:id", h.GetBook)
	r.GET("/books/:id/rentals", h.ListRentalsByBook)

	r.POST("/rentals", h.Checkout)
	r.GET("/rentals/:id", h.GetRental)
	r.POST("/rentals/:id/return", h.Return)

	r.GET("/users/:id/rentals", h.ListRentalsByUser)
}

// POST /books
func (h *Handler) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	book, err := h.ledger.AddBook(c.Request.Context(), ledger.NewBook{
		Title:  req.Title,
		Author: req.Author,
		Stock:  *req.Stock,
	}, h.now())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Header("Location", "/books/"+strconv.FormatInt(book.ID, 10))
	c.JSON(http.StatusCreated, NewBookResponse(book))
}

// GET /books
func (h *Handler) ListBooks(c *gin.Context) {
	books, err := h.ledger.ListBooks(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewBookList(books))
}

// GET /books/:id
func (h *Handler) GetBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	book, err := h.ledger.GetBook(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewBookResponse(book))
}

// GET /books/:id/rentals
func (h *Handler) ListRentalsByBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	rentals, err := h.ledger.ListRentalsByBook(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewRentalList(rentals, h.now()))
}

// POST /rentals
func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	now := h.now()
	rental, err := h.ledger.Checkout(c.Request.Context(), req.UserID, req.BookID, now)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Header("Location", "/rentals/"+strconv.FormatInt(rental.ID, 10))
	c.JSON(http.StatusCreated, NewRentalResponse(rental, now))
}

// GET /rentals/:id
func (h *Handler) GetRental(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	rental, err := h.ledger.GetRental(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewRentalResponse(rental, h.now()))
}

// POST /rentals/:id/return
func (h *Handler) Return(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	now := h.now()
	rental, err := h.ledger.Return(c.Request.Context(), id, now)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewRentalResponse(rental, now))
}

// GET /users/:id/rentals
func (h *Handler) ListRentalsByUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	rentals, err := h.ledger.ListRentalsByUser(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewRentalList(rentals, h.now()))
}

// pathID parses the :id path parameter and writes a 400 response when it is not a positive integer.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "id must be a positive integer"))
		return 0, false
	}

	return id, true
}

func abortWithError(c *gin.Context, err error) {
	if ledger.KindOf(err) == ledger.KindTransactionConflict {
		c.Header("Retry-After", "1")
	}

	_ = c.Error(err)
	c.JSON(ToHTTPStatus(err), errorFromErr(err))
}
