package httpapi

import (
	"time"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// CreateBookRequest is the body of POST /books.
type CreateBookRequest struct {
	Title  string `json:"title" binding:"required"`
	Author string `json:"author" binding:"required"`
	Stock  *int   `json:"stock" binding:"required"`
}

// CheckoutRequest is the body of POST /rentals.
type CheckoutRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
	BookID int64 `json:"book_id" binding:"required,gt=0"`
}

// BookResponse is the JSON form of a ledger.Book.
type BookResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
}

// RentalResponse is the JSON form of a ledger.RentalSession.
// Status is the effective status at the time of the request.
type RentalResponse struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	BookID       int64      `json:"book_id"`
	CheckoutTime time.Time  `json:"checkout_time"`
	DueTime      time.Time  `json:"due_time"`
	ReturnTime   *time.Time `json:"return_time"`
	Status       string     `json:"status"`
	OverdueFee   string     `json:"overdue_fee"`
}

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// NewBookResponse converts a book into its JSON form.
func NewBookResponse(b ledger.Book) BookResponse {
	return BookResponse{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		Stock:     b.Stock,
		CreatedAt: b.CreatedAt.UTC(),
	}
}

// NewRentalResponse converts a session into its JSON form, reporting the effective status at now.
func NewRentalResponse(r ledger.RentalSession, now time.Time) RentalResponse {
	res := RentalResponse{
		ID:           r.ID,
		UserID:       r.UserID,
		BookID:       r.BookID,
		CheckoutTime: r.CheckoutTime.UTC(),
		DueTime:      r.DueTime.UTC(),
		Status:       string(r.EffectiveStatus(now)),
		OverdueFee:   r.OverdueFee.String(),
	}
	if r.ReturnTime != nil {
		returned := r.ReturnTime.UTC()
		res.ReturnTime = &returned
	}

	return res
}

// NewBookList wraps books in a ListResponse. An empty input renders as an empty array.
func NewBookList(books []ledger.Book) ListResponse[BookResponse] {
	items := make([]BookResponse, 0, len(books))
	for _, b := range books {
		items = append(items, NewBookResponse(b))
	}

	return ListResponse[BookResponse]{Items: items, Total: len(items)}
}

// NewRentalList wraps sessions in a ListResponse.
func NewRentalList(rentals []ledger.RentalSession, now time.Time) ListResponse[RentalResponse] {
	items := make([]RentalResponse, 0, len(rentals))
	for _, r := range rentals {
		items = append(items, NewRentalResponse(r, now))
	}

	return ListResponse[RentalResponse]{Items: items, Total: len(items)}
}
