package ledger

import "time"

// Status is the lifecycle state of a RentalSession.
type Status string

const (
	StatusRented   Status = "rented"
	StatusReturned Status = "returned"

	// StatusOverdue is informational. It is never stored; see RentalSession.EffectiveStatus.
	StatusOverdue Status = "overdue"
)

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRented, StatusReturned, StatusOverdue:
		return true
	default:
		return false
	}
}

// Book is a catalog entry. Stock is the number of copies currently available.
type Book struct {
	ID        int64
	Title     string
	Author    string
	Stock     int
	CreatedAt time.Time
}

// NewBook holds the input for adding a book to the catalog.
type NewBook struct {
	Title  string
	Author string
	Stock  int
}

// RentalSession records one checkout of one book by one user.
type RentalSession struct {
	ID           int64
	UserID       int64
	BookID       int64
	CheckoutTime time.Time
	DueTime      time.Time
	ReturnTime   *time.Time
	Status       Status
	OverdueFee   Money
}

// NewRentalSession builds the session a successful checkout inserts. The id is assigned by the store.
func NewRentalSession(userID, bookID int64, now time.Time) RentalSession {
	return RentalSession{
		UserID:       userID,
		BookID:       bookID,
		CheckoutTime: now,
		DueTime:      now.Add(LoanPeriod),
		Status:       StatusRented,
		OverdueFee:   0,
	}
}

// IsRented reports whether the session still holds a copy of the book.
func (s RentalSession) IsRented() bool {
	return s.Status == StatusRented
}

// Closed returns the session as a return at now leaves it.
func (s RentalSession) Closed(now time.Time) RentalSession {
	returned := now
	s.ReturnTime = &returned
	s.Status = StatusReturned
	s.OverdueFee = ComputeFee(s.DueTime, now)

	return s
}

// EffectiveStatus reports StatusOverdue for a rented session whose due time has passed at now.
func (s RentalSession) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusRented && now.After(s.DueTime) {
		return StatusOverdue
	}

	return s.Status
}

// Validate checks a NewBook before it reaches the store.
func (b NewBook) Validate() error {
	switch {
	case b.Title == "":
		return invalidInput("title must not be empty")
	case b.Author == "":
		return invalidInput("author must not be empty")
	case b.Stock < 0:
		return invalidInput("stock must not be negative")
	default:
		return nil
	}
}
