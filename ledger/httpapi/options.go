package httpapi

import (
	"errors"
	"time"
)

var (
	// ErrNilLedger is returned when the handler is created without a ledger.
	ErrNilLedger = errors.New("httpapi: ledger must not be nil")

	// ErrNilClock is returned when WithClock receives nil.
	ErrNilClock = errors.New("httpapi: clock must not be nil")
)

// Option configures the handler.
type Option func(*Handler) error

// WithClock sets the source of the current time passed to the engine. Defaults to time.Now in UTC.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) error {
		if now == nil {
			return ErrNilClock
		}

		h.now = now

		return nil
	}
}
