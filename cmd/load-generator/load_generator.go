package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

const (
	operationTimeout = 5 * time.Second
	statsInterval    = 10 * time.Second
)

// Ledger is the subset of the engine the load generator drives.
type Ledger interface {
	AddBook(ctx context.Context, book ledger.NewBook, now time.Time) (ledger.Book, error)
	GetBook(ctx context.Context, bookID int64) (ledger.Book, error)
	Checkout(ctx context.Context, userID, bookID int64, now time.Time) (ledger.RentalSession, error)
	Return(ctx context.Context, rentalID int64, now time.Time) (ledger.RentalSession, error)
	ListRentalsByBook(ctx context.Context, bookID int64) ([]ledger.RentalSession, error)
}

// LoadGenerator runs concurrent checkouts and returns against a ledger and
// verifies afterwards that no copy was lost or created.
type LoadGenerator struct {
	ledger Ledger
	config Config
	logger *slog.Logger

	books []int64

	// ids of rentals this run opened and has not yet tried to return
	openMu sync.Mutex
	open   []int64

	mu           sync.RWMutex
	outcome      map[string]int64
	requestCount int64
	startTime    time.Time

	wg sync.WaitGroup
}

// NewLoadGenerator creates a LoadGenerator for the given ledger and configuration.
func NewLoadGenerator(l Ledger, config Config, logger *slog.Logger) *LoadGenerator {
	return &LoadGenerator{
		ledger:  l,
		config:  config,
		logger:  logger,
		outcome: make(map[string]int64),
	}
}

// Seed adds the configured number of books, each with the configured stock.
func (lg *LoadGenerator) Seed(ctx context.Context) error {
	for i := range lg.config.Books {
		book, err := lg.ledger.AddBook(ctx, ledger.NewBook{
			Title:  fmt.Sprintf("Load Test Book %d", i+1),
			Author: "Test Author",
			Stock:  lg.config.Stock,
		}, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("seed book %d: %w", i+1, err)
		}

		lg.books = append(lg.books, book.ID)
	}

	return nil
}

// Start runs the workers until ctx is done and waits for them to finish.
func (lg *LoadGenerator) Start(ctx context.Context) {
	lg.mu.Lock()
	lg.startTime = time.Now()
	lg.requestCount = 0
	lg.mu.Unlock()

	lg.logger.Info("load generator starting",
		"workers", lg.config.Workers,
		"books", len(lg.books),
		"users", lg.config.Users,
		"initial_goroutines", runtime.NumGoroutine(),
	)

	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()

	lg.wg.Add(1)
	go lg.statsReporter(reporterCtx)

	var workers sync.WaitGroup
	for w := range lg.config.Workers {
		workers.Add(1)
		go func(seed int64) {
			defer workers.Done()
			lg.work(ctx, rand.New(rand.NewSource(seed))) //nolint:gosec // load generation needs no crypto randomness
		}(time.Now().UnixNano() + int64(w))
	}

	workers.Wait()
	stopReporter()
	lg.wg.Wait()
}

func (lg *LoadGenerator) work(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		var err error
		if rng.Float64() < lg.config.ReturnRatio {
			err = lg.returnOne(ctx, rng)
		} else {
			err = lg.checkoutOne(ctx, rng)
		}

		lg.record(ctx, err)
	}
}

func (lg *LoadGenerator) checkoutOne(ctx context.Context, rng *rand.Rand) error {
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	userID := rng.Int63n(int64(lg.config.Users)) + 1
	bookID := lg.books[rng.Intn(len(lg.books))]

	rental, err := lg.ledger.Checkout(opCtx, userID, bookID, time.Now().UTC())
	if err != nil {
		return err
	}

	lg.openMu.Lock()
	lg.open = append(lg.open, rental.ID)
	lg.openMu.Unlock()

	return nil
}

func (lg *LoadGenerator) returnOne(ctx context.Context, rng *rand.Rand) error {
	lg.openMu.Lock()
	if len(lg.open) == 0 {
		lg.openMu.Unlock()
		return errNothingToReturn
	}

	i := rng.Intn(len(lg.open))
	rentalID := lg.open[i]
	lg.open[i] = lg.open[len(lg.open)-1]
	lg.open = lg.open[:len(lg.open)-1]
	lg.openMu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err := lg.ledger.Return(opCtx, rentalID, time.Now().UTC())

	return err
}

var (
	errNothingToReturn = errors.New("no open rental to return")
	errInvalidFlag     = errors.New("invalid flag")
)

const (
	outcomeSuccess  = "success"
	outcomeSkipped  = "skipped"
	outcomeCanceled = "canceled"
)

func (lg *LoadGenerator) record(ctx context.Context, err error) {
	var key string
	switch {
	case err == nil:
		key = outcomeSuccess
	case errors.Is(err, errNothingToReturn):
		key = outcomeSkipped
	case ctx.Err() != nil:
		// the run ended while the operation was in flight
		key = outcomeCanceled
	default:
		key = string(ledger.KindOf(err))
	}

	lg.mu.Lock()
	lg.requestCount++
	lg.outcome[key]++
	lg.mu.Unlock()

	if ledger.KindOf(err) == ledger.KindStoreUnavailable || ledger.KindOf(err) == ledger.KindUnknown {
		lg.logger.Warn("operation failed", "error", err.Error())
	}
}

func (lg *LoadGenerator) statsReporter(ctx context.Context) {
	defer lg.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lg.logCurrentStats()
		}
	}
}

func (lg *LoadGenerator) logCurrentStats() {
	lg.mu.RLock()
	duration := time.Since(lg.startTime)
	requests := lg.requestCount
	lg.mu.RUnlock()

	if duration > 0 {
		lg.logger.Info("load generator stats",
			"requests", requests,
			"duration", duration.Truncate(time.Second).String(),
			"requests_per_second", float64(requests)/duration.Seconds(),
			"goroutines", runtime.NumGoroutine(),
		)
	}
}

// Report is the JSON summary printed when the run ends.
type Report struct {
	Store             string           `json:"store"`
	DurationSeconds   float64          `json:"duration_seconds"`
	Requests          int64            `json:"requests"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	Outcomes          map[string]int64 `json:"outcomes"`
	Books             []BookCheck      `json:"books"`
	Consistent        bool             `json:"consistent"`
}

// BookCheck compares the remaining stock plus the open rentals of a book with its initial stock.
type BookCheck struct {
	BookID     int64 `json:"book_id"`
	Initial    int   `json:"initial"`
	Stock      int   `json:"stock"`
	Rented     int   `json:"rented"`
	Consistent bool  `json:"consistent"`
}

// Report reads the final state of every seeded book and summarizes the run.
func (lg *LoadGenerator) Report(ctx context.Context) (Report, error) {
	lg.mu.RLock()
	duration := time.Since(lg.startTime)
	report := Report{
		Store:           lg.config.Store,
		DurationSeconds: duration.Seconds(),
		Requests:        lg.requestCount,
		Outcomes:        make(map[string]int64, len(lg.outcome)),
		Consistent:      true,
	}
	for k, v := range lg.outcome {
		report.Outcomes[k] = v
	}
	lg.mu.RUnlock()

	if duration > 0 {
		report.RequestsPerSecond = float64(report.Requests) / duration.Seconds()
	}

	for _, bookID := range lg.books {
		book, err := lg.ledger.GetBook(ctx, bookID)
		if err != nil {
			return Report{}, err
		}

		rentals, err := lg.ledger.ListRentalsByBook(ctx, bookID)
		if err != nil {
			return Report{}, err
		}

		check := BookCheck{BookID: bookID, Initial: lg.config.Stock, Stock: book.Stock}
		for _, r := range rentals {
			if r.IsRented() {
				check.Rented++
			}
		}

		check.Consistent = check.Stock+check.Rented == check.Initial && check.Stock >= 0
		report.Consistent = report.Consistent && check.Consistent
		report.Books = append(report.Books, check)
	}

	return report, nil
}
