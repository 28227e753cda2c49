// Package retry re-runs ledger operations that failed with a transaction conflict,
// using exponential backoff with jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3

	// RetriesMetric counts retry attempts per operation, attempt number and error type.
	RetriesMetric = "ledger_retries_total"

	// RetryDelayMetric records the backoff delay before each retry.
	RetryDelayMetric = "ledger_retry_delay_seconds"

	// MaxRetriesReachedMetric counts operations that exhausted all attempts.
	MaxRetriesReachedMetric = "ledger_max_retries_reached_total"

	labelOperation      = "operation"
	labelAttemptNumber  = "attempt_number"
	labelErrorType      = "error_type"
	labelFinalErrorType = "final_error_type"
)

var (
	// ErrNilMetricsCollector is returned when a nil metrics collector is provided to WithMetrics.
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")

	// ErrEmptyOperation is returned when an empty operation name is provided to WithMetrics.
	ErrEmptyOperation = errors.New("operation must not be empty")

	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// Func is a function that can be retried.
type Func func(ctx context.Context) error

// Metrics describes how a retried call went.
type Metrics struct {
	// Attempts is the number of calls made (1 when the first call succeeded or failed permanently).
	Attempts int

	// TotalDelay is the time spent waiting between attempts.
	TotalDelay time.Duration

	// LastErrorType is the failure kind of the final call, "none" on success.
	LastErrorType string

	// RetriesExhausted is true when every attempt failed with a retryable error.
	RetriesExhausted bool
}

type config struct {
	maxAttempts      int
	baseDelay        time.Duration
	jitterFactor     float64
	metricsCollector ledger.MetricsCollector
	operation        string
}

// Option configures retry behavior.
type Option func(*config) error

// WithExponentialBackoff runs fn and retries it while it fails with ledger.ErrTransactionConflict.
//
// Retry schedule (default): 0 ms, 10 ms, 20 ms, 40 ms, 80 ms, 160 ms (plus up to 30% jitter).
// Every other error, context cancellation included, is returned immediately.
func WithExponentialBackoff(ctx context.Context, fn Func, options ...Option) (Metrics, error) {
	cfg := &config{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return Metrics{}, err
		}
	}

	var (
		lastErr error
		meta    Metrics
	)

	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.jitterFactor //nolint:gosec // math/rand is sufficient for jitter
			backoff := delay + time.Duration(jitter)

			recordDelay(ctx, cfg, attempt, backoff)

			select {
			case <-time.After(backoff):
				meta.TotalDelay += backoff
			case <-ctx.Done():
				meta.LastErrorType = errorType(ctx.Err())
				return meta, ctx.Err()
			}
		}

		meta.Attempts++

		lastErr = fn(ctx)
		if lastErr == nil {
			meta.LastErrorType = errorType(nil)
			return meta, nil
		}

		meta.LastErrorType = errorType(lastErr)

		if !ledger.IsRetryable(lastErr) {
			return meta, lastErr
		}

		if attempt < cfg.maxAttempts-1 {
			recordAttempt(ctx, cfg, attempt+1, lastErr)
		}
	}

	meta.RetriesExhausted = true
	recordExhausted(ctx, cfg, lastErr)

	return meta, lastErr
}

func errorType(err error) string {
	return string(ledger.KindOf(err))
}

func recordDelay(ctx context.Context, cfg *config, attempt int, backoff time.Duration) {
	if cfg.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation:     cfg.operation,
		labelAttemptNumber: fmt.Sprintf("%d", attempt),
	}

	if contextual, ok := cfg.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, RetryDelayMetric, backoff, labels)
		return
	}

	cfg.metricsCollector.RecordDuration(RetryDelayMetric, backoff, labels)
}

func recordAttempt(ctx context.Context, cfg *config, attempt int, err error) {
	if cfg.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation:     cfg.operation,
		labelAttemptNumber: fmt.Sprintf("%d", attempt),
		labelErrorType:     errorType(err),
	}

	if contextual, ok := cfg.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, RetriesMetric, labels)
		return
	}

	cfg.metricsCollector.IncrementCounter(RetriesMetric, labels)
}

func recordExhausted(ctx context.Context, cfg *config, err error) {
	if cfg.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation:      cfg.operation,
		labelFinalErrorType: errorType(err),
	}

	if contextual, ok := cfg.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, MaxRetriesReachedMetric, labels)
		return
	}

	cfg.metricsCollector.IncrementCounter(MaxRetriesReachedMetric, labels)
}

// Validate applies options to a default configuration and returns the first option error.
func Validate(options ...Option) error {
	cfg := &config{}
	for _, option := range options {
		if err := option(cfg); err != nil {
			return err
		}
	}

	return nil
}

// WithMaxAttempts sets the total number of calls, the first one included. 1 disables retries.
func WithMaxAttempts(attempts int) Option {
	return func(cfg *config) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		cfg.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
// Actual delays: baseDelay, baseDelay*2, baseDelay*4, baseDelay*8, etc.
func WithBaseDelay(delay time.Duration) Option {
	return func(cfg *config) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		cfg.baseDelay = delay

		return nil
	}
}

// WithJitterFactor sets the jitter as a fraction of the backoff delay, between 0.0 and 1.0.
func WithJitterFactor(factor float64) Option {
	return func(cfg *config) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		cfg.jitterFactor = factor

		return nil
	}
}

// WithMetrics sets the metrics collector. operation labels every recorded metric.
func WithMetrics(collector ledger.MetricsCollector, operation string) Option {
	return func(cfg *config) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		if operation == "" {
			return ErrEmptyOperation
		}

		cfg.metricsCollector = collector
		cfg.operation = operation

		return nil
	}
}
