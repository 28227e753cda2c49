package engine

import (
	"errors"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/retry"
)

// ErrNilOperationIDGenerator is returned when WithOperationIDGenerator receives nil.
var ErrNilOperationIDGenerator = errors.New("engine: operation id generator must not be nil")

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithLogger sets the basic logger. It is ignored when a contextual logger is configured.
//
// Info level: operation start and completion with ids and durations.
// Error level: failed operations with their failure kind.
func WithLogger(logger ledger.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for trace-correlated records.
func WithContextualLogger(logger ledger.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector. It also labels the retry metrics of every operation.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector.
func WithTracing(collector ledger.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}

// WithRetryOptions replaces the retry configuration used for transaction conflicts.
// Pass retry.WithMaxAttempts(1) to surface conflicts to the caller without retrying.
func WithRetryOptions(options ...retry.Option) Option {
	return func(e *Engine) error {
		if err := retry.Validate(options...); err != nil {
			return err
		}

		e.retryOptions = options

		return nil
	}
}

// WithOperationIDGenerator replaces the generator of the operation_id attached to logs and spans.
func WithOperationIDGenerator(generate func() string) Option {
	return func(e *Engine) error {
		if generate == nil {
			return ErrNilOperationIDGenerator
		}

		e.newOperationID = generate

		return nil
	}
}
