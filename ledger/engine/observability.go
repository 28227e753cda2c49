package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/retry"
)

const (
	// OperationDurationMetric tracks engine operation duration.
	OperationDurationMetric = "ledger_operation_duration_seconds"

	// OperationCallsMetric counts engine operations by outcome.
	OperationCallsMetric = "ledger_operation_calls_total"

	// OperationFailuresMetric counts failed operations by failure kind.
	OperationFailuresMetric = "ledger_operation_failures_total"

	// BookStockMetric reports the stock of a book after a checkout or return.
	BookStockMetric = "ledger_book_stock"

	// OverdueFeeMetric reports the fee charged by a return, in currency units.
	OverdueFeeMetric = "ledger_overdue_fee"

	// StatusSuccess indicates the operation committed.
	StatusSuccess = "success"

	// StatusRejected indicates a business rule refused the operation.
	StatusRejected = "rejected"

	// StatusConflict indicates the store aborted the transaction because of concurrent access.
	StatusConflict = "conflict"

	// StatusCanceled indicates the context was canceled.
	StatusCanceled = "canceled"

	// StatusTimeout indicates the context deadline was exceeded.
	StatusTimeout = "timeout"

	// StatusError indicates an infrastructure failure.
	StatusError = "error"

	// SpanNamePrefix prefixes the span name of every operation, e.g. "ledger.checkout".
	SpanNamePrefix = "ledger."

	operationCheckout    = "checkout"
	operationReturn      = "return"
	operationAddBook     = "add_book"
	operationGetBook     = "get_book"
	operationListBooks   = "list_books"
	operationGetRental   = "get_rental"
	operationListRentals = "list_rentals"

	logMsgOperationStarted   = "ledger operation started"
	logMsgOperationCompleted = "ledger operation completed"
	logMsgOperationRejected  = "ledger operation rejected"
	logMsgOperationFailed    = "ledger operation failed"

	attrOperation        = "operation"
	attrOperationID      = "operation_id"
	attrStatus           = "status"
	attrErrorType        = "error_type"
	attrError            = "error"
	attrDurationMS       = "duration_ms"
	attrRetryAttempts    = "retry_attempts"
	attrUserID           = "user_id"
	attrBookID           = "book_id"
	attrRentalID         = "rental_id"
	attrDueTime          = "due_time"
	attrOverdueFee       = "overdue_fee"
	attrStock            = "stock"
	attrResultCount      = "result_count"
	attrRetriesExhausted = "retries_exhausted"
)

// operation carries the observability state of one engine call.
type operation struct {
	e     *Engine
	ctx   context.Context
	name  string
	args  []any
	span  ledger.SpanContext
	start time.Time
	retry retry.Metrics
}

func (e *Engine) startOperation(ctx context.Context, name string, args ...any) *operation {
	base := append([]any{attrOperation, name, attrOperationID, e.newOperationID()}, args...)

	ctx, span := e.startSpan(ctx, SpanNamePrefix+name, toAttributes(base))

	op := &operation{
		e:     e,
		ctx:   ctx,
		name:  name,
		args:  base,
		span:  span,
		start: time.Now(),
	}

	e.logInfo(ctx, logMsgOperationStarted, base...)

	return op
}

// run executes fn under the engine's retry policy.
func (op *operation) run(fn retry.Func) error {
	options := append([]retry.Option(nil), op.e.retryOptions...)
	if op.e.metricsCollector != nil {
		options = append(options, retry.WithMetrics(op.e.metricsCollector, op.name))
	}

	meta, err := retry.WithExponentialBackoff(op.ctx, fn, options...)
	op.retry = meta

	return err
}

func (op *operation) succeed(args ...any) {
	duration := time.Since(op.start)

	op.e.recordOperationMetrics(op.ctx, op.name, StatusSuccess, duration)
	op.e.finishSpan(op.span, StatusSuccess, map[string]string{
		attrDurationMS:    formatMilliseconds(duration),
		attrRetryAttempts: fmt.Sprintf("%d", op.retry.Attempts),
	})

	logArgs := append(append([]any{}, op.args...), args...)
	logArgs = append(logArgs, attrDurationMS, toMilliseconds(duration), attrRetryAttempts, op.retry.Attempts)
	op.e.logInfo(op.ctx, logMsgOperationCompleted, logArgs...)
}

// fail records err and returns it unchanged.
func (op *operation) fail(err error) error {
	duration := time.Since(op.start)
	kind := ledger.KindOf(err)
	status := statusFor(kind)

	op.e.recordOperationMetrics(op.ctx, op.name, status, duration)
	op.e.recordFailureMetrics(op.ctx, op.name, kind)
	op.e.finishSpan(op.span, status, map[string]string{
		attrErrorType:        string(kind),
		attrError:            err.Error(),
		attrDurationMS:       formatMilliseconds(duration),
		attrRetryAttempts:    fmt.Sprintf("%d", op.retry.Attempts),
		attrRetriesExhausted: fmt.Sprintf("%t", op.retry.RetriesExhausted),
	})

	logArgs := append(append([]any{}, op.args...),
		attrErrorType, string(kind),
		attrError, err.Error(),
		attrDurationMS, toMilliseconds(duration),
		attrRetryAttempts, op.retry.Attempts,
	)

	if status == StatusRejected {
		op.e.logInfo(op.ctx, logMsgOperationRejected, logArgs...)
	} else {
		op.e.logError(op.ctx, logMsgOperationFailed, logArgs...)
	}

	return err
}

func statusFor(kind ledger.Kind) string {
	switch kind {
	case ledger.KindNone:
		return StatusSuccess
	case ledger.KindNotFound, ledger.KindOutOfStock, ledger.KindAlreadyRented,
		ledger.KindAlreadyReturned, ledger.KindInvalidInput:
		return StatusRejected
	case ledger.KindTransactionConflict:
		return StatusConflict
	case ledger.KindCanceled:
		return StatusCanceled
	case ledger.KindDeadlineExceeded:
		return StatusTimeout
	default:
		return StatusError
	}
}

func (e *Engine) logInfo(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.InfoContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.ErrorContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Error(msg, args...)
	}
}

func (e *Engine) recordOperationMetrics(ctx context.Context, name, status string, duration time.Duration) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{attrOperation: name, attrStatus: status}

	if contextual, ok := e.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, OperationDurationMetric, duration, labels)
		contextual.IncrementCounterContext(ctx, OperationCallsMetric, labels)
		return
	}

	e.metricsCollector.RecordDuration(OperationDurationMetric, duration, labels)
	e.metricsCollector.IncrementCounter(OperationCallsMetric, labels)
}

func (e *Engine) recordFailureMetrics(ctx context.Context, name string, kind ledger.Kind) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{attrOperation: name, attrErrorType: string(kind)}

	if contextual, ok := e.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, OperationFailuresMetric, labels)
		return
	}

	e.metricsCollector.IncrementCounter(OperationFailuresMetric, labels)
}

func (e *Engine) recordStockLevel(ctx context.Context, bookID int64, stock int) {
	e.recordValue(ctx, BookStockMetric, float64(stock), map[string]string{attrBookID: fmt.Sprintf("%d", bookID)})
}

func (e *Engine) recordOverdueFee(ctx context.Context, fee ledger.Money) {
	e.recordValue(ctx, OverdueFeeMetric, float64(fee.Cents())/100, map[string]string{attrOperation: operationReturn})
}

func (e *Engine) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextual, ok := e.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	e.metricsCollector.RecordValue(metric, value, labels)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, ledger.SpanContext) {
	if e.tracingCollector == nil {
		return ctx, nil
	}

	return e.tracingCollector.StartSpan(ctx, name, attrs)
}

func (e *Engine) finishSpan(span ledger.SpanContext, status string, attrs map[string]string) {
	if e.tracingCollector == nil || span == nil {
		return
	}

	span.SetStatus(status)
	e.tracingCollector.FinishSpan(span, status, attrs)
}

// toAttributes turns slog-style key/value pairs into span attributes.
func toAttributes(args []any) map[string]string {
	attrs := make(map[string]string, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}

		attrs[key] = fmt.Sprint(args[i+1])
	}

	return attrs
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func formatMilliseconds(d time.Duration) string {
	return fmt.Sprintf("%.2f", float64(d.Nanoseconds())/1e6)
}
