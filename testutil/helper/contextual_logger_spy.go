package helper

import (
	"context"
	"sync"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// ContextualLoggerSpy captures contextual log calls for inspection in tests.
type ContextualLoggerSpy struct {
	records     []SpyContextualLogRecord
	mu          sync.Mutex
	recordCalls bool
}

// SpyContextualLogRecord represents a recorded contextual log call.
type SpyContextualLogRecord struct {
	Level   string
	Message string
	Args    []any
	Context context.Context
}

// NewContextualLoggerSpy creates a new ContextualLoggerSpy.
func NewContextualLoggerSpy(recordCalls bool) *ContextualLoggerSpy {
	return &ContextualLoggerSpy{recordCalls: recordCalls}
}

func (s *ContextualLoggerSpy) DebugContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, "debug", msg, args)
}

func (s *ContextualLoggerSpy) InfoContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, "info", msg, args)
}

func (s *ContextualLoggerSpy) WarnContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, "warn", msg, args)
}

func (s *ContextualLoggerSpy) ErrorContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, "error", msg, args)
}

func (s *ContextualLoggerSpy) record(ctx context.Context, level, msg string, args []any) {
	if !s.recordCalls {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, SpyContextualLogRecord{Level: level, Message: msg, Args: args, Context: ctx})
}

// GetRecords returns a copy of all records.
func (s *ContextualLoggerSpy) GetRecords() []SpyContextualLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyContextualLogRecord(nil), s.records...)
}

// HasInfoLog reports whether an info record with msg was captured.
func (s *ContextualLoggerSpy) HasInfoLog(msg string) bool {
	return s.hasLog("info", msg)
}

// HasErrorLog reports whether an error record with msg was captured.
func (s *ContextualLoggerSpy) HasErrorLog(msg string) bool {
	return s.hasLog("error", msg)
}

// HasDebugLog reports whether a debug record with msg was captured.
func (s *ContextualLoggerSpy) HasDebugLog(msg string) bool {
	return s.hasLog("debug", msg)
}

// HasLogWithArg reports whether a record with msg carries key=value among its args.
func (s *ContextualLoggerSpy) HasLogWithArg(msg string, key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.Message != msg {
			continue
		}

		for i := 0; i+1 < len(record.Args); i += 2 {
			if record.Args[i] == key && record.Args[i+1] == value {
				return true
			}
		}
	}

	return false
}

func (s *ContextualLoggerSpy) hasLog(level, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.Level == level && record.Message == msg {
			return true
		}
	}

	return false
}

var _ ledger.ContextualLogger = (*ContextualLoggerSpy)(nil)
