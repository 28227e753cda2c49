// Package oteladapters provides OpenTelemetry adapters for the ledger observability interfaces.
// Pass them to engine.WithMetrics, engine.WithTracing and engine.WithContextualLogger
// (or the store WithContextualLogger options) to export ledger telemetry without writing the
// interfaces yourself.
package oteladapters
