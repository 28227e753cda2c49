// Package helper provides test doubles and fixtures shared by the ledger test suites:
// spies for the observability interfaces, a slog handler spy, and small arrange helpers.
package helper
