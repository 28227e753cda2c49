// Package bootstrap opens the configured store and builds the engine for the ledger binaries.
package bootstrap
