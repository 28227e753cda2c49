// Package engine implements the rental transaction engine: Checkout and Return as atomic units
// over a ledger.Store, plus catalog and read operations.
//
// The engine keeps no state between calls. Every operation re-reads what it needs inside one
// transaction, and the caller supplies the current time.
//
// Usage:
//
//	eng, err := engine.New(store,
//		engine.WithContextualLogger(logger),
//		engine.WithMetrics(metrics),
//	)
//	session, err := eng.Checkout(ctx, userID, bookID, time.Now())
//	switch ledger.KindOf(err) {
//	case ledger.KindOutOfStock:
//		// ...
//	}
//
// Operations that fail with ledger.ErrTransactionConflict are retried with exponential backoff;
// configure or disable this with WithRetryOptions.
package engine
