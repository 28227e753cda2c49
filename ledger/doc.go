// Package ledger provides the core types of a library-rental ledger: books with a stock counter,
// rental sessions moving from rented to returned, the overdue fee policy, and the failure taxonomy
// shared by every store and by the engine.
//
// This package defines the store contract the engine runs against. Store implementations live in
// sub-packages (memstore, postgresstore, sqlitestore); orchestration lives in the engine package.
//
// Key types:
//   - Book: catalog entry with the number of copies currently available
//   - RentalSession: one checkout of one book by one user
//   - Money: an amount in minor units (cents)
//   - Store / Tx: transactional access to books and rental sessions
//
// Common usage pattern:
//
//	session, err := ledger.InTx(ctx, store, func(ctx context.Context, tx ledger.Tx) (ledger.RentalSession, error) {
//		book, err := tx.LockBook(ctx, bookID)
//		if err != nil {
//			return ledger.RentalSession{}, err
//		}
//		// ... validate and mutate
//	})
//
// Failures are typed. Use errors.Is with the sentinel errors, errors.As with *NotFoundError,
// or KindOf to obtain a stable failure kind for presentation.
package ledger
