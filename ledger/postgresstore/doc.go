// Package postgresstore implements ledger.Store on PostgreSQL.
//
// The store runs over a pgxpool.Pool, a sql.DB using lib/pq, or a sqlx.DB. Every transaction runs
// at read committed isolation: checkouts and returns lock the book or rental row with SELECT ... FOR UPDATE,
// stock changes are guarded by stock > 0, and the partial unique index on (user_id, book_id) for rented
// sessions backs the one-active-rental rule. Driver errors are classified into the ledger failure kinds,
// so serialization failures and deadlocks surface as ledger.ErrTransactionConflict.
//
// Migrate creates the schema; it is idempotent.
package postgresstore
