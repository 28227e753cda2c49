// Package adapters provide transactional database adapters for the SQL stores.
//
// Three connection types are supported: pgxpool.Pool, sql.DB and sqlx.DB. Each adapter opens
// transactions behind the common DBAdapter interface, so the stores build their SQL once and run it
// on whichever connection the caller owns.
package adapters
