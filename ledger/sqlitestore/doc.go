// Package sqlitestore implements ledger.Store on SQLite through mattn/go-sqlite3.
//
// The database runs with a single open connection and every transaction starts with BEGIN IMMEDIATE,
// so writers are serialized and a transaction never has to upgrade its lock. Times are stored as
// RFC 3339 text in UTC and fees as integer minor units.
package sqlitestore
