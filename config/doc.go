// Package config provides database connections and the file configuration of the ledger binaries.
//
// The Postgres constructors apply the same pool tuning to all three supported adapters
// (pgx.Pool, sql.DB, sqlx.DB). Load reads a YAML file and applies LEDGER_* environment overrides.
package config
