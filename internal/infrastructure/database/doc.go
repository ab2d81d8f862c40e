// Package database provides SQLite connectivity for Helm Core.
//
// It wraps database/sql with WAL-mode configuration, a single-writer
// connection pool, health checks, and forward-only embedded migrations.
// The command queue's compare-and-set transitions rely on the single
// writer for serialisation.
package database
