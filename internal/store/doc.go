// Package store provides the SQL storage layer for the experiment archive.
//
// Two dialects are supported behind database/sql:
//   - SQLite via github.com/mattn/go-sqlite3 (local archives, tests)
//   - PostgreSQL via github.com/jackc/pgx/v5/stdlib (shared archives)
//
// Queries are written once with ? placeholders and rebound to $n for
// PostgreSQL. The schema is embedded per dialect and applied idempotently
// on Open.
//
// # Referential Integrity
//
// Foreign keys are declared without ON DELETE actions. Deleting a parent
// that still has children fails at the database, so the archive editor must
// delete bottom-up inside one transaction (see WithTx).
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// # Time
//
// All timestamps are written in UTC truncated to microseconds, the
// resolution PostgreSQL keeps, so values read back compare equal on both
// dialects.
package store
