package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Queryer is the query surface shared by Store and Tx. Queries use ?
// placeholders regardless of dialect.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Dialect() Dialect
}

type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type runner struct {
	exec    sqlExecutor
	dialect Dialect
}

func (r runner) Dialect() Dialect { return r.dialect }

func (r runner) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.exec.ExecContext(ctx, Rebind(r.dialect, query), args...)
}

func (r runner) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.exec.QueryContext(ctx, Rebind(r.dialect, query), args...)
}

func (r runner) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.exec.QueryRowContext(ctx, Rebind(r.dialect, query), args...)
}

// Tx is a transaction handle passed to WithTx callbacks.
type Tx struct {
	runner
}

// keyColumns maps every archive table addressable by id to its key column.
var keyColumns = map[string]string{
	"experiments":          "name",
	"experiment_versions":  "id",
	"experiment_instances": "id",
	"runs":                 "id",
	"variables":            "name",
}

// Exists reports whether a row with the given key exists in table.
func (tx *Tx) Exists(ctx context.Context, table, key string) (bool, error) {
	return exists(ctx, tx, table, key)
}

// Exists reports whether a row with the given key exists in table.
func (s *Store) Exists(ctx context.Context, table, key string) (bool, error) {
	return exists(ctx, s, table, key)
}

func exists(ctx context.Context, q Queryer, table, key string) (bool, error) {
	column, ok := keyColumns[table]
	if !ok {
		return false, fmt.Errorf("exists: unknown table %q", table)
	}
	var one int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", table, column), key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return true, nil
}

// LockRow locks the row keyed by key in table until the transaction ends
// and reports whether it exists. SQLite transactions already hold the
// database write lock, so there it only checks existence.
func (tx *Tx) LockRow(ctx context.Context, table, key string) (bool, error) {
	if tx.dialect != Postgres {
		return exists(ctx, tx, table, key)
	}
	column, ok := keyColumns[table]
	if !ok {
		return false, fmt.Errorf("lock row: unknown table %q", table)
	}
	var one int
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? FOR UPDATE", table, column), key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock row %s: %w", table, err)
	}
	return true, nil
}

var savepointSeq atomic.Uint64

// Savepoint runs fn inside a nested savepoint. If fn fails the savepoint is
// rolled back and the enclosing transaction stays usable, which PostgreSQL
// otherwise refuses after any failed statement.
func (tx *Tx) Savepoint(ctx context.Context, fn func() error) error {
	name := "sp_" + strconv.FormatUint(savepointSeq.Add(1), 10)
	if _, err := tx.exec.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.exec.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := tx.exec.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $1..$n for PostgreSQL. Question marks
// inside single-quoted literals are left alone.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsUniqueViolation reports whether err was caused by a primary key or
// unique constraint on either dialect.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsForeignKeyViolation reports whether err was caused by a foreign key
// constraint on either dialect.
func IsForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
