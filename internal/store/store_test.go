package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{Dialect: SQLite})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestOpen_CreatesAllTables(t *testing.T) {
	s := createTestStore(t)

	tables := []string{
		"experiments",
		"experiment_versions",
		"variables",
		"experiment_variables",
		"experiment_instances",
		"in_values",
		"runs",
		"measurements",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.expected); err != nil {
			t.Error(err)
		}
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"", SQLite, false},
		{"sqlite", SQLite, false},
		{"sqlite3", SQLite, false},
		{"postgres", Postgres, false},
		{"pgx", Postgres, false},
		{"psql", Postgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDialect(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "exp")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	ok, err := s.Exists(ctx, "experiments", "exp")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if !ok {
		t.Error("expected committed row")
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "exp"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx() error = %v, want %v", err, sentinel)
	}

	ok, err := s.Exists(ctx, "experiments", "exp")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if ok {
		t.Error("expected row to be rolled back")
	}
}

func TestSavepoint_KeepsTransactionUsable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "a"); err != nil {
			return err
		}
		spErr := tx.Savepoint(ctx, func() error {
			_, err := tx.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "a")
			return err
		})
		if !IsUniqueViolation(spErr) {
			t.Errorf("Savepoint() error = %v, want unique violation", spErr)
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "b")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	for _, name := range []string{"a", "b"} {
		ok, err := s.Exists(ctx, "experiments", name)
		if err != nil || !ok {
			t.Errorf("experiment %q missing after savepoint rollback (err=%v)", name, err)
		}
	}
}

func TestSavepoint_RollsBackOnlyNestedWork(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		_ = tx.Savepoint(ctx, func() error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "nested"); err != nil {
				return err
			}
			return errors.New("undo")
		})
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	ok, err := s.Exists(ctx, "experiments", "nested")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if ok {
		t.Error("nested insert survived savepoint rollback")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ExecContext(ctx, `
		INSERT INTO experiment_versions (id, name, version, date, description, researchers)
		VALUES (?, ?, ?, ?, ?, ?)
	`, "v1", "missing", "1", Timestamp(time.Now()), "", "")
	if err == nil {
		t.Fatal("expected foreign key error")
	}
	if !IsForeignKeyViolation(err) {
		t.Errorf("IsForeignKeyViolation(%v) = false", err)
	}
	if IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = true for FK error", err)
	}
}

func TestIsUniqueViolation_NilAndPlain(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Error("nil is not a unique violation")
	}
	if IsUniqueViolation(errors.New("UNIQUE constraint failed")) {
		t.Error("plain errors are not unique violations")
	}
}

func TestExists_UnknownTable(t *testing.T) {
	s := createTestStore(t)
	if _, err := s.Exists(context.Background(), "users", "x"); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestTimestamp_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	loc := time.FixedZone("CEST", 2*60*60)
	when := time.Date(2024, 5, 17, 14, 3, 9, 123456789, loc)

	if _, err := s.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "e"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ExecContext(ctx, `
		INSERT INTO experiment_versions (id, name, version, date, description, researchers)
		VALUES (?, ?, ?, ?, ?, ?)
	`, "v1", "e", "1", Timestamp(when), "", ""); err != nil {
		t.Fatal(err)
	}

	var got time.Time
	if err := s.QueryRowContext(ctx, "SELECT date FROM experiment_versions WHERE id = ?", "v1").Scan(&got); err != nil {
		t.Fatal(err)
	}
	want := Timestamp(when)
	if !got.Equal(want) {
		t.Errorf("date = %v, want %v", got, want)
	}
	if got.Nanosecond()%1000 != 0 {
		t.Errorf("date kept sub-microsecond precision: %v", got)
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/tmp/a.db", "/tmp/a.db?_txlock=immediate"},
		{"file:a.db?cache=shared", "file:a.db?cache=shared&_txlock=immediate"},
		{"a.db?_txlock=exclusive", "a.db?_txlock=exclusive"},
	}
	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLockRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.ExecContext(ctx, "INSERT INTO experiments (name) VALUES (?)", "locked"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err := s.WithTx(ctx, func(tx *Tx) error {
		ok, err := tx.LockRow(ctx, "experiments", "locked")
		if err != nil {
			return err
		}
		if !ok {
			t.Error("LockRow() = false for existing row")
		}
		ok, err = tx.LockRow(ctx, "experiments", "absent")
		if err != nil {
			return err
		}
		if ok {
			t.Error("LockRow() = true for missing row")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}
}

func TestLockRow_UnknownTable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.LockRow(ctx, "nope", "x")
		return err
	})
	if err == nil {
		t.Error("expected error for unknown table")
	}
}
