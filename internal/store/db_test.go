package store

import (
	"testing"
)

func TestOpenAndMigrations(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	v, err := db.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 1 {
		t.Errorf("schema_version = %d, want 1", v)
	}
	if db.Driver() != DriverSQLite {
		t.Errorf("Driver = %q, want %q", db.Driver(), DriverSQLite)
	}

	// Re-open: idempotent, no error
	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	defer db2.Close()
	v, err = db2.Version()
	if err != nil {
		t.Fatalf("Version (second open): %v", err)
	}
	if v != 1 {
		t.Errorf("schema_version after re-open = %d, want 1", v)
	}
}

func TestOpenRequiresDataDir(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty data dir")
	}
	if _, err := OpenPostgres(""); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestRebind(t *testing.T) {
	q := "UPDATE results SET status = ? WHERE id = ?"
	sqlite := &DB{driver: DriverSQLite}
	if got := sqlite.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
	pg := &DB{driver: DriverPostgres}
	want := "UPDATE results SET status = $1 WHERE id = $2"
	if got := pg.rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestMigrationNumber(t *testing.T) {
	n, err := migrationNumber("001_results.sql")
	if err != nil || n != 1 {
		t.Errorf("migrationNumber = %d, %v", n, err)
	}
	if _, err := migrationNumber("results.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}
