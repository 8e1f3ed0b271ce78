package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	for _, table := range []string{"schema_migrations", "notes", "sync_operations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}
	if err := Migrate(db, nil); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 recorded migrations, got %d", count)
	}
}

func TestMigrateCreatesOrderingIndex(t *testing.T) {
	db := openTestDB(t)

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_sync_operations_entity_order'",
	).Scan(&name)
	if err != nil {
		t.Fatalf("expected per-entity ordering index: %v", err)
	}
}
