package db

import (
	"path/filepath"
	"testing"
)

func TestOpenAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.db")

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Error("foreign keys should be enabled")
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL journal mode, got %s", mode)
	}
}

func TestIsDatabaseClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.db")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	db.Close()

	_, err = db.Exec("SELECT 1")
	if !IsDatabaseClosed(err) {
		t.Errorf("expected closed-database classification, got %v", err)
	}

	if IsDatabaseClosed(nil) {
		t.Error("nil is not a closed-database error")
	}
}
