// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"m/V1__create_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY);")},
		"m/V1__create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"m/V2__add_name.up.sql":       {Data: []byte("ALTER TABLE items ADD COLUMN name TEXT;")},
		"m/README.md":                 {Data: []byte("not a migration")},
		"m/Vx__broken.up.sql":         {Data: []byte("SELECT 1;")},
	}
}

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "m")

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("Failed to insert test row: %v", err)
	}
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "m")

	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
}

// TestUp verifies migrations apply in order and skip unrelated files.
func TestUp(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "m")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(applied))
	}
	if applied[0].Description != "create_items" || applied[1].Description != "add_name" {
		t.Errorf("descriptions = %q, %q", applied[0].Description, applied[1].Description)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum length = %d, want 64", len(applied[0].Checksum))
	}

	if _, err := db.Exec("INSERT INTO items (id, name) VALUES (1, 'mate')"); err != nil {
		t.Errorf("migrated schema unusable: %v", err)
	}

	// Re-running is a no-op
	if err := m.Up(); err != nil {
		t.Errorf("second Up() failed: %v", err)
	}
}

// TestUp_checksumMismatch verifies an edited migration is rejected.
func TestUp_checksumMismatch(t *testing.T) {
	db := openMemory(t)
	fsys := testMigrations()
	m := NewMigrator(db, fsys, "m")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	fsys["m/V1__create_items.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE items (id TEXT);")}

	err := m.Up()
	if !apperrors.Is(err, apperrors.ErrMigration) {
		t.Errorf("Up() error = %v, want MIGRATION_FAILED", err)
	}
}

// TestUp_missingDir verifies a missing directory is reported.
func TestUp_missingDir(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "nope")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err == nil {
		t.Error("Up() should fail for a missing directory")
	}
}

// TestDown verifies the latest migration with a down file is rolled back.
func TestDown(t *testing.T) {
	db := openMemory(t)
	fsys := testMigrations()
	delete(fsys, "m/V2__add_name.up.sql")
	m := NewMigrator(db, fsys, "m")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	version, _ := m.CurrentVersion()
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() with nothing applied should fail")
	}
}

// TestDown_missingFile verifies rollback fails without a down file.
func TestDown_missingFile(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "m")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() should fail when V2 has no down file")
	}
}
