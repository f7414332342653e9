package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestMigrations(migrations map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range migrations {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestCurrentVersion(t *testing.T) {
	db := setupTestDB(t)
	runner := NewRunner(db, setupTestMigrations(nil), DialectSQLite)

	version, err := runner.CurrentVersion(context.Background())
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
}

func TestReadMigrationFiles(t *testing.T) {
	db := setupTestDB(t)
	runner := NewRunner(db, setupTestMigrations(map[string]string{
		"002_second.sql": "CREATE TABLE b (id INTEGER);",
		"001_first.sql":  "CREATE TABLE a (id INTEGER);",
		"README.md":      "not a migration",
	}), DialectSQLite)

	migrations, err := runner.ReadMigrationFiles()
	if err != nil {
		t.Fatalf("ReadMigrationFiles failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "first" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "second" {
		t.Errorf("unexpected second migration: %+v", migrations[1])
	}
}

func TestReadMigrationFilesInvalid(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no underscore", map[string]string{"001.sql": ""}},
		{"bad number", map[string]string{"abc_first.sql": ""}},
		{"zero version", map[string]string{"000_first.sql": ""}},
		{"duplicate", map[string]string{"001_a.sql": "", "001_b.sql": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := NewRunner(setupTestDB(t), setupTestMigrations(tt.files), DialectSQLite)
			if _, err := runner.ReadMigrationFiles(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApply(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	runner := NewRunner(db, setupTestMigrations(map[string]string{
		"001_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);",
		"002_posts.sql": "CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER);\nCREATE INDEX idx_posts_user ON posts(user_id);",
	}), DialectSQLite)

	var logs []string
	applied, err := runner.Apply(ctx, func(msg string) { logs = append(logs, msg) })
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("expected 2 applied, got %d", applied)
	}
	if len(logs) == 0 {
		t.Error("expected progress messages")
	}

	version, err := runner.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if _, err := db.Exec("INSERT INTO posts (user_id) VALUES (1)"); err != nil {
		t.Errorf("posts table missing: %v", err)
	}

	// Second run is a no-op.
	applied, err = runner.Apply(ctx, nil)
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected 0 applied on second run, got %d", applied)
	}
	if err := runner.Validate(ctx); err != nil {
		t.Errorf("Validate after Apply: %v", err)
	}
}

func TestApplyFailureKeepsPreviousVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	runner := NewRunner(db, setupTestMigrations(map[string]string{
		"001_ok.sql":     "CREATE TABLE ok (id INTEGER);",
		"002_broken.sql": "CREATE TABLE broken (id INTEGER;",
	}), DialectSQLite)

	applied, err := runner.Apply(ctx, nil)
	if err == nil {
		t.Fatal("expected error from broken migration")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the migration: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected 1 applied, got %d", applied)
	}

	version, err := runner.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1 after failure, got %d", version)
	}
	if err := runner.Validate(ctx); err == nil {
		t.Error("Validate should report pending migrations")
	}
}

func TestNewerDatabaseRejected(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	newer := NewRunner(db, setupTestMigrations(map[string]string{
		"001_a.sql": "CREATE TABLE a (id INTEGER);",
		"002_b.sql": "CREATE TABLE b (id INTEGER);",
	}), DialectSQLite)
	if _, err := newer.Apply(ctx, nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	older := NewRunner(db, setupTestMigrations(map[string]string{
		"001_a.sql": "CREATE TABLE a (id INTEGER);",
	}), DialectSQLite)
	if _, err := older.Apply(ctx, nil); err == nil || !strings.Contains(err.Error(), "newer") {
		t.Errorf("expected newer schema error, got %v", err)
	}
	if err := older.Validate(ctx); err == nil {
		t.Error("Validate should reject a newer database")
	}
}

func TestDialectPlaceholder(t *testing.T) {
	if got := DialectSQLite.placeholder(1); got != "?" {
		t.Errorf("sqlite placeholder = %q", got)
	}
	if got := DialectPostgres.placeholder(2); got != "$2" {
		t.Errorf("postgres placeholder = %q", got)
	}
}
