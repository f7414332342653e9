package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/backend/backendtest"
	"github.com/julianstephens/habitsync/internal/constants"
)

func setupTestSQLiteStore(t *testing.T, dbPath string) *Store {
	store := NewStore(dbPath).
		WithPollInterval(20 * time.Millisecond).
		WithMigrationLog(func(string) {})
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Client {
		return setupTestSQLiteStore(t, filepath.Join(t.TempDir(), "test.db"))
	})
}

func TestLoadRequiresInit(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.db"))
	err := store.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "habitsync init") {
		t.Errorf("Load() error = %v, want init hint", err)
	}
}

func TestLoadAfterInit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	first := setupTestSQLiteStore(t, dbPath)
	ctx := context.Background()
	if _, err := first.CreateDocument(ctx, constants.HabitsCollection, "h1", map[string]any{constants.FieldTitle: "Read"}); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	first.Close()

	second := NewStore(dbPath)
	defer second.Close()
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	docs, err := second.ListDocuments(ctx, constants.HabitsCollection)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 || docs[0].String(constants.FieldTitle) != "Read" {
		t.Errorf("unexpected documents after reload: %+v", docs)
	}
}

func TestChangeFeedAcrossStores(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	reader := setupTestSQLiteStore(t, dbPath)
	writer := setupTestSQLiteStore(t, dbPath)
	ctx := context.Background()

	events := make(chan backend.Event, 4)
	sub, err := reader.Subscribe(ctx, []string{backend.Channel(constants.CompletionsCollection)}, func(e backend.Event) {
		events <- e
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if _, err := writer.CreateDocument(ctx, constants.CompletionsCollection, "c1", map[string]any{
		constants.FieldHabitID:     "h1",
		constants.FieldCompletedAt: "2024-06-20T10:00:00.000Z",
	}); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	select {
	case e := <-events:
		if !e.Has(backend.OpCreate) || e.Payload.ID != "c1" {
			t.Errorf("unexpected event %+v", e)
		}
		if e.Payload.String(constants.FieldHabitID) != "h1" {
			t.Errorf("payload lost fields: %+v", e.Payload.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader never saw the writer's change")
	}
}

func TestChangesBeforeSubscribeAreSkipped(t *testing.T) {
	store := setupTestSQLiteStore(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()

	if _, err := store.CreateDocument(ctx, constants.HabitsCollection, "old", nil); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	events := make(chan backend.Event, 4)
	sub, err := store.Subscribe(ctx, []string{backend.Channel(constants.HabitsCollection)}, func(e backend.Event) {
		events <- e
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if _, err := store.CreateDocument(ctx, constants.HabitsCollection, "new", nil); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	select {
	case e := <-events:
		if e.Payload.ID != "new" {
			t.Errorf("expected only the new document, got %q", e.Payload.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterTypeGuard(t *testing.T) {
	store := setupTestSQLiteStore(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()

	if _, err := store.CreateDocument(ctx, constants.HabitsCollection, "h1", map[string]any{
		constants.FieldTitle:       "Read",
		constants.FieldStreakCount: 2,
	}); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	// SQLite orders every TEXT above every number; the guard must stop that match.
	docs, err := store.ListDocuments(ctx, constants.HabitsCollection, backend.GreaterOrEqual(constants.FieldTitle, 1))
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("number filter matched a string field")
	}

	docs, err = store.ListDocuments(ctx, constants.HabitsCollection, backend.GreaterOrEqual(constants.FieldStreakCount, 2))
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected numeric gte to match, got %d", len(docs))
	}
}
