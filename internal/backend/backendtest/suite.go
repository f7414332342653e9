// Package backendtest holds the behaviour every backend.Client must share. Backend
// packages call Run from their own tests.
package backendtest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
)

// Factory returns a fresh, empty client. The suite closes it.
type Factory func(t *testing.T) backend.Client

// Run executes the shared suite against clients built by newClient.
func Run(t *testing.T, newClient Factory) {
	t.Run("CreateAndList", func(t *testing.T) { testCreateAndList(t, newClient(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, newClient(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newClient(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newClient(t)) })
	t.Run("Conflict", func(t *testing.T) { testConflict(t, newClient(t)) })
	t.Run("InvalidFilter", func(t *testing.T) { testInvalidFilter(t, newClient(t)) })
	t.Run("ChangeFeed", func(t *testing.T) { testChangeFeed(t, newClient(t)) })
	t.Run("SubscriptionClose", func(t *testing.T) { testSubscriptionClose(t, newClient(t)) })
}

func testCreateAndList(t *testing.T, c backend.Client) {
	defer c.Close()
	ctx := context.Background()

	doc, err := c.CreateDocument(ctx, constants.HabitsCollection, "", map[string]any{
		constants.FieldUserID:      "u1",
		constants.FieldTitle:       "Read",
		constants.FieldStreakCount: 0,
	})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if doc.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if doc.Collection != constants.HabitsCollection {
		t.Errorf("Collection = %q", doc.Collection)
	}

	if _, err := c.CreateDocument(ctx, constants.HabitsCollection, "fixed-id", map[string]any{
		constants.FieldUserID: "u1",
		constants.FieldTitle:  "Run",
	}); err != nil {
		t.Fatalf("CreateDocument(fixed-id) error = %v", err)
	}

	docs, err := c.ListDocuments(ctx, constants.HabitsCollection)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	titles := []string{docs[0].String(constants.FieldTitle), docs[1].String(constants.FieldTitle)}
	sort.Strings(titles)
	if titles[0] != "Read" || titles[1] != "Run" {
		t.Errorf("unexpected titles %v", titles)
	}

	other, err := c.ListDocuments(ctx, constants.CompletionsCollection)
	if err != nil {
		t.Fatalf("ListDocuments(completions) error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("collections leaked: %d completions", len(other))
	}
}

func testFilters(t *testing.T, c backend.Client) {
	defer c.Close()
	ctx := context.Background()

	rows := []struct {
		id, user, at string
	}{
		{"c1", "u1", "2024-06-19T23:59:59.999Z"},
		{"c2", "u1", "2024-06-20T00:00:00.000Z"},
		{"c3", "u1", "2024-06-20T18:30:00.000Z"},
		{"c4", "u2", "2024-06-20T18:30:00.000Z"},
	}
	for _, r := range rows {
		if _, err := c.CreateDocument(ctx, constants.CompletionsCollection, r.id, map[string]any{
			constants.FieldUserID:      r.user,
			constants.FieldHabitID:     "h1",
			constants.FieldCompletedAt: r.at,
		}); err != nil {
			t.Fatalf("CreateDocument(%s) error = %v", r.id, err)
		}
	}

	docs, err := c.ListDocuments(ctx, constants.CompletionsCollection,
		backend.Equal(constants.FieldUserID, "u1"),
		backend.GreaterOrEqual(constants.FieldCompletedAt, "2024-06-20T00:00:00.000Z"),
	)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	ids := idsOf(docs)
	if len(ids) != 2 || ids[0] != "c2" || ids[1] != "c3" {
		t.Errorf("expected [c2 c3], got %v", ids)
	}

	docs, err = c.ListDocuments(ctx, constants.CompletionsCollection, backend.Equal(constants.FieldUserID, "nobody"))
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected no documents, got %v", idsOf(docs))
	}
}

func testUpdate(t *testing.T, c backend.Client) {
	defer c.Close()
	ctx := context.Background()

	created, err := c.CreateDocument(ctx, constants.HabitsCollection, "h1", map[string]any{
		constants.FieldUserID:      "u1",
		constants.FieldTitle:       "Read",
		constants.FieldStreakCount: 0,
	})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	updated, err := c.UpdateDocument(ctx, constants.HabitsCollection, "h1", map[string]any{
		constants.FieldStreakCount:     1,
		constants.FieldLastCompletedAt: "2024-06-20T10:00:00.000Z",
	})
	if err != nil {
		t.Fatalf("UpdateDocument() error = %v", err)
	}
	if n, _ := updated.Int(constants.FieldStreakCount); n != 1 {
		t.Errorf("streak_count = %d, want 1", n)
	}
	if updated.String(constants.FieldTitle) != "Read" {
		t.Error("update should merge, title was lost")
	}
	if updated.CreatedAt.Unix() != created.CreatedAt.Unix() {
		t.Error("created_at changed on update")
	}

	docs, err := c.ListDocuments(ctx, constants.HabitsCollection, backend.Equal(constants.FieldStreakCount, 1))
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected numeric equality filter to match, got %d docs", len(docs))
	}

	if _, err := c.UpdateDocument(ctx, constants.HabitsCollection, "missing", map[string]any{"x": 1}); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("UpdateDocument(missing) error = %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, c backend.Client) {
	defer c.Close()
	ctx := context.Background()

	if _, err := c.CreateDocument(ctx, constants.HabitsCollection, "h1", map[string]any{constants.FieldUserID: "u1"}); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if err := c.DeleteDocument(ctx, constants.HabitsCollection, "h1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	docs, err := c.ListDocuments(ctx, constants.HabitsCollection)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected empty collection after delete, got %d", len(docs))
	}
	if err := c.DeleteDocument(ctx, constants.HabitsCollection, "h1"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("second DeleteDocument() error = %v, want ErrNotFound", err)
	}
}

func testConflict(t *testing.T, c backend.Client) {
	defer c.Close()
	ctx := context.Background()

	fields := map[string]any{constants.FieldUserID: "u1"}
	if _, err := c.CreateDocument(ctx, constants.CompletionsCollection, "c1", fields); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if _, err := c.CreateDocument(ctx, constants.CompletionsCollection, "c1", fields); !errors.Is(err, backend.ErrConflict) {
		t.Errorf("duplicate CreateDocument() error = %v, want ErrConflict", err)
	}
}

func testInvalidFilter(t *testing.T, c backend.Client) {
	defer c.Close()

	_, err := c.ListDocuments(context.Background(), constants.HabitsCollection, backend.Equal("bad field", "x"))
	if !errors.Is(err, backend.ErrInvalidFilter) {
		t.Errorf("ListDocuments(bad filter) error = %v, want ErrInvalidFilter", err)
	}
}

func testChangeFeed(t *testing.T, c backend.Client) {
	defer c.Close()
	ctx := context.Background()

	events := make(chan backend.Event, 16)
	sub, err := c.Subscribe(ctx, []string{backend.Channel(constants.HabitsCollection)}, func(e backend.Event) {
		events <- e
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if _, err := c.CreateDocument(ctx, constants.CompletionsCollection, "c1", map[string]any{constants.FieldUserID: "u1"}); err != nil {
		t.Fatalf("CreateDocument(completion) error = %v", err)
	}
	if _, err := c.CreateDocument(ctx, constants.HabitsCollection, "h1", map[string]any{constants.FieldUserID: "u1"}); err != nil {
		t.Fatalf("CreateDocument(habit) error = %v", err)
	}
	if _, err := c.UpdateDocument(ctx, constants.HabitsCollection, "h1", map[string]any{constants.FieldTitle: "Read"}); err != nil {
		t.Fatalf("UpdateDocument() error = %v", err)
	}
	if err := c.DeleteDocument(ctx, constants.HabitsCollection, "h1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	want := []backend.Operation{backend.OpCreate, backend.OpUpdate, backend.OpDelete}
	for i, op := range want {
		select {
		case e := <-events:
			if !e.Has(op) {
				t.Errorf("event %d: expected %s, got %v", i, op, e.Events)
			}
			if e.Collection() != constants.HabitsCollection {
				t.Errorf("event %d: collection %q", i, e.Collection())
			}
			if e.Payload.ID != "h1" {
				t.Errorf("event %d: payload id %q", i, e.Payload.ID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s event", op)
		}
	}
}

func testSubscriptionClose(t *testing.T, c backend.Client) {
	defer c.Close()

	sub, err := c.Subscribe(context.Background(), []string{backend.Channel(constants.HabitsCollection)}, func(backend.Event) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after Close()")
	}
	if sub.Err() != nil {
		t.Errorf("Err() after Close = %v, want nil", sub.Err())
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func idsOf(docs []backend.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids
}
