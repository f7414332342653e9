package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/backend/memory"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/notifier"
	"github.com/julianstephens/habitsync/internal/session"
	"github.com/julianstephens/habitsync/internal/utils"
)

var (
	errInjected = errors.New("injected failure")
	testNow     = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
)

// faultClient wraps the in-memory backend with injectable failures and an optional
// gate that holds UpdateDocument until released.
type faultClient struct {
	*memory.Store

	mu        sync.Mutex
	listErr   error
	createErr map[string]error
	updateErr error
	deleteErr error

	gate    chan struct{}
	entered chan struct{}
}

func newFaultClient() *faultClient {
	return &faultClient{
		Store:     memory.New(),
		createErr: map[string]error{},
		entered:   make(chan struct{}, 1),
	}
}

func (c *faultClient) set(fn func(c *faultClient)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *faultClient) ListDocuments(ctx context.Context, collection string, filters ...backend.Filter) ([]backend.Document, error) {
	c.mu.Lock()
	err := c.listErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Store.ListDocuments(ctx, collection, filters...)
}

func (c *faultClient) CreateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	c.mu.Lock()
	err := c.createErr[collection]
	c.mu.Unlock()
	if err != nil {
		return backend.Document{}, err
	}
	return c.Store.CreateDocument(ctx, collection, id, fields)
}

func (c *faultClient) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	c.mu.Lock()
	err, gate := c.updateErr, c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case c.entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.Document{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Document{}, err
	}
	return c.Store.UpdateDocument(ctx, collection, id, fields)
}

func (c *faultClient) DeleteDocument(ctx context.Context, collection, id string) error {
	c.mu.Lock()
	err := c.deleteErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Store.DeleteDocument(ctx, collection, id)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Notify(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func newTestStore(t *testing.T, c backend.Client, opts ...Option) *Store {
	t.Helper()
	sess, err := session.New("u1")
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithLocation(time.UTC)}, opts...)
	s, err := New(c, sess, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func seedHabit(t *testing.T, c backend.Client, id, user, title string, created time.Time) {
	t.Helper()
	_, err := c.CreateDocument(context.Background(), constants.HabitsCollection, id, map[string]any{
		constants.FieldUserID:      user,
		constants.FieldTitle:       title,
		constants.FieldFrequency:   "daily",
		constants.FieldStreakCount: 0,
		constants.FieldCreatedAt:   utils.FormatTimestamp(created),
	})
	if err != nil {
		t.Fatalf("seed habit %s: %v", id, err)
	}
}

func seedCompletion(t *testing.T, c backend.Client, id, habitID, user string, at time.Time) {
	t.Helper()
	_, err := c.CreateDocument(context.Background(), constants.CompletionsCollection, id, map[string]any{
		constants.FieldHabitID:     habitID,
		constants.FieldUserID:      user,
		constants.FieldCompletedAt: utils.FormatTimestamp(at),
	})
	if err != nil {
		t.Fatalf("seed completion %s: %v", id, err)
	}
}

func countDocs(t *testing.T, c backend.Client, collection string) int {
	t.Helper()
	docs, err := c.ListDocuments(context.Background(), collection)
	if err != nil {
		t.Fatalf("ListDocuments(%s) error = %v", collection, err)
	}
	return len(docs)
}

func TestNewRequiresSession(t *testing.T) {
	if _, err := New(memory.New(), session.Session{}); !errors.Is(err, ErrNoSession) {
		t.Errorf("New() with empty session error = %v, want ErrNoSession", err)
	}
	if _, err := New(nil, session.Session{UserID: "u1"}); err == nil {
		t.Error("New() with nil client should fail")
	}
}

func TestLoadHabitsScopesByUser(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h2", "u1", "Run", testNow.Add(-time.Hour))
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-2*time.Hour))
	seedHabit(t, c, "other", "u2", "Swim", testNow.Add(-3*time.Hour))
	s := newTestStore(t, c)

	if err := s.LoadHabits(context.Background()); err != nil {
		t.Fatalf("LoadHabits() error = %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Habits) != 2 {
		t.Fatalf("got %d habits, want 2", len(snap.Habits))
	}
	if snap.Habits[0].ID != "h1" || snap.Habits[1].ID != "h2" {
		t.Errorf("habits not ordered by creation: %s, %s", snap.Habits[0].ID, snap.Habits[1].ID)
	}
	if snap.Habits[0].OwnerID != "u1" || snap.Habits[0].Title != "Read" {
		t.Errorf("unexpected habit %+v", snap.Habits[0])
	}
}

func TestLoadHabitsKeepsStateOnError(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	s := newTestStore(t, c)
	if err := s.LoadHabits(context.Background()); err != nil {
		t.Fatalf("LoadHabits() error = %v", err)
	}

	c.set(func(c *faultClient) { c.listErr = errInjected })
	if err := s.LoadHabits(context.Background()); !errors.Is(err, errInjected) {
		t.Fatalf("LoadHabits() error = %v, want injected", err)
	}
	if got := len(s.Snapshot().Habits); got != 1 {
		t.Errorf("failed load replaced habits: got %d, want 1", got)
	}
}

func TestLoadTodaysCompletions(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-48*time.Hour))
	seedHabit(t, c, "h2", "u1", "Run", testNow.Add(-48*time.Hour))
	seedCompletion(t, c, "c1", "h1", "u1", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	seedCompletion(t, c, "c2", "h2", "u1", time.Date(2026, 3, 9, 23, 59, 59, 0, time.UTC))
	seedCompletion(t, c, "c3", "h2", "u2", testNow)
	s := newTestStore(t, c)

	if err := s.LoadTodaysCompletions(context.Background(), testNow); err != nil {
		t.Fatalf("LoadTodaysCompletions() error = %v", err)
	}
	snap := s.Snapshot()
	if !snap.Completed("h1") {
		t.Error("h1 completed at midnight should count as today")
	}
	if snap.Completed("h2") {
		t.Error("h2 has only yesterday's completion and another user's")
	}
	if snap.Today != utils.DayOf(testNow, time.UTC) {
		t.Errorf("Today = %v", snap.Today)
	}
}

func TestCompleteHabit(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-time.Hour))
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	m, err := s.CompleteHabit(ctx, "h1")
	if err != nil {
		t.Fatalf("CompleteHabit() error = %v", err)
	}
	if m.State != StateCommitted || m.Kind != KindComplete || m.Partial {
		t.Errorf("unexpected mutation %v", m)
	}

	snap := s.Snapshot()
	h, _ := snap.Habit("h1")
	if h.StreakCount != 1 {
		t.Errorf("StreakCount = %d, want 1", h.StreakCount)
	}
	if h.LastCompletedAt == nil || !h.LastCompletedAt.Equal(testNow) {
		t.Errorf("LastCompletedAt = %v, want %v", h.LastCompletedAt, testNow)
	}
	if !snap.Completed("h1") || len(snap.Completions) != 1 {
		t.Errorf("completion not mirrored: %+v", snap)
	}
	if len(snap.Pending) != 0 {
		t.Errorf("pending after commit: %v", snap.Pending)
	}
	if got := countDocs(t, c, constants.CompletionsCollection); got != 1 {
		t.Errorf("backend has %d completions, want 1", got)
	}

	again, err := s.CompleteHabit(ctx, "h1")
	if err != nil || again.State != StateSkipped {
		t.Errorf("second CompleteHabit() = %v, %v; want skipped", again, err)
	}
	if got := countDocs(t, c, constants.CompletionsCollection); got != 1 {
		t.Errorf("skipped completion still wrote: %d completions", got)
	}
	if again.Seq <= m.Seq {
		t.Errorf("mutation sequence not increasing: %d then %d", m.Seq, again.Seq)
	}
}

func TestCompleteHabitUnknown(t *testing.T) {
	s := newTestStore(t, newFaultClient())
	m, err := s.CompleteHabit(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownHabit) || m.State != StateSkipped {
		t.Errorf("CompleteHabit(missing) = %v, %v", m, err)
	}
}

func TestCompleteHabitInFlightGuard(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	gate := make(chan struct{})
	c.set(func(c *faultClient) { c.gate = gate })

	done := make(chan Mutation, 1)
	go func() {
		m, _ := s.CompleteHabit(ctx, "h1")
		done <- m
	}()
	<-c.entered

	snap := s.Snapshot()
	if !snap.Completed("h1") || !snap.Pending["h1"] {
		t.Errorf("optimistic state not visible while in flight: %+v", snap)
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}

	dup, err := s.CompleteHabit(ctx, "h1")
	if err != nil || dup.State != StateSkipped {
		t.Errorf("duplicate CompleteHabit() = %v, %v; want skipped", dup, err)
	}

	close(gate)
	if m := <-done; m.State != StateCommitted {
		t.Errorf("first completion = %v, want committed", m)
	}
	if got := countDocs(t, c, constants.CompletionsCollection); got != 1 {
		t.Errorf("backend has %d completions, want 1", got)
	}
}

func TestCompleteHabitRollsBackOnCreateFailure(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	var seen []bool
	unregister := s.OnChange(func(snap Snapshot) { seen = append(seen, snap.Completed("h1")) })
	defer unregister()

	c.set(func(c *faultClient) { c.createErr[constants.CompletionsCollection] = errInjected })
	m, err := s.CompleteHabit(ctx, "h1")
	if !errors.Is(err, errInjected) {
		t.Fatalf("CompleteHabit() error = %v, want injected", err)
	}
	if m.State != StateRolledBack || m.Partial {
		t.Errorf("mutation = %v, want rolled back without partial write", m)
	}

	if len(seen) == 0 || !seen[0] {
		t.Errorf("optimistic completion was never observable: %v", seen)
	}
	snap := s.Snapshot()
	if snap.Completed("h1") {
		t.Error("rolled back completion still marked done")
	}
	if h, _ := snap.Habit("h1"); h.StreakCount != 0 {
		t.Errorf("StreakCount = %d after rollback", h.StreakCount)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d after rollback", s.Pending())
	}
}

func TestCompleteHabitCompensatesPartialWrite(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	c.set(func(c *faultClient) { c.updateErr = errInjected })
	m, err := s.CompleteHabit(ctx, "h1")
	if !errors.Is(err, errInjected) {
		t.Fatalf("CompleteHabit() error = %v, want injected", err)
	}
	if m.State != StateRolledBack || !m.Partial {
		t.Errorf("mutation = %v, want partial rollback", m)
	}
	if got := countDocs(t, c, constants.CompletionsCollection); got != 0 {
		t.Errorf("compensating delete left %d completions", got)
	}
	if s.Snapshot().Completed("h1") {
		t.Error("habit still marked done after partial write")
	}
}

func TestCompleteHabitOrphanWhenCompensationFails(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	c.set(func(c *faultClient) {
		c.updateErr = errInjected
		c.deleteErr = errInjected
	})
	m, err := s.CompleteHabit(ctx, "h1")
	if err == nil || !m.Partial {
		t.Fatalf("CompleteHabit() = %v, %v", m, err)
	}
	if got := countDocs(t, c, constants.CompletionsCollection); got != 1 {
		t.Errorf("expected the orphan completion to remain, got %d", got)
	}
	// The refetch of today's completions sees the orphan.
	if !s.Snapshot().Completed("h1") {
		t.Error("refetch should reflect the stored completion")
	}
}

func TestCompleteHabitNotifiesMilestone(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-72*time.Hour))
	seedCompletion(t, c, "c1", "h1", "u1", testNow.Add(-48*time.Hour))
	seedCompletion(t, c, "c2", "h1", "u1", testNow.Add(-24*time.Hour))
	sender := &recordingSender{}
	s := newTestStore(t, c, WithNotifier(sender))
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, err := s.CompleteHabit(ctx, "h1"); err != nil {
		t.Fatalf("CompleteHabit() error = %v", err)
	}
	want := notifier.MilestoneMessage("Read", 3)
	if len(sender.sent) != 1 || sender.sent[0] != want {
		t.Errorf("notifications = %v, want [%q]", sender.sent, want)
	}
}

func TestDeleteHabit(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	seedHabit(t, c, "h2", "u1", "Run", testNow.Add(time.Minute))
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.LoadHabits(ctx); err != nil {
		t.Fatalf("LoadHabits() error = %v", err)
	}

	m, err := s.DeleteHabit(ctx, "h1")
	if err != nil || m.State != StateCommitted {
		t.Fatalf("DeleteHabit() = %v, %v", m, err)
	}
	snap := s.Snapshot()
	if _, ok := snap.Habit("h1"); ok || len(snap.Habits) != 1 {
		t.Errorf("habit not removed locally: %+v", snap.Habits)
	}
	if got := countDocs(t, c, constants.HabitsCollection); got != 1 {
		t.Errorf("backend has %d habits, want 1", got)
	}

	if _, err := s.DeleteHabit(ctx, "h1"); !errors.Is(err, ErrUnknownHabit) {
		t.Errorf("deleting twice error = %v, want ErrUnknownHabit", err)
	}
}

func TestDeleteHabitRefetchesOnFailure(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.LoadHabits(ctx); err != nil {
		t.Fatalf("LoadHabits() error = %v", err)
	}

	c.set(func(c *faultClient) { c.deleteErr = errInjected })
	m, err := s.DeleteHabit(ctx, "h1")
	if !errors.Is(err, errInjected) || m.State != StateRolledBack {
		t.Fatalf("DeleteHabit() = %v, %v", m, err)
	}
	if _, ok := s.Snapshot().Habit("h1"); !ok {
		t.Error("refetch after failed delete should restore the habit")
	}
}

func TestCreateHabit(t *testing.T) {
	c := newFaultClient()
	s := newTestStore(t, c)
	ctx := context.Background()

	tests := []struct {
		name      string
		title     string
		frequency string
		wantErr   error
	}{
		{"empty title", "   ", "daily", ErrEmptyTitle},
		{"bad frequency", "Read", "hourly", ErrInvalidFrequency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := s.CreateHabit(ctx, tt.title, "", tt.frequency)
			if !errors.Is(err, tt.wantErr) || m.State != StateSkipped {
				t.Errorf("CreateHabit() = %v, %v; want %v", m, err, tt.wantErr)
			}
		})
	}

	m, err := s.CreateHabit(ctx, " Read ", "ten pages", "Weekly")
	if err != nil || m.State != StateCommitted || m.HabitID == "" {
		t.Fatalf("CreateHabit() = %v, %v", m, err)
	}
	h, ok := s.Snapshot().Habit(m.HabitID)
	if !ok {
		t.Fatal("created habit missing from snapshot")
	}
	if h.Title != "Read" || h.Description != "ten pages" || h.Frequency != "weekly" || h.StreakCount != 0 || h.OwnerID != "u1" {
		t.Errorf("unexpected habit %+v", h)
	}
	if !h.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", h.CreatedAt, testNow)
	}
	if got := countDocs(t, c, constants.HabitsCollection); got != 1 {
		t.Errorf("backend has %d habits, want 1", got)
	}
}

func TestCreateHabitFailure(t *testing.T) {
	c := newFaultClient()
	c.set(func(c *faultClient) { c.createErr[constants.HabitsCollection] = errInjected })
	s := newTestStore(t, c)

	m, err := s.CreateHabit(context.Background(), "Read", "", "daily")
	if !errors.Is(err, errInjected) || m.State != StateRolledBack {
		t.Errorf("CreateHabit() = %v, %v", m, err)
	}
	if len(s.Snapshot().Habits) != 0 {
		t.Error("failed create left a local habit")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow)
	s := newTestStore(t, c)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := s.CompleteHabit(ctx, "h1"); err != nil {
		t.Fatalf("CompleteHabit() error = %v", err)
	}

	snap := s.Snapshot()
	snap.Habits[0].Title = "changed"
	*snap.Habits[0].LastCompletedAt = time.Time{}
	snap.CompletedToday["h1"] = false

	again := s.Snapshot()
	if again.Habits[0].Title != "Read" || again.Habits[0].LastCompletedAt.IsZero() || !again.Completed("h1") {
		t.Errorf("snapshot shares state with the store: %+v", again)
	}
}

func TestOnChangeUnregister(t *testing.T) {
	c := newFaultClient()
	s := newTestStore(t, c)

	var versions []uint64
	unregister := s.OnChange(func(snap Snapshot) { versions = append(versions, snap.Version) })
	if err := s.LoadHabits(context.Background()); err != nil {
		t.Fatalf("LoadHabits() error = %v", err)
	}
	unregister()
	unregister()
	if err := s.LoadHabits(context.Background()); err != nil {
		t.Fatalf("LoadHabits() error = %v", err)
	}
	if len(versions) != 1 || versions[0] == 0 {
		t.Errorf("versions = %v, want one non-zero version", versions)
	}
}

func TestStats(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-96*time.Hour))
	seedHabit(t, c, "h2", "u1", "Run", testNow.Add(-96*time.Hour))
	seedCompletion(t, c, "c1", "h2", "u1", testNow.Add(-24*time.Hour))
	seedCompletion(t, c, "c2", "h2", "u1", testNow)
	seedCompletion(t, c, "c3", "h1", "u1", testNow)
	s := newTestStore(t, c)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	ranked := s.Stats(testNow)
	if len(ranked) != 2 || ranked[0].Habit.ID != "h2" {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
	if ranked[0].CurrentStreak != 2 || ranked[0].BestStreak != 2 || ranked[0].TotalCount != 2 {
		t.Errorf("h2 stats = %+v", ranked[0].Stats)
	}
}

type movableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *movableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func TestCompleteHabitAfterMidnight(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-48*time.Hour))
	clock := &movableClock{t: time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)}
	s := newTestStore(t, c, WithClock(clock.Now))
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if m, err := s.CompleteHabit(ctx, "h1"); err != nil || m.State != StateCommitted {
		t.Fatalf("CompleteHabit() = %v, %v", m, err)
	}

	clock.Set(time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC))
	m, err := s.CompleteHabit(ctx, "h1")
	if err != nil || m.State != StateCommitted {
		t.Fatalf("next-day CompleteHabit() = %v, %v", m, err)
	}
	snap := s.Snapshot()
	if snap.Today != utils.DayOf(clock.Now(), time.UTC) {
		t.Errorf("Today = %v, want 2026-03-11", snap.Today)
	}
	if got := countDocs(t, c, constants.CompletionsCollection); got != 2 {
		t.Errorf("completions = %d, want 2", got)
	}
	h, _ := snap.Habit("h1")
	if h.StreakCount != 2 {
		t.Errorf("StreakCount = %d, want 2", h.StreakCount)
	}
}

func TestAdvanceDay(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-48*time.Hour))
	seedHabit(t, c, "h2", "u1", "Run", testNow.Add(-48*time.Hour))
	seedCompletion(t, c, "c1", "h1", "u1", time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC))
	seedCompletion(t, c, "c2", "h2", "u1", time.Date(2026, 3, 11, 0, 30, 0, 0, time.UTC))
	clock := &movableClock{t: time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)}
	s := newTestStore(t, c, WithClock(clock.Now))
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if s.AdvanceDay() {
		t.Error("AdvanceDay() before midnight reported a change")
	}

	var emitted []Snapshot
	unregister := s.OnChange(func(snap Snapshot) { emitted = append(emitted, snap) })
	defer unregister()

	clock.Set(time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC))
	if !s.AdvanceDay() {
		t.Fatal("AdvanceDay() after midnight reported no change")
	}
	snap := s.Snapshot()
	if snap.Completed("h1") {
		t.Error("yesterday's completion still marks h1 done")
	}
	if !snap.Completed("h2") {
		t.Error("h2 completed after midnight should count for the new day")
	}
	if len(emitted) != 1 || emitted[0].Today != snap.Today {
		t.Errorf("expected one emitted snapshot for the new day, got %d", len(emitted))
	}
	if s.AdvanceDay() {
		t.Error("second AdvanceDay() on the same day reported a change")
	}
}

func TestLoadTodaysCompletionsWithOffsets(t *testing.T) {
	c := newFaultClient()
	seedHabit(t, c, "h1", "u1", "Read", testNow.Add(-48*time.Hour))
	seedHabit(t, c, "h2", "u1", "Run", testNow.Add(-48*time.Hour))
	for id, doc := range map[string][2]string{
		// 2026-03-09 23:30 UTC
		"c1": {"h1", "2026-03-10T01:30:00+02:00"},
		// 2026-03-10 01:00 UTC
		"c2": {"h2", "2026-03-09T20:00:00-05:00"},
	} {
		_, err := c.CreateDocument(context.Background(), constants.CompletionsCollection, id, map[string]any{
			constants.FieldHabitID:     doc[0],
			constants.FieldUserID:      "u1",
			constants.FieldCompletedAt: doc[1],
		})
		if err != nil {
			t.Fatalf("seed completion %s: %v", id, err)
		}
	}
	s := newTestStore(t, c)

	if err := s.LoadTodaysCompletions(context.Background(), testNow); err != nil {
		t.Fatalf("LoadTodaysCompletions() error = %v", err)
	}
	snap := s.Snapshot()
	if snap.Completed("h1") {
		t.Error("completion from 23:30 UTC yesterday counted as today")
	}
	if !snap.Completed("h2") {
		t.Error("completion from 01:00 UTC today was missed")
	}
}
