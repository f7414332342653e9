package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitsync/internal/analytics"
	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/notifier"
	"github.com/julianstephens/habitsync/internal/streak"
)

type MutationKind string

const (
	KindComplete MutationKind = "complete"
	KindDelete   MutationKind = "delete"
	KindCreate   MutationKind = "create"
)

type MutationState string

const (
	StatePending    MutationState = "pending"
	StateCommitted  MutationState = "committed"
	StateRolledBack MutationState = "rolled_back"
	// StateSkipped marks a call whose precondition made it a no-op.
	StateSkipped MutationState = "skipped"
)

// Mutation records the outcome of one mutating call.
type Mutation struct {
	Seq     int64
	Kind    MutationKind
	HabitID string
	State   MutationState
	Err     error
	// Partial is set when some but not all backend writes of the mutation landed.
	Partial bool
}

func (m Mutation) String() string {
	s := fmt.Sprintf("#%d %s %s: %s", m.Seq, m.Kind, m.HabitID, m.State)
	if m.Err != nil {
		s += " (" + m.Err.Error() + ")"
	}
	return s
}

func (s *Store) newMutationLocked(kind MutationKind, habitID string) Mutation {
	s.seq++
	return Mutation{Seq: s.seq, Kind: kind, HabitID: habitID, State: StatePending}
}

type flight struct {
	kind MutationKind
	seq  int64
}

// beginLocked marks m's habit busy. The caller must call settle(m) once.
func (s *Store) beginLocked(m Mutation) {
	if m.HabitID != "" {
		s.inFlight[m.HabitID] = flight{kind: m.Kind, seq: m.Seq}
	}
	s.pending++
}

// releaseLocked drops m's in-flight guard unless a later mutation took it over.
func (s *Store) releaseLocked(m Mutation) {
	if f, ok := s.inFlight[m.HabitID]; ok && f.seq == m.Seq {
		delete(s.inFlight, m.HabitID)
	}
}

// settle ends a mutation started with beginLocked and wakes the Run loop when
// reloads were deferred behind it.
func (s *Store) settle(m Mutation) {
	s.mu.Lock()
	s.releaseLocked(m)
	s.pending--
	wake := s.pending == 0 && (s.deferHabits || s.deferCompletions)
	snap := s.changedLocked()
	s.mu.Unlock()

	if wake {
		select {
		case s.settled <- struct{}{}:
		default:
		}
	}
	s.emit(snap)
}

// Pending reports how many mutations are in flight.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// resyncContext outlives the caller's context so a rollback can still refetch after
// the original call timed out.
func resyncContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), constants.ResyncTimeout)
}

func (s *Store) findHabitLocked(id string) (int, bool) {
	for i, h := range s.habits {
		if h.ID == id {
			return i, true
		}
	}
	return -1, false
}

// CompleteHabit marks habitID done for today. A habit already completed today, or
// with a completion in flight, is skipped without error.
func (s *Store) CompleteHabit(ctx context.Context, habitID string) (Mutation, error) {
	s.mu.Lock()
	m := s.newMutationLocked(KindComplete, habitID)
	rolled := s.rollDayLocked()
	skip := func() {
		var snap Snapshot
		if rolled {
			snap = s.changedLocked()
		}
		s.mu.Unlock()
		if rolled {
			s.emit(snap)
		}
		m.State = StateSkipped
	}
	if _, done := s.completedToday[habitID]; done {
		skip()
		return m, nil
	}
	if _, busy := s.inFlight[habitID]; busy {
		skip()
		return m, nil
	}
	idx, ok := s.findHabitLocked(habitID)
	if !ok {
		skip()
		m.Err = fmt.Errorf("%w: %s", ErrUnknownHabit, habitID)
		return m, m.Err
	}
	habit := s.habits[idx]
	history := append([]models.Completion(nil), s.completions...)
	haveHistory := s.loaded.all

	s.beginLocked(m)
	s.completedToday[habitID] = struct{}{}
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
	defer s.settle(m)

	now := s.now().UTC()
	completion := models.Completion{
		ID:          uuid.NewString(),
		HabitID:     habitID,
		OwnerID:     s.session.UserID,
		CompletedAt: now,
	}

	doc, err := s.client.CreateDocument(ctx, constants.CompletionsCollection, completion.ID, completionFields(completion))
	if err != nil {
		m = s.rollbackCompletion(ctx, m, fmt.Errorf("failed to record completion: %w", err))
		return m, m.Err
	}
	if c, err := completionFromDocument(doc); err == nil {
		completion = c
	}

	updated, err := s.client.UpdateDocument(ctx, constants.HabitsCollection, habitID, completionPatch(habit, now))
	if err != nil {
		m.Partial = true
		s.log.Warn("completion stored but habit update failed", "habit", habitID, "completion", completion.ID, "error", err)
		s.compensate(ctx, completion)
		m = s.rollbackCompletion(ctx, m, fmt.Errorf("failed to update habit: %w", err))
		return m, m.Err
	}

	next := habit
	if h, err := habitFromDocument(updated); err == nil {
		next = h
	} else {
		next.StreakCount++
		next.LastCompletedAt = &now
	}

	s.mu.Lock()
	if i, ok := s.findHabitLocked(habitID); ok {
		s.habits[i] = next
	}
	s.completions = append(s.completions, completion)
	sortCompletions(s.completions)
	s.mu.Unlock()

	m.State = StateCommitted
	s.tracker.TrackEvent(analytics.EventHabitCompleted, map[string]any{
		"habit_id":    habitID,
		"completions": next.StreakCount,
	})

	if haveHistory && s.notify != nil {
		before := streak.Compute(habitID, history, now, s.loc).CurrentStreak
		after := streak.Compute(habitID, append(history, completion), now, s.loc).CurrentStreak
		notifier.NotifyMilestone(s.notify, habit.Title, before, after)
	}
	return m, nil
}

// rollbackCompletion undoes the optimistic completed-today entry and refetches. The
// in-flight guard is dropped first so the refetch is not merged with the optimistic
// entry; the pending count stays until the caller settles.
func (s *Store) rollbackCompletion(ctx context.Context, m Mutation, cause error) Mutation {
	s.mu.Lock()
	delete(s.completedToday, m.HabitID)
	s.releaseLocked(m)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)

	m.State = StateRolledBack
	m.Err = cause

	rctx, cancel := resyncContext(ctx)
	defer cancel()
	if err := s.LoadHabits(rctx); err != nil {
		s.log.Warn("resync after failed completion", "habit", m.HabitID, "error", err)
	}
	if err := s.LoadTodaysCompletions(rctx, s.now()); err != nil {
		s.log.Warn("resync after failed completion", "habit", m.HabitID, "error", err)
	}
	return m
}

// compensate deletes a completion whose habit update failed.
func (s *Store) compensate(ctx context.Context, c models.Completion) {
	cctx, cancel := resyncContext(ctx)
	defer cancel()
	if err := s.client.DeleteDocument(cctx, constants.CompletionsCollection, c.ID); err != nil && !errors.Is(err, backend.ErrNotFound) {
		s.log.Error("orphan completion left behind", "habit", c.HabitID, "completion", c.ID, "error", err)
	}
}

// DeleteHabit removes habitID locally, then remotely. On failure the habit list is
// refetched.
func (s *Store) DeleteHabit(ctx context.Context, habitID string) (Mutation, error) {
	s.mu.Lock()
	m := s.newMutationLocked(KindDelete, habitID)
	if _, busy := s.inFlight[habitID]; busy {
		s.mu.Unlock()
		m.State = StateSkipped
		return m, nil
	}
	idx, ok := s.findHabitLocked(habitID)
	if !ok {
		s.mu.Unlock()
		m.State = StateSkipped
		m.Err = fmt.Errorf("%w: %s", ErrUnknownHabit, habitID)
		return m, m.Err
	}
	removed := s.habits[idx]
	s.habits = append(s.habits[:idx:idx], s.habits[idx+1:]...)
	delete(s.completedToday, habitID)
	s.beginLocked(m)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)

	err := s.client.DeleteDocument(ctx, constants.HabitsCollection, habitID)
	if err != nil {
		m.State = StateRolledBack
		m.Err = fmt.Errorf("failed to delete habit: %w", err)

		// The refetch must see the habit again, so release the delete guard first.
		s.settle(m)
		rctx, cancel := resyncContext(ctx)
		defer cancel()
		if lerr := s.LoadHabits(rctx); lerr != nil {
			s.log.Warn("resync after failed delete", "habit", habitID, "error", lerr)
		}
		return m, m.Err
	}
	s.settle(m)

	m.State = StateCommitted
	s.tracker.TrackEvent(analytics.EventHabitDeleted, map[string]any{
		"habit_id": removed.ID,
		"title":    removed.Title,
	})
	return m, nil
}

// CreateHabit validates and stores a new habit for the session user.
func (s *Store) CreateHabit(ctx context.Context, title, description, frequency string) (Mutation, error) {
	s.mu.Lock()
	m := s.newMutationLocked(KindCreate, "")
	s.mu.Unlock()

	title = strings.TrimSpace(title)
	if title == "" {
		m.State = StateSkipped
		m.Err = ErrEmptyTitle
		return m, m.Err
	}
	freq, err := models.ParseFrequency(strings.ToLower(strings.TrimSpace(frequency)))
	if err != nil {
		m.State = StateSkipped
		m.Err = fmt.Errorf("%w: %v", ErrInvalidFrequency, err)
		return m, m.Err
	}

	habit := models.Habit{
		OwnerID:     s.session.UserID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Frequency:   freq,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}

	s.mu.Lock()
	s.beginLocked(m)
	s.mu.Unlock()

	doc, err := s.client.CreateDocument(ctx, constants.HabitsCollection, "", habitFields(habit))
	if err != nil {
		m.State = StateRolledBack
		m.Err = fmt.Errorf("failed to create habit: %w", err)
		s.settle(m)
		rctx, cancel := resyncContext(ctx)
		defer cancel()
		if lerr := s.LoadHabits(rctx); lerr != nil {
			s.log.Warn("resync after failed create", "error", lerr)
		}
		return m, m.Err
	}

	created, err := habitFromDocument(doc)
	if err != nil {
		created = habit
		created.ID = doc.ID
	}
	m.HabitID = created.ID

	s.mu.Lock()
	if _, exists := s.findHabitLocked(created.ID); !exists {
		s.habits = append(s.habits, created)
		sortHabits(s.habits)
	}
	s.mu.Unlock()
	s.settle(m)

	m.State = StateCommitted
	s.tracker.TrackEvent(analytics.EventHabitCreated, map[string]any{
		"habit_id":  created.ID,
		"frequency": string(created.Frequency),
	})
	return m, nil
}
