// Package store keeps a client-side mirror of one user's habits and completions.
//
// The mirror is filled by explicit loads and kept current by the backend change
// feed (see Run). Mutations are applied locally first, then written to the
// backend; a failed write rolls the local change back and refetches.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/julianstephens/habitsync/internal/analytics"
	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/notifier"
	"github.com/julianstephens/habitsync/internal/session"
	"github.com/julianstephens/habitsync/internal/streak"
	"github.com/julianstephens/habitsync/internal/utils"
)

var (
	ErrUnknownHabit     = errors.New("unknown habit")
	ErrEmptyTitle       = errors.New("habit title is required")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrNoSession        = errors.New("store requires a signed-in user")
)

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the zone calendar days are computed in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithNotifier sends streak milestone notifications through n.
func WithNotifier(n notifier.Sender) Option {
	return func(s *Store) { s.notify = n }
}

func WithTracker(t *analytics.Tracker) Option {
	return func(s *Store) { s.tracker = t }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store is safe for concurrent use. The mutex is never held across a backend call.
type Store struct {
	client  backend.Client
	session session.Session
	now     func() time.Time
	loc     *time.Location
	notify  notifier.Sender
	tracker *analytics.Tracker
	log     *log.Logger

	backoffInitial time.Duration
	backoffMax     time.Duration

	mu             sync.Mutex
	version        uint64
	habits         []models.Habit
	completions    []models.Completion
	completedToday map[string]struct{}
	today          utils.Day
	loaded         loadState

	// inFlight holds habits with an unsettled mutation.
	inFlight map[string]flight
	pending  int
	seq      int64

	deferHabits      bool
	deferCompletions bool
	settled          chan struct{}

	listenerSeq int
	listeners   map[int]func(Snapshot)
}

type loadState struct {
	habits, today, all bool
}

// New binds a store to client and the user of sess.
func New(client backend.Client, sess session.Session, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("store requires a backend client")
	}
	if !sess.Valid() {
		return nil, ErrNoSession
	}

	s := &Store{
		client:         client,
		session:        sess,
		now:            time.Now,
		loc:            time.Local,
		log:            logger.Named("store"),
		backoffInitial: constants.ResubscribeInitialBackoff,
		backoffMax:     constants.ResubscribeMaxBackoff,
		completedToday: make(map[string]struct{}),
		inFlight:       make(map[string]flight),
		settled:        make(chan struct{}, 1),
		listeners:      make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Session() session.Session { return s.session }

func (s *Store) Location() *time.Location { return s.loc }

func (s *Store) ownerFilter() backend.Filter {
	return backend.Equal(constants.FieldUserID, s.session.UserID)
}

// LoadHabits replaces the local habit collection with the user's habits. On error
// the previous collection is kept.
func (s *Store) LoadHabits(ctx context.Context) error {
	docs, err := s.client.ListDocuments(ctx, constants.HabitsCollection, s.ownerFilter())
	if err != nil {
		return fmt.Errorf("failed to load habits: %w", err)
	}

	habits := make([]models.Habit, 0, len(docs))
	for _, doc := range docs {
		h, err := habitFromDocument(doc)
		if err != nil {
			s.log.Warn("skipping unreadable habit", "id", doc.ID, "error", err)
			continue
		}
		habits = append(habits, h)
	}
	sortHabits(habits)

	s.mu.Lock()
	// A habit whose delete has not settled stays hidden.
	kept := habits[:0]
	for _, h := range habits {
		if s.inFlight[h.ID].kind != KindDelete {
			kept = append(kept, h)
		}
	}
	s.habits = kept
	s.loaded.habits = true
	snap := s.changedLocked()
	s.mu.Unlock()

	s.emit(snap)
	return nil
}

// LoadTodaysCompletions rebuilds the completed-today set from completions at or
// after the start of referenceDate's calendar day.
func (s *Store) LoadTodaysCompletions(ctx context.Context, referenceDate time.Time) error {
	start := utils.StartOfDay(referenceDate, s.loc)
	// Timestamps written with a zone offset compare out of order as strings, so
	// the query reaches back a day and the parsed times decide.
	bound := utils.FormatTimestamp(start.AddDate(0, 0, -1))
	completions, err := s.listCompletions(ctx, backend.GreaterOrEqual(constants.FieldCompletedAt, bound))
	if err != nil {
		return fmt.Errorf("failed to load today's completions: %w", err)
	}

	done := make(map[string]struct{}, len(completions))
	for _, c := range completions {
		if !c.CompletedAt.Before(start) {
			done[c.HabitID] = struct{}{}
		}
	}

	s.mu.Lock()
	// Optimistic completions stay visible until their writes settle.
	for id, f := range s.inFlight {
		if f.kind == KindComplete {
			done[id] = struct{}{}
		}
	}
	s.completedToday = done
	s.today = utils.DayOf(referenceDate, s.loc)
	s.loaded.today = true
	snap := s.changedLocked()
	s.mu.Unlock()

	s.emit(snap)
	return nil
}

// AdvanceDay moves the completed-today set to the current calendar day once the
// clock has passed midnight. Without loaded history the set starts empty. It
// reports whether the day changed; callers should Refresh when it did.
func (s *Store) AdvanceDay() bool {
	s.mu.Lock()
	if !s.rollDayLocked() {
		s.mu.Unlock()
		return false
	}
	snap := s.changedLocked()
	s.mu.Unlock()

	s.emit(snap)
	return true
}

func (s *Store) rollDayLocked() bool {
	if !s.loaded.today {
		return false
	}
	today := utils.DayOf(s.now(), s.loc)
	if today == s.today {
		return false
	}

	done := make(map[string]struct{})
	if s.loaded.all {
		for _, c := range s.completions {
			if utils.DayOf(c.CompletedAt, s.loc) == today {
				done[c.HabitID] = struct{}{}
			}
		}
	}
	for id, f := range s.inFlight {
		if f.kind == KindComplete {
			done[id] = struct{}{}
		}
	}
	s.completedToday = done
	s.today = today
	return true
}

// LoadAllCompletions replaces the local completion history.
func (s *Store) LoadAllCompletions(ctx context.Context) error {
	completions, err := s.listCompletions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load completions: %w", err)
	}

	s.mu.Lock()
	s.completions = completions
	s.loaded.all = true
	snap := s.changedLocked()
	s.mu.Unlock()

	s.emit(snap)
	return nil
}

// Refresh loads habits, today's completions and the full history. It stops at the
// first failure.
func (s *Store) Refresh(ctx context.Context) error {
	if err := s.LoadHabits(ctx); err != nil {
		return err
	}
	if err := s.LoadTodaysCompletions(ctx, s.now()); err != nil {
		return err
	}
	return s.LoadAllCompletions(ctx)
}

func (s *Store) listCompletions(ctx context.Context, extra ...backend.Filter) ([]models.Completion, error) {
	filters := append([]backend.Filter{s.ownerFilter()}, extra...)
	docs, err := s.client.ListDocuments(ctx, constants.CompletionsCollection, filters...)
	if err != nil {
		return nil, err
	}

	out := make([]models.Completion, 0, len(docs))
	for _, doc := range docs {
		c, err := completionFromDocument(doc)
		if err != nil {
			s.log.Warn("skipping unreadable completion", "id", doc.ID, "error", err)
			continue
		}
		out = append(out, c)
	}
	sortCompletions(out)
	return out, nil
}

// Snapshot is a copy of the mirror at one point in time.
type Snapshot struct {
	// Version increases with every local state change.
	Version        uint64
	UserID         string
	Habits         []models.Habit
	Completions    []models.Completion
	CompletedToday map[string]bool
	Today          utils.Day
	// Pending lists habits with a mutation in flight.
	Pending map[string]bool
}

func (s Snapshot) Completed(habitID string) bool {
	return s.CompletedToday[habitID]
}

func (s Snapshot) Habit(id string) (models.Habit, bool) {
	for _, h := range s.Habits {
		if h.ID == id {
			return h, true
		}
	}
	return models.Habit{}, false
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:        s.version,
		UserID:         s.session.UserID,
		Habits:         make([]models.Habit, len(s.habits)),
		Completions:    append([]models.Completion(nil), s.completions...),
		CompletedToday: make(map[string]bool, len(s.completedToday)),
		Today:          s.today,
		Pending:        make(map[string]bool, len(s.inFlight)),
	}
	for i, h := range s.habits {
		if h.LastCompletedAt != nil {
			t := *h.LastCompletedAt
			h.LastCompletedAt = &t
		}
		snap.Habits[i] = h
	}
	for id := range s.completedToday {
		snap.CompletedToday[id] = true
	}
	for id := range s.inFlight {
		snap.Pending[id] = true
	}
	return snap
}

// changedLocked bumps the version and returns the snapshot to emit.
func (s *Store) changedLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

// OnChange registers fn to receive a snapshot after every local state change. fn
// runs on the goroutine that made the change and must not block. The returned
// func unregisters it.
func (s *Store) OnChange(fn func(Snapshot)) func() {
	s.mu.Lock()
	s.listenerSeq++
	id := s.listenerSeq
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) emit(snap Snapshot) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Stats ranks the current habits by best streak as of now.
func (s *Store) Stats(now time.Time) []streak.HabitStats {
	snap := s.Snapshot()
	return streak.Rank(snap.Habits, snap.Completions, now, s.loc)
}

func sortHabits(habits []models.Habit) {
	sort.SliceStable(habits, func(i, j int) bool {
		if !habits[i].CreatedAt.Equal(habits[j].CreatedAt) {
			return habits[i].CreatedAt.Before(habits[j].CreatedAt)
		}
		return habits[i].ID < habits[j].ID
	})
}

func sortCompletions(completions []models.Completion) {
	sort.SliceStable(completions, func(i, j int) bool {
		if !completions[i].CompletedAt.Equal(completions[j].CompletedAt) {
			return completions[i].CompletedAt.Before(completions[j].CompletedAt)
		}
		return completions[i].ID < completions[j].ID
	})
}
