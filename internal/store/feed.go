package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
)

var errSubscriptionEnded = errors.New("change subscription ended")

// SubscribeToChanges registers onHabitChange and onCompletionChange with the change
// feed of the habits and completions collections. Either callback may be nil. The
// returned func releases the subscription; calls after the first do nothing.
func (s *Store) SubscribeToChanges(ctx context.Context, onHabitChange, onCompletionChange func(backend.Event)) (func(), error) {
	sub, err := s.subscribe(ctx, onHabitChange, onCompletionChange)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { _ = sub.Close() })
	}, nil
}

func (s *Store) subscribe(ctx context.Context, onHabitChange, onCompletionChange func(backend.Event)) (backend.Subscription, error) {
	channels := []string{
		backend.Channel(constants.HabitsCollection),
		backend.Channel(constants.CompletionsCollection),
	}
	return s.client.Subscribe(ctx, channels, func(e backend.Event) {
		switch e.Collection() {
		case constants.HabitsCollection:
			if onHabitChange != nil {
				onHabitChange(e)
			}
		case constants.CompletionsCollection:
			if onCompletionChange != nil {
				onCompletionChange(e)
			}
		}
	})
}

type reload int

const (
	reloadHabits reload = iota + 1
	reloadCompletions
)

// reloadFor maps a change event to the reload it requires; ok is false for events
// the store ignores.
func reloadFor(e backend.Event) (reload, bool) {
	switch e.Collection() {
	case constants.HabitsCollection:
		// Deletes are assumed to be this client's own optimistic delete.
		if e.Has(backend.OpDelete) {
			return 0, false
		}
		return reloadHabits, true
	case constants.CompletionsCollection:
		return reloadCompletions, true
	}
	return 0, false
}

// changeQueue is a bounded FIFO of pending reloads. The feed callback pushes, the
// Run loop pops.
type changeQueue struct {
	mu       sync.Mutex
	items    []reload
	capacity int
	overflow bool
	signal   chan struct{}
}

func newChangeQueue(capacity int) *changeQueue {
	return &changeQueue{
		items:    make([]reload, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push enqueues r. When the queue is full r is coalesced into an equal pending
// entry; if there is none, the next Drain reports a full reload. It reports
// whether r took a new slot.
func (q *changeQueue) Push(r reload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := false
	if len(q.items) < q.capacity {
		q.items = append(q.items, r)
		added = true
	} else if !q.containsLocked(r) {
		q.overflow = true
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return added
}

func (q *changeQueue) containsLocked(r reload) bool {
	for _, item := range q.items {
		if item == r {
			return true
		}
	}
	return false
}

// Drain removes everything queued, collapsed to the distinct reloads needed.
func (q *changeQueue) Drain() (habits, completions bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.items {
		switch r {
		case reloadHabits:
			habits = true
		case reloadCompletions:
			completions = true
		}
	}
	if q.overflow {
		habits, completions = true, true
		q.overflow = false
	}
	q.items = q.items[:0]
	return habits, completions
}

func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *changeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Run subscribes to the change feed and applies it until ctx is cancelled:
//
//   - habit create and update events reload the habits;
//   - completion events reload the full history and today's completions;
//   - habit deletes are ignored.
//
// Reloads wait while any mutation is in flight. When the subscription drops, Run
// resubscribes with exponential backoff and refetches everything once the new
// subscription is live. Run returns nil on cancellation and an error only when
// the backend is closed.
func (s *Store) Run(ctx context.Context) error {
	q := newChangeQueue(constants.ChangeQueueSize)
	enqueue := func(e backend.Event) {
		if r, ok := reloadFor(e); ok {
			q.Push(r)
		}
	}

	backoff := s.backoffInitial
	for {
		sub, err := s.subscribe(ctx, enqueue, enqueue)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, backend.ErrClosed) {
				return err
			}
			s.log.Warn("change feed subscribe failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, s.backoffMax)
			continue
		}
		backoff = s.backoffInitial
		s.log.Debug("change feed subscribed")

		s.refetch(ctx, true, true)
		err = s.consume(ctx, q, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, backend.ErrClosed) {
			return err
		}
		s.log.Warn("change feed dropped, resubscribing", "error", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return nil
		}
	}
}

// consume applies queued reloads until the subscription ends.
func (s *Store) consume(ctx context.Context, q *changeQueue, sub backend.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				return err
			}
			return errSubscriptionEnded
		case <-q.Wait():
			habits, completions := q.Drain()
			s.refetch(ctx, habits, completions)
		case <-s.settled:
			s.mu.Lock()
			habits, completions := s.deferHabits, s.deferCompletions
			s.deferHabits, s.deferCompletions = false, false
			s.mu.Unlock()
			s.refetch(ctx, habits, completions)
		}
	}
}

// refetch runs the requested reloads, or records them for later while a mutation
// is in flight. Failures are logged; the next change or refresh retries.
func (s *Store) refetch(ctx context.Context, habits, completions bool) {
	if !habits && !completions {
		return
	}

	s.mu.Lock()
	if s.pending > 0 {
		s.deferHabits = s.deferHabits || habits
		s.deferCompletions = s.deferCompletions || completions
		s.mu.Unlock()
		s.log.Debug("reload deferred behind in-flight mutation", "habits", habits, "completions", completions)
		return
	}
	s.mu.Unlock()

	if habits {
		if err := s.LoadHabits(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("habit reload failed", "error", err)
		}
	}
	if completions {
		if err := s.LoadAllCompletions(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("completion reload failed", "error", err)
		}
		if err := s.LoadTodaysCompletions(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.log.Warn("today's completion reload failed", "error", err)
		}
	}
}

func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

// sleep waits for d or until ctx is done; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
