package backend

import (
	"context"
	"sync"

	"github.com/julianstephens/habitsync/internal/constants"
)

// Hub fans change events out to subscribers.
//
// Publish never blocks. Each subscriber has a bounded buffer drained by its own
// goroutine; a subscriber whose buffer is full is ended with ErrSubscriptionOverflow
// so it can resubscribe and refetch instead of silently missing events.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSubscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscription]struct{})}
}

// Subscribe registers fn for events on channels.
func (h *Hub) Subscribe(ctx context.Context, channels []string, fn func(Event)) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	s := &hubSubscription{
		hub:      h,
		channels: append([]string(nil), channels...),
		events:   make(chan Event, constants.SubscriberBufferSize),
		done:     make(chan struct{}),
	}
	h.subs[s] = struct{}{}
	go s.run(ctx, fn)
	return s, nil
}

// Publish delivers e to every subscriber listening on one of its channels.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		if !e.OnChannel(s.channels) {
			continue
		}
		select {
		case s.events <- e:
		default:
			delete(h.subs, s)
			go s.end(ErrSubscriptionOverflow)
		}
	}
}

// Fail ends every current subscription with err. Later subscriptions are unaffected.
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*hubSubscription]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.end(err)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription with ErrClosed and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.Fail(ErrClosed)
}

func (h *Hub) remove(s *hubSubscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

type hubSubscription struct {
	hub      *Hub
	channels []string
	events   chan Event
	done     chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *hubSubscription) run(ctx context.Context, fn func(Event)) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.hub.remove(s)
			s.end(nil)
			return
		case e := <-s.events:
			// Drop events still buffered when the subscription ended.
			select {
			case <-s.done:
				return
			default:
			}
			fn(e)
		}
	}
}

func (s *hubSubscription) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *hubSubscription) Close() error {
	s.hub.remove(s)
	s.end(nil)
	return nil
}

func (s *hubSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *hubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
