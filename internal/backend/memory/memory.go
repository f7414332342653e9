// Package memory is an in-process document store with a live change feed.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitsync/internal/backend"
)

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]backend.Document
	hub         *backend.Hub
	now         func() time.Time
	closed      bool
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]backend.Document),
		hub:         backend.NewHub(),
		now:         time.Now,
	}
}

// WithClock replaces the clock used for document timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) ListDocuments(ctx context.Context, collection string, filters ...backend.Filter) ([]backend.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := backend.ValidateFilters(filters); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, backend.ErrClosed
	}

	var out []backend.Document
	for _, doc := range s.collections[collection] {
		if backend.MatchAll(doc.Data, filters) {
			out = append(out, copyDocument(doc))
		}
	}
	return out, nil
}

func (s *Store) CreateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	if err := ctx.Err(); err != nil {
		return backend.Document{}, err
	}
	if id == "" {
		id = uuid.New().String()
	}
	if err := backend.ValidateName("collection", collection); err != nil {
		return backend.Document{}, err
	}
	if err := backend.ValidateName("id", id); err != nil {
		return backend.Document{}, err
	}
	data, err := backend.NormalizeFields(fields)
	if err != nil {
		return backend.Document{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backend.Document{}, backend.ErrClosed
	}
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]backend.Document)
		s.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		s.mu.Unlock()
		return backend.Document{}, fmt.Errorf("%w: %s/%s", backend.ErrConflict, collection, id)
	}
	now := s.now().UTC()
	doc := backend.Document{ID: id, Collection: collection, Data: data, CreatedAt: now, UpdatedAt: now}
	docs[id] = doc
	s.mu.Unlock()

	s.hub.Publish(backend.NewEvent(backend.OpCreate, copyDocument(doc), now))
	return copyDocument(doc), nil
}

func (s *Store) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	if err := ctx.Err(); err != nil {
		return backend.Document{}, err
	}
	patch, err := backend.NormalizeFields(fields)
	if err != nil {
		return backend.Document{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backend.Document{}, backend.ErrClosed
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return backend.Document{}, fmt.Errorf("%w: %s/%s", backend.ErrNotFound, collection, id)
	}
	now := s.now().UTC()
	doc.Data = backend.Merge(doc.Data, patch)
	doc.UpdatedAt = now
	s.collections[collection][id] = doc
	s.mu.Unlock()

	s.hub.Publish(backend.NewEvent(backend.OpUpdate, copyDocument(doc), now))
	return copyDocument(doc), nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backend.ErrClosed
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", backend.ErrNotFound, collection, id)
	}
	delete(s.collections[collection], id)
	now := s.now().UTC()
	s.mu.Unlock()

	s.hub.Publish(backend.NewEvent(backend.OpDelete, doc, now))
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channels []string, fn func(backend.Event)) (backend.Subscription, error) {
	return s.hub.Subscribe(ctx, channels, fn)
}

// Hub exposes the change feed so tests can simulate a dropped connection.
func (s *Store) Hub() *backend.Hub {
	return s.hub
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.Close()
	return nil
}

func copyDocument(doc backend.Document) backend.Document {
	doc.Data = backend.Merge(doc.Data, nil)
	return doc
}
