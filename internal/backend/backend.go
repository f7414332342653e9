// Package backend defines the document store contract the habit store depends on:
// filtered listing, single-document writes and a realtime change feed.
//
// Implementations live in the subpackages (memory, sqlite, postgres, remote). None of
// them offer transactions across documents.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/julianstephens/habitsync/internal/utils"
)

var (
	ErrNotFound             = errors.New("document not found")
	ErrConflict             = errors.New("document already exists")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrInvalidDocument      = errors.New("invalid document")
	ErrClosed               = errors.New("backend closed")
	ErrSubscriptionOverflow = errors.New("subscriber fell behind the change feed")
	ErrFeedInterrupted      = errors.New("change feed interrupted")
)

// Client is a remote document store scoped by collection.
type Client interface {
	// ListDocuments returns every document of collection matching all filters, in no
	// particular order.
	ListDocuments(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// CreateDocument stores a new document. An empty id asks the store to assign one.
	// Creating an id that already exists fails with ErrConflict.
	CreateDocument(ctx context.Context, collection, id string, fields map[string]any) (Document, error)
	// UpdateDocument merges fields into an existing document.
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (Document, error)
	DeleteDocument(ctx context.Context, collection, id string) error
	// Subscribe delivers change events for the given channels to fn until the
	// subscription is closed, ctx is cancelled, or the feed fails. fn runs on a
	// goroutine owned by the subscription.
	Subscribe(ctx context.Context, channels []string, fn func(Event)) (Subscription, error)
	Close() error
}

// Subscription is a live registration on a change feed.
type Subscription interface {
	// Close releases the subscription. Calling it more than once is a no-op.
	Close() error
	// Done is closed when the subscription ends for any reason.
	Done() <-chan struct{}
	// Err reports why the subscription ended; nil after a plain Close.
	Err() error
}

// Document is one stored record.
type Document struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// String returns a string field, or "" when missing or not a string.
func (d Document) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// Int returns a numeric field as int. JSON decoding yields float64, in-process
// values may be any integer type.
func (d Document) Int(field string) (int, error) {
	switch v := d.Data[field].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: field %s is not an integer", ErrInvalidDocument, field)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: field %s: %v", ErrInvalidDocument, field, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: field %s has type %T", ErrInvalidDocument, field, v)
	}
}

// Time parses a timestamp field. ok is false when the field is missing or empty.
func (d Document) Time(field string) (t time.Time, ok bool, err error) {
	s := d.String(field)
	if s == "" {
		return time.Time{}, false, nil
	}
	t, err = utils.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: field %s: %v", ErrInvalidDocument, field, err)
	}
	return t, true, nil
}

// NormalizeFields round-trips fields through JSON so every backend hands back the
// same value types (strings, float64, bool, nil, nested maps).
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return out, nil
}

// Merge returns a copy of base with patch applied on top.
func Merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// ValidateName checks collection names and document ids.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidDocument, kind)
	}
	if len(name) > 128 {
		return fmt.Errorf("%w: %s too long", ErrInvalidDocument, kind)
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("%w: %s %q contains %q", ErrInvalidDocument, kind, name, r)
		}
	}
	return nil
}
