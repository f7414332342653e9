// Package wire holds the JSON shapes shared by the document server and the remote
// client.
package wire

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/julianstephens/habitsync/internal/backend"
)

const (
	// FilterParam carries a JSON encoded backend.Filter for values that are not
	// strings. Plain query parameters are string filters.
	FilterParam = "filter"
	// GTESuffix marks a plain parameter as a greater-or-equal filter.
	GTESuffix = "__gte"
	// ChannelsParam lists realtime channels, comma separated.
	ChannelsParam = "channels"

	EventReady = "ready"
	EventError = "error"
)

type CreateRequest struct {
	ID   string         `json:"id,omitempty"`
	Data map[string]any `json:"data"`
}

type UpdateRequest struct {
	Data map[string]any `json:"data"`
}

type ListResponse struct {
	Documents []backend.Document `json:"documents"`
	Total     int                `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var codes = []struct {
	code   string
	err    error
	status int
}{
	{"not_found", backend.ErrNotFound, http.StatusNotFound},
	{"conflict", backend.ErrConflict, http.StatusConflict},
	{"invalid_filter", backend.ErrInvalidFilter, http.StatusBadRequest},
	{"invalid_document", backend.ErrInvalidDocument, http.StatusBadRequest},
	{"closed", backend.ErrClosed, http.StatusServiceUnavailable},
	{"feed_interrupted", backend.ErrFeedInterrupted, http.StatusServiceUnavailable},
}

// Classify maps err to a response code and HTTP status.
func Classify(err error) (string, int) {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return "internal", http.StatusInternalServerError
}

// ErrorFor returns the sentinel error behind code, nil for unknown codes.
func ErrorFor(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// EncodeFilters renders filters as query parameters.
func EncodeFilters(filters []backend.Filter) (map[string][]string, error) {
	q := map[string][]string{}
	for _, f := range filters {
		if s, ok := f.Value.(string); ok {
			key := f.Field
			if f.Op == backend.OpGreaterOrEqual {
				key += GTESuffix
			}
			q[key] = append(q[key], s)
			continue
		}
		raw, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		q[FilterParam] = append(q[FilterParam], string(raw))
	}
	return q, nil
}

// DecodeFilters parses query parameters produced by EncodeFilters. Parameters in
// skip are not filters.
func DecodeFilters(q map[string][]string, skip ...string) ([]backend.Filter, error) {
	var filters []backend.Filter
	for key, values := range q {
		if contains(skip, key) {
			continue
		}
		for _, v := range values {
			if key == FilterParam {
				var f backend.Filter
				if err := json.Unmarshal([]byte(v), &f); err != nil {
					return nil, errors.Join(backend.ErrInvalidFilter, err)
				}
				filters = append(filters, f)
				continue
			}
			if field, ok := strings.CutSuffix(key, GTESuffix); ok {
				filters = append(filters, backend.GreaterOrEqual(field, v))
				continue
			}
			filters = append(filters, backend.Equal(key, v))
		}
	}
	if err := backend.ValidateFilters(filters); err != nil {
		return nil, err
	}
	return filters, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
