// Package remote is a backend.Client for the habitsync document server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/wire"
)

type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	stream *http.Client

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New returns a client for the server at baseURL. token may be empty.
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base:   u,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		stream: &http.Client{},
		subs:   make(map[*subscription]struct{}),
	}, nil
}

func (c *Client) documentsURL(collection string, id string) string {
	p := "/v1/collections/" + url.PathEscape(collection) + "/documents"
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return c.base.String() + p
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.ErrClosed
	}
	return nil
}

func (c *Client) ListDocuments(ctx context.Context, collection string, filters ...backend.Filter) ([]backend.Document, error) {
	if err := backend.ValidateFilters(filters); err != nil {
		return nil, err
	}
	q, err := wire.EncodeFilters(filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidFilter, err)
	}

	target := c.documentsURL(collection, "")
	if len(q) > 0 {
		target += "?" + url.Values(q).Encode()
	}

	var resp wire.ListResponse
	if err := c.do(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (c *Client) CreateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	var doc backend.Document
	err := c.do(ctx, http.MethodPost, c.documentsURL(collection, ""), wire.CreateRequest{ID: id, Data: fields}, &doc)
	return doc, err
}

func (c *Client) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	var doc backend.Document
	err := c.do(ctx, http.MethodPatch, c.documentsURL(collection, id), wire.UpdateRequest{Data: fields}, &doc)
	return doc, err
}

func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, c.documentsURL(collection, id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", backend.ErrInvalidDocument, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set(constants.ServerTokenHeader, "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	var body wire.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if sentinel := wire.ErrorFor(body.Code); sentinel != nil {
		// The message already names the sentinel; keep it matchable with errors.Is.
		return &serverError{sentinel: sentinel, msg: body.Error}
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, body.Error)
}

type serverError struct {
	sentinel error
	msg      string
}

func (e *serverError) Error() string { return e.msg }
func (e *serverError) Unwrap() error { return e.sentinel }

// Close ends every open subscription. Later calls fail with backend.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for s := range subs {
		s.finish(backend.ErrClosed)
	}
	c.http.CloseIdleConnections()
	return nil
}

var errNoReady = errors.New("realtime stream closed before it was ready")
