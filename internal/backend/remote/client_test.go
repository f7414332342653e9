package remote

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julianstephens/habitsync/internal/backend"
)

func TestNewValidatesURL(t *testing.T) {
	for _, bad := range []string{"ftp://example.com", "example.com", "://nope"} {
		if _, err := New(bad, ""); err == nil {
			t.Errorf("New(%q) expected error", bad)
		}
	}
	c, err := New("https://habits.example.com/", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := c.documentsURL("habits", "h1"); got != "https://habits.example.com/v1/collections/habits/documents/h1" {
		t.Errorf("documentsURL() = %q", got)
	}
}

func TestReadEvent(t *testing.T) {
	stream := ": ping\n\n" +
		"event: ready\ndata: {}\n\n" +
		"data: {\"a\":1}\n\n" +
		"event: error\r\ndata: line1\r\ndata: line2\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(stream))

	want := []struct{ name, data string }{
		{"ready", "{}"},
		{"", `{"a":1}`},
		{"error", "line1\nline2"},
	}
	for i, w := range want {
		name, data, err := readEvent(r)
		if err != nil {
			t.Fatalf("event %d: readEvent() error = %v", i, err)
		}
		if name != w.name || data != w.data {
			t.Errorf("event %d = (%q, %q), want (%q, %q)", i, name, data, w.name, w.data)
		}
	}
	if _, _, err := readEvent(r); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF at end of stream, got %v", err)
	}
}

func TestSubscribeRequiresReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {}\n\n")
	}))
	defer ts.Close()

	c, err := New(ts.URL, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	_, err = c.Subscribe(context.Background(), []string{"x"}, func(backend.Event) {})
	if !errors.Is(err, errNoReady) {
		t.Errorf("Subscribe() error = %v, want errNoReady", err)
	}
}

func TestClosedClient(t *testing.T) {
	c, err := New("http://127.0.0.1:1", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Close()
	if _, err := c.ListDocuments(context.Background(), "habits"); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("ListDocuments after Close error = %v", err)
	}
	if _, err := c.Subscribe(context.Background(), nil, func(backend.Event) {}); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("Subscribe after Close error = %v", err)
	}
}
