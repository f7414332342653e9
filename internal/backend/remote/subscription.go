package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/wire"
)

// Subscribe opens a realtime stream and returns once the server confirms the
// subscription, so no change made after Subscribe returns is missed.
func (c *Client) Subscribe(ctx context.Context, channels []string, fn func(backend.Event)) (backend.Subscription, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	q := url.Values{wire.ChannelsParam: {strings.Join(channels, ",")}}
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.base.String()+constants.ServerRealtimeEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open realtime stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, decodeError(resp)
	}

	reader := bufio.NewReader(resp.Body)
	name, _, err := readEvent(reader)
	if err != nil || name != wire.EventReady {
		resp.Body.Close()
		cancel()
		if err == nil {
			err = fmt.Errorf("unexpected %q event", name)
		}
		return nil, fmt.Errorf("%w: %v", errNoReady, err)
	}

	s := &subscription{
		client: c,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		resp.Body.Close()
		cancel()
		return nil, backend.ErrClosed
	}
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go s.run(streamCtx, reader, resp.Body, fn)
	return s, nil
}

type subscription struct {
	client *Client
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) run(ctx context.Context, reader *bufio.Reader, body io.Closer, fn func(backend.Event)) {
	defer body.Close()

	for {
		name, data, err := readEvent(reader)
		if err != nil {
			if ctx.Err() != nil {
				s.finish(nil)
				return
			}
			s.finish(fmt.Errorf("%w: %v", backend.ErrFeedInterrupted, err))
			return
		}

		switch name {
		case wire.EventError:
			var body wire.ErrorResponse
			_ = json.Unmarshal([]byte(data), &body)
			s.finish(fmt.Errorf("%w: server ended stream: %s", backend.ErrFeedInterrupted, body.Error))
			return
		case "", "message":
			var e backend.Event
			if err := json.Unmarshal([]byte(data), &e); err != nil {
				logger.Warn("skipping unreadable realtime event", "error", err)
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			fn(e)
		}
	}
}

func (s *subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.cancel()
		close(s.done)

		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()
	})
}

func (s *subscription) Close() error {
	s.finish(nil)
	return nil
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// readEvent reads one server-sent event. Comment-only blocks are skipped.
func readEvent(r *bufio.Reader) (name, data string, err error) {
	var dataLines []string
	seen := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if seen {
				return name, strings.Join(dataLines, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
			seen = true
		case "data":
			dataLines = append(dataLines, value)
			seen = true
		}
	}
}
