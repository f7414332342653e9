package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pq "github.com/lib/pq"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
)

// notification is the payload built by habitsync_notify_change().
type notification struct {
	Op         backend.Operation `json:"op"`
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Data       map[string]any    `json:"data"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ChangedAt  time.Time         `json:"changed_at"`
}

func (n notification) event() backend.Event {
	doc := backend.Document{
		ID:         n.ID,
		Collection: n.Collection,
		Data:       n.Data,
		CreatedAt:  n.CreatedAt.UTC(),
		UpdatedAt:  n.UpdatedAt.UTC(),
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return backend.NewEvent(n.Op, doc, n.ChangedAt)
}

func parseNotification(extra string) (backend.Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return backend.Event{}, fmt.Errorf("failed to decode notification: %w", err)
	}
	switch n.Op {
	case backend.OpCreate, backend.OpUpdate, backend.OpDelete:
	default:
		return backend.Event{}, fmt.Errorf("unknown notification op %q", n.Op)
	}
	return n.event(), nil
}

// Subscribe starts listening on the notify channel on first use.
func (s *Store) Subscribe(ctx context.Context, channels []string, fn func(backend.Event)) (backend.Subscription, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.startListener(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, channels, fn)
}

func (s *Store) startListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.listener != nil {
		return nil
	}

	listener := pq.NewListener(s.connStr, constants.ResubscribeInitialBackoff, constants.ResubscribeMaxBackoff,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected:
				logger.Warn("postgres change feed disconnected", "error", err)
			case pq.ListenerEventReconnected:
				logger.Info("postgres change feed reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Debug("postgres change feed reconnect failed", "error", err)
			}
		})
	if err := listener.Listen(constants.PostgresNotifyChannel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", constants.PostgresNotifyChannel, err)
	}

	s.listener = listener
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.listen(listener, s.stop, s.done)
	return nil
}

func (s *Store) listen(listener *pq.Listener, stop, done chan struct{}) {
	defer close(done)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-stop:
			return
		case n := <-listener.Notify:
			if n == nil {
				// The connection was re-established; notifications in between are lost.
				s.hub.Fail(backend.ErrFeedInterrupted)
				continue
			}
			e, err := parseNotification(n.Extra)
			if err != nil {
				logger.Warn("skipping unreadable notification", "error", err)
				continue
			}
			s.hub.Publish(e)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					logger.Debug("postgres listener ping failed", "error", err)
				}
			}()
		}
	}
}
