package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/utils"
)

type changeRow struct {
	seq        int64
	op         backend.Operation
	collection string
	id         string
	document   string
	changedAt  string
}

func appendChange(ctx context.Context, tx *sql.Tx, op backend.Operation, doc backend.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrInvalidDocument, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO changes (op, collection, document_id, document, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(op), doc.Collection, doc.ID, string(raw), utils.FormatTimestamp(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}

// Subscribe starts the change log poller on first use. Only changes committed after
// the first subscription are delivered.
func (s *Store) Subscribe(ctx context.Context, channels []string, fn func(backend.Event)) (backend.Subscription, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.startPolling(ctx); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, channels, fn)
}

func (s *Store) startPolling(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.stopPoll != nil {
		return nil
	}

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT max(seq) FROM changes").Scan(&last); err != nil {
		return fmt.Errorf("failed to read change log position: %w", err)
	}
	s.lastSeq = last.Int64

	pollCtx, cancel := context.WithCancel(context.Background())
	s.stopPoll = cancel
	s.pollDone = make(chan struct{})
	go s.poll(pollCtx, s.pollDone)
	return nil
}

func (s *Store) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.drainChanges(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !failing {
				logger.Warn("sqlite change feed poll failed", "error", err)
			}
			failing = true
			s.hub.Fail(fmt.Errorf("%w: %v", backend.ErrFeedInterrupted, err))
			continue
		}
		failing = false
	}
}

func (s *Store) drainChanges(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, op, collection, document_id, document, changed_at
		FROM changes WHERE seq > ? ORDER BY seq
	`, s.lastSeq)
	if err != nil {
		return err
	}

	var batch []changeRow
	for rows.Next() {
		var c changeRow
		var op string
		if err := rows.Scan(&c.seq, &op, &c.collection, &c.id, &c.document, &c.changedAt); err != nil {
			rows.Close()
			return err
		}
		c.op = backend.Operation(op)
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range batch {
		s.lastSeq = c.seq

		var doc backend.Document
		if err := json.Unmarshal([]byte(c.document), &doc); err != nil {
			logger.Warn("skipping unreadable change", "seq", c.seq, "error", err)
			continue
		}
		at, err := utils.ParseTimestamp(c.changedAt)
		if err != nil {
			at = time.Now()
		}
		s.hub.Publish(backend.NewEvent(c.op, doc, at))
	}
	return nil
}
