package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/wire"
)

// realtime streams change events as server-sent events. The stream opens with a
// "ready" event once the backend subscription exists, and ends with an "error" event
// when the subscription fails.
func (s *Server) realtime(w http.ResponseWriter, r *http.Request) {
	var channels []string
	for _, ch := range strings.Split(r.URL.Query().Get(wire.ChannelsParam), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_channels", "at least one channel is required"))
		return
	}

	rc := http.NewResponseController(w)
	events := make(chan backend.Event, constants.SubscriberBufferSize)
	overflow := make(chan struct{})
	var overflowed bool

	sub, err := s.client.Subscribe(r.Context(), channels, func(e backend.Event) {
		select {
		case events <- e:
		default:
			if !overflowed {
				overflowed = true
				close(overflow)
			}
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	s.metrics.AddRealtimeClients(1)
	defer s.metrics.AddRealtimeClients(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, wire.EventReady, map[string]any{"channels": channels}); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Debug("realtime stream cannot flush", "error", err)
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-overflow:
			_ = writeEvent(w, wire.EventError, errorBody("overflow", backend.ErrSubscriptionOverflow.Error()))
			_ = rc.Flush()
			return
		case <-sub.Done():
			subErr := sub.Err()
			if subErr == nil {
				subErr = backend.ErrClosed
			}
			code, _ := wire.Classify(subErr)
			_ = writeEvent(w, wire.EventError, errorBody(code, subErr.Error()))
			_ = rc.Flush()
			return
		case e := <-events:
			if err := writeEvent(w, "", e); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			s.metrics.IncEventsSent(e.Collection())
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	if err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		logger.Debug("realtime write failed", "error", err)
	}
	return err
}
