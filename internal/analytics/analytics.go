// Package analytics records product events. Events go to the structured logger;
// tracking never fails the caller.
package analytics

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/julianstephens/habitsync/internal/logger"
)

const (
	EventHabitCreated   = "habit_created"
	EventHabitCompleted = "habit_completed"
	EventHabitDeleted   = "habit_deleted"
	EventScreenView     = "screen_view"
	EventAppOpen        = "app_open"
)

type Tracker struct {
	mu    sync.Mutex
	log   *log.Logger
	props map[string]string
}

// New returns a tracker writing to l, or to the "analytics" child of the global
// logger when l is nil.
func New(l *log.Logger) *Tracker {
	if l == nil {
		l = logger.Named("analytics")
	}
	return &Tracker{log: l, props: map[string]string{}}
}

// TrackEvent logs name with params and the current user properties. A nil
// Tracker is a no-op.
func (t *Tracker) TrackEvent(name string, params map[string]any) {
	if t == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("analytics event dropped", "event", name, "panic", r)
		}
	}()

	t.mu.Lock()
	keyvals := make([]any, 0, 2*(len(params)+len(t.props)))
	for _, k := range sortedKeys(t.props) {
		keyvals = append(keyvals, "user."+k, t.props[k])
	}
	t.mu.Unlock()

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		keyvals = append(keyvals, k, params[k])
	}

	t.log.Info(name, keyvals...)
}

func (t *Tracker) TrackScreenView(screen string) {
	t.TrackEvent(EventScreenView, map[string]any{"screen_name": screen})
}

// SetUserProperty attaches name=value to every later event.
func (t *Tracker) SetUserProperty(name, value string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.props[name] = value
	t.mu.Unlock()
	t.log.Debug("user property set", "name", name, "value", value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
