package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/analytics"
	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/notifier"
	"github.com/julianstephens/habitsync/internal/session"
	"github.com/julianstephens/habitsync/internal/store"
)

// Provider is a backend with durable storage that must be initialized once and
// loaded before use.
type Provider interface {
	backend.Client
	Init(ctx context.Context) error
	Load(ctx context.Context) error
	GetConfigPath() string
}

type Context struct {
	Client backend.Client
	// Storage is set when Client keeps its own schema (sqlite, postgres).
	Storage  Provider
	Target   string
	Session  session.Session
	Location *time.Location
	Timeout  time.Duration
	Notifier notifier.Sender
	Tracker  *analytics.Tracker
	Out      io.Writer

	store *store.Store
}

// Store returns the habit store bound to the session, building it on first use.
func (c *Context) Store() (*store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	s, err := store.New(c.Client, c.Session,
		store.WithLocation(c.Location),
		store.WithNotifier(c.Notifier),
		store.WithTracker(c.Tracker),
	)
	if err != nil {
		return nil, err
	}
	c.store = s
	return s, nil
}

// Load opens durable storage. Backends without a schema need no loading.
func (c *Context) Load(ctx context.Context) error {
	if c.Storage == nil {
		return nil
	}
	return c.Storage.Load(ctx)
}

// WithTimeout bounds one command's backend work by the --timeout flag.
func (c *Context) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithTimeout(parent, constants.DefaultCommandTimeout)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(c.out(), format, args...)
}

func (c *Context) Print(s string) {
	fmt.Fprint(c.out(), s)
}

func (c *Context) Println(args ...any) {
	fmt.Fprintln(c.out(), args...)
}

func (c *Context) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Context) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// FindHabit resolves a habit by id, then by case-insensitive title.
func FindHabit(habits []models.Habit, ref string) (models.Habit, error) {
	ref = strings.TrimSpace(ref)
	for _, h := range habits {
		if h.ID == ref {
			return h, nil
		}
	}

	var matches []models.Habit
	for _, h := range habits {
		if strings.EqualFold(h.Title, ref) {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return models.Habit{}, fmt.Errorf("%w: %q", store.ErrUnknownHabit, ref)
	case 1:
		return matches[0], nil
	default:
		return models.Habit{}, fmt.Errorf("%d habits are titled %q, use the id instead", len(matches), ref)
	}
}

// FormatLastCompleted renders a nullable completion time in loc.
func FormatLastCompleted(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "never"
	}
	return t.In(loc).Format(constants.DateFormat + " 15:04")
}
