package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/store"
	"github.com/julianstephens/habitsync/internal/tui/state"
)

// MutationMsg reports the outcome of a store write started from the TUI.
type MutationMsg struct {
	Title    string
	Mutation store.Mutation
	Err      error
}

// LoadedMsg reports the end of a full reload.
type LoadedMsg struct {
	Err error
}

// NewHabitForm creates a new form for adding habits
func NewHabitForm(fm *state.HabitFormModel) *huh.Form {
	options := make([]huh.Option[models.Frequency], 0, len(models.Frequencies))
	for _, f := range models.Frequencies {
		options = append(options, huh.NewOption(strings.ToUpper(string(f[:1]))+string(f[1:]), f))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Habit Title").
				Value(&fm.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("habit title cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Description").
				Description("Optional").
				Value(&fm.Description),
			huh.NewSelect[models.Frequency]().
				Title("Frequency").
				Options(options...).
				Value(&fm.Frequency),
		),
	).WithTheme(huh.ThemeDracula())
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.DefaultCommandTimeout)
}

// Refresh reloads habits, today's completions and history.
func Refresh(s *store.Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		return LoadedMsg{Err: s.Refresh(ctx)}
	}
}

func completeHabit(s *store.Store, id, title string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		m, err := s.CompleteHabit(ctx, id)
		return MutationMsg{Title: title, Mutation: m, Err: err}
	}
}

func deleteHabit(s *store.Store, id, title string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		m, err := s.DeleteHabit(ctx, id)
		return MutationMsg{Title: title, Mutation: m, Err: err}
	}
}

func createHabit(s *store.Store, fm state.HabitFormModel) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		m, err := s.CreateHabit(ctx, fm.Title, fm.Description, string(fm.Frequency))
		return MutationMsg{Title: strings.TrimSpace(fm.Title), Mutation: m, Err: err}
	}
}

// HandleMutationResult turns a finished write into the status line.
func HandleMutationResult(m *state.Model, msg MutationMsg) {
	if msg.Err != nil {
		m.Status = fmt.Sprintf("✗ %s %s failed: %v", msg.Mutation.Kind, msg.Title, msg.Err)
		return
	}

	skipped := msg.Mutation.State == store.StateSkipped
	switch msg.Mutation.Kind {
	case store.KindComplete:
		if skipped {
			m.Status = fmt.Sprintf("%s is already complete for today", msg.Title)
		} else {
			m.Status = fmt.Sprintf("✓ Completed %s", msg.Title)
		}
	case store.KindDelete:
		if skipped {
			m.Status = fmt.Sprintf("%s is still syncing, try again", msg.Title)
		} else {
			m.Status = fmt.Sprintf("Deleted %s", msg.Title)
		}
	case store.KindCreate:
		m.Status = fmt.Sprintf("Added %s", msg.Title)
	}
}

// DayTickMsg fires periodically so a session left open past midnight moves to the
// new day.
type DayTickMsg time.Time

// WatchDay schedules the next DayTickMsg.
func WatchDay() tea.Cmd {
	return tea.Tick(time.Minute, func(t time.Time) tea.Msg { return DayTickMsg(t) })
}

// HandleDayTick refreshes when the calendar day changed and schedules the next tick.
func HandleDayTick(m *state.Model) tea.Cmd {
	if m.Store.AdvanceDay() {
		return tea.Batch(Refresh(m.Store), WatchDay())
	}
	return WatchDay()
}

// HandleLoaded reports reload failures; the previous data stays on screen.
func HandleLoaded(m *state.Model, msg LoadedMsg) {
	if msg.Err != nil {
		m.Status = fmt.Sprintf("✗ reload failed: %v", msg.Err)
	}
}
