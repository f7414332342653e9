package state

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitsync/internal/analytics"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/store"
	"github.com/julianstephens/habitsync/internal/streak"
	"github.com/julianstephens/habitsync/internal/tui/components/habits"
	"github.com/julianstephens/habitsync/internal/tui/components/streaks"
)

// HabitFormModel represents the form model for habit creation
type HabitFormModel struct {
	Title       string
	Description string
	Frequency   models.Frequency
}

// Model represents the shared state for the TUI
type Model struct {
	Store         *store.Store
	Tracker       *analytics.Tracker
	State         constants.SessionState
	PreviousState constants.SessionState
	Keys          KeyMap
	Help          help.Model
	TodayModel    habits.Model
	StreaksModel  streaks.Model
	Form          *huh.Form
	HabitForm     *HabitFormModel
	HabitToDelete habits.DeleteHabitMsg
	Snapshot      store.Snapshot
	Status        string // Result of the last action, shown under the tabs
	Quitting      bool
	Width         int
	Height        int
	Now           func() time.Time
}

// New creates a new state Model showing whatever s holds right now.
func New(s *store.Store, tracker *analytics.Tracker) Model {
	m := Model{
		Store:        s,
		Tracker:      tracker,
		State:        constants.StateToday,
		Keys:         DefaultKeyMap(),
		Help:         help.New(),
		TodayModel:   habits.New(0, 0),
		StreaksModel: streaks.New(0, 0),
		Now:          time.Now,
	}
	m.Apply(s.Snapshot())
	return m
}

// Apply shows snap unless a newer snapshot is already displayed.
func (m *Model) Apply(snap store.Snapshot) {
	if snap.Version < m.Snapshot.Version {
		return
	}
	m.Snapshot = snap
	m.TodayModel.SetSnapshot(snap)
	m.StreaksModel.SetStats(streak.Rank(snap.Habits, snap.Completions, m.Now(), m.Store.Location()))
}

func (m Model) TodayKeys() habits.KeyMap {
	return m.TodayModel.Keys()
}

// SetSize resizes the tab components below the tab bar and help line.
func (m *Model) SetSize(width, height int) {
	m.Width = width
	m.Height = height
	m.TodayModel.SetSize(width-4, height-6)
	m.StreaksModel.SetSize(width-4, height-6)
}
