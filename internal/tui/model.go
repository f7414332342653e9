package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitsync/internal/analytics"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/store"
	"github.com/julianstephens/habitsync/internal/tui/handlers"
	"github.com/julianstephens/habitsync/internal/tui/state"
)

// SnapshotMsg carries a store change into the program. Send it from the store's
// OnChange callback.
type SnapshotMsg struct {
	Snapshot store.Snapshot
}

// FeedErrorMsg is sent when the change feed stops for good.
type FeedErrorMsg struct {
	Err error
}

type Model struct {
	state.Model
}

func NewModel(s *store.Store, tracker *analytics.Tracker) Model {
	m := Model{Model: state.New(s, tracker)}
	m.TodayModel.SetFrequencyRenderer(renderFrequency)
	return m
}

func (m Model) ShortHelp() []key.Binding {
	keys := []key.Binding{m.Keys.Tab, m.Keys.Quit, m.Keys.Help}
	if m.State == constants.StateToday {
		hk := m.TodayKeys()
		keys = append(keys, hk.Add, hk.Complete, hk.Delete)
	}
	return keys
}

func (m Model) FullHelp() [][]key.Binding {
	global := []key.Binding{m.Keys.Tab, m.Keys.ShiftTab, m.Keys.Quit, m.Keys.Help}
	navigation := []key.Binding{m.Keys.Up, m.Keys.Down}

	var actions []key.Binding
	if m.State == constants.StateToday {
		hk := m.TodayKeys()
		actions = []key.Binding{hk.Add, hk.Complete, hk.Delete, hk.Refresh}
	}
	return [][]key.Binding{global, navigation, actions}
}

func (m Model) Init() tea.Cmd {
	m.Tracker.TrackScreenView(handlers.ScreenName(m.State))
	return tea.Batch(handlers.Refresh(m.Store), handlers.WatchDay())
}
