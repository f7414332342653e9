package handlers

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/tui/state"
)

// ScreenName is the analytics name of a tab.
func ScreenName(s constants.SessionState) string {
	switch s {
	case constants.StateStreaks:
		return "streaks"
	default:
		return "today"
	}
}

// HandleGlobalKeys handles global key presses
func HandleGlobalKeys(m *state.Model, msg tea.KeyMsg) (bool, tea.Cmd) {
	switch {
	case key.Matches(msg, m.Keys.Quit):
		m.Quitting = true
		return true, tea.Quit
	case key.Matches(msg, m.Keys.Help):
		m.Help.ShowAll = !m.Help.ShowAll
		return true, nil
	case key.Matches(msg, m.Keys.Tab), key.Matches(msg, m.Keys.ShiftTab):
		// Two tabs, so forward and backward land on the same view.
		switch m.State {
		case constants.StateToday:
			m.State = constants.StateStreaks
		case constants.StateStreaks:
			m.State = constants.StateToday
		default:
			return false, nil
		}
		m.Tracker.TrackScreenView(ScreenName(m.State))
		return true, Refresh(m.Store)
	}
	return false, nil
}
