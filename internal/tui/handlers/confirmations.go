package handlers

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitsync/internal/tui/components/habits"
	"github.com/julianstephens/habitsync/internal/tui/state"
)

// HandleConfirmDeleteState handles the delete confirmation state
func HandleConfirmDeleteState(m *state.Model, msg tea.Msg) tea.Cmd {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}

	switch keyMsg.String() {
	case "y", "Y":
		target := m.HabitToDelete
		m.HabitToDelete = habits.DeleteHabitMsg{}
		m.State = m.PreviousState
		if target.ID == "" {
			return nil
		}
		return deleteHabit(m.Store, target.ID, target.Title)
	case "n", "N", "esc":
		m.HabitToDelete = habits.DeleteHabitMsg{}
		m.State = m.PreviousState
	}
	return nil
}
