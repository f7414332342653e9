package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/tui/handlers"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		m.Help.Width = msg.Width
		return m, nil
	case SnapshotMsg:
		m.Apply(msg.Snapshot)
		return m, nil
	case FeedErrorMsg:
		m.Status = fmt.Sprintf("✗ live updates stopped: %v", msg.Err)
		return m, nil
	case handlers.MutationMsg:
		handlers.HandleMutationResult(&m.Model, msg)
		return m, nil
	case handlers.DayTickMsg:
		return m, handlers.HandleDayTick(&m.Model)
	case handlers.LoadedMsg:
		handlers.HandleLoaded(&m.Model, msg)
		if msg.Err == nil && m.Status == "Refreshing…" {
			m.Status = ""
		}
		return m, nil
	}

	switch m.State {
	case constants.StateAddHabit:
		return m, handlers.HandleAddHabitState(&m.Model, msg)
	case constants.StateConfirmDelete:
		return m, handlers.HandleConfirmDeleteState(&m.Model, msg)
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		if handled, cmd := handlers.HandleGlobalKeys(&m.Model, keyMsg); handled {
			return m, cmd
		}
	}
	if handled, cmd := handlers.HandleHabitMessages(&m.Model, msg); handled {
		return m, cmd
	}

	var cmd tea.Cmd
	switch m.State {
	case constants.StateToday:
		m.TodayModel, cmd = m.TodayModel.Update(msg)
	case constants.StateStreaks:
		m.StreaksModel, cmd = m.StreaksModel.Update(msg)
	}
	return m, cmd
}
