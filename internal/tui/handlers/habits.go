package handlers

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/tui/components/habits"
	"github.com/julianstephens/habitsync/internal/tui/state"
)

// HandleAddHabitState handles the add habit state
func HandleAddHabitState(m *state.Model, msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEsc {
		m.State = constants.StateToday
		return nil
	}

	form, cmd := m.Form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.Form = f
	}
	cmds = append(cmds, cmd)

	switch m.Form.State {
	case huh.StateCompleted:
		// The new habit shows up through the store's change callback once the backend accepts it.
		cmds = append(cmds, createHabit(m.Store, *m.HabitForm))
		m.State = constants.StateToday
	case huh.StateAborted:
		m.State = constants.StateToday
	}
	return tea.Batch(cmds...)
}

// HandleHabitMessages handles messages from the habits component
func HandleHabitMessages(m *state.Model, msg tea.Msg) (bool, tea.Cmd) {
	switch msg := msg.(type) {
	case habits.AddHabitMsg:
		m.HabitForm = &state.HabitFormModel{Frequency: models.FrequencyDaily}
		m.Form = NewHabitForm(m.HabitForm)
		m.State = constants.StateAddHabit
		return true, m.Form.Init()

	case habits.CompleteHabitMsg:
		title := msg.ID
		if h, ok := m.Snapshot.Habit(msg.ID); ok {
			title = h.Title
		}
		return true, completeHabit(m.Store, msg.ID, title)

	case habits.DeleteHabitMsg:
		m.HabitToDelete = msg
		m.PreviousState = m.State
		m.State = constants.StateConfirmDelete
		return true, nil

	case habits.RefreshMsg:
		m.Status = "Refreshing…"
		return true, Refresh(m.Store)
	}
	return false, nil
}
