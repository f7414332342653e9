package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitsync/internal/constants"
)

var tabs = []struct {
	title string
	state constants.SessionState
}{
	{"Today", constants.StateToday},
	{"Streaks", constants.StateStreaks},
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}

	var content string
	switch m.State {
	case constants.StateToday:
		content = docStyle.Render(m.TodayModel.View())
	case constants.StateStreaks:
		content = docStyle.Render(m.StreaksModel.View())
	case constants.StateAddHabit:
		content = docStyle.Render(m.Form.View())
	case constants.StateConfirmDelete:
		content = m.viewConfirmDelete()
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewTabs(),
		m.viewStatus(),
		content,
		m.Help.View(m),
	)
}

func (m Model) viewTabs() string {
	rendered := make([]string, 0, len(tabs))
	for _, t := range tabs {
		if m.State == t.state {
			rendered = append(rendered, activeTabStyle.Render(t.title))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(t.title))
		}
	}
	done := 0
	for _, h := range m.Snapshot.Habits {
		if m.Snapshot.Completed(h.ID) {
			done++
		}
	}
	summaryStyle := inactiveTabStyle
	if total := len(m.Snapshot.Habits); total > 0 && done == total {
		summaryStyle = allDoneStyle
	}
	rendered = append(rendered, summaryStyle.Render(fmt.Sprintf("%s  %d/%d done", m.Snapshot.Today, done, len(m.Snapshot.Habits))))
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) viewStatus() string {
	if m.Status == "" {
		return ""
	}
	if strings.HasPrefix(m.Status, "✗") {
		return dangerStyle.Render(m.Status)
	}
	return statusStyle.Render(m.Status)
}

func (m Model) viewConfirmDelete() string {
	return lipgloss.Place(m.Width, m.Height-4,
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center,
			dangerStyle.Render(fmt.Sprintf("Delete habit %q?", m.HabitToDelete.Title)),
			warningStyle.Render("Its completion history stays in the backend."),
			"",
			"[y] Yes",
			"[n] No",
		),
	)
}
