// Package streaks renders the ranked streak table of the TUI.
package streaks

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitsync/internal/streak"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	rowStyle    = lipgloss.NewStyle()
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type Model struct {
	ranked []streak.HabitStats
	width  int
	height int
	offset int
}

func New(width, height int) Model {
	return Model{width: width, height: height}
}

func (m *Model) SetStats(ranked []streak.HabitStats) {
	m.ranked = ranked
	if m.offset >= len(ranked) {
		m.offset = 0
	}
}

func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if m.offset > 0 {
				m.offset--
			}
		case "down", "j":
			if m.offset < len(m.ranked)-1 {
				m.offset++
			}
		}
	}
	return m, nil
}

// NextMilestone is the first milestone above current, 0 past the last one.
func NextMilestone(current int) int {
	for _, ms := range streak.Milestones {
		if current < ms {
			return ms
		}
	}
	return 0
}

func (m Model) View() string {
	if len(m.ranked) == 0 {
		return "\n  No streaks yet.\n  Complete a habit to start one."
	}

	width := len("Habit")
	for _, st := range m.ranked {
		if len(st.Habit.Title) > width {
			width = len(st.Habit.Title)
		}
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-5s %-*s  %7s  %4s  %5s  %s", "#", width, "Habit", "Current", "Best", "Total", "Next")))
	b.WriteString("\n")

	rows := m.ranked[m.offset:]
	if m.height > 2 && len(rows) > m.height-2 {
		rows = rows[:m.height-2]
	}
	for i, st := range rows {
		next := "-"
		if ms := NextMilestone(st.CurrentStreak); ms > 0 {
			next = fmt.Sprintf("%d more for %s", ms-st.CurrentStreak, streak.TierFor(ms).Icon())
		}
		line := fmt.Sprintf("%-5s %-*s  %7d  %4d  %5d  ",
			fmt.Sprintf("%d %s", m.offset+i+1, streak.TierFor(st.BestStreak).Icon()),
			width, st.Habit.Title, st.CurrentStreak, st.BestStreak, st.TotalCount)
		b.WriteString(rowStyle.Render(line))
		b.WriteString(dimStyle.Render(next))
		b.WriteString("\n")
	}
	return b.String()
}
