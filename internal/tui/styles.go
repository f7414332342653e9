package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitsync/internal/models"
)

const (
	accent = lipgloss.Color("#7c4dff")
	muted  = lipgloss.Color("#8a8a8a")
	green  = lipgloss.Color("#4caf50")
	red    = lipgloss.Color("#e53935")
	amber  = lipgloss.Color("#ff9800")
	blue   = lipgloss.Color("#2196f3")
)

var (
	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(accent).
			Padding(0, 1).
			Bold(true)

	inactiveTabStyle = lipgloss.NewStyle().Foreground(muted).Padding(0, 1)

	// summary once every habit is done today
	allDoneStyle = inactiveTabStyle.Foreground(green).Bold(true)

	dangerStyle  = lipgloss.NewStyle().Foreground(red).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(amber).Italic(true)
	statusStyle  = lipgloss.NewStyle().Foreground(green).Padding(0, 1)

	docStyle = lipgloss.NewStyle().Padding(1, 2)
)

var frequencyStyles = map[models.Frequency]lipgloss.Style{
	models.FrequencyDaily:   lipgloss.NewStyle().Foreground(green),
	models.FrequencyWeekly:  lipgloss.NewStyle().Foreground(blue),
	models.FrequencyMonthly: lipgloss.NewStyle().Foreground(amber),
}

func renderFrequency(f models.Frequency) string {
	if st, ok := frequencyStyles[f]; ok {
		return st.Render(string(f))
	}
	return string(f)
}
