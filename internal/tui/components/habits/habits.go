package habits

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/store"
)

type AddHabitMsg struct{}

type CompleteHabitMsg struct {
	ID string
}

type DeleteHabitMsg struct {
	ID    string
	Title string
}

type RefreshMsg struct{}

// FrequencyRenderer draws the frequency label of a row.
type FrequencyRenderer func(models.Frequency) string

type Item struct {
	Habit     models.Habit
	Completed bool
	// Pending is set while a write for the habit is in flight.
	Pending bool

	frequency FrequencyRenderer
}

func (i Item) Title() string {
	if i.Completed {
		return "✓ " + i.Habit.Title
	}
	return "○ " + i.Habit.Title
}

func (i Item) Description() string {
	status := "not completed today"
	if i.Completed {
		status = "completed today"
	}
	if i.Pending {
		status += " · syncing…"
	}
	freq := string(i.Habit.Frequency)
	if i.frequency != nil {
		freq = i.frequency(i.Habit.Frequency)
	}
	return fmt.Sprintf("%s · %d completions · %s", freq, i.Habit.StreakCount, status)
}

func (i Item) FilterValue() string { return i.Habit.Title }

type KeyMap struct {
	Add      key.Binding
	Complete key.Binding
	Delete   key.Binding
	Refresh  key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Add: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "add"),
		),
		Complete: key.NewBinding(
			key.WithKeys("m", " "),
			key.WithHelp("m/space", "mark done"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
	}
}

type Model struct {
	list            list.Model
	keys            KeyMap
	renderFrequency FrequencyRenderer
}

func New(width, height int) Model {
	l := list.New(nil, list.NewDefaultDelegate(), width, height)
	l.Title = "Today"
	l.SetShowTitle(false)
	l.SetShowHelp(false)

	keys := DefaultKeyMap()
	bindings := func() []key.Binding {
		return []key.Binding{keys.Add, keys.Complete, keys.Delete, keys.Refresh}
	}
	l.AdditionalShortHelpKeys = bindings
	l.AdditionalFullHelpKeys = bindings

	return Model{list: l, keys: keys}
}

// SetSnapshot rebuilds the items from the store state. The cursor stays on the
// same index.
func (m *Model) SetSnapshot(snap store.Snapshot) {
	items := make([]list.Item, len(snap.Habits))
	for i, h := range snap.Habits {
		items[i] = Item{
			Habit:     h,
			Completed: snap.Completed(h.ID),
			Pending:   snap.Pending[h.ID],
			frequency: m.renderFrequency,
		}
	}
	m.list.SetItems(items)
}

// SetFrequencyRenderer styles the frequency label of every row.
func (m *Model) SetFrequencyRenderer(r FrequencyRenderer) {
	m.renderFrequency = r
	items := m.list.Items()
	for i, it := range items {
		if item, ok := it.(Item); ok {
			item.frequency = r
			items[i] = item
		}
	}
	m.list.SetItems(items)
}

func (m Model) Selected() (Item, bool) {
	i, ok := m.list.SelectedItem().(Item)
	return i, ok
}

func (m Model) Keys() KeyMap {
	return m.keys
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch {
		case key.Matches(msg, m.keys.Add):
			return m, func() tea.Msg { return AddHabitMsg{} }
		case key.Matches(msg, m.keys.Refresh):
			return m, func() tea.Msg { return RefreshMsg{} }
		case key.Matches(msg, m.keys.Complete):
			if i, ok := m.Selected(); ok && !i.Completed && !i.Pending {
				return m, func() tea.Msg { return CompleteHabitMsg{ID: i.Habit.ID} }
			}
			return m, nil
		case key.Matches(msg, m.keys.Delete):
			if i, ok := m.Selected(); ok && !i.Pending {
				return m, func() tea.Msg { return DeleteHabitMsg{ID: i.Habit.ID, Title: i.Habit.Title} }
			}
			return m, nil
		}
	}

	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if len(m.list.Items()) == 0 && m.list.FilterState() != list.Filtering {
		return "\n  No habits yet.\n  Press 'a' to add one."
	}
	return m.list.View()
}

func (m *Model) SetSize(width, height int) {
	m.list.SetSize(width, height)
}
