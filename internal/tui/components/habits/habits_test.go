package habits

import (
	"strings"
	"testing"

	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/store"
)

func TestItemDescription(t *testing.T) {
	item := Item{Habit: models.Habit{Title: "Read", Frequency: models.FrequencyWeekly, StreakCount: 4}, Pending: true}
	if got := item.Description(); got != "weekly · 4 completions · not completed today · syncing…" {
		t.Errorf("Description() = %q", got)
	}
}

func TestSetFrequencyRenderer(t *testing.T) {
	m := New(80, 20)
	m.SetSnapshot(store.Snapshot{Habits: []models.Habit{{ID: "h1", Title: "Read", Frequency: models.FrequencyDaily}}})
	m.SetFrequencyRenderer(func(f models.Frequency) string { return "<" + string(f) + ">" })

	item, ok := m.Selected()
	if !ok {
		t.Fatal("no selected item")
	}
	if !strings.HasPrefix(item.Description(), "<daily> · ") {
		t.Errorf("renderer not applied to existing rows: %q", item.Description())
	}

	m.SetSnapshot(store.Snapshot{Habits: []models.Habit{{ID: "h2", Title: "Run", Frequency: models.FrequencyMonthly}}})
	item, _ = m.Selected()
	if !strings.HasPrefix(item.Description(), "<monthly> · ") {
		t.Errorf("renderer not applied to new rows: %q", item.Description())
	}
}
