package store

import (
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/utils"
)

func habitFromDocument(doc backend.Document) (models.Habit, error) {
	h := models.Habit{
		ID:          doc.ID,
		OwnerID:     doc.String(constants.FieldUserID),
		Title:       doc.String(constants.FieldTitle),
		Description: doc.String(constants.FieldDescription),
		Frequency:   models.Frequency(doc.String(constants.FieldFrequency)),
	}

	count, err := doc.Int(constants.FieldStreakCount)
	if err != nil {
		return models.Habit{}, fmt.Errorf("habit %s: %w", doc.ID, err)
	}
	h.StreakCount = count

	last, ok, err := doc.Time(constants.FieldLastCompletedAt)
	if err != nil {
		return models.Habit{}, fmt.Errorf("habit %s: %w", doc.ID, err)
	}
	if ok {
		h.LastCompletedAt = &last
	}

	created, ok, err := doc.Time(constants.FieldCreatedAt)
	if err != nil {
		return models.Habit{}, fmt.Errorf("habit %s: %w", doc.ID, err)
	}
	if !ok {
		created = doc.CreatedAt
	}
	h.CreatedAt = created.UTC()

	return h, nil
}

func habitFields(h models.Habit) map[string]any {
	fields := map[string]any{
		constants.FieldUserID:      h.OwnerID,
		constants.FieldTitle:       h.Title,
		constants.FieldDescription: h.Description,
		constants.FieldFrequency:   string(h.Frequency),
		constants.FieldStreakCount: h.StreakCount,
		constants.FieldCreatedAt:   utils.FormatTimestamp(h.CreatedAt),
	}
	if h.LastCompletedAt != nil {
		fields[constants.FieldLastCompletedAt] = utils.FormatTimestamp(*h.LastCompletedAt)
	} else {
		fields[constants.FieldLastCompletedAt] = nil
	}
	return fields
}

func completionFromDocument(doc backend.Document) (models.Completion, error) {
	at, ok, err := doc.Time(constants.FieldCompletedAt)
	if err != nil {
		return models.Completion{}, fmt.Errorf("completion %s: %w", doc.ID, err)
	}
	if !ok {
		return models.Completion{}, fmt.Errorf("completion %s: %w: missing %s", doc.ID, backend.ErrInvalidDocument, constants.FieldCompletedAt)
	}
	return models.Completion{
		ID:          doc.ID,
		HabitID:     doc.String(constants.FieldHabitID),
		OwnerID:     doc.String(constants.FieldUserID),
		CompletedAt: at,
	}, nil
}

func completionFields(c models.Completion) map[string]any {
	return map[string]any{
		constants.FieldHabitID:     c.HabitID,
		constants.FieldUserID:      c.OwnerID,
		constants.FieldCompletedAt: utils.FormatTimestamp(c.CompletedAt),
	}
}

// completionPatch is the habit update issued alongside a new completion.
func completionPatch(h models.Habit, at time.Time) map[string]any {
	return map[string]any{
		constants.FieldStreakCount:     h.StreakCount + 1,
		constants.FieldLastCompletedAt: utils.FormatTimestamp(at),
	}
}
