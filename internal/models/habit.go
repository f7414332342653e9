package models

import (
	"fmt"
	"time"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Frequencies lists the accepted frequencies in display order.
var Frequencies = []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyMonthly}

// ParseFrequency validates a frequency name.
func ParseFrequency(s string) (Frequency, error) {
	for _, f := range Frequencies {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid frequency %q (expected daily, weekly or monthly)", s)
}

// Habit is a recurring practice owned by one user.
//
// StreakCount is a completion counter maintained by increment-on-complete. It is not
// a consecutive-day streak; see streak.Compute for that.
type Habit struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"user_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Frequency       Frequency  `json:"frequency"`
	StreakCount     int        `json:"streak_count"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Completion records one "mark complete" action for a habit.
type Completion struct {
	ID          string    `json:"id"`
	HabitID     string    `json:"habit_id"`
	OwnerID     string    `json:"user_id"`
	CompletedAt time.Time `json:"completed_at"`
}
