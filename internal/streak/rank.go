package streak

import (
	"sort"
	"time"

	"github.com/julianstephens/habitsync/internal/models"
)

// HabitStats pairs a habit with its computed statistics.
type HabitStats struct {
	Habit models.Habit `json:"habit"`
	Stats
}

// Rank computes stats for every habit and orders them by best streak, highest first.
// Ties go to the older habit, then to the lower id, so the order is total.
func Rank(habits []models.Habit, completions []models.Completion, now time.Time, loc *time.Location) []HabitStats {
	byHabit := make(map[string][]models.Completion, len(habits))
	for _, c := range completions {
		byHabit[c.HabitID] = append(byHabit[c.HabitID], c)
	}

	ranked := make([]HabitStats, 0, len(habits))
	for _, h := range habits {
		ranked = append(ranked, HabitStats{
			Habit: h,
			Stats: Compute(h.ID, byHabit[h.ID], now, loc),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.BestStreak != b.BestStreak {
			return a.BestStreak > b.BestStreak
		}
		if !a.Habit.CreatedAt.Equal(b.Habit.CreatedAt) {
			return a.Habit.CreatedAt.Before(b.Habit.CreatedAt)
		}
		return a.Habit.ID < b.Habit.ID
	})
	return ranked
}

// Top returns at most n leading entries of an already ranked slice.
func Top(ranked []HabitStats, n int) []HabitStats {
	if n < 0 {
		n = 0
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// Tier is the badge shown next to a streak.
type Tier string

const (
	TierCheck  Tier = "check"
	TierStar   Tier = "star"
	TierFire   Tier = "fire"
	TierTrophy Tier = "trophy"
)

// Milestones are the streak lengths that earn a new tier, ascending.
var Milestones = []int{3, 7, 30}

// TierFor maps a streak length to its badge tier.
func TierFor(streak int) Tier {
	switch {
	case streak >= 30:
		return TierTrophy
	case streak >= 7:
		return TierFire
	case streak >= 3:
		return TierStar
	default:
		return TierCheck
	}
}

// Icon is the terminal glyph for a tier.
func (t Tier) Icon() string {
	switch t {
	case TierTrophy:
		return "🏆"
	case TierFire:
		return "🔥"
	case TierStar:
		return "⭐"
	default:
		return "✓"
	}
}

// CrossedMilestone returns the highest milestone m with before < m <= after, or 0.
func CrossedMilestone(before, after int) int {
	crossed := 0
	for _, m := range Milestones {
		if before < m && m <= after {
			crossed = m
		}
	}
	return crossed
}
