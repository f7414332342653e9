// Package streak derives streak statistics from a habit's completion history.
//
// Everything here is a pure function of its inputs: no I/O, no clocks, no package
// state. Callers pass the reference time and the location whose calendar days count.
package streak

import (
	"sort"
	"time"

	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/utils"
)

// Stats holds the derived numbers for one habit.
type Stats struct {
	CurrentStreak int `json:"current_streak"`
	BestStreak    int `json:"best_streak"`
	TotalCount    int `json:"total_count"`
}

// Compute returns the streak statistics of habitID as of now.
//
// Completions of other habits are ignored. Several completions on one calendar day
// count once toward streak length and individually toward TotalCount. The current
// streak survives until the end of the day after the last completion.
func Compute(habitID string, completions []models.Completion, now time.Time, loc *time.Location) Stats {
	if loc == nil {
		loc = time.Local
	}

	seen := make(map[int64]struct{})
	var days []int64
	total := 0
	for _, c := range completions {
		if c.HabitID != habitID {
			continue
		}
		total++
		ord := utils.DayOf(c.CompletedAt, loc).Ordinal()
		if _, ok := seen[ord]; ok {
			continue
		}
		seen[ord] = struct{}{}
		days = append(days, ord)
	}

	if len(days) == 0 {
		return Stats{TotalCount: total}
	}

	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	best := 0
	run := 1
	for i := 1; i < len(days); i++ {
		if days[i]-days[i-1] == 1 {
			run++
			continue
		}
		if run > best {
			best = run
		}
		run = 1
	}
	if run > best {
		best = run
	}

	current := 0
	if utils.DayOf(now, loc).Ordinal()-days[len(days)-1] <= 1 {
		current = run
	}

	return Stats{
		CurrentStreak: current,
		BestStreak:    best,
		TotalCount:    total,
	}
}
