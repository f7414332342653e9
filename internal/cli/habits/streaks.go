package habits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/streak"
)

type StreaksCmd struct {
	Top int `help:"Show only the N best habits (0 shows all)." default:"0"`
}

func (c *StreaksCmd) Run(appCtx *cli.Context) error {
	if c.Top < 0 {
		return fmt.Errorf("--top must not be negative")
	}

	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadStore(ctx, appCtx, true)
	if err != nil {
		return err
	}

	ranked := s.Stats(time.Now())
	if c.Top > 0 {
		ranked = streak.Top(ranked, c.Top)
	}
	if len(ranked) == 0 {
		appCtx.Println("No habits found.")
		return nil
	}
	appCtx.Print(RenderStreaks(ranked))
	return nil
}

// RenderStreaks formats ranked stats as a table. "completions" is the habit's
// completion counter; current and best are consecutive-day streaks.
func RenderStreaks(ranked []streak.HabitStats) string {
	width := len("Habit")
	for _, st := range ranked {
		if len(st.Habit.Title) > width {
			width = len(st.Habit.Title)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-*s  %7s  %4s  %5s  %11s\n", "#", width, "Habit", "Current", "Best", "Total", "Completions")
	for i, st := range ranked {
		fmt.Fprintf(&b, "%-4s %-*s  %7d  %4d  %5d  %11d\n",
			fmt.Sprintf("%d %s", i+1, streak.TierFor(st.BestStreak).Icon()),
			width, st.Habit.Title, st.CurrentStreak, st.BestStreak, st.TotalCount, st.Habit.StreakCount)
	}
	return b.String()
}
