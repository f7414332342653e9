package habits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/store"
	"github.com/julianstephens/habitsync/internal/utils"
)

type HabitCmd struct {
	Add      HabitAddCmd      `cmd:"" help:"Add a new habit."`
	List     HabitListCmd     `cmd:"" help:"List habits with today's status."`
	Complete HabitCompleteCmd `cmd:"" help:"Mark a habit complete for today."`
	Delete   HabitDeleteCmd   `cmd:"" help:"Delete a habit."`
	Log      HabitLogCmd      `cmd:"" help:"Show habit log (ASCII history)."`
}

// loadStore opens the backend and fetches the habits plus whatever else the command
// needs.
func loadStore(ctx context.Context, appCtx *cli.Context, history bool) (*store.Store, error) {
	if err := appCtx.Load(ctx); err != nil {
		return nil, err
	}
	s, err := appCtx.Store()
	if err != nil {
		return nil, err
	}
	if err := s.LoadHabits(ctx); err != nil {
		return nil, err
	}
	if err := s.LoadTodaysCompletions(ctx, time.Now()); err != nil {
		return nil, err
	}
	if history {
		if err := s.LoadAllCompletions(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type HabitAddCmd struct {
	Title       string `arg:"" help:"Habit title."`
	Description string `help:"Optional description." default:""`
	Frequency   string `help:"How often the habit recurs (daily, weekly, monthly)." enum:"daily,weekly,monthly" default:"daily"`
}

func (c *HabitAddCmd) Run(appCtx *cli.Context) error {
	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadStore(ctx, appCtx, false)
	if err != nil {
		return err
	}

	for _, h := range s.Snapshot().Habits {
		if strings.EqualFold(h.Title, strings.TrimSpace(c.Title)) {
			return fmt.Errorf("habit with title %q already exists", c.Title)
		}
	}

	m, err := s.CreateHabit(ctx, c.Title, c.Description, c.Frequency)
	if err != nil {
		return err
	}
	appCtx.Printf("Added habit: %s (%s)\n", strings.TrimSpace(c.Title), m.HabitID)
	return nil
}

type HabitListCmd struct{}

func (c *HabitListCmd) Run(appCtx *cli.Context) error {
	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadStore(ctx, appCtx, false)
	if err != nil {
		return err
	}

	snap := s.Snapshot()
	if len(snap.Habits) == 0 {
		appCtx.Println("No habits found. Add one with 'habitsync habit add <title>'.")
		return nil
	}

	appCtx.Printf("Habits for %s:\n\n", snap.Today)
	done := 0
	for _, h := range snap.Habits {
		status := "[ ]"
		if snap.Completed(h.ID) {
			status = "[x]"
			done++
		}
		appCtx.Printf("%s %-24s %-8s %3d completions  last: %s\n",
			status, h.Title, h.Frequency, h.StreakCount, cli.FormatLastCompleted(h.LastCompletedAt, s.Location()))
	}
	appCtx.Printf("\nCompleted today: %d/%d\n", done, len(snap.Habits))
	return nil
}

type HabitCompleteCmd struct {
	Habit string `arg:"" help:"Habit title or id."`
}

func (c *HabitCompleteCmd) Run(appCtx *cli.Context) error {
	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadStore(ctx, appCtx, true)
	if err != nil {
		return err
	}
	h, err := cli.FindHabit(s.Snapshot().Habits, c.Habit)
	if err != nil {
		return err
	}

	m, err := s.CompleteHabit(ctx, h.ID)
	if err != nil {
		return err
	}
	if m.State == store.StateSkipped {
		appCtx.Printf("%s is already complete for today\n", h.Title)
		return nil
	}

	updated, _ := s.Snapshot().Habit(h.ID)
	stats := s.Stats(time.Now())
	for _, st := range stats {
		if st.Habit.ID == h.ID {
			appCtx.Printf("✓ Completed %s (current streak %d, best %d, %d completions)\n",
				h.Title, st.CurrentStreak, st.BestStreak, updated.StreakCount)
			return nil
		}
	}
	appCtx.Printf("✓ Completed %s\n", h.Title)
	return nil
}

type HabitDeleteCmd struct {
	Habit string `arg:"" help:"Habit title or id."`
}

func (c *HabitDeleteCmd) Run(appCtx *cli.Context) error {
	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadStore(ctx, appCtx, false)
	if err != nil {
		return err
	}
	h, err := cli.FindHabit(s.Snapshot().Habits, c.Habit)
	if err != nil {
		return err
	}
	if _, err := s.DeleteHabit(ctx, h.ID); err != nil {
		return err
	}
	appCtx.Printf("Deleted habit: %s\n", h.Title)
	return nil
}

type HabitLogCmd struct {
	Days  int    `help:"Number of days to show." default:"14"`
	Habit string `help:"Show log for specific habit only."`
}

func (c *HabitLogCmd) Run(appCtx *cli.Context) error {
	if c.Days <= 0 || c.Days > 366 {
		return fmt.Errorf("--days must be between 1 and 366")
	}

	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadStore(ctx, appCtx, true)
	if err != nil {
		return err
	}

	snap := s.Snapshot()
	habits := snap.Habits
	if c.Habit != "" {
		h, err := cli.FindHabit(habits, c.Habit)
		if err != nil {
			return err
		}
		habits = []models.Habit{h}
	}
	if len(habits) == 0 {
		appCtx.Println("No habits found.")
		return nil
	}

	appCtx.Print(RenderLog(habits, snap.Completions, time.Now(), s.Location(), c.Days))
	return nil
}

// RenderLog draws one row per habit with a cell per day, oldest on the left.
func RenderLog(habits []models.Habit, completions []models.Completion, now time.Time, loc *time.Location, days int) string {
	done := make(map[string]map[utils.Day]bool, len(habits))
	for _, c := range completions {
		if done[c.HabitID] == nil {
			done[c.HabitID] = map[utils.Day]bool{}
		}
		done[c.HabitID][utils.DayOf(c.CompletedAt, loc)] = true
	}

	width := 0
	for _, h := range habits {
		if len(h.Title) > width {
			width = len(h.Title)
		}
	}

	today := utils.StartOfDay(now, loc)
	start := today.AddDate(0, 0, -(days - 1))

	var b strings.Builder
	fmt.Fprintf(&b, "Habit log (%s to %s):\n\n", utils.DayOf(start, loc), utils.DayOf(today, loc))
	for _, h := range habits {
		fmt.Fprintf(&b, "%-*s  ", width, h.Title)
		for i := 0; i < days; i++ {
			day := utils.DayOf(start.AddDate(0, 0, i), loc)
			if done[h.ID][day] {
				b.WriteString("█")
			} else {
				b.WriteString("·")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
