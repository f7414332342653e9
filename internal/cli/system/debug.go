package system

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/store"
)

type DebugCmd struct {
	DBPath          DebugDBPathCmd          `cmd:"" help:"Show the backend target and database path."`
	DumpHabits      DebugDumpHabitsCmd      `cmd:"" help:"Dump habit data as JSON."`
	DumpCompletions DebugDumpCompletionsCmd `cmd:"" help:"Dump completion data as JSON."`
}

type DebugDBPathCmd struct{}

func (cmd *DebugDBPathCmd) Run(ctx *cli.Context) error {
	output := map[string]string{
		"target": ctx.Target,
	}
	if ctx.Storage != nil {
		output["path"] = ctx.Storage.GetConfigPath()
	}
	return printJSON(ctx, output)
}

type DebugDumpHabitsCmd struct {
	ID    string `arg:"" optional:"" help:"ID of a single habit to dump."`
	Stats bool   `help:"Include computed streak statistics."`
}

func (cmd *DebugDumpHabitsCmd) Run(ctx *cli.Context) error {
	c, cancel := ctx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadForDebug(c, ctx, cmd.Stats)
	if err != nil {
		return err
	}

	if cmd.Stats {
		ranked := s.Stats(time.Now())
		if cmd.ID == "" {
			return printJSON(ctx, ranked)
		}
		for _, st := range ranked {
			if st.Habit.ID == cmd.ID {
				return printJSON(ctx, st)
			}
		}
		return fmt.Errorf("habit not found: %s", cmd.ID)
	}

	snap := s.Snapshot()
	if cmd.ID == "" {
		return printJSON(ctx, snap.Habits)
	}
	h, ok := snap.Habit(cmd.ID)
	if !ok {
		return fmt.Errorf("habit not found: %s", cmd.ID)
	}
	return printJSON(ctx, h)
}

type DebugDumpCompletionsCmd struct {
	Habit string `help:"Only dump completions of this habit id."`
}

func (cmd *DebugDumpCompletionsCmd) Run(ctx *cli.Context) error {
	c, cancel := ctx.WithTimeout(context.Background())
	defer cancel()

	s, err := loadForDebug(c, ctx, true)
	if err != nil {
		return err
	}

	completions := s.Snapshot().Completions
	if cmd.Habit != "" {
		filtered := make([]models.Completion, 0, len(completions))
		for _, comp := range completions {
			if comp.HabitID == cmd.Habit {
				filtered = append(filtered, comp)
			}
		}
		completions = filtered
	}
	return printJSON(ctx, completions)
}

func loadForDebug(c context.Context, ctx *cli.Context, history bool) (*store.Store, error) {
	if err := ctx.Load(c); err != nil {
		return nil, fmt.Errorf("failed to load database: %w", err)
	}
	s, err := ctx.Store()
	if err != nil {
		return nil, err
	}
	if err := s.LoadHabits(c); err != nil {
		return nil, err
	}
	if history {
		if err := s.LoadAllCompletions(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func printJSON(ctx *cli.Context, v any) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	ctx.Println(string(jsonBytes))
	return nil
}
