package system

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/notifier"
	"github.com/julianstephens/habitsync/internal/store"
)

// NotifyCmd sends a reminder for habits still open today. Meant to run from cron.
type NotifyCmd struct {
	DryRun bool `help:"Print notifications to stdout instead of sending them."`
}

func (c *NotifyCmd) Run(appCtx *cli.Context) error {
	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	if err := appCtx.Load(ctx); err != nil {
		return err
	}
	s, err := appCtx.Store()
	if err != nil {
		return err
	}
	if err := s.LoadHabits(ctx); err != nil {
		return err
	}
	if err := s.LoadTodaysCompletions(ctx, time.Now()); err != nil {
		return err
	}

	msg := ReminderMessage(s.Snapshot())
	if msg == "" {
		if c.DryRun {
			appCtx.Println("All habits are done for today.")
		}
		return nil
	}

	if c.DryRun {
		appCtx.Println("[DryRun] " + msg)
		return nil
	}

	var sender notifier.Sender = notifier.New()
	if appCtx.Notifier != nil {
		sender = appCtx.Notifier
	}
	if err := sender.Notify(msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// ReminderMessage lists the habits not yet completed today, "" when there are none.
func ReminderMessage(snap store.Snapshot) string {
	var open []string
	for _, h := range snap.Habits {
		if !snap.Completed(h.ID) {
			open = append(open, h.Title)
		}
	}
	switch len(open) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("1 habit left today: %s", open[0])
	default:
		return fmt.Sprintf("%d habits left today: %s", len(open), strings.Join(open, ", "))
	}
}
