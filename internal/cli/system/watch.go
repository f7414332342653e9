package system

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/store"
)

// WatchCmd follows the change feed and prints today's progress whenever it changes.
type WatchCmd struct{}

func (c *WatchCmd) Run(appCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.watch(ctx, appCtx)
}

func (c *WatchCmd) watch(ctx context.Context, appCtx *cli.Context) error {
	loadCtx, cancel := appCtx.WithTimeout(ctx)
	err := appCtx.Load(loadCtx)
	cancel()
	if err != nil {
		return err
	}
	s, err := appCtx.Store()
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		last string
	)
	unregister := s.OnChange(func(snap store.Snapshot) {
		line := Progress(snap)
		mu.Lock()
		defer mu.Unlock()
		if line == last {
			return
		}
		last = line
		appCtx.Printf("[%s] %s\n", time.Now().In(s.Location()).Format(constants.TimeFormat), line)
	})
	defer unregister()

	go c.followDay(ctx, appCtx, s, time.Minute)

	appCtx.Println("Watching for changes, press Ctrl+C to stop.")
	return s.Run(ctx)
}

// followDay refetches once the calendar day changes so progress starts over.
func (c *WatchCmd) followDay(ctx context.Context, appCtx *cli.Context, s *store.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.AdvanceDay() {
				continue
			}
			rctx, cancel := appCtx.WithTimeout(ctx)
			if err := s.Refresh(rctx); err != nil {
				logger.Warn("refresh after day change failed", "error", err)
			}
			cancel()
		}
	}
}

// Progress summarizes a snapshot on one line.
func Progress(snap store.Snapshot) string {
	done := 0
	marks := make([]string, 0, len(snap.Habits))
	for _, h := range snap.Habits {
		mark := "[ ]"
		if snap.Completed(h.ID) {
			mark = "[x]"
			done++
		}
		marks = append(marks, mark+" "+h.Title)
	}
	if len(marks) == 0 {
		return fmt.Sprintf("%s: no habits", snap.Today)
	}
	return fmt.Sprintf("%s: %d/%d done  %s", snap.Today, done, len(snap.Habits), strings.Join(marks, ", "))
}
