package system

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/store"
	"github.com/julianstephens/habitsync/internal/tui"
)

type TuiCmd struct{}

func (c *TuiCmd) Run(appCtx *cli.Context) error {
	loadCtx, cancelLoad := appCtx.WithTimeout(context.Background())
	err := appCtx.Load(loadCtx)
	cancelLoad()
	if err != nil {
		return err
	}
	s, err := appCtx.Store()
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.NewModel(s, appCtx.Tracker), tea.WithAltScreen())
	unregister := s.OnChange(func(snap store.Snapshot) {
		p.Send(tui.SnapshotMsg{Snapshot: snap})
	})

	ctx, cancel := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := s.Run(ctx); err != nil {
			p.Send(tui.FeedErrorMsg{Err: err})
		}
	}()

	_, runErr := p.Run()
	unregister()
	cancel()
	<-feedDone

	if runErr != nil {
		return fmt.Errorf("alas, there's been an error: %w", runErr)
	}
	return nil
}
