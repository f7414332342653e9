package system

import (
	"context"
	"fmt"
	"os"

	"github.com/julianstephens/habitsync/internal/backend/sqlite"
	"github.com/julianstephens/habitsync/internal/cli"
)

type InitCmd struct {
	Force bool `help:"Force reset by deleting the existing SQLite database before initialization."`
}

func (c *InitCmd) Run(appCtx *cli.Context) error {
	if appCtx.Storage == nil {
		appCtx.Printf("Backend %s keeps no local schema, nothing to initialize.\n", appCtx.Target)
		return nil
	}

	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	if c.Force {
		if err := c.reset(appCtx); err != nil {
			return err
		}
	}

	if err := appCtx.Storage.Init(ctx); err != nil {
		return err
	}
	appCtx.Printf("Initialized habitsync storage at: %s\n", appCtx.Storage.GetConfigPath())
	return nil
}

// reset removes the SQLite file. A postgres schema is never dropped from here.
func (c *InitCmd) reset(appCtx *cli.Context) error {
	if _, ok := appCtx.Storage.(*sqlite.Store); !ok {
		return fmt.Errorf("--force is only supported for SQLite databases")
	}

	dbPath := appCtx.Storage.GetConfigPath()
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access existing database: %w", err)
	}

	// Close first so the file is not locked.
	if err := appCtx.Storage.Close(); err != nil {
		return fmt.Errorf("failed to close existing database: %w", err)
	}
	if err := os.Remove(dbPath); err != nil {
		return fmt.Errorf("failed to delete existing database: %w", err)
	}
	appCtx.Printf("Deleted existing database at: %s\n", dbPath)

	fresh := sqlite.NewStore(dbPath)
	appCtx.Storage = fresh
	appCtx.Client = fresh
	return nil
}
