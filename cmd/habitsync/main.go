package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/habitsync/internal/analytics"
	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/cli/habits"
	"github.com/julianstephens/habitsync/internal/cli/system"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/errors"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/notifier"
	"github.com/julianstephens/habitsync/internal/session"
	"github.com/julianstephens/habitsync/internal/utils"
)

var CLI struct {
	Version  kong.VersionFlag
	Backend  string        `help:"SQLite path, PostgreSQL connection string (no password), keyring://, memory:// or http(s):// server URL." default:"~/.config/habitsync/habitsync.db" env:"HABITSYNC_BACKEND"`
	User     string        `help:"User whose habits to manage. Defaults to the OS user." env:"HABITSYNC_USER"`
	Timezone string        `help:"IANA timezone that decides which calendar day a completion belongs to." default:"Local" env:"HABITSYNC_TIMEZONE"`
	Timeout  time.Duration `help:"Deadline for backend calls of one command." default:"10s"`
	Debug    bool          `help:"Log debug output to stderr."`
	LogLevel string        `help:"Log file level (debug, info, warn, error)." default:"warn" enum:"debug,info,warn,error" env:"HABITSYNC_LOG_LEVEL"`

	Init     system.InitCmd    `cmd:"" help:"Initialize habitsync storage."`
	Doctor   system.DoctorCmd  `cmd:"" help:"Run health checks and diagnostics."`
	Tui      system.TuiCmd     `cmd:"" help:"Launch the interactive TUI." default:"1"`
	Habit    habits.HabitCmd   `cmd:"" help:"Manage habits and habit tracking."`
	Streaks  habits.StreaksCmd `cmd:"" help:"Show habits ranked by best streak."`
	Watch    system.WatchCmd   `cmd:"" help:"Follow changes from other devices."`
	Serve    system.ServeCmd   `cmd:"" help:"Share the backend with other devices over HTTP."`
	Keyring  system.KeyringCmd `cmd:"" help:"Manage secrets in the OS keyring."`
	DebugCmd system.DebugCmd   `cmd:"" name:"debug" help:"Debug commands for troubleshooting."`
	Notify   system.NotifyCmd  `cmd:"" hidden:"" help:"Send a reminder for open habits (used from cron)."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Habit tracker with streaks and multi-device sync"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{"version": constants.Version},
	)

	configDir, err := cli.ConfigDir(CLI.Backend)
	if err != nil {
		errors.Fatal(err)
	}
	if err := logger.Init(logger.Config{Debug: CLI.Debug, Level: CLI.LogLevel, ConfigDir: configDir}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	defer logger.Close()

	sess, err := session.Resolve(CLI.User)
	if err != nil {
		errors.Fatal(err)
	}
	loc, err := utils.LoadLocation(CLI.Timezone)
	if err != nil {
		errors.Fatal(err)
	}

	appCtx := &cli.Context{
		Target:   CLI.Backend,
		Session:  sess,
		Location: loc,
		Timeout:  CLI.Timeout,
		Notifier: notifier.New(),
	}

	// keyring commands manage the secrets OpenBackend needs
	if !strings.HasPrefix(ctx.Command(), "keyring") {
		appCtx.Client, appCtx.Storage, err = cli.OpenBackend(CLI.Backend)
		if err != nil {
			errors.Fatal(err)
		}
	}

	tracker := analytics.New(logger.Named("analytics"))
	tracker.SetUserProperty("user_id", sess.UserID)
	tracker.TrackEvent(analytics.EventAppOpen, map[string]any{"command": ctx.Command()})
	appCtx.Tracker = tracker

	runErr := ctx.Run(appCtx)
	if err := appCtx.Close(); err != nil {
		logger.Warn("closing backend", "error", err)
	}
	if runErr != nil {
		errors.Fatal(runErr)
	}
}
