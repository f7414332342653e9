package errors

import (
	"errors"
	"fmt"
	"os"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/keyring"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/store"
)

const (
	ExitFailure = 1
	// ExitUsage marks errors the user can fix by changing the command line.
	ExitUsage = 2
)

type rule struct {
	err  error
	hint string
	code int
}

var rules = []rule{
	{store.ErrUnknownHabit, "run 'habitsync habit list' to see habit titles", ExitUsage},
	{store.ErrEmptyTitle, "", ExitUsage},
	{store.ErrInvalidFrequency, "use daily, weekly or monthly", ExitUsage},
	{store.ErrNoSession, "pass --user or set HABITSYNC_USER", ExitUsage},
	{keyring.ErrKeyringUnavailable, "set HABITSYNC_DB_CONNECTION or HABITSYNC_TOKEN instead", ExitFailure},
	{backend.ErrFeedInterrupted, "the change feed dropped, run the command again to reconnect", ExitFailure},
	{backend.ErrSubscriptionOverflow, "the change feed fell behind, run the command again to resync", ExitFailure},
	{backend.ErrClosed, "the backend connection was closed", ExitFailure},
}

func lookup(err error) (rule, bool) {
	for _, r := range rules {
		if errors.Is(err, r.err) {
			return r, true
		}
	}
	return rule{}, false
}

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	if hint := Hint(err); hint != "" {
		return fmt.Sprintf("Error: %v (hint: %s)", err, hint)
	}
	return fmt.Sprintf("Error: %v", err)
}

// Hint returns a remedy for well-known failures, "" otherwise.
func Hint(err error) string {
	r, _ := lookup(err)
	return r.hint
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if r, ok := lookup(err); ok {
		return r.code
	}
	return ExitFailure
}

// Fatal logs the error and exits with ExitCode(err). A nil error is a no-op.
func Fatal(err error) {
	if err == nil {
		return
	}
	logger.Error("Command execution failed", "error", err)
	fmt.Fprintf(os.Stderr, "%s\n", Format(err))
	os.Exit(ExitCode(err))
}
