package system

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/keyring"
	"github.com/julianstephens/habitsync/internal/models"
)

// schemaVersioner is implemented by backends that track migrations.
type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (current, latest int, err error)
}

type DoctorCmd struct{}

type check struct {
	name string
	// needsBackend checks are skipped when the backend is unreachable.
	needsBackend bool
	// warnOnly failures do not fail the run.
	warnOnly bool
	run      func(ctx context.Context, appCtx *cli.Context, docs *documents) error
}

// documents holds the raw records of the current user, fetched once.
type documents struct {
	habits      []backend.Document
	completions []backend.Document
}

var checks = []check{
	{name: "Schema version", needsBackend: true, run: checkSchemaVersion},
	{name: "Keyring", warnOnly: true, run: checkKeyring},
	{name: "Clock/timezone", run: checkClockTimezone},
	{name: "Habit integrity", needsBackend: true, run: checkHabitsIntegrity},
	{name: "Completion integrity", needsBackend: true, run: checkCompletionsIntegrity},
	{name: "Completion counters", needsBackend: true, warnOnly: true, run: checkCounters},
}

func (cmd *DoctorCmd) Run(appCtx *cli.Context) error {
	appCtx.Println("Running diagnostics...")
	appCtx.Println()

	ctx, cancel := appCtx.WithTimeout(context.Background())
	defer cancel()

	hasError := false
	docs, err := fetchDocuments(ctx, appCtx)
	if err != nil {
		appCtx.Printf("❌ Backend reachable: FAIL\n")
		appCtx.Printf("   Error: %v\n", err)
		hasError = true
	} else {
		appCtx.Printf("✓ Backend reachable: OK\n")
	}

	for _, c := range checks {
		if c.needsBackend && docs == nil {
			appCtx.Printf("⊘ %s: SKIPPED (backend not reachable)\n", c.name)
			continue
		}
		err := c.run(ctx, appCtx, docs)
		switch {
		case err == nil:
			appCtx.Printf("✓ %s: OK\n", c.name)
		case c.warnOnly:
			appCtx.Printf("⚠ %s: WARNING\n", c.name)
			appCtx.Printf("   %v\n", err)
		default:
			appCtx.Printf("❌ %s: FAIL\n", c.name)
			appCtx.Printf("   Error: %v\n", err)
			hasError = true
		}
	}

	appCtx.Println()
	if hasError {
		appCtx.Println("Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}
	appCtx.Println("All checks passed.")
	return nil
}

func fetchDocuments(ctx context.Context, appCtx *cli.Context) (*documents, error) {
	if err := appCtx.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load database: %w", err)
	}
	owner := backend.Equal(constants.FieldUserID, appCtx.Session.UserID)

	habits, err := appCtx.Client.ListDocuments(ctx, constants.HabitsCollection, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list habits: %w", err)
	}
	completions, err := appCtx.Client.ListDocuments(ctx, constants.CompletionsCollection, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	return &documents{habits: habits, completions: completions}, nil
}

func checkSchemaVersion(ctx context.Context, appCtx *cli.Context, _ *documents) error {
	v, ok := appCtx.Client.(schemaVersioner)
	if !ok {
		return nil
	}
	current, latest, err := v.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > latest {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d)", current, latest)
	}
	if current < latest {
		return fmt.Errorf("migrations incomplete: current version %d, latest version %d (run 'habitsync init')", current, latest)
	}
	return nil
}

func checkKeyring(_ context.Context, _ *cli.Context, _ *documents) error {
	if !keyring.IsAvailable() {
		return keyring.ErrKeyringUnavailable
	}
	return nil
}

func checkClockTimezone(_ context.Context, appCtx *cli.Context, _ *documents) error {
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	if appCtx.Location == nil {
		return errors.New("no timezone configured")
	}
	return nil
}

func checkHabitsIntegrity(_ context.Context, _ *cli.Context, docs *documents) error {
	var problems []string
	for _, doc := range docs.habits {
		if strings.TrimSpace(doc.String(constants.FieldTitle)) == "" {
			problems = append(problems, fmt.Sprintf("habit %s has an empty title", doc.ID))
		}
		if _, err := models.ParseFrequency(doc.String(constants.FieldFrequency)); err != nil {
			problems = append(problems, fmt.Sprintf("habit %s: %v", doc.ID, err))
		}
		if n, err := doc.Int(constants.FieldStreakCount); err != nil {
			problems = append(problems, fmt.Sprintf("habit %s: %v", doc.ID, err))
		} else if n < 0 {
			problems = append(problems, fmt.Sprintf("habit %s has a negative completion count", doc.ID))
		}
		if _, _, err := doc.Time(constants.FieldLastCompletedAt); err != nil {
			problems = append(problems, fmt.Sprintf("habit %s: %v", doc.ID, err))
		}
	}
	return joinProblems(problems)
}

// checkCompletionsIntegrity reports orphaned completions and completion times that
// are missing, unparsable or in the future.
func checkCompletionsIntegrity(_ context.Context, _ *cli.Context, docs *documents) error {
	habits := make(map[string]bool, len(docs.habits))
	for _, doc := range docs.habits {
		habits[doc.ID] = true
	}

	orphans := 0
	var problems []string
	horizon := time.Now().Add(24 * time.Hour)
	for _, doc := range docs.completions {
		if !habits[doc.String(constants.FieldHabitID)] {
			orphans++
		}
		at, ok, err := doc.Time(constants.FieldCompletedAt)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("completion %s: %v", doc.ID, err))
		case !ok:
			problems = append(problems, fmt.Sprintf("completion %s has no completion time", doc.ID))
		case at.After(horizon):
			problems = append(problems, fmt.Sprintf("completion %s is dated in the future (%s)", doc.ID, at.Format(time.RFC3339)))
		}
	}
	if orphans > 0 {
		problems = append(problems, fmt.Sprintf("found %d orphaned completions (referencing non-existent habits)", orphans))
	}
	return joinProblems(problems)
}

// checkCounters compares each habit's completion counter with its stored history.
// Drift is expected after remote deletes, so this only warns.
func checkCounters(_ context.Context, _ *cli.Context, docs *documents) error {
	counts := make(map[string]int, len(docs.habits))
	for _, doc := range docs.completions {
		counts[doc.String(constants.FieldHabitID)]++
	}

	var problems []string
	for _, doc := range docs.habits {
		n, err := doc.Int(constants.FieldStreakCount)
		if err != nil {
			continue
		}
		if n != counts[doc.ID] {
			problems = append(problems, fmt.Sprintf("habit %q counts %d completions, history has %d", doc.String(constants.FieldTitle), n, counts[doc.ID]))
		}
	}
	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "\n   "))
}
