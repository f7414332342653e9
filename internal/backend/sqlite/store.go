// Package sqlite stores documents in a local SQLite file.
//
// Every write appends to a changes table inside the same transaction. The change
// feed polls that table, so processes sharing one database file see each other's
// writes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/migration"
	"github.com/julianstephens/habitsync/internal/utils"
	"github.com/julianstephens/habitsync/migrations"
)

type Store struct {
	path         string
	db           *sql.DB
	hub          *backend.Hub
	now          func() time.Time
	pollInterval time.Duration

	mu         sync.Mutex
	stopPoll   context.CancelFunc
	pollDone   chan struct{}
	lastSeq    int64
	closed     bool
	migrateLog func(string)
}

func NewStore(path string) *Store {
	return &Store{
		path:         path,
		hub:          backend.NewHub(),
		now:          time.Now,
		pollInterval: constants.SQLitePollInterval,
		migrateLog:   func(msg string) { logger.Info(msg) },
	}
}

// WithPollInterval changes how often the change log is read.
func (s *Store) WithPollInterval(d time.Duration) *Store {
	s.pollInterval = d
	return s
}

// WithMigrationLog sends migration progress to fn instead of the logger.
func (s *Store) WithMigrationLog(fn func(string)) *Store {
	s.migrateLog = fn
	return s
}

// Init creates the database file if needed and applies pending migrations.
func (s *Store) Init(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := s.open(); err != nil {
		return err
	}

	runner, err := s.runner()
	if err != nil {
		return err
	}
	if _, err := runner.Apply(ctx, s.migrateLog); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Load opens an existing database and checks its schema version.
func (s *Store) Load(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return fmt.Errorf("storage not initialized, run 'habitsync init' first")
	}

	if err := s.open(); err != nil {
		return err
	}

	runner, err := s.runner()
	if err != nil {
		return err
	}
	return runner.Validate(ctx)
}

func (s *Store) open() error {
	if s.db != nil {
		return nil
	}
	// Immediate transactions take the write lock up front, busy_timeout waits for
	// other processes holding it.
	dsn := s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) runner() (*migration.Runner, error) {
	subFS, err := fs.Sub(migrations.FS, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite migrations: %w", err)
	}
	return migration.NewRunner(s.db, subFS, migration.DialectSQLite), nil
}

// SchemaVersion reports the applied and the latest embedded migration versions.
func (s *Store) SchemaVersion(ctx context.Context) (current, latest int, err error) {
	if err := s.ready(); err != nil {
		return 0, 0, err
	}
	runner, err := s.runner()
	if err != nil {
		return 0, 0, err
	}
	if current, err = runner.CurrentVersion(ctx); err != nil {
		return 0, 0, err
	}
	if latest, err = runner.LatestVersion(); err != nil {
		return 0, 0, err
	}
	return current, latest, nil
}

func (s *Store) GetConfigPath() string {
	return s.path
}

// GetDB returns the underlying connection, nil before Init or Load.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

func (s *Store) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.db == nil {
		return fmt.Errorf("storage not loaded")
	}
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, collection string, filters ...backend.Filter) ([]backend.Document, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	where, args, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, data, created_at, updated_at FROM documents WHERE collection = ?" + where
	rows, err := s.db.QueryContext(ctx, query, append([]any{collection}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []backend.Document
	for rows.Next() {
		var id, data, createdAt, updatedAt string
		if err := rows.Scan(&id, &data, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(collection, id, data, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

func (s *Store) CreateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	if err := s.ready(); err != nil {
		return backend.Document{}, err
	}
	if id == "" {
		id = uuid.New().String()
	}
	if err := backend.ValidateName("collection", collection); err != nil {
		return backend.Document{}, err
	}
	if err := backend.ValidateName("id", id); err != nil {
		return backend.Document{}, err
	}
	data, err := backend.NormalizeFields(fields)
	if err != nil {
		return backend.Document{}, err
	}

	now := s.now().UTC()
	doc := backend.Document{ID: id, Collection: collection, Data: data, CreatedAt: now, UpdatedAt: now}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := documentExists(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s/%s", backend.ErrConflict, collection, id)
		}

		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("%w: %v", backend.ErrInvalidDocument, err)
		}
		ts := utils.FormatTimestamp(now)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, collection, id, string(raw), ts, ts); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		return appendChange(ctx, tx, backend.OpCreate, doc)
	})
	if err != nil {
		return backend.Document{}, err
	}
	return doc, nil
}

func (s *Store) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	if err := s.ready(); err != nil {
		return backend.Document{}, err
	}
	patch, err := backend.NormalizeFields(fields)
	if err != nil {
		return backend.Document{}, err
	}

	var doc backend.Document
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var data, createdAt, updatedAt string
		err := tx.QueryRowContext(ctx, `
			SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?
		`, collection, id).Scan(&data, &createdAt, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", backend.ErrNotFound, collection, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}

		doc, err = decodeDocument(collection, id, data, createdAt, updatedAt)
		if err != nil {
			return err
		}
		doc.Data = backend.Merge(doc.Data, patch)
		doc.UpdatedAt = s.now().UTC()

		raw, err := json.Marshal(doc.Data)
		if err != nil {
			return fmt.Errorf("%w: %v", backend.ErrInvalidDocument, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?
		`, string(raw), utils.FormatTimestamp(doc.UpdatedAt), collection, id); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		return appendChange(ctx, tx, backend.OpUpdate, doc)
	})
	if err != nil {
		return backend.Document{}, err
	}
	return doc, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var data, createdAt, updatedAt string
		err := tx.QueryRowContext(ctx, `
			SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?
		`, collection, id).Scan(&data, &createdAt, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", backend.ErrNotFound, collection, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		doc, err := decodeDocument(collection, id, data, createdAt, updatedAt)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return appendChange(ctx, tx, backend.OpDelete, doc)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopPoll, s.pollDone
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	s.hub.Close()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func documentExists(ctx context.Context, tx *sql.Tx, collection, id string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, "SELECT count(*) FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return count > 0, nil
}

func decodeDocument(collection, id, data, createdAt, updatedAt string) (backend.Document, error) {
	doc := backend.Document{ID: id, Collection: collection, Data: map[string]any{}}
	if err := json.Unmarshal([]byte(data), &doc.Data); err != nil {
		return backend.Document{}, fmt.Errorf("%w: %s/%s: %v", backend.ErrInvalidDocument, collection, id, err)
	}

	var err error
	doc.CreatedAt, err = utils.ParseTimestamp(createdAt)
	if err != nil {
		return backend.Document{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	doc.UpdatedAt, err = utils.ParseTimestamp(updatedAt)
	if err != nil {
		return backend.Document{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return doc, nil
}

// compileFilters turns filters into a WHERE suffix. The json_type guard keeps
// SQLite's cross-type ordering from matching a string field against a number.
func compileFilters(filters []backend.Filter) (string, []any, error) {
	if err := backend.ValidateFilters(filters); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var args []any
	for _, f := range filters {
		path := "$." + f.Field

		switch f.Kind() {
		case backend.KindString:
			b.WriteString(" AND json_type(data, ?) = 'text'")
			args = append(args, path)
		case backend.KindBool:
			b.WriteString(" AND json_type(data, ?) IN ('true', 'false')")
			args = append(args, path)
		default:
			b.WriteString(" AND json_type(data, ?) IN ('integer', 'real')")
			args = append(args, path)
		}

		op := "="
		if f.Op == backend.OpGreaterOrEqual {
			op = ">="
		}
		b.WriteString(" AND json_extract(data, ?) " + op + " ?")

		value := f.Value
		switch f.Kind() {
		case backend.KindNumber:
			value = f.Number()
		case backend.KindBool:
			if f.Value.(bool) {
				value = 1
			} else {
				value = 0
			}
		}
		args = append(args, path, value)
	}
	return b.String(), args, nil
}
