// Package postgres stores documents as JSONB rows. The change feed rides on
// LISTEN/NOTIFY: a trigger publishes every row change on constants.PostgresNotifyChannel.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pq "github.com/lib/pq"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/migration"
	"github.com/julianstephens/habitsync/migrations"
)

type Store struct {
	connStr string
	db      *sql.DB
	hub     *backend.Hub
	now     func() time.Time

	mu       sync.Mutex
	listener *pq.Listener
	stop     chan struct{}
	done     chan struct{}
	closed   bool
}

var (
	ErrInvalidConnectionString = errors.New("invalid PostgreSQL connection string")
	ErrEmbeddedCredentials     = errors.New("connection string must not contain a password")
)

func New(connStr string) *Store {
	s := &Store{
		connStr: connStr,
		hub:     backend.NewHub(),
		now:     time.Now,
	}
	s.ensureSearchPath()
	return s
}

func (s *Store) ensureSearchPath() {
	// Ensure search_path is set to habitsync in the connection string
	if strings.HasPrefix(s.connStr, "postgres://") || strings.HasPrefix(s.connStr, "postgresql://") {
		u, err := url.Parse(s.connStr)
		if err != nil {
			logger.Warn("Failed to parse Postgres connection string", "error", err)
			return
		}
		q := u.Query()
		if q.Get("search_path") == "" {
			q.Set("search_path", constants.AppName)
			u.RawQuery = q.Encode()
			s.connStr = u.String()
		}
	} else if !hasSearchPathParam(s.connStr) {
		s.connStr = strings.TrimSpace(s.connStr) + " search_path=" + constants.AppName
	}
}

// hasSearchPathParam returns true if the given DSN-style connection string
// contains a search_path parameter key (case-insensitive).
func hasSearchPathParam(connStr string) bool {
	return hasDSNKey(connStr, "search_path")
}

// hasSSLMode checks if the connection string contains an sslmode parameter key (case-insensitive).
// It supports both URL-style and DSN-style connection strings.
func hasSSLMode(connStr string) bool {
	if u, err := url.Parse(connStr); err == nil && u.Scheme != "" {
		for key := range u.Query() {
			if strings.EqualFold(key, "sslmode") {
				return true
			}
		}
	}
	return hasDSNKey(connStr, "sslmode")
}

func hasDSNKey(connStr, key string) bool {
	for _, part := range strings.Fields(connStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], key) {
			return true
		}
	}
	return false
}

// ValidateConnString checks if a connection string is a valid
// PostgreSQL connection string (URI or DSN) and ensures it does not
// contain a password. Passwords belong in the keyring or PGPASSFILE.
func ValidateConnString(connStr string) (bool, error) {
	if strings.TrimSpace(connStr) == "" {
		return false, fmt.Errorf("%w: connection string cannot be empty", ErrInvalidConnectionString)
	}

	if _, err := pq.NewConnector(connStr); err != nil {
		return false, fmt.Errorf("%w: invalid connection string format: %v", ErrInvalidConnectionString, err)
	}

	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		parsedURL, err := url.Parse(connStr)
		if err != nil {
			return false, fmt.Errorf("%w: failed to parse connection URL: %v", ErrInvalidConnectionString, err)
		}
		if _, isSet := parsedURL.User.Password(); isSet {
			return false, ErrEmbeddedCredentials
		}
		if parsedURL.Host == "" && parsedURL.User == nil && (parsedURL.Path == "" || parsedURL.Path == "/") {
			return false, fmt.Errorf("%w: connection URL is incomplete", ErrInvalidConnectionString)
		}
	} else {
		for _, pair := range strings.Fields(connStr) {
			parts := strings.SplitN(pair, "=", 2)
			if len(parts) == 2 && strings.ToLower(strings.TrimSpace(parts[0])) == "password" {
				return false, ErrEmbeddedCredentials
			}
		}
	}

	return true, nil
}

// Init creates the habitsync schema and applies pending migrations.
func (s *Store) Init(ctx context.Context) error {
	db, err := s.openDB()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+constants.AppName); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.db = db

	if err := s.ping(ctx); err != nil {
		return err
	}

	runner, err := s.runner()
	if err != nil {
		return err
	}
	if _, err := runner.Apply(ctx, func(msg string) { logger.Info(msg) }); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Load connects to an initialized database and checks its schema version.
func (s *Store) Load(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := s.openDB()
	if err != nil {
		return err
	}
	s.db = db

	if err := s.ping(ctx); err != nil {
		return err
	}

	runner, err := s.runner()
	if err != nil {
		return err
	}
	return runner.Validate(ctx)
}

func (s *Store) openDB() (*sql.DB, error) {
	db, err := sql.Open("postgres", s.connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool parameters to avoid connection exhaustion
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func (s *Store) ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		if strings.Contains(err.Error(), "SSL is not enabled on the server") && !hasSSLMode(s.connStr) {
			return fmt.Errorf("failed to connect to database: %w (hint: try adding ?sslmode=disable to your connection string)", err)
		}
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func (s *Store) runner() (*migration.Runner, error) {
	subFS, err := fs.Sub(migrations.FS, "postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to access postgres migrations: %w", err)
	}
	return migration.NewRunner(s.db, subFS, migration.DialectPostgres), nil
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
	// Return a non-sensitive identifier instead of the full connection string
	return "postgresql"
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
	where, args, err := compileFilters(filters, 2)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1" + where
	rows, err := s.db.QueryContext(ctx, query, append([]any{collection}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []backend.Document
	for rows.Next() {
		doc := backend.Document{Collection: collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := decodeData(&doc, data); err != nil {
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
	raw, err := json.Marshal(data)
	if err != nil {
		return backend.Document{}, fmt.Errorf("%w: %v", backend.ErrInvalidDocument, err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $4)
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, id, string(raw), now)
	if err != nil {
		return backend.Document{}, fmt.Errorf("failed to insert document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return backend.Document{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return backend.Document{}, fmt.Errorf("%w: %s/%s", backend.ErrConflict, collection, id)
	}

	return backend.Document{ID: id, Collection: collection, Data: data, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (backend.Document, error) {
	if err := s.ready(); err != nil {
		return backend.Document{}, err
	}
	patch, err := backend.NormalizeFields(fields)
	if err != nil {
		return backend.Document{}, err
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return backend.Document{}, fmt.Errorf("%w: %v", backend.ErrInvalidDocument, err)
	}

	doc := backend.Document{ID: id, Collection: collection}
	var data []byte
	err = s.db.QueryRowContext(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = $4
		WHERE collection = $1 AND id = $2
		RETURNING data, created_at, updated_at
	`, collection, id, string(raw), s.now().UTC()).Scan(&data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Document{}, fmt.Errorf("%w: %s/%s", backend.ErrNotFound, collection, id)
	}
	if err != nil {
		return backend.Document{}, fmt.Errorf("failed to update document: %w", err)
	}
	if err := decodeData(&doc, data); err != nil {
		return backend.Document{}, err
	}
	return doc, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", backend.ErrNotFound, collection, id)
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
	listener, stop, done := s.listener, s.stop, s.done
	s.mu.Unlock()

	if listener != nil {
		close(stop)
		<-done
		_ = listener.Close()
	}
	s.hub.Close()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func decodeData(doc *backend.Document, raw []byte) error {
	doc.Data = map[string]any{}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", backend.ErrInvalidDocument, doc.Collection, doc.ID, err)
	}
	return nil
}

// compileFilters turns filters into a WHERE suffix with placeholders starting at
// $next. The CASE guards keep casts away from values of another JSON type.
func compileFilters(filters []backend.Filter, next int) (string, []any, error) {
	if err := backend.ValidateFilters(filters); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var args []any
	ph := func(v any) string {
		args = append(args, v)
		p := "$" + strconv.Itoa(next)
		next++
		return p
	}

	for _, f := range filters {
		key := ph(f.Field)
		op := "="
		if f.Op == backend.OpGreaterOrEqual {
			op = ">="
		}

		switch f.Kind() {
		case backend.KindString:
			fmt.Fprintf(&b, ` AND jsonb_typeof(data -> %[1]s::text) = 'string' AND (data ->> %[1]s::text) COLLATE "C" %[2]s %[3]s::text`,
				key, op, ph(f.Value))
		case backend.KindBool:
			fmt.Fprintf(&b, " AND data -> %s::text = to_jsonb(%s::boolean)", key, ph(f.Value))
		default:
			fmt.Fprintf(&b, " AND CASE WHEN jsonb_typeof(data -> %[1]s::text) = 'number' THEN (data ->> %[1]s::text)::numeric %[2]s %[3]s::numeric ELSE false END",
				key, op, ph(f.Number()))
		}
	}
	return b.String(), args, nil
}

// GetDB returns the underlying connection, nil before Init or Load.
func (s *Store) GetDB() *sql.DB {
	return s.db
}
