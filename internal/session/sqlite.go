package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/claude-wrapper/internal/api"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Schema for the sessions database.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    key TEXT PRIMARY KEY,
    backend_id TEXT NOT NULL UNIQUE,
    model TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    turns INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`

// NewSQLiteStore opens (or creates) the sessions database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		if dbPath, err = GetDBPath(); err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}
	if err := store.cleanup(); err != nil {
		slog.Warn("session cleanup failed", "error", err)
	}
	return store, nil
}

// schemaVersion is recorded in schema_version so later releases can tell
// which layout a database was created with.
const schemaVersion = 1

// initSchema creates the schema on first open.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil {
		if currentVersion > schemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, schemaVersion)
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("get current version: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("insert initial version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) cleanup() error {
	if s.cfg.MaxAgeDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)
	if _, err := s.db.Exec("DELETE FROM sessions WHERE updated_at < ?", cutoff); err != nil {
		return fmt.Errorf("delete old sessions: %w", err)
	}
	return nil
}

// Resolve returns key's backend id, inserting a new mapping on first use.
func (s *SQLiteStore) Resolve(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, backend_id, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, NewID(), now, now)
	if err != nil {
		return "", fmt.Errorf("upsert session: %w", err)
	}
	var id string
	if err := s.db.QueryRowContext(ctx, "SELECT backend_id FROM sessions WHERE key = ?", key).Scan(&id); err != nil {
		return "", fmt.Errorf("get backend id: %w", err)
	}
	return id, nil
}

// Record adds one turn of usage to key's session.
func (s *SQLiteStore) Record(ctx context.Context, key, model string, usage api.Usage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET model = ?, turns = turns + 1,
		    input_tokens = input_tokens + ?, output_tokens = output_tokens + ?,
		    updated_at = ?
		WHERE key = ?`,
		model, usage.PromptTokens, usage.CompletionTokens, time.Now(), key)
	if err != nil {
		return fmt.Errorf("record session usage: %w", err)
	}
	return nil
}

// Get returns key's session or nil when unknown.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, backend_id, model, created_at, updated_at, turns, input_tokens, output_tokens
		FROM sessions WHERE key = ?`, key)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List returns sessions, most recently used first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, backend_id, model, created_at, updated_at, turns, input_tokens, output_tokens
		FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		results = append(results, *sess)
	}
	return results, rows.Err()
}

// Delete removes key's mapping.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var model sql.NullString
	err := row.Scan(&sess.Key, &sess.BackendID, &model, &sess.CreatedAt, &sess.UpdatedAt,
		&sess.Turns, &sess.InputTokens, &sess.OutputTokens)
	if err != nil {
		return nil, err
	}
	sess.Model = model.String
	return &sess, nil
}
