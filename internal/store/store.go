// Package store provides the per-project SQLite store backing the sync and
// dependency engines.
//
// Each project gets one isolated database file holding items, dependency
// edges, the pending-change queue, memory records, and an append-only sync
// log. The database runs in WAL mode so readers never block behind the
// single writer: mutating operations serialize through the coordination
// layer's per-project gate, while reads always see a consistent snapshot.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection for one project.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the project database at the specified path.
//
// The database is opened in WAL mode with a busy timeout and foreign keys
// enabled. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create store directory: %v", ErrStorageUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: %s failed: %v", ErrStorageUnavailable, pragma, err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
// Idempotent - safe to call on every open.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		provider_id TEXT,
		anchor_id TEXT,
		item_type TEXT NOT NULL DEFAULT 'ticket',
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		status_category TEXT NOT NULL DEFAULT 'todo',
		priority INTEGER NOT NULL DEFAULT 2,
		assignee TEXT,
		assignee_name TEXT,
		labels TEXT,  -- JSON array
		epic_id TEXT,
		epic_name TEXT,
		sprint_id TEXT,
		sprint_name TEXT,
		url TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		created_at_provider TEXT,
		updated_at_provider TEXT,
		cached_at TEXT,
		PRIMARY KEY (kind, id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_provider
	    ON items(provider_id) WHERE provider_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
	CREATE INDEX IF NOT EXISTS idx_items_category ON items(status_category);
	CREATE INDEX IF NOT EXISTS idx_items_assignee ON items(assignee);
	CREATE INDEX IF NOT EXISTS idx_items_epic ON items(epic_id);
	CREATE INDEX IF NOT EXISTS idx_items_sprint ON items(sprint_id);

	CREATE TABLE IF NOT EXISTS edges (
		source_kind TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relation TEXT NOT NULL,
		strength TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (source_kind, source_id, target_kind, target_id, relation)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_kind, target_id, relation);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_kind, source_id, relation);
	CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation);

	CREATE TABLE IF NOT EXISTS pending_changes (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		change_type TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON object
		base_updated_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		conflict INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_changes_status ON pending_changes(status);
	CREATE INDEX IF NOT EXISTS idx_changes_item ON pending_changes(provider_id, status);

	CREATE TABLE IF NOT EXISTS memory_records (
		memory_type TEXT NOT NULL,
		key TEXT NOT NULL,
		content TEXT NOT NULL,
		importance INTEGER NOT NULL DEFAULT 2,
		confidence REAL NOT NULL DEFAULT 1.0,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (memory_type, key)
	);

	CREATE INDEX IF NOT EXISTS idx_memory_importance ON memory_records(importance);

	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		items_created INTEGER NOT NULL DEFAULT 0,
		items_updated INTEGER NOT NULL DEFAULT 0,
		items_deleted INTEGER NOT NULL DEFAULT 0,
		items_failed INTEGER NOT NULL DEFAULT 0,
		errors TEXT,  -- JSON array
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// withTx runs fn inside one transaction, rolling back on any error.
// Every multi-step mutation in this package goes through here.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetMeta stores a key-value pair in the meta table.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns the value for key, or "" if unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

const metaLastSyncedAt = "last_synced_at"

// LastSyncedAt returns the timestamp of the last successful pull, or the
// zero time if the project has never synced.
func (s *Store) LastSyncedAt(ctx context.Context) (time.Time, error) {
	value, err := s.GetMeta(ctx, metaLastSyncedAt)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last_synced_at: %w", err)
	}
	return t, nil
}

// SetLastSyncedAt records the timestamp of a successful pull.
func (s *Store) SetLastSyncedAt(ctx context.Context, t time.Time) error {
	return s.SetMeta(ctx, metaLastSyncedAt, t.UTC().Format(time.RFC3339))
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return string(data), nil
}
