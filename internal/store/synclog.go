package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/semfora/pmsync/internal/types"
)

// AppendSyncLog records the outcome of one reconciliation run. Entries are
// write-once.
func (s *Store) AppendSyncLog(ctx context.Context, entry *types.SyncLogEntry) error {
	errorsJSON, err := marshalJSON(entry.Errors)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO sync_log (direction, status, items_created, items_updated,
		items_deleted, items_failed, errors, started_at, finished_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.conn.ExecContext(ctx, query,
		string(entry.Direction), string(entry.Status),
		entry.ItemsCreated, entry.ItemsUpdated, entry.ItemsDeleted, entry.ItemsFailed,
		errorsJSON,
		entry.StartedAt.UTC().Format(time.RFC3339Nano),
		entry.FinishedAt.UTC().Format(time.RFC3339Nano),
		entry.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

// ListSyncLog returns the most recent entries, newest first.
func (s *Store) ListSyncLog(ctx context.Context, limit int) ([]*types.SyncLogEntry, error) {
	query := `
	SELECT id, direction, status, items_created, items_updated, items_deleted,
	       items_failed, errors, started_at, finished_at, duration_ms
	FROM sync_log ORDER BY id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer rows.Close()

	var entries []*types.SyncLogEntry
	for rows.Next() {
		var entry types.SyncLogEntry
		var direction, status, startedAt, finishedAt string
		var errorsJSON sql.NullString
		var durationMs int64

		err := rows.Scan(&entry.ID, &direction, &status,
			&entry.ItemsCreated, &entry.ItemsUpdated, &entry.ItemsDeleted,
			&entry.ItemsFailed, &errorsJSON, &startedAt, &finishedAt, &durationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		entry.Direction = types.SyncDirection(direction)
		entry.Status = types.SyncStatus(status)
		if errorsJSON.Valid && errorsJSON.String != "" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &entry.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sync log errors: %w", err)
			}
		}
		if entry.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if entry.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync log: %w", err)
	}
	return entries, nil
}
