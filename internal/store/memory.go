package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/semfora/pmsync/internal/types"
)

const memoryColumns = `memory_type, key, content, importance, confidence,
	access_count, last_accessed, created_at, updated_at`

// UpsertMemory inserts or updates a memory record keyed by (type, key).
// Updating resets the content but keeps the access counter.
func (s *Store) UpsertMemory(ctx context.Context, rec *types.MemoryRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid memory record: %w", err)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastAccessed.IsZero() {
		rec.LastAccessed = now
	}
	rec.UpdatedAt = now

	query := `
	INSERT INTO memory_records (` + memoryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(memory_type, key) DO UPDATE SET
		content = excluded.content,
		importance = excluded.importance,
		confidence = excluded.confidence,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.MemoryType, rec.Key, rec.Content, rec.Importance, rec.Confidence,
		rec.AccessCount,
		rec.LastAccessed.UTC().Format(time.RFC3339Nano),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert memory %s/%s: %w", rec.MemoryType, rec.Key, err)
	}
	return nil
}

// RecallMemory reads a record and bumps its access count and last-accessed
// timestamp in the same transaction. Recall is a write: it feeds the decay
// score, which is why a plain read is not offered for single records.
func (s *Store) RecallMemory(ctx context.Context, memoryType, key string) (*types.MemoryRecord, error) {
	var rec *types.MemoryRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + memoryColumns + ` FROM memory_records WHERE memory_type = ? AND key = ?`
		var err error
		rec, err = scanMemory(tx.QueryRowContext(ctx, query, memoryType, key))
		if err == sql.ErrNoRows {
			return fmt.Errorf("memory %s/%s: %w", memoryType, key, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get memory %s/%s: %w", memoryType, key, err)
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE memory_records
			SET access_count = access_count + 1, last_accessed = ?
			WHERE memory_type = ? AND key = ?`,
			now.Format(time.RFC3339Nano), memoryType, key)
		if err != nil {
			return fmt.Errorf("failed to touch memory %s/%s: %w", memoryType, key, err)
		}
		rec.AccessCount++
		rec.LastAccessed = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListMemories returns all records, optionally filtered by type, ordered by
// type then key for deterministic output. Listing does not count as access.
func (s *Store) ListMemories(ctx context.Context, memoryType string) ([]*types.MemoryRecord, error) {
	query := `SELECT ` + memoryColumns + ` FROM memory_records`
	var args []any
	if memoryType != "" {
		query += " WHERE memory_type = ?"
		args = append(args, memoryType)
	}
	query += " ORDER BY memory_type, key"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var records []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}
	return records, nil
}

// DeleteMemories removes the given records in one transaction. Used by the
// decay scheduler so a prune run is all-or-nothing.
func (s *Store) DeleteMemories(ctx context.Context, refs []types.MemoryRecord) (int, error) {
	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ref := range refs {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM memory_records WHERE memory_type = ? AND key = ?",
				ref.MemoryType, ref.Key)
			if err != nil {
				return fmt.Errorf("failed to delete memory %s/%s: %w", ref.MemoryType, ref.Key, err)
			}
			n, _ := res.RowsAffected()
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func scanMemory(row scanner) (*types.MemoryRecord, error) {
	var rec types.MemoryRecord
	var lastAccessed, createdAt, updatedAt string

	err := row.Scan(&rec.MemoryType, &rec.Key, &rec.Content,
		&rec.Importance, &rec.Confidence, &rec.AccessCount,
		&lastAccessed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if rec.LastAccessed, err = time.Parse(time.RFC3339Nano, lastAccessed); err != nil {
		return nil, fmt.Errorf("failed to parse last_accessed: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &rec, nil
}
