package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/semfora/pmsync/internal/types"
)

const changeColumns = `id, provider_id, change_type, payload, base_updated_at,
	attempts, last_error, conflict, status, created_at, updated_at`

// AppendChange enqueues an outbound mutation.
func (s *Store) AppendChange(ctx context.Context, change *types.PendingChange) error {
	if err := change.Validate(); err != nil {
		return fmt.Errorf("invalid change: %w", err)
	}
	payload, err := marshalJSON(change.Payload)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO pending_changes (` + changeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		change.ID, change.ProviderID, change.ChangeType, payload,
		timeToNullString(change.BaseUpdatedAt),
		change.Attempts, nullable(change.LastError), boolToInt(change.Conflict),
		string(change.Status),
		change.CreatedAt.UTC().Format(time.RFC3339Nano),
		change.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append change %s: %w", change.ID, err)
	}
	return nil
}

// GetChange retrieves one change by id.
func (s *Store) GetChange(ctx context.Context, id string) (*types.PendingChange, error) {
	query := `SELECT ` + changeColumns + ` FROM pending_changes WHERE id = ?`
	change, err := scanChange(s.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("change %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change %s: %w", id, err)
	}
	return change, nil
}

// ListChanges returns changes in the given status, oldest first. Pass an
// empty status to list all.
func (s *Store) ListChanges(ctx context.Context, status types.ChangeStatus) ([]*types.PendingChange, error) {
	query := `SELECT ` + changeColumns + ` FROM pending_changes`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var changes []*types.PendingChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changes: %w", err)
	}
	return changes, nil
}

// ListPushable returns pending, non-conflicted changes, oldest first. The
// push path applies debounce and retry backoff on top of this set.
func (s *Store) ListPushable(ctx context.Context) ([]*types.PendingChange, error) {
	query := `
	SELECT ` + changeColumns + ` FROM pending_changes
	WHERE status = ? AND conflict = 0
	ORDER BY created_at ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, string(types.ChangePending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pushable changes: %w", err)
	}
	defer rows.Close()

	var changes []*types.PendingChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changes: %w", err)
	}
	return changes, nil
}

// UpdateChange persists the mutable fields of a change: attempts, last
// error, conflict marker, status, payload, base timestamp.
func (s *Store) UpdateChange(ctx context.Context, change *types.PendingChange) error {
	payload, err := marshalJSON(change.Payload)
	if err != nil {
		return err
	}
	change.UpdatedAt = time.Now().UTC()
	query := `
	UPDATE pending_changes
	SET payload = ?, base_updated_at = ?, attempts = ?, last_error = ?,
	    conflict = ?, status = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		payload, timeToNullString(change.BaseUpdatedAt),
		change.Attempts, nullable(change.LastError),
		boolToInt(change.Conflict), string(change.Status),
		change.UpdatedAt.Format(time.RFC3339Nano), change.ID)
	if err != nil {
		return fmt.Errorf("failed to update change %s: %w", change.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("change %s: %w", change.ID, ErrNotFound)
	}
	return nil
}

// HasPendingStatusChange reports whether a pending change touching the
// item's status exists. The pull path consults this before overwriting the
// cached status, so a queued local transition is not clobbered by remote
// state that has not absorbed it yet.
func (s *Store) HasPendingStatusChange(ctx context.Context, providerID string) (bool, error) {
	changes, err := s.listPendingForItem(ctx, providerID)
	if err != nil {
		return false, err
	}
	for _, c := range changes {
		if c.TouchesStatus() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) listPendingForItem(ctx context.Context, providerID string) ([]*types.PendingChange, error) {
	query := `
	SELECT ` + changeColumns + ` FROM pending_changes
	WHERE provider_id = ? AND status = ?
	ORDER BY created_at ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, providerID, string(types.ChangePending))
	if err != nil {
		return nil, fmt.Errorf("failed to list changes for %s: %w", providerID, err)
	}
	defer rows.Close()

	var changes []*types.PendingChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

func scanChange(row scanner) (*types.PendingChange, error) {
	var change types.PendingChange
	var payload, status, createdAt, updatedAt string
	var baseUpdatedAt, lastError sql.NullString
	var conflict int

	err := row.Scan(&change.ID, &change.ProviderID, &change.ChangeType,
		&payload, &baseUpdatedAt, &change.Attempts, &lastError,
		&conflict, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &change.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", change.ID, err)
	}
	change.BaseUpdatedAt = nullStringToTime(baseUpdatedAt)
	change.LastError = lastError.String
	change.Conflict = conflict != 0
	change.Status = types.ChangeStatus(status)
	if change.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for %s: %w", change.ID, err)
	}
	if change.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for %s: %w", change.ID, err)
	}
	return &change, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
