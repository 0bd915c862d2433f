package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/semfora/pmsync/internal/types"
)

const itemColumns = `id, kind, provider_id, anchor_id, item_type, title, description,
	status, status_category, priority, assignee, assignee_name, labels,
	epic_id, epic_name, sprint_id, sprint_name, url, notes,
	created_at, updated_at, created_at_provider, updated_at_provider, cached_at`

// UpsertItem inserts or updates an item keyed by (kind, id). It returns
// whether a new row was created and whether any stored field actually
// changed, so that a repeated pull of identical remote state reports zero
// updates.
//
// The notes column is local-exclusive: when preserveNotes is true the
// existing value is kept regardless of what the incoming item carries.
func (s *Store) UpsertItem(ctx context.Context, item *types.Item, preserveNotes bool) (created, changed bool, err error) {
	if err := item.Validate(); err != nil {
		return false, false, fmt.Errorf("invalid item: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, getErr := getItemTx(ctx, tx, item.Kind, item.ID)
		if getErr != nil && !IsNotFound(getErr) {
			return getErr
		}

		if existing != nil {
			if preserveNotes {
				item.Notes = existing.Notes
			}
			if item.CreatedAt.IsZero() {
				item.CreatedAt = existing.CreatedAt
			}
			if !itemEqual(existing, item) {
				changed = true
			}
		} else {
			created = true
			changed = true
		}

		labels, mErr := marshalJSON(item.Labels)
		if mErr != nil {
			return mErr
		}

		query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			provider_id = excluded.provider_id,
			anchor_id = excluded.anchor_id,
			item_type = excluded.item_type,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			status_category = excluded.status_category,
			priority = excluded.priority,
			assignee = excluded.assignee,
			assignee_name = excluded.assignee_name,
			labels = excluded.labels,
			epic_id = excluded.epic_id,
			epic_name = excluded.epic_name,
			sprint_id = excluded.sprint_id,
			sprint_name = excluded.sprint_name,
			url = excluded.url,
			notes = excluded.notes,
			updated_at = excluded.updated_at,
			created_at_provider = excluded.created_at_provider,
			updated_at_provider = excluded.updated_at_provider,
			cached_at = excluded.cached_at
		`
		_, execErr := tx.ExecContext(ctx, query,
			item.ID, string(item.Kind),
			nullable(item.ProviderID), nullable(item.AnchorID),
			item.ItemType, item.Title, nullable(item.Description),
			item.Status, string(item.StatusCategory), item.Priority,
			nullable(item.Assignee), nullable(item.AssigneeName), labels,
			nullable(item.EpicID), nullable(item.EpicName),
			nullable(item.SprintID), nullable(item.SprintName),
			nullable(item.URL), nullable(item.Notes),
			item.CreatedAt.UTC().Format(time.RFC3339Nano),
			item.UpdatedAt.UTC().Format(time.RFC3339Nano),
			timeToNullString(item.CreatedAtProvider),
			timeToNullString(item.UpdatedAtProvider),
			timeToNullString(item.CachedAt),
		)
		if execErr != nil {
			return fmt.Errorf("failed to upsert item %s: %w", item.ID, execErr)
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return created, changed, nil
}

// GetItem retrieves one item by kind and id.
func (s *Store) GetItem(ctx context.Context, kind types.ItemKind, id string) (*types.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE kind = ? AND id = ?`
	row := s.conn.QueryRowContext(ctx, query, string(kind), id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s:%s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// GetItemByProviderID retrieves an external item by its provider identifier.
func (s *Store) GetItemByProviderID(ctx context.Context, providerID string) (*types.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE provider_id = ?`
	row := s.conn.QueryRowContext(ctx, query, providerID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s: %w", providerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", providerID, err)
	}
	return item, nil
}

// ItemFilter narrows ListItems results. Zero values mean "no constraint".
type ItemFilter struct {
	Kind       types.ItemKind
	Status     string
	Category   types.StatusCategory
	Assignee   string
	EpicID     string
	SprintID   string
	Unresolved bool // only items whose category is todo or in_progress
	Limit      int
}

// ListItems returns items matching the filter, ordered by priority
// descending then creation time ascending.
func (s *Store) ListItems(ctx context.Context, filter ItemFilter) ([]*types.Item, error) {
	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		conditions = append(conditions, "status_category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Assignee != "" {
		conditions = append(conditions, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.EpicID != "" {
		conditions = append(conditions, "epic_id = ?")
		args = append(args, filter.EpicID)
	}
	if filter.SprintID != "" {
		conditions = append(conditions, "sprint_id = ?")
		args = append(args, filter.SprintID)
	}
	if filter.Unresolved {
		conditions = append(conditions, "status_category IN ('todo', 'in_progress')")
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY priority DESC, created_at ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// DeleteItem removes an item and every edge touching it in one transaction.
func (s *Store) DeleteItem(ctx context.Context, kind types.ItemKind, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM items WHERE kind = ? AND id = ?", string(kind), id)
		if err != nil {
			return fmt.Errorf("failed to delete item %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("item %s:%s: %w", kind, id, ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM edges
			WHERE (source_kind = ? AND source_id = ?)
			   OR (target_kind = ? AND target_id = ?)`,
			string(kind), id, string(kind), id)
		if err != nil {
			return fmt.Errorf("failed to delete edges for %s: %w", id, err)
		}
		return nil
	})
}

// MarkExternalAbsent soft-deletes external items whose provider id is not in
// the seen set: their status category flips to canceled while the row and
// every edge touching it stay behind for audit. Called after a full resync so
// items deleted remotely stop gating anything. Items already canceled are
// left alone, keeping repeated full resyncs quiet. Returns the provider ids
// that were marked.
func (s *Store) MarkExternalAbsent(ctx context.Context, seen map[string]bool) ([]string, error) {
	var marked []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, provider_id FROM items
			WHERE kind = ? AND provider_id IS NOT NULL AND status_category != ?`,
			string(types.KindExternal), string(types.StatusCanceled))
		if err != nil {
			return fmt.Errorf("failed to list external items: %w", err)
		}
		type victim struct{ id, providerID string }
		var victims []victim
		for rows.Next() {
			var v victim
			if err := rows.Scan(&v.id, &v.providerID); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan item: %w", err)
			}
			if !seen[v.providerID] {
				victims = append(victims, v)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, v := range victims {
			if _, err := tx.ExecContext(ctx, `
				UPDATE items SET status = ?, status_category = ?, updated_at = ?
				WHERE kind = ? AND id = ?`,
				string(types.StatusCanceled), string(types.StatusCanceled), now,
				string(types.KindExternal), v.id); err != nil {
				return fmt.Errorf("failed to mark item %s: %w", v.providerID, err)
			}
			marked = append(marked, v.providerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanItem.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*types.Item, error) {
	var item types.Item
	var kind, category, createdAt, updatedAt string
	var providerID, anchorID, description, assignee, assigneeName sql.NullString
	var labels, epicID, epicName, sprintID, sprintName, url, notes sql.NullString
	var createdAtProvider, updatedAtProvider, cachedAt sql.NullString

	err := row.Scan(
		&item.ID, &kind, &providerID, &anchorID, &item.ItemType,
		&item.Title, &description, &item.Status, &category,
		&item.Priority, &assignee, &assigneeName, &labels,
		&epicID, &epicName, &sprintID, &sprintName, &url, &notes,
		&createdAt, &updatedAt, &createdAtProvider, &updatedAtProvider, &cachedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Kind = types.ItemKind(kind)
	item.StatusCategory = types.StatusCategory(category)
	item.ProviderID = providerID.String
	item.AnchorID = anchorID.String
	item.Description = description.String
	item.Assignee = assignee.String
	item.AssigneeName = assigneeName.String
	item.EpicID = epicID.String
	item.EpicName = epicName.String
	item.SprintID = sprintID.String
	item.SprintName = sprintName.String
	item.URL = url.String
	item.Notes = notes.String

	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &item.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels for %s: %w", item.ID, err)
		}
	}
	if item.Labels == nil {
		item.Labels = []string{}
	}

	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for %s: %w", item.ID, err)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for %s: %w", item.ID, err)
	}
	item.CreatedAtProvider = nullStringToTime(createdAtProvider)
	item.UpdatedAtProvider = nullStringToTime(updatedAtProvider)
	item.CachedAt = nullStringToTime(cachedAt)

	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*types.Item, error) {
	var items []*types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func getItemTx(ctx context.Context, tx *sql.Tx, kind types.ItemKind, id string) (*types.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE kind = ? AND id = ?`
	item, err := scanItem(tx.QueryRowContext(ctx, query, string(kind), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s:%s: %w", kind, id, ErrNotFound)
	}
	return item, err
}

// itemEqual compares the stored fields of two items, ignoring cached_at and
// updated_at which move on every write.
func itemEqual(a, b *types.Item) bool {
	if a.ProviderID != b.ProviderID || a.AnchorID != b.AnchorID ||
		a.ItemType != b.ItemType || a.Title != b.Title ||
		a.Description != b.Description || a.Status != b.Status ||
		a.StatusCategory != b.StatusCategory || a.Priority != b.Priority ||
		a.Assignee != b.Assignee || a.AssigneeName != b.AssigneeName ||
		a.EpicID != b.EpicID || a.EpicName != b.EpicName ||
		a.SprintID != b.SprintID || a.SprintName != b.SprintName ||
		a.URL != b.URL || a.Notes != b.Notes {
		return false
	}
	if len(a.Labels) != len(b.Labels) {
		return false
	}
	for i := range a.Labels {
		if a.Labels[i] != b.Labels[i] {
			return false
		}
	}
	if !timePtrEqual(a.CreatedAtProvider, b.CreatedAtProvider) {
		return false
	}
	if !timePtrEqual(a.UpdatedAtProvider, b.UpdatedAtProvider) {
		return false
	}
	return true
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
