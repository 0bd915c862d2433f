package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/semfora/pmsync/internal/types"
)

const edgeColumns = `source_kind, source_id, target_kind, target_id, relation, strength, notes, created_at`

// CreateEdge inserts an edge, and optionally its inverse, in one
// transaction. Returns ErrDuplicateEdge if the primary edge already exists.
// A pre-existing inverse is left untouched so its notes and strength survive.
func (s *Store) CreateEdge(ctx context.Context, edge types.DependencyEdge, bidirectional bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := edgeExistsTx(ctx, tx, edge)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("edge %s -[%s]-> %s: %w",
				edge.Source, edge.Relation, edge.Target, ErrDuplicateEdge)
		}
		if err := insertEdgeTx(ctx, tx, edge); err != nil {
			return err
		}
		if bidirectional {
			inv := edge.Inverse()
			invExists, err := edgeExistsTx(ctx, tx, inv)
			if err != nil {
				return err
			}
			if !invExists {
				if err := insertEdgeTx(ctx, tx, inv); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DeleteEdge removes the matching edge and, when bidirectional, its inverse.
// An empty relation matches every relation between the pair. Returns the
// number of edges removed; deleting a missing edge is not an error.
func (s *Store) DeleteEdge(ctx context.Context, source, target types.ItemRef, relation types.Relation, bidirectional bool) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := deleteEdgeTx(ctx, tx, source, target, relation)
		if err != nil {
			return err
		}
		removed += n
		if bidirectional {
			n, err = deleteEdgeTx(ctx, tx, target, source, relation)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// EdgesFrom returns all edges whose source is ref. Pass an empty relation to
// match every relation type.
func (s *Store) EdgesFrom(ctx context.Context, ref types.ItemRef, relation types.Relation) ([]types.DependencyEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE source_kind = ? AND source_id = ?`
	args := []any{string(ref.Kind), ref.ID}
	if relation != "" {
		query += " AND relation = ?"
		args = append(args, string(relation))
	}
	query += " ORDER BY created_at ASC"
	return s.queryEdges(ctx, query, args...)
}

// EdgesInto returns all edges whose target is ref. Pass an empty relation to
// match every relation type.
func (s *Store) EdgesInto(ctx context.Context, ref types.ItemRef, relation types.Relation) ([]types.DependencyEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE target_kind = ? AND target_id = ?`
	args := []any{string(ref.Kind), ref.ID}
	if relation != "" {
		query += " AND relation = ?"
		args = append(args, string(relation))
	}
	query += " ORDER BY created_at ASC"
	return s.queryEdges(ctx, query, args...)
}

// ListEdges returns every edge in the store.
func (s *Store) ListEdges(ctx context.Context) ([]types.DependencyEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges ORDER BY source_kind, source_id, created_at`
	return s.queryEdges(ctx, query)
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]types.DependencyEdge, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []types.DependencyEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate edges: %w", err)
	}
	return edges, nil
}

func edgeExistsTx(ctx context.Context, tx *sql.Tx, edge types.DependencyEdge) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM edges
		WHERE source_kind = ? AND source_id = ?
		  AND target_kind = ? AND target_id = ?
		  AND relation = ?`,
		string(edge.Source.Kind), edge.Source.ID,
		string(edge.Target.Kind), edge.Target.ID,
		string(edge.Relation)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check edge existence: %w", err)
	}
	return true, nil
}

func insertEdgeTx(ctx context.Context, tx *sql.Tx, edge types.DependencyEdge) error {
	createdAt := edge.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(edge.Source.Kind), edge.Source.ID,
		string(edge.Target.Kind), edge.Target.ID,
		string(edge.Relation), nullable(string(edge.Strength)),
		nullable(edge.Notes), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert edge %s -> %s: %w", edge.Source, edge.Target, err)
	}
	return nil
}

func deleteEdgeTx(ctx context.Context, tx *sql.Tx, source, target types.ItemRef, relation types.Relation) (int, error) {
	query := `
		DELETE FROM edges
		WHERE source_kind = ? AND source_id = ?
		  AND target_kind = ? AND target_id = ?`
	args := []any{string(source.Kind), source.ID, string(target.Kind), target.ID}
	if relation != "" {
		query += " AND relation = ?"
		args = append(args, string(relation))
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete edge %s -> %s: %w", source, target, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanEdge(rows *sql.Rows) (types.DependencyEdge, error) {
	var edge types.DependencyEdge
	var sourceKind, targetKind, relation, createdAt string
	var strength, notes sql.NullString

	err := rows.Scan(&sourceKind, &edge.Source.ID, &targetKind, &edge.Target.ID,
		&relation, &strength, &notes, &createdAt)
	if err != nil {
		return edge, err
	}
	edge.Source.Kind = types.ItemKind(sourceKind)
	edge.Target.Kind = types.ItemKind(targetKind)
	edge.Relation = types.Relation(relation)
	edge.Strength = types.Strength(strength.String)
	edge.Notes = notes.String
	if edge.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return edge, fmt.Errorf("failed to parse edge created_at: %w", err)
	}
	return edge, nil
}
