// Package graph implements the dependency graph engine: edge management,
// bounded transitive traversal, readiness computation, and full-graph
// analysis with cycle detection.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

// MaxDepth bounds transitive traversal. Chains deeper than this are cut off
// rather than followed, keeping pathological graphs cheap to query.
const MaxDepth = 10

// Sentinel errors for edge operations.
var (
	// ErrInvalidEdge indicates the edge failed validation (bad refs,
	// self-loop, unknown relation).
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrDuplicateEdge indicates the (source, target, relation) tuple
	// already exists.
	ErrDuplicateEdge = store.ErrDuplicateEdge
)

// Engine answers dependency queries over one project store.
type Engine struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a graph engine. A nil logger discards output.
func New(st *store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{store: st, logger: logger}
}

// AddEdge validates and stores an edge. Both endpoints must exist. When
// bidirectional is set, the inverse edge is written in the same transaction;
// a pre-existing inverse keeps its own notes and strength.
func (e *Engine) AddEdge(ctx context.Context, edge types.DependencyEdge, bidirectional bool) error {
	if err := edge.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEdge, err)
	}
	for _, ref := range []types.ItemRef{edge.Source, edge.Target} {
		if _, err := e.store.GetItem(ctx, ref.Kind, ref.ID); err != nil {
			if store.IsNotFound(err) {
				return fmt.Errorf("%w: endpoint %s does not exist", ErrInvalidEdge, ref)
			}
			return err
		}
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	if err := e.store.CreateEdge(ctx, edge, bidirectional); err != nil {
		return err
	}
	e.logger.Printf("added edge %s -[%s]-> %s", edge.Source, edge.Relation, edge.Target)
	return nil
}

// RemoveEdge deletes an edge (and its inverse when bidirectional) and
// returns how many edges were removed. An empty relation removes every
// relation between the pair. Removing a missing edge returns 0, nil:
// removal is idempotent.
func (e *Engine) RemoveEdge(ctx context.Context, source, target types.ItemRef, relation types.Relation, bidirectional bool) (int, error) {
	removed, err := e.store.DeleteEdge(ctx, source, target, relation, bidirectional)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.Printf("removed %d edge(s) %s -[%s]-> %s", removed, source, relation, target)
	}
	return removed, nil
}

// Blocker is one entry in a transitive blocker or dependent listing.
type Blocker struct {
	Item     *types.Item `json:"item"`
	Depth    int         `json:"depth"` // 1 = direct
	Resolved bool        `json:"resolved"`
}

// Blockers returns the items transitively blocking ref, breadth first,
// nearest first. By default resolved items neither block nor pass the
// traversal through; with includeResolved they are reported with the
// resolved flag set and recursed through. maxDepth <= 0 or > MaxDepth
// clamps to MaxDepth.
func (e *Engine) Blockers(ctx context.Context, ref types.ItemRef, maxDepth int, includeResolved bool) ([]Blocker, error) {
	return e.traverse(ctx, ref, maxDepth, includeResolved, e.blockingNeighbors)
}

// Dependents returns the items transitively blocked by ref, breadth first,
// nearest first.
func (e *Engine) Dependents(ctx context.Context, ref types.ItemRef, maxDepth int, includeResolved bool) ([]Blocker, error) {
	return e.traverse(ctx, ref, maxDepth, includeResolved, e.dependentNeighbors)
}

type neighborFn func(ctx context.Context, ref types.ItemRef) ([]types.ItemRef, error)

// blockingNeighbors returns the refs that gate ref: sources of incoming
// blocks edges, plus children under outgoing parent_of edges (a parent is
// not workable until its children resolve).
func (e *Engine) blockingNeighbors(ctx context.Context, ref types.ItemRef) ([]types.ItemRef, error) {
	var refs []types.ItemRef
	incoming, err := e.store.EdgesInto(ctx, ref, types.RelationBlocks)
	if err != nil {
		return nil, err
	}
	for _, edge := range incoming {
		refs = append(refs, edge.Source)
	}
	children, err := e.store.EdgesFrom(ctx, ref, types.RelationParentOf)
	if err != nil {
		return nil, err
	}
	for _, edge := range children {
		refs = append(refs, edge.Target)
	}
	return refs, nil
}

// dependentNeighbors is the mirror of blockingNeighbors: targets of outgoing
// blocks edges, plus parents under incoming parent_of edges.
func (e *Engine) dependentNeighbors(ctx context.Context, ref types.ItemRef) ([]types.ItemRef, error) {
	var refs []types.ItemRef
	outgoing, err := e.store.EdgesFrom(ctx, ref, types.RelationBlocks)
	if err != nil {
		return nil, err
	}
	for _, edge := range outgoing {
		refs = append(refs, edge.Target)
	}
	parents, err := e.store.EdgesInto(ctx, ref, types.RelationParentOf)
	if err != nil {
		return nil, err
	}
	for _, edge := range parents {
		refs = append(refs, edge.Source)
	}
	return refs, nil
}

// traverse walks the graph breadth first from ref up to maxDepth. The
// visited set is keyed by "kind:id" so cycles terminate. Resolved items are
// skipped entirely unless includeResolved is set.
func (e *Engine) traverse(ctx context.Context, ref types.ItemRef, maxDepth int, includeResolved bool, neighbors neighborFn) ([]Blocker, error) {
	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}

	type queued struct {
		ref   types.ItemRef
		depth int
	}

	visited := map[string]bool{ref.Key(): true}
	queue := []queued{{ref: ref, depth: 0}}
	var result []Blocker

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		next, err := neighbors(ctx, cur.ref)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			if visited[n.Key()] {
				continue
			}
			visited[n.Key()] = true

			item, err := e.store.GetItem(ctx, n.Kind, n.ID)
			if err != nil {
				if store.IsNotFound(err) {
					// Dangling edge endpoint, reported by BuildGraph.
					continue
				}
				return nil, err
			}
			resolved := item.Resolved()
			if resolved && !includeResolved {
				continue
			}
			result = append(result, Blocker{Item: item, Depth: cur.depth + 1, Resolved: resolved})
			queue = append(queue, queued{ref: n, depth: cur.depth + 1})
		}
	}
	return result, nil
}

// ReadyWork returns unresolved items with no unresolved direct gate,
// ordered by priority descending, then creation time ascending, with
// external items before local ones on full ties.
func (e *Engine) ReadyWork(ctx context.Context, limit int) ([]*types.Item, error) {
	items, err := e.store.ListItems(ctx, store.ItemFilter{Unresolved: true})
	if err != nil {
		return nil, err
	}

	var ready []*types.Item
	for _, item := range items {
		gated, err := e.gated(ctx, item.Ref())
		if err != nil {
			return nil, err
		}
		if !gated {
			ready = append(ready, item)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Kind == types.KindExternal && b.Kind == types.KindLocal
	})

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

// gated reports whether ref has at least one unresolved direct gate.
func (e *Engine) gated(ctx context.Context, ref types.ItemRef) (bool, error) {
	gates, err := e.blockingNeighbors(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, g := range gates {
		item, err := e.store.GetItem(ctx, g.Kind, g.ID)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return false, err
		}
		if !item.Resolved() {
			return true, nil
		}
	}
	return false, nil
}
