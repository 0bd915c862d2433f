package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

// Snapshot is a graph analysis result.
type Snapshot struct {
	Items  []*types.Item          `json:"items"`
	Edges  []types.DependencyEdge `json:"edges"`
	Cycles [][]types.ItemRef      `json:"cycles,omitempty"`

	// Orphans are items with no incident edge in the returned set.
	Orphans []types.ItemRef `json:"orphans,omitempty"`

	// Dangling are edge endpoints with no backing item row.
	Dangling []types.ItemRef `json:"dangling,omitempty"`
}

// BuildGraph loads and analyzes the dependency graph. With a nil root the
// whole project is returned; with a root, only items reachable from it
// (following edges in either direction) within maxDepth hops, where
// maxDepth <= 0 or > MaxDepth clamps to MaxDepth.
//
// Analysis covers cycle detection over gating edges, items with no edges at
// all (orphans), and edge endpoints whose item row is gone (dangling).
// Cycles are returned in canonical form (rotated so the smallest ref comes
// first) so each loop is reported exactly once regardless of where the walk
// entered it.
func (e *Engine) BuildGraph(ctx context.Context, root *types.ItemRef, maxDepth int) (*Snapshot, error) {
	items, err := e.store.ListItems(ctx, store.ItemFilter{})
	if err != nil {
		return nil, err
	}
	edges, err := e.store.ListEdges(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.Ref().Key()] = true
	}

	include := reachable(items, edges, known, root, maxDepth)

	snap := &Snapshot{}
	for _, item := range items {
		if include[item.Ref().Key()] {
			snap.Items = append(snap.Items, item)
		}
	}

	// Adjacency for cycle detection spans gating relations only. related_to
	// edges are symmetric by construction and would report every pair as a
	// loop.
	adj := make(map[string][]types.ItemRef)
	degree := make(map[string]int)
	danglingSeen := make(map[string]bool)
	for _, edge := range edges {
		srcIn, dstIn := include[edge.Source.Key()], include[edge.Target.Key()]
		if !srcIn && !dstIn {
			continue
		}
		// An endpoint that is neither included nor known is a dangling ref;
		// one that is known but outside the root scope cuts the edge.
		if (!srcIn && known[edge.Source.Key()]) || (!dstIn && known[edge.Target.Key()]) {
			continue
		}
		snap.Edges = append(snap.Edges, edge)
		degree[edge.Source.Key()]++
		degree[edge.Target.Key()]++
		for _, ref := range []types.ItemRef{edge.Source, edge.Target} {
			if !known[ref.Key()] && !danglingSeen[ref.Key()] {
				danglingSeen[ref.Key()] = true
				snap.Dangling = append(snap.Dangling, ref)
			}
		}
		if edge.Relation.Gating() && srcIn && dstIn {
			adj[edge.Source.Key()] = append(adj[edge.Source.Key()], edge.Target)
		}
	}

	for _, item := range snap.Items {
		if degree[item.Ref().Key()] == 0 {
			snap.Orphans = append(snap.Orphans, item.Ref())
		}
	}
	sort.Slice(snap.Orphans, func(i, j int) bool {
		return snap.Orphans[i].Key() < snap.Orphans[j].Key()
	})
	sort.Slice(snap.Dangling, func(i, j int) bool {
		return snap.Dangling[i].Key() < snap.Dangling[j].Key()
	})

	snap.Cycles = findCycles(adj)
	if len(snap.Cycles) > 0 {
		e.logger.Printf("graph analysis found %d cycle(s)", len(snap.Cycles))
	}
	return snap, nil
}

// reachable selects the item keys in scope: everything when root is nil,
// otherwise a breadth-first neighborhood of root over edges of any relation,
// in either direction, bounded by maxDepth.
func reachable(items []*types.Item, edges []types.DependencyEdge, known map[string]bool, root *types.ItemRef, maxDepth int) map[string]bool {
	include := make(map[string]bool, len(items))
	if root == nil {
		for _, item := range items {
			include[item.Ref().Key()] = true
		}
		return include
	}

	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}
	neighbors := make(map[string][]types.ItemRef)
	for _, edge := range edges {
		neighbors[edge.Source.Key()] = append(neighbors[edge.Source.Key()], edge.Target)
		neighbors[edge.Target.Key()] = append(neighbors[edge.Target.Key()], edge.Source)
	}

	type queued struct {
		ref   types.ItemRef
		depth int
	}
	include[root.Key()] = true
	queue := []queued{{ref: *root, depth: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, n := range neighbors[cur.ref.Key()] {
			if include[n.Key()] || !known[n.Key()] {
				continue
			}
			include[n.Key()] = true
			queue = append(queue, queued{ref: n, depth: cur.depth + 1})
		}
	}
	return include
}

// findCycles runs a DFS with an explicit recursion stack. An edge back into
// the stack closes a cycle; the stack slice between the re-entry point and
// the top is the loop.
func findCycles(adj map[string][]types.ItemRef) [][]types.ItemRef {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)

	color := make(map[string]int)
	var stack []types.ItemRef
	stackPos := make(map[string]int)

	seen := make(map[string]bool)
	var cycles [][]types.ItemRef

	var visit func(ref types.ItemRef)
	visit = func(ref types.ItemRef) {
		color[ref.Key()] = gray
		stackPos[ref.Key()] = len(stack)
		stack = append(stack, ref)

		for _, next := range adj[ref.Key()] {
			switch color[next.Key()] {
			case white:
				visit(next)
			case gray:
				cycle := canonicalCycle(stack[stackPos[next.Key()]:])
				key := cycleKey(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(stackPos, ref.Key())
		color[ref.Key()] = black
	}

	roots := make([]string, 0, len(adj))
	for key := range adj {
		roots = append(roots, key)
	}
	sort.Strings(roots)
	for _, key := range roots {
		if color[key] == white {
			visit(refFromKey(key))
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return cycleKey(cycles[i]) < cycleKey(cycles[j])
	})
	return cycles
}

// canonicalCycle rotates the loop so the smallest ref leads.
func canonicalCycle(loop []types.ItemRef) []types.ItemRef {
	out := make([]types.ItemRef, len(loop))
	copy(out, loop)
	min := 0
	for i := range out {
		if out[i].Key() < out[min].Key() {
			min = i
		}
	}
	return append(out[min:], out[:min]...)
}

func cycleKey(cycle []types.ItemRef) string {
	keys := make([]string, len(cycle))
	for i, ref := range cycle {
		keys[i] = ref.Key()
	}
	return strings.Join(keys, "->")
}

func refFromKey(key string) types.ItemRef {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return types.ItemRef{ID: key}
	}
	return types.ItemRef{Kind: types.ItemKind(kind), ID: id}
}
