package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

func testEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return New(st, nil), st
}

func addItem(t *testing.T, st *store.Store, id string, priority int, category types.StatusCategory) types.ItemRef {
	t.Helper()
	item := &types.Item{
		ID:             id,
		Kind:           types.KindExternal,
		ProviderID:     id,
		Title:          "Item " + id,
		Status:         string(category),
		StatusCategory: category,
		Priority:       priority,
	}
	item.SetDefaults()
	if _, _, err := st.UpsertItem(context.Background(), item, false); err != nil {
		t.Fatalf("failed to add item %s: %v", id, err)
	}
	return item.Ref()
}

func addLocalItem(t *testing.T, st *store.Store, id string, priority int, createdAt time.Time) types.ItemRef {
	t.Helper()
	item := &types.Item{
		ID:        id,
		Kind:      types.KindLocal,
		Title:     "Local " + id,
		Priority:  priority,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	item.SetDefaults()
	if _, _, err := st.UpsertItem(context.Background(), item, false); err != nil {
		t.Fatalf("failed to add local item %s: %v", id, err)
	}
	return item.Ref()
}

func block(t *testing.T, eng *Engine, blocker, blocked types.ItemRef) {
	t.Helper()
	edge := types.DependencyEdge{Source: blocker, Target: blocked, Relation: types.RelationBlocks}
	if err := eng.AddEdge(context.Background(), edge, false); err != nil {
		t.Fatalf("failed to add edge %s -> %s: %v", blocker, blocked, err)
	}
}

func TestAddEdgeRejectsMissingEndpoint(t *testing.T) {
	eng, st := testEngine(t)
	a := addItem(t, st, "X", 2, types.StatusTodo)

	edge := types.DependencyEdge{
		Source:   a,
		Target:   types.ItemRef{Kind: types.KindExternal, ID: "ghost"},
		Relation: types.RelationBlocks,
	}
	err := eng.AddEdge(context.Background(), edge, false)
	if !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("err = %v, want ErrInvalidEdge", err)
	}
}

func TestBlockersChain(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	// X blocks Y blocks Z.
	x := addItem(t, st, "X", 2, types.StatusTodo)
	y := addItem(t, st, "Y", 2, types.StatusTodo)
	z := addItem(t, st, "Z", 2, types.StatusTodo)
	block(t, eng, x, y)
	block(t, eng, y, z)

	blockers, err := eng.Blockers(ctx, z, 0, false)
	if err != nil {
		t.Fatalf("Blockers() failed: %v", err)
	}
	if len(blockers) != 2 {
		t.Fatalf("got %d blockers, want 2: %+v", len(blockers), blockers)
	}
	if blockers[0].Item.ID != "Y" || blockers[0].Depth != 1 {
		t.Errorf("nearest blocker = %s depth %d, want Y depth 1", blockers[0].Item.ID, blockers[0].Depth)
	}
	if blockers[1].Item.ID != "X" || blockers[1].Depth != 2 {
		t.Errorf("transitive blocker = %s depth %d, want X depth 2", blockers[1].Item.ID, blockers[1].Depth)
	}

	// Depth 1 sees only the direct blocker.
	direct, err := eng.Blockers(ctx, z, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(direct) != 1 || direct[0].Item.ID != "Y" {
		t.Errorf("depth-1 blockers = %+v, want just Y", direct)
	}

	// Dependents mirror the chain.
	deps, err := eng.Dependents(ctx, x, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0].Item.ID != "Y" || deps[1].Item.ID != "Z" {
		t.Errorf("dependents of X = %+v, want Y then Z", deps)
	}
}

func TestBlockersSkipResolved(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	x := addItem(t, st, "X", 2, types.StatusTodo)
	y := addItem(t, st, "Y", 2, types.StatusDone)
	z := addItem(t, st, "Z", 2, types.StatusTodo)
	block(t, eng, x, y)
	block(t, eng, y, z)

	// Y is done: it neither blocks Z nor lets X's block reach through.
	blockers, err := eng.Blockers(ctx, z, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(blockers) != 0 {
		t.Errorf("blockers = %+v, want none through a resolved item", blockers)
	}
}

func TestBlockersIncludeResolved(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	x := addItem(t, st, "X", 2, types.StatusTodo)
	y := addItem(t, st, "Y", 2, types.StatusDone)
	z := addItem(t, st, "Z", 2, types.StatusTodo)
	block(t, eng, x, y)
	block(t, eng, y, z)

	// With the flag set, done items are reported and traversed through, so
	// X is visible behind the resolved Y.
	blockers, err := eng.Blockers(ctx, z, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(blockers) != 2 {
		t.Fatalf("got %d blockers, want 2: %+v", len(blockers), blockers)
	}
	if blockers[0].Item.ID != "Y" || !blockers[0].Resolved {
		t.Errorf("blockers[0] = %s resolved=%v, want Y resolved", blockers[0].Item.ID, blockers[0].Resolved)
	}
	if blockers[1].Item.ID != "X" || blockers[1].Resolved || blockers[1].Depth != 2 {
		t.Errorf("blockers[1] = %+v, want unresolved X at depth 2", blockers[1])
	}
}

func TestBlockersCycleTerminates(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	a := addItem(t, st, "a", 2, types.StatusTodo)
	b := addItem(t, st, "b", 2, types.StatusTodo)
	c := addItem(t, st, "c", 2, types.StatusTodo)
	block(t, eng, a, b)
	block(t, eng, b, c)
	block(t, eng, c, a)

	blockers, err := eng.Blockers(ctx, a, 0, false)
	if err != nil {
		t.Fatalf("Blockers() on a cycle failed: %v", err)
	}
	// c directly, b through c. a itself never reappears.
	if len(blockers) != 2 {
		t.Errorf("got %d blockers, want 2: %+v", len(blockers), blockers)
	}
	for _, blk := range blockers {
		if blk.Item.ID == "a" {
			t.Error("traversal reported the start item as its own blocker")
		}
	}
}

func TestReadyWork(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	blocked := addItem(t, st, "BLOCKED", 4, types.StatusTodo)
	blocker := addItem(t, st, "BLOCKER", 1, types.StatusTodo)
	addItem(t, st, "DONE", 4, types.StatusDone)
	addItem(t, st, "FREE", 3, types.StatusTodo)
	addLocalItem(t, st, "local-1", 3, base)

	block(t, eng, blocker, blocked)

	ready, err := eng.ReadyWork(ctx, 0)
	if err != nil {
		t.Fatalf("ReadyWork() failed: %v", err)
	}

	ids := make([]string, len(ready))
	for i, item := range ready {
		ids[i] = item.ID
	}
	for _, id := range ids {
		if id == "BLOCKED" {
			t.Error("blocked item reported ready")
		}
		if id == "DONE" {
			t.Error("resolved item reported ready")
		}
	}
	// FREE (P3) and local-1 (P3) outrank BLOCKER (P1); FREE vs local-1
	// ordering falls to creation time.
	if len(ids) != 3 {
		t.Fatalf("ready = %v, want 3 items", ids)
	}
	if ids[2] != "BLOCKER" {
		t.Errorf("lowest priority item not last: %v", ids)
	}
	if ids[0] != "local-1" {
		t.Errorf("oldest high-priority item not first: %v", ids)
	}
}

func TestReadyWorkParentGatedByChildren(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	parent := addItem(t, st, "EPIC", 3, types.StatusTodo)
	child := addItem(t, st, "CHILD", 2, types.StatusTodo)
	edge := types.DependencyEdge{Source: parent, Target: child, Relation: types.RelationParentOf}
	if err := eng.AddEdge(ctx, edge, false); err != nil {
		t.Fatal(err)
	}

	ready, err := eng.ReadyWork(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, item := range ready {
		if item.ID == "EPIC" {
			t.Error("parent with unresolved child reported ready")
		}
	}
}

func TestBuildGraphFindsOneCycle(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	a := addItem(t, st, "a", 2, types.StatusTodo)
	b := addItem(t, st, "b", 2, types.StatusTodo)
	c := addItem(t, st, "c", 2, types.StatusTodo)
	block(t, eng, a, b)
	block(t, eng, b, c)
	block(t, eng, c, a)

	snap, err := eng.BuildGraph(ctx, nil, 0)
	if err != nil {
		t.Fatalf("BuildGraph() failed: %v", err)
	}
	if len(snap.Cycles) != 1 {
		t.Fatalf("got %d cycles, want exactly 1: %v", len(snap.Cycles), snap.Cycles)
	}
	if len(snap.Cycles[0]) != 3 {
		t.Errorf("cycle length = %d, want 3", len(snap.Cycles[0]))
	}
	if snap.Cycles[0][0].ID != "a" {
		t.Errorf("cycle not canonicalized, starts at %s", snap.Cycles[0][0].ID)
	}
}

func TestBuildGraphReportsOrphans(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	a := addItem(t, st, "a", 2, types.StatusTodo)
	b := addItem(t, st, "b", 2, types.StatusTodo)
	loner := addItem(t, st, "loner", 2, types.StatusTodo)
	block(t, eng, a, b)

	snap, err := eng.BuildGraph(ctx, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Orphans are items without a single edge, not the connected pair.
	if len(snap.Orphans) != 1 || snap.Orphans[0] != loner {
		t.Errorf("orphans = %v, want [%v]", snap.Orphans, loner)
	}
}

func TestBuildGraphReportsDanglingEndpoints(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	a := addItem(t, st, "a", 2, types.StatusTodo)
	ghost := types.ItemRef{Kind: types.KindExternal, ID: "ghost"}
	// Write the dangling edge directly: AddEdge would reject it.
	edge := types.DependencyEdge{Source: ghost, Target: a, Relation: types.RelationBlocks}
	if err := st.CreateEdge(ctx, edge, false); err != nil {
		t.Fatal(err)
	}

	snap, err := eng.BuildGraph(ctx, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Dangling) != 1 || snap.Dangling[0] != ghost {
		t.Errorf("dangling = %v, want [%v]", snap.Dangling, ghost)
	}
	if len(snap.Orphans) != 0 {
		t.Errorf("orphans = %v, a has an incident edge", snap.Orphans)
	}
}

func TestBuildGraphRootScoped(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	// Chain a -> b -> c -> d plus an unrelated island.
	a := addItem(t, st, "a", 2, types.StatusTodo)
	b := addItem(t, st, "b", 2, types.StatusTodo)
	c := addItem(t, st, "c", 2, types.StatusTodo)
	d := addItem(t, st, "d", 2, types.StatusTodo)
	addItem(t, st, "island", 2, types.StatusTodo)
	block(t, eng, a, b)
	block(t, eng, b, c)
	block(t, eng, c, d)

	// One hop around c reaches b and d in either edge direction, not a.
	snap, err := eng.BuildGraph(ctx, &c, 1)
	if err != nil {
		t.Fatalf("BuildGraph() failed: %v", err)
	}
	got := make(map[string]bool)
	for _, item := range snap.Items {
		got[item.ID] = true
	}
	if len(got) != 3 || !got["b"] || !got["c"] || !got["d"] {
		t.Errorf("root-scoped items = %v, want b, c, d", got)
	}
	if len(snap.Edges) != 2 {
		t.Errorf("got %d edges, want the 2 touching c: %v", len(snap.Edges), snap.Edges)
	}
}

func TestRemoveEdgeIdempotent(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	a := addItem(t, st, "a", 2, types.StatusTodo)
	b := addItem(t, st, "b", 2, types.StatusTodo)
	block(t, eng, a, b)

	n, err := eng.RemoveEdge(ctx, a, b, types.RelationBlocks, false)
	if err != nil || n != 1 {
		t.Fatalf("RemoveEdge() = %d, %v, want 1, nil", n, err)
	}
	n, err = eng.RemoveEdge(ctx, a, b, types.RelationBlocks, false)
	if err != nil || n != 0 {
		t.Errorf("second RemoveEdge() = %d, %v, want 0, nil", n, err)
	}
}

func TestRemoveEdgeAllRelations(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	a := addItem(t, st, "a", 2, types.StatusTodo)
	b := addItem(t, st, "b", 2, types.StatusTodo)
	for _, rel := range []types.Relation{types.RelationBlocks, types.RelationRelatedTo} {
		edge := types.DependencyEdge{Source: a, Target: b, Relation: rel}
		if err := eng.AddEdge(ctx, edge, false); err != nil {
			t.Fatal(err)
		}
	}

	// No relation filter: every relation between the pair goes at once.
	n, err := eng.RemoveEdge(ctx, a, b, "", false)
	if err != nil || n != 2 {
		t.Fatalf("RemoveEdge() = %d, %v, want 2, nil", n, err)
	}
	edges, err := st.ListEdges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 0 {
		t.Errorf("edges survived a relation-less removal: %v", edges)
	}
}
