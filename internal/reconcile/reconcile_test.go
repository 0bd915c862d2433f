package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/semfora/pmsync/internal/provider"
	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.InitSchema(context.Background()))
	return st
}

func staticProvider(t *testing.T, items ...provider.Record) provider.Provider {
	t.Helper()
	prov, err := provider.New(provider.Config{Kind: provider.KindStatic, Items: items}, nil)
	require.NoError(t, err)
	return prov
}

func record(id, title string, updatedAt time.Time) provider.Record {
	return provider.Record{
		ID:        id,
		Title:     title,
		StateName: "Todo",
		StateType: "unstarted",
		Priority:  3, // Linear "medium"
		CreatedAt: updatedAt.Add(-time.Hour),
		UpdatedAt: updatedAt,
	}
}

func TestPullIsIdempotent(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t,
		record("SEM-1", "Fix login", base),
		record("SEM-2", "Add billing", base),
	)
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	result, err := rec.Pull(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 2, result.Created)
	require.Equal(t, 0, result.Updated)

	// Pulling identical remote state again reports no changes.
	result, err = rec.Pull(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 0, result.Created)
	require.Equal(t, 0, result.Updated)
	require.Equal(t, 0, result.Deleted)
}

func TestPullNormalizesProviderFields(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, provider.Record{
		ID: "SEM-9", Title: "Urgent fire", StateName: "In Progress",
		StateType: "started", Priority: 1, UpdatedAt: base,
	})
	rec := New(st, prov, nil, DefaultConfig(), nil)

	_, err := rec.Pull(context.Background(), true)
	require.NoError(t, err)

	item, err := st.GetItemByProviderID(context.Background(), "SEM-9")
	require.NoError(t, err)
	require.Equal(t, types.StatusInProgress, item.StatusCategory)
	require.Equal(t, 4, item.Priority) // Linear urgent inverts to the top of the local scale
	require.NotNil(t, item.CachedAt)
}

func TestFullPullSoftDeletesAbsentItems(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	both := staticProvider(t, record("SEM-1", "Keep", base), record("SEM-2", "Delete me", base))
	_, err := New(st, both, nil, DefaultConfig(), nil).Pull(ctx, true)
	require.NoError(t, err)

	edge := types.DependencyEdge{
		Source:   types.ItemRef{Kind: types.KindExternal, ID: "SEM-2"},
		Target:   types.ItemRef{Kind: types.KindExternal, ID: "SEM-1"},
		Relation: types.RelationBlocks,
	}
	require.NoError(t, st.CreateEdge(ctx, edge, false))

	one := staticProvider(t, record("SEM-1", "Keep", base))
	result, err := New(st, one, nil, DefaultConfig(), nil).Pull(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)

	// The absent item is canceled, not removed, and its edges survive.
	item, err := st.GetItemByProviderID(ctx, "SEM-2")
	require.NoError(t, err)
	require.Equal(t, types.StatusCanceled, item.StatusCategory)

	edges, err := st.ListEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	// Another full resync reports nothing new.
	result, err = New(st, one, nil, DefaultConfig(), nil).Pull(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 0, result.Deleted)
}

func TestQueueChangeAppliesLocallyAndStatusSurvivesPull(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, record("SEM-1", "Fix login", base))
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := rec.Pull(ctx, true)
	require.NoError(t, err)

	change, err := rec.QueueChange(ctx, "SEM-1", "status", map[string]any{"status": "done"})
	require.NoError(t, err)
	require.Equal(t, types.ChangePending, change.Status)

	// Local cache reflects the edit immediately.
	item, err := st.GetItemByProviderID(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "done", item.Status)
	require.Equal(t, types.StatusDone, item.StatusCategory)

	// Remote edits the title; a pull must bring the title in but keep the
	// locally queued status until the push lands.
	_, err = prov.ApplyPatch(ctx, "SEM-1", provider.Patch{Fields: map[string]any{"title": "Renamed remotely"}})
	require.NoError(t, err)

	_, err = rec.Pull(ctx, true)
	require.NoError(t, err)

	item, err = st.GetItemByProviderID(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "Renamed remotely", item.Title)
	require.Equal(t, "done", item.Status)
}

func TestPullNeverTouchesNotes(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, record("SEM-1", "Fix login", base))
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := rec.Pull(ctx, true)
	require.NoError(t, err)

	item, err := st.GetItemByProviderID(ctx, "SEM-1")
	require.NoError(t, err)
	item.Notes = "repro needs the staging db"
	_, _, err = st.UpsertItem(ctx, item, false)
	require.NoError(t, err)

	_, err = prov.ApplyPatch(ctx, "SEM-1", provider.Patch{Fields: map[string]any{"title": "Moved"}})
	require.NoError(t, err)
	_, err = rec.Pull(ctx, true)
	require.NoError(t, err)

	item, err = st.GetItemByProviderID(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "repro needs the staging db", item.Notes)
	require.Equal(t, "Moved", item.Title)
}

func TestPushConflictLeavesEverythingIntact(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, record("SEM-1", "Original", base))
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := rec.Pull(ctx, true)
	require.NoError(t, err)

	change, err := rec.QueueChange(ctx, "SEM-1", "fields", map[string]any{"title": "Local rename"})
	require.NoError(t, err)

	// Someone else wins the race on the provider side.
	_, err = prov.ApplyPatch(ctx, "SEM-1", provider.Patch{Fields: map[string]any{"title": "Remote rename"}})
	require.NoError(t, err)

	result, err := rec.Push(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Conflicts)
	require.Equal(t, 0, result.Pushed)

	// The change stays pending with the conflict marker; the cache keeps
	// the local value until the conflict is resolved.
	got, err := st.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.True(t, got.Conflict)
	require.Equal(t, types.ChangePending, got.Status)

	item, err := st.GetItemByProviderID(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "Local rename", item.Title)

	// Conflicted changes are skipped by subsequent pushes.
	result, err = rec.Push(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 0, result.Conflicts)
	require.Equal(t, 0, result.Pushed)
}

func TestResolveConflictKeepRemote(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, record("SEM-1", "Original", base))
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := rec.Pull(ctx, true)
	require.NoError(t, err)
	change, err := rec.QueueChange(ctx, "SEM-1", "fields", map[string]any{"title": "Local rename"})
	require.NoError(t, err)
	_, err = prov.ApplyPatch(ctx, "SEM-1", provider.Patch{Fields: map[string]any{"title": "Remote rename"}})
	require.NoError(t, err)
	_, err = rec.Push(ctx, true)
	require.NoError(t, err)

	require.NoError(t, rec.ResolveConflict(ctx, change.ID, KeepRemote))

	got, err := st.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.Equal(t, types.ChangeCanceled, got.Status)
	require.False(t, got.Conflict)

	item, err := st.GetItemByProviderID(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "Remote rename", item.Title)
}

func TestResolveConflictKeepLocal(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, record("SEM-1", "Original", base))
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := rec.Pull(ctx, true)
	require.NoError(t, err)
	change, err := rec.QueueChange(ctx, "SEM-1", "fields", map[string]any{"title": "Local rename"})
	require.NoError(t, err)
	_, err = prov.ApplyPatch(ctx, "SEM-1", provider.Patch{Fields: map[string]any{"title": "Remote rename"}})
	require.NoError(t, err)
	_, err = rec.Push(ctx, true)
	require.NoError(t, err)

	require.NoError(t, rec.ResolveConflict(ctx, change.ID, KeepLocal))

	got, err := st.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.Equal(t, types.ChangeSynced, got.Status)

	remote, err := prov.FetchItem(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "Local rename", remote.Title)
}

func TestResolveConflictMerge(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, record("SEM-1", "Original", base))
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := rec.Pull(ctx, true)
	require.NoError(t, err)
	change, err := rec.QueueChange(ctx, "SEM-1", "fields", map[string]any{"description": "needs a rate limit"})
	require.NoError(t, err)
	_, err = prov.ApplyPatch(ctx, "SEM-1", provider.Patch{Fields: map[string]any{"title": "Remote rename"}})
	require.NoError(t, err)
	_, err = rec.Push(ctx, true)
	require.NoError(t, err)

	require.NoError(t, rec.ResolveConflict(ctx, change.ID, Merge))

	got, err := st.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.Equal(t, types.ChangeSynced, got.Status)
	require.False(t, got.Conflict)

	// The cache carries both sides: the remote title that won the race and
	// the locally queued description.
	item, err := st.GetItemByProviderID(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "Remote rename", item.Title)
	require.Equal(t, "needs a rate limit", item.Description)

	remote, err := prov.FetchItem(ctx, "SEM-1")
	require.NoError(t, err)
	require.Equal(t, "Remote rename", remote.Title)
	require.Equal(t, "needs a rate limit", remote.Description)
}

// failingProvider always rejects patches with a retryable server error.
type failingProvider struct {
	provider.Provider
	calls int
}

func (f *failingProvider) Name() string { return "failing" }

func (f *failingProvider) ApplyPatch(ctx context.Context, providerID string, patch provider.Patch) (*provider.Record, error) {
	f.calls++
	return nil, &provider.RequestError{Op: "update issue", StatusCode: 503,
		Err: context.DeadlineExceeded}
}

func TestPushRetryCeiling(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	good := staticProvider(t, record("SEM-1", "Fix login", base))
	ctx := context.Background()

	_, err := New(st, good, nil, DefaultConfig(), nil).Pull(ctx, true)
	require.NoError(t, err)

	failing := &failingProvider{Provider: good}
	rec := New(st, failing, nil, DefaultConfig(), nil)

	change, err := rec.QueueChange(ctx, "SEM-1", "fields", map[string]any{"title": "x"})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := rec.Push(ctx, true)
		require.NoError(t, err)
		got, err := st.GetChange(ctx, change.ID)
		require.NoError(t, err)
		require.Equal(t, i, got.Attempts)
	}

	got, err := st.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.Equal(t, types.ChangeFailed, got.Status)
	require.NotEmpty(t, got.LastError)

	// A sixth push must not retry a permanently failed change.
	_, err = rec.Push(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 5, failing.calls)
}

func TestPushDebounceAndBackoff(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	prov := staticProvider(t, record("SEM-1", "Fix login", base))
	rec := New(st, prov, nil, DefaultConfig(), nil)
	ctx := context.Background()

	clock := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return clock }

	_, err := rec.Pull(ctx, true)
	require.NoError(t, err)
	_, err = rec.QueueChange(ctx, "SEM-1", "fields", map[string]any{"title": "x"})
	require.NoError(t, err)

	// Freshly queued: inside the debounce window.
	result, err := rec.Push(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 0, result.Pushed)

	clock = clock.Add(6 * time.Second)
	result, err = rec.Push(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pushed)
	require.Equal(t, 0, result.Skipped)
}
