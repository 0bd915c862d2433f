package decay

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

func testManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "decay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.InitSchema(context.Background()))
	return New(st, nil, Config{}, nil), st
}

func addRecord(t *testing.T, st *store.Store, key string, importance, accessCount int, lastAccessed time.Time) {
	t.Helper()
	rec := &types.MemoryRecord{
		MemoryType:   "discovery",
		Key:          key,
		Content:      "content for " + key,
		Importance:   importance,
		Confidence:   1,
		AccessCount:  accessCount,
		LastAccessed: lastAccessed,
	}
	require.NoError(t, st.UpsertMemory(context.Background(), rec))
}

func TestScore(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		rec  types.MemoryRecord
		want float64
	}{
		{
			name: "ten days importance 2 one access",
			rec: types.MemoryRecord{Importance: 2, AccessCount: 1,
				LastAccessed: now.Add(-10 * 24 * time.Hour)},
			want: 40, // 10 * (6-2) / 1
		},
		{
			name: "frequent access slows decay",
			rec: types.MemoryRecord{Importance: 2, AccessCount: 8,
				LastAccessed: now.Add(-10 * 24 * time.Hour)},
			want: 5, // 10 * 4 / 8
		},
		{
			name: "zero accesses counts as one",
			rec: types.MemoryRecord{Importance: 1, AccessCount: 0,
				LastAccessed: now.Add(-2 * 24 * time.Hour)},
			want: 10, // 2 * 5 / 1
		},
		{
			name: "pinned scores zero regardless of age",
			rec: types.MemoryRecord{Importance: 5, AccessCount: 0,
				LastAccessed: now.Add(-365 * 24 * time.Hour)},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(&tt.rec, now)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestRunPrunesAboveThreshold(t *testing.T) {
	mgr, st := testManager(t)
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	addRecord(t, st, "stale", 1, 1, now.Add(-30*24*time.Hour))    // 30*5/1 = 150
	addRecord(t, st, "fresh", 1, 1, now.Add(-24*time.Hour))       // 1*5/1 = 5
	addRecord(t, st, "beloved", 2, 50, now.Add(-60*24*time.Hour)) // 60*4/50 = 4.8

	result, err := mgr.Run(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 3, result.Scanned)
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "stale", result.Candidates[0].Record.Key)
	require.Equal(t, 1, result.Pruned)

	remaining, err := st.ListMemories(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestRunThresholdIsExclusive(t *testing.T) {
	mgr, st := testManager(t)
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	// Scoring exactly the threshold keeps the record; one day more tips it.
	addRecord(t, st, "on-the-line", 1, 1, now.Add(-6*24*time.Hour)) // 6*5/1 = 30
	addRecord(t, st, "just-over", 1, 1, now.Add(-7*24*time.Hour))   // 7*5/1 = 35

	result, err := mgr.Run(ctx, false)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "just-over", result.Candidates[0].Record.Key)

	remaining, err := st.ListMemories(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "on-the-line", remaining[0].Key)
}

func TestRunNeverPrunesPinned(t *testing.T) {
	mgr, st := testManager(t)
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }

	// A decade untouched, still pinned.
	addRecord(t, st, "pinned", 5, 0, now.Add(-3650*24*time.Hour))

	result, err := mgr.Run(context.Background(), false)
	require.NoError(t, err)
	require.Empty(t, result.Candidates)
	require.Equal(t, 0, result.Pruned)
}

func TestRunDryRunDeletesNothing(t *testing.T) {
	mgr, st := testManager(t)
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	addRecord(t, st, "stale-a", 1, 1, now.Add(-30*24*time.Hour))
	addRecord(t, st, "stale-b", 1, 1, now.Add(-40*24*time.Hour))

	result, err := mgr.Run(ctx, true)
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Len(t, result.Candidates, 2)
	require.Equal(t, 0, result.Pruned)

	remaining, err := st.ListMemories(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestRunIsDeterministic(t *testing.T) {
	mgr, st := testManager(t)
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"zeta", "alpha", "mid"} {
		addRecord(t, st, key, 1, 1, now.Add(-30*24*time.Hour))
	}

	first, err := mgr.Run(ctx, true)
	require.NoError(t, err)
	second, err := mgr.Run(ctx, true)
	require.NoError(t, err)

	require.Equal(t, len(first.Candidates), len(second.Candidates))
	for i := range first.Candidates {
		require.Equal(t, first.Candidates[i].Record.Key, second.Candidates[i].Record.Key)
		require.Equal(t, first.Candidates[i].Score, second.Candidates[i].Score)
	}
	// Candidates come back in key order.
	require.Equal(t, "alpha", first.Candidates[0].Record.Key)
	require.Equal(t, "zeta", first.Candidates[2].Record.Key)
}
