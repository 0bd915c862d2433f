// Package decay scores memory records by staleness and prunes the ones
// nobody is reading anymore. Importance 5 records are pinned and never
// pruned automatically.
package decay

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/semfora/pmsync/internal/coord"
	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

// DefaultThreshold is the decay score above which a record becomes a prune
// candidate.
const DefaultThreshold = 30.0

// Config tunes the decay manager.
type Config struct {
	// Threshold is the prune cutoff. Zero takes DefaultThreshold.
	Threshold float64

	// Interval is the scheduler's run period. Zero takes 24h.
	Interval time.Duration
}

// Manager scores and prunes one project's memory records.
type Manager struct {
	store  *store.Store
	gate   *coord.Gate
	cfg    Config
	logger *log.Logger

	now func() time.Time
}

// New creates a decay manager. A nil logger discards output.
func New(st *store.Store, gate *coord.Gate, cfg Config, logger *log.Logger) *Manager {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if gate == nil {
		gate = coord.NewGate()
	}
	return &Manager{store: st, gate: gate, cfg: cfg, logger: logger, now: time.Now}
}

// Score computes the decay score for one record at time now:
//
//	days since last access * (6 - importance) / max(access count, 1)
//
// Higher importance and frequent access both slow decay. Pinned records
// always score zero.
func Score(rec *types.MemoryRecord, now time.Time) float64 {
	if rec.Pinned() {
		return 0
	}
	days := now.Sub(rec.LastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	accesses := rec.AccessCount
	if accesses < 1 {
		accesses = 1
	}
	return days * float64(6-rec.Importance) / float64(accesses)
}

// Candidate is one record selected for pruning, with its score.
type Candidate struct {
	Record *types.MemoryRecord `json:"record"`
	Score  float64             `json:"score"`
}

// Result summarizes one decay run.
type Result struct {
	Scanned    int         `json:"scanned"`
	Candidates []Candidate `json:"candidates"`
	Pruned     int         `json:"pruned"`
	DryRun     bool        `json:"dry_run"`
}

// Run scores every record and prunes those strictly above the threshold.
// Candidates come back in (type, key) order so repeated runs over the same
// state report identically. With dryRun set nothing is deleted.
func (m *Manager) Run(ctx context.Context, dryRun bool) (*Result, error) {
	records, err := m.store.ListMemories(ctx, "")
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	result := &Result{Scanned: len(records), DryRun: dryRun}
	for _, rec := range records {
		if rec.Pinned() {
			continue
		}
		score := Score(rec, now)
		if score > m.cfg.Threshold {
			result.Candidates = append(result.Candidates, Candidate{Record: rec, Score: score})
		}
	}

	if dryRun || len(result.Candidates) == 0 {
		return result, nil
	}

	if err := m.gate.Acquire(ctx, "decay-prune"); err != nil {
		return nil, err
	}
	defer m.gate.Release()

	refs := make([]types.MemoryRecord, len(result.Candidates))
	for i, c := range result.Candidates {
		refs[i] = *c.Record
	}
	pruned, err := m.store.DeleteMemories(ctx, refs)
	if err != nil {
		return nil, err
	}
	result.Pruned = pruned
	m.logger.Printf("[decay] pruned %d of %d records (threshold %.1f)",
		pruned, result.Scanned, m.cfg.Threshold)
	return result, nil
}
