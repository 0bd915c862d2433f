// Package coord serializes mutating access to project stores and provides
// the retry backoff used by the push path.
//
// Each project has one write gate. Reconciliation runs, graph mutations and
// decay pruning all acquire the gate before writing; reads go straight to
// the store, which serves a consistent snapshot under WAL.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrGateTimeout indicates the gate could not be acquired within the
// caller's deadline.
var ErrGateTimeout = errors.New("write gate acquisition timed out")

// Gate is a per-project write lock. Waiters are served roughly in arrival
// order via the channel's FIFO wakeup, so a steady stream of syncs cannot
// starve a one-off mutation.
type Gate struct {
	sem chan struct{}

	mu     sync.Mutex
	holder string
	since  time.Time
}

// NewGate returns an unlocked gate.
func NewGate() *Gate {
	return &Gate{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the gate is free or ctx is done. The label names the
// operation for Holder reporting.
func (g *Gate) Acquire(ctx context.Context, label string) error {
	select {
	case g.sem <- struct{}{}:
		g.mu.Lock()
		g.holder = label
		g.since = time.Now()
		g.mu.Unlock()
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: waiting on %q", ErrGateTimeout, g.Holder())
		}
		return ctx.Err()
	}
}

// TryAcquire acquires the gate without blocking. Returns false if held.
func (g *Gate) TryAcquire(label string) bool {
	select {
	case g.sem <- struct{}{}:
		g.mu.Lock()
		g.holder = label
		g.since = time.Now()
		g.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees the gate. Calling Release on an unheld gate panics, which
// surfaces double-release bugs immediately.
func (g *Gate) Release() {
	g.mu.Lock()
	g.holder = ""
	g.since = time.Time{}
	g.mu.Unlock()
	select {
	case <-g.sem:
	default:
		panic("coord: release of unheld gate")
	}
}

// Holder returns the label of the current holder, or "" when free.
func (g *Gate) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// Gates maps project ids to their write gates. Safe for concurrent use.
type Gates struct {
	gates sync.Map // project id -> *Gate
}

// NewGates returns an empty gate set.
func NewGates() *Gates {
	return &Gates{}
}

// For returns the gate for a project, creating it on first use.
func (gs *Gates) For(projectID string) *Gate {
	if g, ok := gs.gates.Load(projectID); ok {
		return g.(*Gate)
	}
	g, _ := gs.gates.LoadOrStore(projectID, NewGate())
	return g.(*Gate)
}
