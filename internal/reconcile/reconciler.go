// Package reconcile implements bidirectional synchronization between a
// project store and its provider: pull applies remote state to the cache
// under the field merge policy, push drains the pending-change queue.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/semfora/pmsync/internal/coord"
	"github.com/semfora/pmsync/internal/provider"
	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

// Config tunes the reconciler. Zero values take defaults.
type Config struct {
	// RetryCeiling is the attempt count after which a pending change is
	// marked failed.
	RetryCeiling int

	// Debounce holds back freshly queued changes so rapid successive edits
	// collapse into one push.
	Debounce time.Duration

	// BackoffBase and BackoffMax bound the retry backoff for failed pushes.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// StaleAfter is the cache age beyond which EnsureFresh refetches.
	StaleAfter time.Duration

	// PushRate caps outbound mutations per second.
	PushRate float64
}

// DefaultConfig returns the standard reconciler settings.
func DefaultConfig() Config {
	return Config{
		RetryCeiling: types.DefaultRetryCeiling,
		Debounce:     5 * time.Second,
		BackoffBase:  10 * time.Second,
		BackoffMax:   10 * time.Minute,
		StaleAfter:   5 * time.Minute,
		PushRate:     5,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.RetryCeiling == 0 {
		c.RetryCeiling = d.RetryCeiling
	}
	if c.Debounce == 0 {
		c.Debounce = d.Debounce
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.PushRate == 0 {
		c.PushRate = d.PushRate
	}
}

// Reconciler synchronizes one project store with its provider. All mutating
// entry points acquire the project's write gate.
type Reconciler struct {
	store    *store.Store
	provider provider.Provider
	gate     *coord.Gate
	cfg      Config
	logger   *log.Logger

	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	now func() time.Time
}

// New creates a reconciler. A nil logger discards output.
func New(st *store.Store, prov provider.Provider, gate *coord.Gate, cfg Config, logger *log.Logger) *Reconciler {
	cfg.setDefaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if gate == nil {
		gate = coord.NewGate()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        prov.Name(),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("[reconcile] breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Reconciler{
		store:    st,
		provider: prov,
		gate:     gate,
		cfg:      cfg,
		logger:   logger,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.PushRate), 1),
		now:      time.Now,
	}
}

// callProvider routes a provider call through the circuit breaker so a dead
// provider fails fast instead of stalling every caller on timeouts.
func (r *Reconciler) callProvider(fn func() (any, error)) (any, error) {
	out, err := r.breaker.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: circuit open", provider.ErrUnavailable)
	}
	return out, err
}

// QueueChange applies a local edit to the cached item immediately and
// enqueues the outbound mutation. The local cache is the source of truth
// until the provider confirms; the pull path keeps the pending fields from
// being clobbered in the meantime.
func (r *Reconciler) QueueChange(ctx context.Context, providerID, changeType string, payload map[string]any) (*types.PendingChange, error) {
	if err := r.gate.Acquire(ctx, "queue-change"); err != nil {
		return nil, err
	}
	defer r.gate.Release()

	item, err := r.store.GetItemByProviderID(ctx, providerID)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	change := &types.PendingChange{
		ID:            uuid.NewString(),
		ProviderID:    providerID,
		ChangeType:    changeType,
		Payload:       payload,
		BaseUpdatedAt: item.UpdatedAtProvider,
		Status:        types.ChangePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.AppendChange(ctx, change); err != nil {
		return nil, err
	}

	applyPayload(item, payload)
	item.UpdatedAt = now
	if _, _, err := r.store.UpsertItem(ctx, item, false); err != nil {
		return nil, fmt.Errorf("failed to apply change locally: %w", err)
	}

	r.logger.Printf("[reconcile] queued %s change %s for %s", changeType, change.ID, providerID)
	return change, nil
}

// EnsureFresh refetches one item when its cache entry is older than the
// staleness threshold. Returns the cached item either way.
func (r *Reconciler) EnsureFresh(ctx context.Context, providerID string) (*types.Item, error) {
	item, err := r.store.GetItemByProviderID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if item.CachedAt != nil && r.now().Sub(*item.CachedAt) < r.cfg.StaleAfter {
		return item, nil
	}

	out, err := r.callProvider(func() (any, error) {
		return r.provider.FetchItem(ctx, providerID)
	})
	if err != nil {
		// Offline reads serve the stale cache rather than failing.
		r.logger.Printf("[reconcile] refresh of %s failed, serving cache: %v", providerID, err)
		return item, nil
	}
	rec := out.(*provider.Record)

	if err := r.gate.Acquire(ctx, "refresh"); err != nil {
		return nil, err
	}
	defer r.gate.Release()

	if _, _, err := r.mergeRecord(ctx, rec); err != nil {
		return nil, err
	}
	return r.store.GetItemByProviderID(ctx, rec.ID)
}

// applyPayload copies patch fields onto a cached item.
func applyPayload(item *types.Item, payload map[string]any) {
	for field, value := range payload {
		switch field {
		case "title":
			item.Title = fmt.Sprintf("%v", value)
		case "description":
			item.Description = fmt.Sprintf("%v", value)
		case "status":
			item.Status = fmt.Sprintf("%v", value)
			item.StatusCategory = localStatusCategory(item.Status)
		case "priority":
			switch v := value.(type) {
			case int:
				item.Priority = v
			case float64:
				item.Priority = int(v)
			}
		case "assignee":
			item.Assignee = fmt.Sprintf("%v", value)
		}
	}
}

// localStatusCategory buckets a raw status string for locally applied edits.
// The authoritative category arrives with the next pull.
func localStatusCategory(status string) types.StatusCategory {
	switch status {
	case "done", "completed", "Done":
		return types.StatusDone
	case "canceled", "cancelled", "Canceled":
		return types.StatusCanceled
	case "in_progress", "started", "In Progress":
		return types.StatusInProgress
	default:
		return types.StatusTodo
	}
}
