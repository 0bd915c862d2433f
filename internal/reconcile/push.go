package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/semfora/pmsync/internal/coord"
	"github.com/semfora/pmsync/internal/provider"
	"github.com/semfora/pmsync/internal/types"
)

// PushResult summarizes one push run.
type PushResult struct {
	Pushed    int
	Skipped   int
	Conflicts int
	Failed    int
	Errors    []string
}

// Push drains the pending-change queue. Changes inside the debounce window
// or waiting out their retry backoff are skipped unless force is set.
// Conflicted changes always wait for explicit resolution.
//
// A change is marked synced only after the provider confirms; a confirmed
// change also refreshes the cached item from the returned remote state.
// Retryable failures bump the attempt counter and the change is marked
// failed for good once the retry ceiling is hit.
func (r *Reconciler) Push(ctx context.Context, force bool) (*PushResult, error) {
	if err := r.gate.Acquire(ctx, "push"); err != nil {
		return nil, err
	}
	defer r.gate.Release()

	started := r.now().UTC()
	result := &PushResult{}

	changes, err := r.store.ListPushable(ctx)
	if err != nil {
		return nil, err
	}

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			r.logPush(ctx, types.SyncPartial, result, started, err)
			return result, err
		}
		if !force && !r.eligible(change) {
			result.Skipped++
			continue
		}

		if err := r.limiter.Wait(ctx); err != nil {
			r.logPush(ctx, types.SyncPartial, result, started, err)
			return result, err
		}

		if err := r.pushOne(ctx, change); err != nil {
			switch {
			case provider.IsConflict(err):
				result.Conflicts++
			case change.Status == types.ChangeFailed:
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", change.ID, err))
			default:
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", change.ID, err))
			}
			continue
		}
		result.Pushed++
	}

	status := types.SyncSuccess
	if result.Failed > 0 || result.Conflicts > 0 || len(result.Errors) > 0 {
		status = types.SyncPartial
	}
	r.logPush(ctx, status, result, started, nil)
	r.logger.Printf("[reconcile] push done: %d pushed, %d skipped, %d conflicts, %d failed",
		result.Pushed, result.Skipped, result.Conflicts, result.Failed)
	return result, nil
}

// eligible applies the debounce window and the per-attempt retry backoff.
func (r *Reconciler) eligible(change *types.PendingChange) bool {
	now := r.now()
	if now.Sub(change.CreatedAt) < r.cfg.Debounce {
		return false
	}
	if change.Attempts > 0 {
		retryAt := coord.RetryAt(change.UpdatedAt, change.Attempts, r.cfg.BackoffBase, r.cfg.BackoffMax)
		if now.Before(retryAt) {
			return false
		}
	}
	return true
}

// pushOne sends a single change to the provider and records the outcome.
func (r *Reconciler) pushOne(ctx context.Context, change *types.PendingChange) error {
	patch := provider.Patch{
		Fields:        change.Payload,
		BaseUpdatedAt: change.BaseUpdatedAt,
	}

	out, err := r.callProvider(func() (any, error) {
		return r.provider.ApplyPatch(ctx, change.ProviderID, patch)
	})
	if err == nil {
		rec := out.(*provider.Record)
		change.Status = types.ChangeSynced
		change.LastError = ""
		if updErr := r.store.UpdateChange(ctx, change); updErr != nil {
			return updErr
		}
		if _, _, mergeErr := r.mergeRecord(ctx, rec); mergeErr != nil {
			r.logger.Printf("[reconcile] pushed %s but cache refresh failed: %v", change.ID, mergeErr)
		}
		return nil
	}

	if provider.IsConflict(err) {
		// The cache is left untouched: the caller inspects both sides and
		// resolves explicitly.
		change.Conflict = true
		change.LastError = err.Error()
		if updErr := r.store.UpdateChange(ctx, change); updErr != nil {
			return updErr
		}
		r.logger.Printf("[reconcile] conflict on %s, awaiting resolution", change.ProviderID)
		return err
	}

	change.Attempts++
	change.LastError = err.Error()
	if change.Attempts >= r.cfg.RetryCeiling || !provider.IsRetryable(err) {
		change.Status = types.ChangeFailed
		r.logger.Printf("[reconcile] change %s failed permanently after %d attempt(s): %v",
			change.ID, change.Attempts, err)
	}
	if updErr := r.store.UpdateChange(ctx, change); updErr != nil {
		return updErr
	}
	return err
}

func (r *Reconciler) logPush(ctx context.Context, status types.SyncStatus, result *PushResult, started time.Time, cause error) {
	entry := &types.SyncLogEntry{
		Direction:    types.DirectionPush,
		Status:       status,
		ItemsUpdated: result.Pushed,
		ItemsFailed:  result.Failed,
		Errors:       result.Errors,
		StartedAt:    started,
		FinishedAt:   r.now().UTC(),
	}
	if cause != nil {
		entry.Errors = append(entry.Errors, cause.Error())
	}
	entry.Duration = entry.FinishedAt.Sub(entry.StartedAt)
	if err := r.store.AppendSyncLog(ctx, entry); err != nil {
		r.logger.Printf("[reconcile] failed to append sync log: %v", err)
	}
}
