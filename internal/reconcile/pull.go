package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/semfora/pmsync/internal/provider"
	"github.com/semfora/pmsync/internal/store"
	"github.com/semfora/pmsync/internal/types"
)

// PullResult summarizes one pull run.
type PullResult struct {
	Created int
	Updated int
	Deleted int
	Failed  int
	Errors  []string
}

// Pull streams remote items into the cache. Incremental pulls fetch only
// items updated since the last sync; full pulls fetch everything and mark
// cached items the provider no longer reports as canceled. Nothing is hard
// deleted: the rows and their edges stay behind for audit.
//
// Each item applies in its own transaction, so cancellation mid-run leaves
// every already-merged item visible and the in-flight item untouched.
func (r *Reconciler) Pull(ctx context.Context, full bool) (*PullResult, error) {
	if err := r.gate.Acquire(ctx, "pull"); err != nil {
		return nil, err
	}
	defer r.gate.Release()

	started := r.now().UTC()
	result := &PullResult{}

	var since *time.Time
	if !full {
		last, err := r.store.LastSyncedAt(ctx)
		if err != nil {
			return nil, err
		}
		if !last.IsZero() {
			since = &last
		}
	}

	out, err := r.callProvider(func() (any, error) {
		return r.provider.FetchItems(ctx, since)
	})
	if err != nil {
		r.logSync(ctx, types.DirectionPull, types.SyncFailed, result, started, err)
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	stream := out.(provider.ItemStream)
	defer stream.Close()

	seen := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			r.logSync(ctx, types.DirectionPull, types.SyncPartial, result, started, err)
			return result, err
		}

		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			r.logSync(ctx, types.DirectionPull, types.SyncPartial, result, started, nil)
			return result, fmt.Errorf("pull aborted mid-stream: %w", err)
		}
		seen[rec.ID] = true

		created, changed, err := r.mergeRecord(ctx, rec)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			continue
		}
		if created {
			result.Created++
		} else if changed {
			result.Updated++
		}
	}

	if full {
		marked, err := r.store.MarkExternalAbsent(ctx, seen)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.Deleted = len(marked)
			for _, id := range marked {
				r.logger.Printf("[reconcile] marked %s canceled (absent from full resync)", id)
			}
		}
	}

	if err := r.store.SetLastSyncedAt(ctx, started); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	status := types.SyncSuccess
	if result.Failed > 0 || len(result.Errors) > 0 {
		status = types.SyncPartial
	}
	r.logSync(ctx, types.DirectionPull, status, result, started, nil)
	r.logger.Printf("[reconcile] pull done: %d created, %d updated, %d deleted, %d failed",
		result.Created, result.Updated, result.Deleted, result.Failed)
	return result, nil
}

// mergeRecord applies one remote record to the cache under the field merge
// policy: remote wins on provider-owned fields, the notes namespace is never
// touched, and status stays local while a status change is pending
// (push-first).
func (r *Reconciler) mergeRecord(ctx context.Context, rec *provider.Record) (created, changed bool, err error) {
	item := provider.ToItem(rec)
	now := r.now().UTC()
	item.CachedAt = &now

	existing, err := r.store.GetItemByProviderID(ctx, rec.ID)
	if err != nil && !store.IsNotFound(err) {
		return false, false, err
	}
	if existing != nil {
		item.ID = existing.ID
		item.AnchorID = existing.AnchorID
		item.CreatedAt = existing.CreatedAt

		pendingStatus, err := r.store.HasPendingStatusChange(ctx, rec.ID)
		if err != nil {
			return false, false, err
		}
		if pendingStatus {
			item.Status = existing.Status
			item.StatusCategory = existing.StatusCategory
		}
	}

	return r.store.UpsertItem(ctx, item, true)
}

func (r *Reconciler) logSync(ctx context.Context, direction types.SyncDirection, status types.SyncStatus, result *PullResult, started time.Time, cause error) {
	entry := &types.SyncLogEntry{
		Direction:    direction,
		Status:       status,
		ItemsCreated: result.Created,
		ItemsUpdated: result.Updated,
		ItemsDeleted: result.Deleted,
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
