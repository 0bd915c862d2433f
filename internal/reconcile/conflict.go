package reconcile

import (
	"context"
	"fmt"

	"github.com/semfora/pmsync/internal/provider"
	"github.com/semfora/pmsync/internal/types"
)

// Resolution picks a side in a sync conflict.
type Resolution string

const (
	// KeepLocal rebases the pending change onto the freshest remote state
	// and retries the push.
	KeepLocal Resolution = "keep_local"

	// KeepRemote cancels the pending change and overwrites the cache with
	// remote state.
	KeepRemote Resolution = "keep_remote"

	// Merge re-applies the pull merge policy against the freshest remote
	// state, lays the pending change's own fields back on top, and retries
	// the push from the rebased base.
	Merge Resolution = "merge"
)

// ResolveConflict settles a conflicted change one way or the other. Only
// changes carrying the conflict marker can be resolved.
func (r *Reconciler) ResolveConflict(ctx context.Context, changeID string, resolution Resolution) error {
	if err := r.gate.Acquire(ctx, "resolve-conflict"); err != nil {
		return err
	}
	defer r.gate.Release()

	change, err := r.store.GetChange(ctx, changeID)
	if err != nil {
		return err
	}
	if !change.Conflict {
		return fmt.Errorf("change %s is not conflicted", changeID)
	}

	out, err := r.callProvider(func() (any, error) {
		return r.provider.FetchItem(ctx, change.ProviderID)
	})
	if err != nil {
		return fmt.Errorf("cannot resolve while provider is unreachable: %w", err)
	}
	rec := out.(*provider.Record)

	switch resolution {
	case KeepRemote:
		change.Status = types.ChangeCanceled
		change.Conflict = false
		if err := r.store.UpdateChange(ctx, change); err != nil {
			return err
		}
		if _, _, err := r.mergeRecord(ctx, rec); err != nil {
			return err
		}
		r.logger.Printf("[reconcile] resolved %s: kept remote, change canceled", changeID)
		return nil

	case KeepLocal:
		// Rebase onto the remote state that won the race, then push again
		// from a clean slate of attempts.
		change.BaseUpdatedAt = &rec.UpdatedAt
		change.Conflict = false
		change.Attempts = 0
		change.LastError = ""
		if err := r.store.UpdateChange(ctx, change); err != nil {
			return err
		}
		if err := r.pushOne(ctx, change); err != nil {
			return fmt.Errorf("rebased change %s but retry failed: %w", changeID, err)
		}
		r.logger.Printf("[reconcile] resolved %s: kept local, change pushed", changeID)
		return nil

	case Merge:
		// Refresh the cache from the freshest remote under the usual merge
		// policy, then overlay the pending fields so the cache shows the
		// merged result before the push lands.
		if _, _, err := r.mergeRecord(ctx, rec); err != nil {
			return err
		}
		item, err := r.store.GetItemByProviderID(ctx, change.ProviderID)
		if err != nil {
			return err
		}
		applyPayload(item, change.Payload)
		item.UpdatedAt = r.now().UTC()
		if _, _, err := r.store.UpsertItem(ctx, item, false); err != nil {
			return err
		}

		change.BaseUpdatedAt = &rec.UpdatedAt
		change.Conflict = false
		change.Attempts = 0
		change.LastError = ""
		if err := r.store.UpdateChange(ctx, change); err != nil {
			return err
		}
		if err := r.pushOne(ctx, change); err != nil {
			return fmt.Errorf("merged change %s but retry failed: %w", changeID, err)
		}
		r.logger.Printf("[reconcile] resolved %s: merged with remote, change pushed", changeID)
		return nil

	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}
}

// Conflicts lists the changes awaiting resolution.
func (r *Reconciler) Conflicts(ctx context.Context) ([]*types.PendingChange, error) {
	changes, err := r.store.ListChanges(ctx, types.ChangePending)
	if err != nil {
		return nil, err
	}
	var conflicted []*types.PendingChange
	for _, c := range changes {
		if c.Conflict {
			conflicted = append(conflicted, c)
		}
	}
	return conflicted, nil
}
