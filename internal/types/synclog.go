package types

import "time"

// SyncDirection labels which half of reconciliation a log entry records.
type SyncDirection string

const (
	DirectionPull SyncDirection = "pull"
	DirectionPush SyncDirection = "push"
)

// SyncStatus is the overall outcome of one reconciliation run.
type SyncStatus string

const (
	// SyncSuccess means every item applied cleanly.
	SyncSuccess SyncStatus = "success"

	// SyncPartial means the run completed but some items failed to apply.
	SyncPartial SyncStatus = "partial"

	// SyncFailed means the provider connection itself could not be
	// established.
	SyncFailed SyncStatus = "failed"
)

// SyncLogEntry is an append-only audit record of one reconciliation run.
// Entries are write-once: they are inserted after the run completes and
// never mutated.
type SyncLogEntry struct {
	ID        int64         `json:"id"`
	Direction SyncDirection `json:"direction"`
	Status    SyncStatus    `json:"status"`

	ItemsCreated int `json:"items_created"`
	ItemsUpdated int `json:"items_updated"`
	ItemsDeleted int `json:"items_deleted"`
	ItemsFailed  int `json:"items_failed"`

	Errors []string `json:"errors,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}
