package types

import (
	"fmt"
	"time"
)

// ChangeStatus is the lifecycle state of a queued outbound mutation.
type ChangeStatus string

const (
	// ChangePending means the change has not yet been confirmed by the provider.
	ChangePending ChangeStatus = "pending"

	// ChangeSynced means the provider confirmed the mutation.
	ChangeSynced ChangeStatus = "synced"

	// ChangeFailed means the change exhausted its retry budget and needs
	// manual intervention. Failed changes are never retried automatically.
	ChangeFailed ChangeStatus = "failed"

	// ChangeCanceled means the caller discarded the change (keep_remote).
	ChangeCanceled ChangeStatus = "canceled"
)

// IsValid reports whether the status is one of the known variants.
func (s ChangeStatus) IsValid() bool {
	switch s {
	case ChangePending, ChangeSynced, ChangeFailed, ChangeCanceled:
		return true
	}
	return false
}

// DefaultRetryCeiling is the number of attempts after which a pending change
// is marked failed permanently.
const DefaultRetryCeiling = 5

// PendingChange is a queued outbound mutation against one external item.
// Changes are created when a push is attempted while offline or rejected,
// marked synced once the provider confirms, and marked failed after the
// retry ceiling. They are never silently dropped.
type PendingChange struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`

	// ChangeType names the mutation: "status", "fields", "assign".
	ChangeType string `json:"change_type"`

	// Payload holds the field patch as field name -> new value.
	Payload map[string]any `json:"payload"`

	// BaseUpdatedAt is the remote updated_at the change was computed
	// against. The provider reports a conflict when remote state has moved
	// past this point.
	BaseUpdatedAt *time.Time `json:"base_updated_at,omitempty"`

	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`

	// Conflict marks the change as awaiting explicit resolution. Conflicted
	// changes stay pending but are skipped by the automatic push path.
	Conflict bool `json:"conflict,omitempty"`

	Status    ChangeStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Validate checks the change's field values.
func (c *PendingChange) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.ProviderID == "" {
		return fmt.Errorf("provider_id is required")
	}
	if c.ChangeType == "" {
		return fmt.Errorf("change_type is required")
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("invalid change status: %q", c.Status)
	}
	return nil
}

// TouchesStatus reports whether the change mutates the item's status.
func (c *PendingChange) TouchesStatus() bool {
	if c.ChangeType == "status" {
		return true
	}
	_, ok := c.Payload["status"]
	return ok
}
