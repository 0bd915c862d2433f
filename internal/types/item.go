// Package types defines the core data structures shared by the store,
// graph, and reconciliation layers: items, dependency edges, pending
// changes, memory records, and sync log entries.
package types

import (
	"fmt"
	"time"
)

// ItemKind distinguishes provider-owned cached items from locally-owned ones.
type ItemKind string

const (
	// KindExternal marks an item cached from a remote provider. External
	// items are read-mostly; the reconciler owns their provider fields.
	KindExternal ItemKind = "external"

	// KindLocal marks an item created by the caller. Local items are never
	// transmitted to a provider.
	KindLocal ItemKind = "local"
)

// IsValid reports whether the kind is one of the known variants.
func (k ItemKind) IsValid() bool {
	return k == KindExternal || k == KindLocal
}

// StatusCategory is the provider-independent lifecycle bucket an item's raw
// status normalizes into.
type StatusCategory string

const (
	StatusTodo       StatusCategory = "todo"
	StatusInProgress StatusCategory = "in_progress"
	StatusDone       StatusCategory = "done"
	StatusCanceled   StatusCategory = "canceled"
)

// IsValid reports whether the category is one of the four known buckets.
func (c StatusCategory) IsValid() bool {
	switch c {
	case StatusTodo, StatusInProgress, StatusDone, StatusCanceled:
		return true
	}
	return false
}

// Resolved reports whether the category no longer blocks dependent work.
func (c StatusCategory) Resolved() bool {
	return c == StatusDone || c == StatusCanceled
}

// ItemRef identifies an item by kind and id. It is the unit of identity for
// graph edges and traversal visited-sets.
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	ID   string   `json:"id"`
}

// Key returns the canonical "kind:id" form used for visited-set membership.
func (r ItemRef) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func (r ItemRef) String() string {
	return r.Key()
}

// Item is a work item in the local store. External items carry provider
// identity and timestamps; local items carry an optional anchor to exactly
// one external item.
type Item struct {
	ID   string   `json:"id"`
	Kind ItemKind `json:"kind"`

	// ProviderID is the provider's identifier (e.g. "SEM-123").
	// Required for external items, empty for local ones. Unique per project.
	ProviderID string `json:"provider_id,omitempty"`

	// AnchorID optionally links a local item to one external item.
	AnchorID string `json:"anchor_id,omitempty"`

	ItemType    string `json:"item_type"` // ticket, epic, subtask
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Status is the raw lifecycle value (provider's state name, or
	// pending/in_progress/completed/... for local items).
	Status         string         `json:"status"`
	StatusCategory StatusCategory `json:"status_category"`

	Priority     int      `json:"priority"` // 0-4, higher = more important
	Assignee     string   `json:"assignee,omitempty"`
	AssigneeName string   `json:"assignee_name,omitempty"`
	Labels       []string `json:"labels,omitempty"`

	EpicID     string `json:"epic_id,omitempty"`
	EpicName   string `json:"epic_name,omitempty"`
	SprintID   string `json:"sprint_id,omitempty"`
	SprintName string `json:"sprint_name,omitempty"`
	URL        string `json:"url,omitempty"`

	// Notes is a local-exclusive namespace: never touched by pull or push.
	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Provider-side timestamps, set only on external items.
	CreatedAtProvider *time.Time `json:"created_at_provider,omitempty"`
	UpdatedAtProvider *time.Time `json:"updated_at_provider,omitempty"`

	// CachedAt is when the reconciler last wrote this item from remote state.
	CachedAt *time.Time `json:"cached_at,omitempty"`
}

// Ref returns the item's graph reference.
func (i *Item) Ref() ItemRef {
	return ItemRef{Kind: i.Kind, ID: i.ID}
}

// Resolved reports whether the item no longer blocks dependents.
func (i *Item) Resolved() bool {
	return i.StatusCategory.Resolved()
}

// Validate checks the item's field values.
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !i.Kind.IsValid() {
		return fmt.Errorf("invalid item kind: %q", i.Kind)
	}
	if i.Kind == KindExternal && i.ProviderID == "" {
		return fmt.Errorf("provider_id is required for external items")
	}
	if i.Kind == KindLocal && i.ProviderID != "" {
		return fmt.Errorf("local items must not carry a provider_id")
	}
	if i.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if i.StatusCategory != "" && !i.StatusCategory.IsValid() {
		return fmt.Errorf("invalid status category: %q", i.StatusCategory)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (i *Item) SetDefaults() {
	if i.ItemType == "" {
		i.ItemType = "ticket"
	}
	if i.Status == "" {
		if i.Kind == KindLocal {
			i.Status = "pending"
		} else {
			i.Status = "todo"
		}
	}
	if i.StatusCategory == "" {
		i.StatusCategory = StatusTodo
	}
	if i.Labels == nil {
		i.Labels = []string{}
	}
	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = now
	}
}
