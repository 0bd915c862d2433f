package types

import (
	"fmt"
	"time"
)

// MemoryRecord is a long-lived derived note keyed by (memory_type, key)
// within a project store. Records are scored and pruned by the decay
// scheduler; importance 5 records are never auto-removed.
type MemoryRecord struct {
	MemoryType string `json:"memory_type"` // discovery, decision, reference, ...
	Key        string `json:"key"`
	Content    string `json:"content"`

	Importance int     `json:"importance"` // 1-5, higher = kept longer
	Confidence float64 `json:"confidence"` // 0.0-1.0

	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the record's field values.
func (m *MemoryRecord) Validate() error {
	if m.MemoryType == "" {
		return fmt.Errorf("memory_type is required")
	}
	if m.Key == "" {
		return fmt.Errorf("key is required")
	}
	if m.Content == "" {
		return fmt.Errorf("content is required")
	}
	if m.Importance < 1 || m.Importance > 5 {
		return fmt.Errorf("importance must be between 1 and 5 (got %d)", m.Importance)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %g)", m.Confidence)
	}
	return nil
}

// Pinned reports whether the record is exempt from decay pruning.
func (m *MemoryRecord) Pinned() bool {
	return m.Importance >= 5
}
