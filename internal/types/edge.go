package types

import (
	"fmt"
	"time"
)

// Relation is the type of a dependency edge.
type Relation string

const (
	// RelationBlocks means the source must resolve before the target can start.
	RelationBlocks Relation = "blocks"

	// RelationParentOf groups a child under a parent (epic -> ticket).
	RelationParentOf Relation = "parent_of"

	// RelationDiscoveredFrom records that the source surfaced while working
	// on the target.
	RelationDiscoveredFrom Relation = "discovered_from"

	// RelationRelatedTo is a loose association carrying a strength weight.
	RelationRelatedTo Relation = "related_to"
)

// IsValid reports whether the relation is one of the known variants.
func (r Relation) IsValid() bool {
	switch r {
	case RelationBlocks, RelationParentOf, RelationDiscoveredFrom, RelationRelatedTo:
		return true
	}
	return false
}

// Gating reports whether the relation participates in readiness computation.
func (r Relation) Gating() bool {
	return r == RelationBlocks || r == RelationParentOf
}

// Strength weights a related_to edge. It is ignored for other relations.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthNormal Strength = "normal"
	StrengthStrong Strength = "strong"
)

// IsValid reports whether the strength is one of the known variants.
func (s Strength) IsValid() bool {
	switch s {
	case StrengthWeak, StrengthNormal, StrengthStrong:
		return true
	}
	return false
}

// DependencyEdge is a directed, typed relation between two item references.
// The tuple (source, target, relation) is unique within a project store.
type DependencyEdge struct {
	Source   ItemRef  `json:"source"`
	Target   ItemRef  `json:"target"`
	Relation Relation `json:"relation"`

	// Strength is only meaningful when Relation is related_to.
	Strength Strength `json:"strength,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Inverse returns the edge with source and target swapped, keeping the same
// relation, strength and notes. Used to materialize bidirectional edges.
func (e DependencyEdge) Inverse() DependencyEdge {
	inv := e
	inv.Source, inv.Target = e.Target, e.Source
	return inv
}

// Validate checks the edge's field values. Self-loops are rejected here so
// they never reach the store.
func (e *DependencyEdge) Validate() error {
	if !e.Source.Kind.IsValid() || e.Source.ID == "" {
		return fmt.Errorf("invalid source reference: %v", e.Source)
	}
	if !e.Target.Kind.IsValid() || e.Target.ID == "" {
		return fmt.Errorf("invalid target reference: %v", e.Target)
	}
	if e.Source == e.Target {
		return fmt.Errorf("self-loop edge on %s", e.Source)
	}
	if !e.Relation.IsValid() {
		return fmt.Errorf("invalid relation: %q", e.Relation)
	}
	if e.Strength != "" && !e.Strength.IsValid() {
		return fmt.Errorf("invalid strength: %q", e.Strength)
	}
	if e.Strength != "" && e.Relation != RelationRelatedTo {
		return fmt.Errorf("strength is only meaningful for related_to edges")
	}
	return nil
}
