// Package provider defines the external tracker interface and its
// implementations. The set of providers is a closed list of variants;
// adding one means adding a case to New, not registering at runtime.
package provider

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Kind identifies a provider implementation.
type Kind string

const (
	// KindLinear talks to the Linear GraphQL API.
	KindLinear Kind = "linear"

	// KindStatic serves a fixed item set from configuration. Used for
	// offline demos and tests.
	KindStatic Kind = "static"
)

// Record is one item as the provider reports it, before normalization into
// the local model.
type Record struct {
	ID          string // provider identifier, e.g. "SEM-123"
	Title       string
	Description string

	// StateName is the raw workflow state ("In Review"); StateType is the
	// provider's state bucket used for normalization.
	StateName string
	StateType string

	// Priority on the provider's own scale.
	Priority int

	AssigneeID   string
	AssigneeName string
	Labels       []string

	EpicID     string
	EpicName   string
	SprintID   string
	SprintName string
	URL        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemStream yields records lazily, one page at a time under the hood.
// Next returns io.EOF after the last record. The caller MUST call Close.
type ItemStream interface {
	Next() (*Record, error)
	Close() error
}

// Patch is an outbound field mutation for one item.
type Patch struct {
	// Fields maps field names (title, description, status, priority,
	// assignee) to new values.
	Fields map[string]any

	// BaseUpdatedAt is the remote timestamp the patch was computed against.
	// If the remote item has moved past it, the provider returns a
	// ConflictError without mutating anything.
	BaseUpdatedAt *time.Time
}

// Provider is a remote project tracker.
type Provider interface {
	// Name returns the provider kind for logging and sync log entries.
	Name() string

	// FetchItems streams items updated since the given time. A nil since
	// streams everything (full resync).
	FetchItems(ctx context.Context, since *time.Time) (ItemStream, error)

	// FetchItem retrieves one item by provider id.
	FetchItem(ctx context.Context, providerID string) (*Record, error)

	// ApplyPatch mutates one remote item and returns its post-mutation
	// record.
	ApplyPatch(ctx context.Context, providerID string, patch Patch) (*Record, error)
}

// Config selects and configures a provider.
type Config struct {
	Kind     Kind          `mapstructure:"kind"`
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"` // override for tests
	TeamID   string        `mapstructure:"team_id"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Items seeds the static provider.
	Items []Record `mapstructure:"-"`
}

// New constructs the provider for cfg.Kind. Unknown kinds are an error, not
// an extension point.
func New(cfg Config, logger *log.Logger) (Provider, error) {
	switch cfg.Kind {
	case KindLinear:
		return newLinear(cfg, logger)
	case KindStatic:
		return newStatic(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Kind)
	}
}
