package provider

import (
	"testing"
	"time"

	"github.com/semfora/pmsync/internal/types"
)

func TestNormalizeStateType(t *testing.T) {
	tests := []struct {
		stateType string
		want      types.StatusCategory
	}{
		{"triage", types.StatusTodo},
		{"backlog", types.StatusTodo},
		{"unstarted", types.StatusTodo},
		{"started", types.StatusInProgress},
		{"completed", types.StatusDone},
		{"canceled", types.StatusCanceled},
		{"something-new", types.StatusTodo},
		{"", types.StatusTodo},
	}
	for _, tt := range tests {
		if got := NormalizeStateType(tt.stateType); got != tt.want {
			t.Errorf("NormalizeStateType(%q) = %q, want %q", tt.stateType, got, tt.want)
		}
	}
}

func TestNormalizePriority(t *testing.T) {
	// Linear: 0 none, 1 urgent, 2 high, 3 medium, 4 low.
	tests := []struct {
		linear int
		want   int
	}{
		{0, 0},
		{1, 4},
		{2, 3},
		{3, 2},
		{4, 1},
		{9, 0},
	}
	for _, tt := range tests {
		if got := NormalizePriority(tt.linear); got != tt.want {
			t.Errorf("NormalizePriority(%d) = %d, want %d", tt.linear, got, tt.want)
		}
	}
	// Round trip through both directions for the real priorities.
	for p := 1; p <= 4; p++ {
		if got := DenormalizePriority(NormalizePriority(p)); got != p {
			t.Errorf("round trip of %d gave %d", p, got)
		}
	}
}

func TestToItem(t *testing.T) {
	updated := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	rec := &Record{
		ID:           "SEM-42",
		Title:        "Ship the thing",
		StateName:    "In Review",
		StateType:    "started",
		Priority:     2,
		AssigneeName: "Dana",
		Labels:       []string{"backend"},
		EpicName:     "Q3 launch",
		UpdatedAt:    updated,
	}
	item := ToItem(rec)

	if item.Kind != types.KindExternal || item.ProviderID != "SEM-42" {
		t.Errorf("identity wrong: %+v", item)
	}
	if item.Status != "In Review" {
		t.Errorf("Status = %q, raw state name must be kept", item.Status)
	}
	if item.StatusCategory != types.StatusInProgress {
		t.Errorf("StatusCategory = %q", item.StatusCategory)
	}
	if item.Priority != 3 {
		t.Errorf("Priority = %d, want 3 (Linear high)", item.Priority)
	}
	if item.UpdatedAtProvider == nil || !item.UpdatedAtProvider.Equal(updated) {
		t.Errorf("UpdatedAtProvider = %v", item.UpdatedAtProvider)
	}
	if err := item.Validate(); err != nil {
		t.Errorf("converted item invalid: %v", err)
	}
}
