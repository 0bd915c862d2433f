package provider

import "github.com/semfora/pmsync/internal/types"

// NormalizeStateType maps a Linear workflow state type to the local status
// category. Unknown types land in todo so new provider states degrade
// safely instead of failing the pull.
func NormalizeStateType(stateType string) types.StatusCategory {
	switch stateType {
	case "triage", "backlog", "unstarted":
		return types.StatusTodo
	case "started":
		return types.StatusInProgress
	case "completed":
		return types.StatusDone
	case "canceled":
		return types.StatusCanceled
	default:
		return types.StatusTodo
	}
}

// NormalizePriority converts Linear's inverted priority scale (0 = none,
// 1 = urgent .. 4 = low) to the local 0-4 scale where higher means more
// important. None maps to 0.
func NormalizePriority(linearPriority int) int {
	if linearPriority <= 0 || linearPriority > 4 {
		return 0
	}
	return 5 - linearPriority
}

// DenormalizePriority converts a local priority back to Linear's scale.
func DenormalizePriority(priority int) int {
	if priority <= 0 || priority > 4 {
		return 0
	}
	return 5 - priority
}

// ToItem converts a provider record into an external item.
func ToItem(rec *Record) *types.Item {
	item := &types.Item{
		ID:             rec.ID,
		Kind:           types.KindExternal,
		ProviderID:     rec.ID,
		ItemType:       "ticket",
		Title:          rec.Title,
		Description:    rec.Description,
		Status:         rec.StateName,
		StatusCategory: NormalizeStateType(rec.StateType),
		Priority:       NormalizePriority(rec.Priority),
		Assignee:       rec.AssigneeID,
		AssigneeName:   rec.AssigneeName,
		Labels:         rec.Labels,
		EpicID:         rec.EpicID,
		EpicName:       rec.EpicName,
		SprintID:       rec.SprintID,
		SprintName:     rec.SprintName,
		URL:            rec.URL,
	}
	if !rec.CreatedAt.IsZero() {
		t := rec.CreatedAt
		item.CreatedAtProvider = &t
	}
	if !rec.UpdatedAt.IsZero() {
		t := rec.UpdatedAt
		item.UpdatedAtProvider = &t
	}
	item.SetDefaults()
	return item
}
