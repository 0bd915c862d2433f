package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/semfora/pmsync/internal/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
)

func styleForCategory(c types.StatusCategory) lipgloss.Style {
	switch c {
	case types.StatusDone:
		return okStyle
	case types.StatusInProgress:
		return warnStyle
	case types.StatusCanceled:
		return dimStyle
	default:
		return lipgloss.NewStyle()
	}
}

// renderItem formats one item as a single list line.
func renderItem(item *types.Item) string {
	id := item.ProviderID
	if id == "" {
		id = item.ID
	}
	var b strings.Builder
	b.WriteString(idStyle.Render(id))
	b.WriteString("  ")
	b.WriteString(styleForCategory(item.StatusCategory).Render(fmt.Sprintf("[%s]", item.Status)))
	b.WriteString(fmt.Sprintf(" P%d ", item.Priority))
	b.WriteString(item.Title)
	if item.AssigneeName != "" {
		b.WriteString(dimStyle.Render("  @" + item.AssigneeName))
	}
	return b.String()
}

// renderItemDetail formats the full item view.
func renderItemDetail(item *types.Item) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(item.Title) + "\n")
	id := item.ProviderID
	if id == "" {
		id = item.ID
	}
	b.WriteString(idStyle.Render(id))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  (%s %s)", item.Kind, item.ItemType)) + "\n")
	b.WriteString(fmt.Sprintf("Status:   %s (%s)\n", item.Status, item.StatusCategory))
	b.WriteString(fmt.Sprintf("Priority: %d\n", item.Priority))
	if item.AssigneeName != "" {
		b.WriteString(fmt.Sprintf("Assignee: %s\n", item.AssigneeName))
	}
	if item.EpicName != "" {
		b.WriteString(fmt.Sprintf("Epic:     %s\n", item.EpicName))
	}
	if item.SprintName != "" {
		b.WriteString(fmt.Sprintf("Sprint:   %s\n", item.SprintName))
	}
	if len(item.Labels) > 0 {
		b.WriteString(fmt.Sprintf("Labels:   %s\n", strings.Join(item.Labels, ", ")))
	}
	if item.URL != "" {
		b.WriteString(dimStyle.Render(item.URL) + "\n")
	}
	if item.Description != "" {
		b.WriteString("\n" + item.Description + "\n")
	}
	if item.Notes != "" {
		b.WriteString("\n" + titleStyle.Render("Notes") + "\n" + item.Notes + "\n")
	}
	return b.String()
}
