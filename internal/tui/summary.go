package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type SummaryRow struct {
	Label string
	Value string
}

// RenderSummary draws rows as a two-column table framed by rules.
func RenderSummary(rows []SummaryRow) string {
	labelWidth, valueWidth := 0, 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := dimStyle.Render(strings.Repeat("-", labelWidth+valueWidth+3))
	lines := []string{hline}
	for _, row := range rows {
		label := labelStyle.Width(labelWidth).Render(row.Label)
		value := valueStyle.Render(row.Value)
		lines = append(lines, fmt.Sprintf("%s %s %s", label, dimStyle.Render("|"), value))
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// RenderOutcome is the one-line result of a single job after a run.
func RenderOutcome(name, detail string, err error) string {
	if err != nil {
		return fmt.Sprintf("%s %s %s", errorStyle.Render("x"), labelStyle.Render(name), errorStyle.Render(err.Error()))
	}
	return fmt.Sprintf("%s %s %s", successStyle.Render("✓"), labelStyle.Render(name), dimStyle.Render(detail))
}
