package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipewatch/internal/dispatch"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/query"
)

const maxChanges = 6

func renderChanges(changes []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(changes) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("CHANGES"),
			theme.Dim.Render("  Waiting for changes..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range changes {
		if i >= maxChanges {
			break
		}
		lines = append(lines, formatChange(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("CHANGES"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatChange(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case query.EventSuccess, dispatch.EventSucceeded:
		typeStyle = theme.StatusCompleted
	case query.EventError, dispatch.EventFailed:
		typeStyle = theme.StatusFailed
	case query.EventLoading, dispatch.EventStarted:
		typeStyle = theme.StatusRunning
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), changeDesc(e))
}

func changeDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	parts := []string{e.Key}
	if id, ok := data["run_id"].(float64); ok {
		parts = append(parts, fmt.Sprintf("run #%d", int64(id)))
	}
	if msg, ok := data["error"].(string); ok {
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, " ")
}
