package watch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipewatch/internal/console"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/resolve"
)

const dateTimeLayout = "2006-01-02 15:04:05"

// renderHeader draws the trigger card: title line, trigger configuration,
// run URL and the state of the last run command.
func renderHeader(snap console.Snapshot, spin string, ticker Ticker, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4
	res := snap.Resolution

	name := res.TriggerID
	if res.Phase == resolve.PhaseReady {
		name = res.Trigger.TriggerName()
	}
	titleText := fmt.Sprintf(" TRIGGER %s %s", name, theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	lines := []string{titleText + strings.Repeat(" ", pad) + clock + " "}

	switch res.Phase {
	case resolve.PhaseLoading:
		lines = append(lines, theme.Dim.Render(" Loading..."))
	case resolve.PhaseError:
		lines = append(lines, theme.StatusFailed.Render(fmt.Sprintf(" ⚠ An error has occurred: %v", res.Err)))
	case resolve.PhaseNotFound:
		lines = append(lines, theme.StatusFailed.Render(fmt.Sprintf(" Trigger not found: %v", res.Err)))
	case resolve.PhaseReady:
		lines = append(lines, triggerLines(res, theme)...)
	}

	lines = append(lines, field(theme, "Run URL", snap.RunURL))
	lines = append(lines, commandLine(snap, spin, theme))

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(activity.LastEvent()).Round(time.Second))
	}
	lines = append(lines, fmt.Sprintf(" Last change: %s %s", lastEvent, activity.Render(theme, now)))

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func triggerLines(res resolve.Resolution, theme Theme) []string {
	var lines []string
	pipeline := res.Pipeline.Name
	if pipeline == "" {
		pipeline = res.PipelineID
	}
	lines = append(lines, field(theme, "Pipeline", pipeline))
	if d := res.Trigger.TriggerDescription(); d != "" {
		lines = append(lines, " "+theme.Dim.Render(d))
	}
	lines = append(lines, field(theme, "Kind", res.Trigger.Kind().String()))

	switch t := res.Trigger.(type) {
	case model.ScheduledTrigger:
		lines = append(lines, field(theme, "Schedule", orDash(t.Schedule)))
		next := "-"
		if t.NextFireTime != nil {
			next = t.NextFireTime.Local().Format(dateTimeLayout)
		}
		if t.Paused {
			next += theme.Highlight.Render(" (paused)")
		}
		lines = append(lines, field(theme, "Next run", next))
	case model.ManualTrigger:
		lines = append(lines, field(theme, "Schedule", "on demand"))
	}

	lines = append(lines, field(theme, "Params", formatParams(res.Trigger.TriggerParams())))
	return lines
}

func commandLine(snap console.Snapshot, spin string, theme Theme) string {
	switch {
	case snap.Running:
		return fmt.Sprintf(" %s %s", spin, theme.StatusRunning.Render("Run requested..."))
	case snap.LastRunErr != nil:
		return theme.StatusFailed.Render(fmt.Sprintf(" ✗ Last run command failed: %v", snap.LastRunErr))
	case snap.LastRun != nil:
		return theme.StatusCompleted.Render(fmt.Sprintf(" ✓ Started run #%d", snap.LastRun.RunID))
	default:
		return theme.Dim.Render(" No run requested")
	}
}

func field(theme Theme, label, value string) string {
	return fmt.Sprintf(" %s %s", theme.Label.Render(fmt.Sprintf("%-9s", label)), value)
}

func formatParams(p model.Params) string {
	if p.Empty() {
		return "no params"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, p); err != nil {
		return string(p)
	}
	return buf.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
