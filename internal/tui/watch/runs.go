package watch

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipewatch/internal/console"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/resolve"
)

// maxChartRuns bounds the status strip and the sparkline.
const maxChartRuns = 40

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// visibleRuns returns the run list a frame shows (newest first) and whether
// it is a persisted preview rather than the live list.
func visibleRuns(snap console.Snapshot) ([]model.PipelineRun, bool) {
	if snap.Resolution.Phase == resolve.PhaseReady {
		return snap.Resolution.Runs, false
	}
	return snap.PreviewRuns, snap.PreviewRuns != nil
}

// chronological returns at most limit runs, oldest first.
func chronological(runs []model.PipelineRun, limit int) []model.PipelineRun {
	if len(runs) > limit {
		runs = runs[:limit]
	}
	out := make([]model.PipelineRun, len(runs))
	for i, r := range runs {
		out[len(runs)-1-i] = r
	}
	return out
}

func newRunsTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Run", Width: 8},
			{Title: "Status", Width: 10},
			{Title: "Started", Width: 19},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func runRows(runs []model.PipelineRun) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			statusGlyph(r.Status),
			"#" + strconv.FormatInt(r.ID, 10),
			string(r.Status),
			r.StartTime.Local().Format(dateTimeLayout),
			formatSeconds(r.Duration, r.Status),
		})
	}
	return rows
}

func statusGlyph(s model.RunStatus) string {
	switch s {
	case model.RunCompleted:
		return "✓"
	case model.RunFailed:
		return "✗"
	case model.RunRunning:
		return "▶"
	case model.RunCancelled:
		return "⊘"
	default:
		return "?"
	}
}

// formatSeconds renders a run duration. A running run has no final duration.
func formatSeconds(seconds float64, status model.RunStatus) string {
	if status == model.RunRunning {
		return "-"
	}
	return formatDuration(time.Duration(seconds * float64(time.Second)))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// renderStatusChart draws one glyph per run, oldest first, followed by the
// count per status.
func renderStatusChart(runs []model.PipelineRun, theme Theme) string {
	if len(runs) == 0 {
		return theme.Dim.Render(" No runs yet")
	}
	var strip strings.Builder
	counts := map[model.RunStatus]int{}
	for _, r := range chronological(runs, maxChartRuns) {
		strip.WriteString(theme.Status(r.Status).Render(statusGlyph(r.Status)))
	}
	for _, r := range runs {
		counts[r.Status]++
	}

	var totals []string
	for _, s := range []model.RunStatus{model.RunCompleted, model.RunFailed, model.RunRunning, model.RunCancelled} {
		if counts[s] > 0 {
			totals = append(totals, theme.Status(s).Render(fmt.Sprintf("%s %d", s, counts[s])))
		}
	}
	return " " + strip.String() + "  " + strings.Join(totals, "  ")
}

// sparkline scales finished run durations, oldest first, onto block
// characters. Running runs show as a gap.
func sparkline(runs []model.PipelineRun) (string, float64) {
	ordered := chronological(runs, maxChartRuns)
	peak := 0.0
	for _, r := range ordered {
		if r.Status != model.RunRunning {
			peak = math.Max(peak, r.Duration)
		}
	}
	var b strings.Builder
	for _, r := range ordered {
		if r.Status == model.RunRunning {
			b.WriteRune('·')
			continue
		}
		level := 0
		if peak > 0 {
			level = int(math.Round(r.Duration / peak * float64(len(sparkLevels)-1)))
		}
		b.WriteRune(sparkLevels[level])
	}
	return b.String(), peak
}

func renderDurationChart(runs []model.PipelineRun, theme Theme) string {
	if len(runs) == 0 {
		return theme.Dim.Render(" No durations yet")
	}
	line, peak := sparkline(runs)
	return fmt.Sprintf(" %s  %s", theme.Spark.Render(line),
		theme.Dim.Render("max "+formatDuration(time.Duration(peak*float64(time.Second)))))
}

func renderRuns(snap console.Snapshot, tbl table.Model, theme Theme, width int) string {
	runs, preview := visibleRuns(snap)
	title := fmt.Sprintf("RUNS (%d)", len(runs))
	if preview {
		title += theme.Dim.Render(" cached")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render(title),
		theme.Label.Render(" Status"),
		renderStatusChart(runs, theme),
		theme.Label.Render(" Duration"),
		renderDurationChart(runs, theme),
		tbl.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
