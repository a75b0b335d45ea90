package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/mattjoyce/pipewatch/internal/model"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	dimColor     = color.New(color.FgHiBlack)
	labelColor   = color.New(color.FgWhite, color.Bold)
)

const timeLayout = "2006-01-02 15:04:05"

func statusColor(s model.RunStatus) *color.Color {
	switch s {
	case model.RunCompleted:
		return successColor
	case model.RunFailed:
		return errorColor
	case model.RunRunning:
		return warnColor
	default:
		return dimColor
	}
}

func levelColor(l model.LogLevel) *color.Color {
	switch l {
	case model.LevelError:
		return errorColor
	case model.LevelWarning:
		return warnColor
	case model.LevelDebug:
		return dimColor
	default:
		return labelColor
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("render JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printField(w io.Writer, label, value string) {
	labelColor.Fprintf(w, "  %-10s", label)
	fmt.Fprintln(w, value)
}

func printRuns(w io.Writer, runs []model.PipelineRun) {
	if len(runs) == 0 {
		dimColor.Fprintln(w, "  No runs")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "  #%-6d ", r.ID)
		statusColor(r.Status).Fprintf(w, "%-10s", r.Status)
		fmt.Fprintf(w, " %s  %s\n", r.StartTime.Local().Format(timeLayout), formatRunDuration(r))
	}
}

func printLogEntry(w io.Writer, e model.LogEntry) {
	dimColor.Fprintf(w, "%s ", e.Timestamp.Local().Format(timeLayout))
	levelColor(e.Level).Fprintf(w, "%-7s ", e.Level)
	fmt.Fprintf(w, "[%s] %s\n", e.Task, e.Message)
	if e.ExcInfo != "" {
		for _, line := range strings.Split(strings.TrimRight(e.ExcInfo, "\n"), "\n") {
			errorColor.Fprintf(w, "    %s\n", line)
		}
	}
}

func formatRunDuration(r model.PipelineRun) string {
	if r.Status == model.RunRunning {
		return "-"
	}
	return (time.Duration(r.Duration * float64(time.Second))).Round(100 * time.Millisecond).String()
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
