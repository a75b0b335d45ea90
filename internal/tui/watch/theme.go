// Package watch is the terminal binding for one trigger: a bubbletea program
// rendering a console.TriggerView and dispatching its run command.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipewatch/internal/model"
)

// Theme keeps every color of the watch screen in one place.
type Theme struct {
	StatusCompleted lipgloss.Style
	StatusRunning   lipgloss.Style
	StatusFailed    lipgloss.Style
	StatusCancelled lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Help      lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
	Spark          lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Label:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
		Spark:          lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
	}
}

// Status returns the style for a run status. Unknown statuses render dim.
func (t Theme) Status(s model.RunStatus) lipgloss.Style {
	switch s {
	case model.RunCompleted:
		return t.StatusCompleted
	case model.RunRunning:
		return t.StatusRunning
	case model.RunFailed:
		return t.StatusFailed
	case model.RunCancelled:
		return t.StatusCancelled
	default:
		return t.Dim
	}
}
