package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipewatch/internal/console"
	"github.com/mattjoyce/pipewatch/internal/dispatch"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/resolve"
)

type (
	tickMsg          time.Time
	changeMsg        events.Event
	changesClosedMsg struct{}
	runDoneMsg       dispatch.Outcome
)

// Option configures a Model.
type Option func(*Model)

// WithParams sets the params sent with every run command and the fields
// that must be present in them.
func WithParams(params model.Params, required ...string) Option {
	return func(m *Model) {
		m.params = params
		m.required = required
	}
}

// WithTheme overrides the default theme.
func WithTheme(theme Theme) Option {
	return func(m *Model) { m.theme = theme }
}

// WithClock overrides time.Now for the clock and activity indicator.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithTickInterval sets how often the screen re-reads the view. Each read
// also refetches entries that have gone stale.
func WithTickInterval(d time.Duration) Option {
	return func(m *Model) { m.interval = d }
}

// Model is the bubbletea model for one trigger screen.
type Model struct {
	ctx  context.Context
	view *console.TriggerView

	params   model.Params
	required []string

	changes     <-chan events.Event
	stopChanges func()

	width  int
	height int

	snap   console.Snapshot
	recent []events.Event

	ticker   Ticker
	activity Activity
	spin     spinner.Model
	runs     table.Model
	theme    Theme

	now      func() time.Time
	interval time.Duration
}

// New binds a screen to view. The caller owns view; Close only stops the
// change subscription.
func New(ctx context.Context, view *console.TriggerView, opts ...Option) *Model {
	m := &Model{
		ctx:      ctx,
		view:     view,
		ticker:   NewTicker(),
		spin:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		runs:     newRunsTable(),
		theme:    NewDefaultTheme(),
		now:      time.Now,
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.spin.Style = m.theme.StatusRunning

	changes, stop := view.Changes()
	m.changes = changes
	m.stopChanges = sync.OnceFunc(stop)
	m.refresh()
	return m
}

// Close stops the change subscription.
func (m Model) Close() {
	m.stopChanges()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.changes),
		m.tick(),
		m.spin.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Close()
			return m, tea.Quit
		case "r":
			if m.snap.Running || m.snap.Resolution.Phase != resolve.PhaseReady {
				return m, nil
			}
			done := m.view.RunAsync(m.ctx, m.params, m.required...)
			m.refresh()
			return m, waitForRun(done)
		case "R", "f":
			m.view.Refresh()
			m.refresh()
			return m, nil
		}
		var cmd tea.Cmd
		m.runs, cmd = m.runs.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runs.SetWidth(max(msg.Width-6, 20))
		m.runs.SetHeight(max(msg.Height-32, 3))

	case tickMsg:
		m.ticker.Tick()
		m.refresh()
		return m, m.tick()

	case changeMsg:
		m.recent = append([]events.Event{events.Event(msg)}, m.recent...)
		if len(m.recent) > maxChanges {
			m.recent = m.recent[:maxChanges]
		}
		m.activity.OnEvent(m.now())
		m.refresh()
		return m, waitForChange(m.changes)

	case changesClosedMsg:
		// No hub, or the subscription was stopped.

	case runDoneMsg:
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := renderHeader(m.snap, m.spin.View(), m.ticker, m.activity, m.theme, m.width, m.now())
	runs := renderRuns(m.snap, m.runs, m.theme, m.width)
	changes := renderChanges(m.recent, m.theme, m.width)

	help := m.theme.Help.Render(fmt.Sprintf(" [r] Run • [R] Refresh • [↑/↓] Runs • [q] Quit   %s/%s",
		m.view.PipelineID(), m.view.TriggerID()))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, runs, changes, help),
	)
}

// Snapshot returns the state rendered by the last frame.
func (m Model) Snapshot() console.Snapshot {
	return m.snap
}

func (m *Model) refresh() {
	m.snap = m.view.Snapshot()
	runs, _ := visibleRuns(m.snap)
	m.runs.SetRows(runRows(runs))
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForChange(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return changesClosedMsg{}
		}
		return changeMsg(ev)
	}
}

func waitForRun(done <-chan dispatch.Outcome) tea.Cmd {
	return func() tea.Msg {
		return runDoneMsg(<-done)
	}
}
