package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pipewatch/internal/config"
	"github.com/mattjoyce/pipewatch/internal/live"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/repository"
)

func newRunsCmd(g *globals) *cobra.Command {
	var (
		chronological bool
		jsonOut       bool
		limit         int
		status        string
	)
	cmd := &cobra.Command{
		Use:   "runs <pipeline-id> <trigger-id>",
		Short: "List the runs of a trigger",
		Long: `List the runs of a trigger, newest first.

--chronological lists oldest first, the order used by status charts.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !model.RunStatus(status).Valid() {
				return withExitCode(exitConfig, fmt.Errorf("unknown status %q", status))
			}

			ctx := cmd.Context()
			a, err := g.newApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			v, snap, err := a.view(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			defer v.Close()
			if err := resolutionError(snap.Resolution); err != nil {
				return err
			}

			runs := filterRuns(snap.Resolution.Runs, model.RunStatus(status), limit)
			if chronological {
				slices.Reverse(runs)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd.OutOrStdout(), runs)
			printRunSummary(cmd.OutOrStdout(), snap.Resolution.Runs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&chronological, "chronological", false, "List oldest first")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 0, "Only the N newest runs (0 lists all)")
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status")
	return cmd
}

// filterRuns copies runs (newest first), keeping those with status and at
// most limit of them.
func filterRuns(runs []model.PipelineRun, status model.RunStatus, limit int) []model.PipelineRun {
	out := make([]model.PipelineRun, 0, len(runs))
	for _, r := range runs {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func printRunSummary(w io.Writer, runs []model.PipelineRun) {
	if len(runs) == 0 {
		return
	}
	counts := map[model.RunStatus]int{}
	var total float64
	finished := 0
	for _, r := range runs {
		counts[r.Status]++
		if r.Status.Terminal() {
			total += r.Duration
			finished++
		}
	}
	var parts []string
	for _, s := range []model.RunStatus{model.RunCompleted, model.RunFailed, model.RunRunning, model.RunCancelled} {
		if counts[s] > 0 {
			parts = append(parts, statusColor(s).Sprintf("%d %s", counts[s], s))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %d runs: %s", len(runs), strings.Join(parts, ", "))
	if finished > 0 {
		mean := model.PipelineRun{Status: model.RunCompleted, Duration: total / float64(finished)}
		fmt.Fprintf(w, "  mean duration %s", formatRunDuration(mean))
	}
	fmt.Fprintln(w)
}

func newLogsCmd(g *globals) *cobra.Command {
	var (
		jsonOut bool
		follow  bool
		level   string
	)
	cmd := &cobra.Command{
		Use:   "logs <pipeline-id> <run-id>",
		Short: "Show the task logs of a run",
		Long: `Show the task logs of a run.

--follow keeps streaming new lines from the scheduler's message stream until
the run finishes or the command is interrupted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return withExitCode(exitConfig, fmt.Errorf("invalid run id %q", args[1]))
			}
			minLevel := model.LogLevel(strings.ToUpper(level))

			ctx := cmd.Context()
			a, err := g.newApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if !follow {
				entries, err := a.client.ListRunLogs(ctx, args[0], runID)
				if err != nil {
					if repository.IsNotFound(err) {
						return withExitCode(exitNotFound, err)
					}
					return err
				}
				entries = filterLogs(entries, minLevel)
				if jsonOut {
					return printJSON(w, entries)
				}
				for _, e := range entries {
					printLogEntry(w, e)
				}
				return nil
			}

			return followLogs(ctx, a, args[0], runID, func(e model.LogEntry) {
				if !levelAtLeast(e.Level, minLevel) {
					return
				}
				if jsonOut {
					_ = printJSON(w, e)
					return
				}
				printLogEntry(w, e)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new log lines until the run finishes")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warning, error)")
	return cmd
}

var levelRank = map[model.LogLevel]int{
	model.LevelDebug:   0,
	model.LevelInfo:    1,
	model.LevelWarning: 2,
	model.LevelError:   3,
}

func levelAtLeast(l, min model.LogLevel) bool {
	if min == "" {
		return true
	}
	return levelRank[l] >= levelRank[min]
}

func filterLogs(entries []model.LogEntry, min model.LogLevel) []model.LogEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if levelAtLeast(e.Level, min) {
			out = append(out, e)
		}
	}
	return out
}

func decodeMessage(msg model.Message, target any) error {
	if err := json.Unmarshal(msg.Data, target); err != nil {
		return fmt.Errorf("decode %s message: %w", msg.Type, err)
	}
	return nil
}

// messagesURL is the push message stream served next to the REST API.
func messagesURL(cfg *config.Config) string {
	return strings.TrimRight(cfg.API.BaseURL, "/") + "/messages"
}

// runLogFollower feeds push messages to the cache and picks out the log lines
// and terminal status of one run.
type runLogFollower struct {
	pipelineID string
	runID      int64
	applier    *live.Applier

	lines chan model.LogEntry
	done  chan struct{}
	once  sync.Once
}

func (f *runLogFollower) HandleLog(ctx context.Context, ev model.LogEvent) error {
	if ev.PipelineID != f.pipelineID || ev.RunID != f.runID {
		return nil
	}
	select {
	case f.lines <- ev.LogEntry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *runLogFollower) Apply(ctx context.Context, msg model.Message) error {
	if err := f.applier.Apply(ctx, msg); err != nil {
		return err
	}
	if msg.Type != model.MessageRun {
		return nil
	}
	var ev model.RunEvent
	if err := decodeMessage(msg, &ev); err != nil {
		return err
	}
	if ev.PipelineID == f.pipelineID && ev.RunID == f.runID && ev.Status.Terminal() {
		f.once.Do(func() { close(f.done) })
	}
	return nil
}

// followLogs subscribes to the message stream first, then prints the logs
// already recorded, then streams the rest. Lines are printed once each.
func followLogs(ctx context.Context, a *app, pipelineID string, runID int64, show func(model.LogEntry)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f := &runLogFollower{
		pipelineID: pipelineID,
		runID:      runID,
		lines:      make(chan model.LogEntry, 256),
		done:       make(chan struct{}),
	}
	f.applier = live.NewApplier(a.cache, live.WithLogSink(f))

	connected := make(chan struct{})
	var connectOnce sync.Once
	follower := live.NewFollower(messagesURL(a.cfg), f,
		live.WithToken(a.cfg.API.Token),
		live.WithStateFunc(func(ok bool, err error) {
			if ok {
				connectOnce.Do(func() { close(connected) })
				return
			}
			a.logger.Debug("message stream down", "error", err)
		}),
	)
	go func() { _ = follower.Run(ctx) }()

	select {
	case <-connected:
	case <-ctx.Done():
		return ctx.Err()
	}

	seen := map[int64]bool{}
	emit := func(e model.LogEntry) {
		if seen[e.ID] {
			return
		}
		seen[e.ID] = true
		show(e)
	}
	backfill := func() error {
		entries, err := a.client.ListRunLogs(ctx, pipelineID, runID)
		if err != nil {
			if repository.IsNotFound(err) {
				return withExitCode(exitNotFound, err)
			}
			return err
		}
		for _, e := range entries {
			emit(e)
		}
		return nil
	}
	if err := backfill(); err != nil {
		return err
	}
	// A run that finished before the stream connected sends no further
	// message, so check where it stands now.
	status, err := runStatus(ctx, a.client, pipelineID, runID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return backfill()
	}

	for {
		select {
		case e := <-f.lines:
			emit(e)
		case <-f.done:
			// The final lines may still be in flight on the stream.
			return backfill()
		case <-ctx.Done():
			return nil
		}
	}
}

// runStatus finds runID among the runs of the pipeline's triggers. The API
// has no run-by-id route. A run that is not listed reads as running.
func runStatus(ctx context.Context, client *repository.Client, pipelineID string, runID int64) (model.RunStatus, error) {
	p, err := client.GetPipeline(ctx, pipelineID)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", withExitCode(exitNotFound, err)
		}
		return "", err
	}
	triggerIDs := []string{model.ManualTriggerID}
	for _, t := range p.Triggers {
		triggerIDs = append(triggerIDs, t.ID)
	}
	for _, tid := range triggerIDs {
		runs, err := client.ListRuns(ctx, pipelineID, tid)
		if err != nil {
			return "", err
		}
		for _, r := range runs {
			if r.ID == runID {
				return r.Status, nil
			}
		}
	}
	return model.RunRunning, nil
}
