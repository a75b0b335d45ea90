package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pipewatch/internal/console"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/repository"
	"github.com/mattjoyce/pipewatch/internal/resolve"
)

// Exit codes beyond the generic 1.
const (
	exitConfig   = 2
	exitNotFound = 3
	exitInvalid  = 4
)

func newTriggerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Inspect and run triggers",
		Long: `Inspect and run triggers.

A trigger id of "manual" addresses on-demand runs of a pipeline.

Exit codes: 1 failure, 2 configuration, 3 not found, 4 invalid params.`,
	}
	cmd.AddCommand(newTriggerShowCmd(g), newTriggerRunCmd(g), newTriggerURLCmd(g))
	return cmd
}

// triggerInfo is the JSON shape of trigger show.
type triggerInfo struct {
	PipelineID   string              `json:"pipeline_id"`
	Pipeline     string              `json:"pipeline"`
	TriggerID    string              `json:"trigger_id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Kind         string              `json:"kind"`
	Schedule     string              `json:"schedule,omitempty"`
	NextFireTime *time.Time          `json:"next_fire_time,omitempty"`
	Paused       bool                `json:"paused,omitempty"`
	Params       model.Params        `json:"params,omitempty"`
	RunURL       string              `json:"run_url"`
	Runs         []model.PipelineRun `json:"runs"`
}

func newTriggerInfo(snap console.Snapshot) triggerInfo {
	res := snap.Resolution
	info := triggerInfo{
		PipelineID:  res.PipelineID,
		Pipeline:    res.Pipeline.Name,
		TriggerID:   res.TriggerID,
		Name:        res.Trigger.TriggerName(),
		Description: res.Trigger.TriggerDescription(),
		Kind:        res.Trigger.Kind().String(),
		Params:      res.Trigger.TriggerParams(),
		RunURL:      snap.RunURL,
		Runs:        res.Runs,
	}
	if t, ok := res.Trigger.(model.ScheduledTrigger); ok {
		info.Schedule = t.Schedule
		info.NextFireTime = t.NextFireTime
		info.Paused = t.Paused
	}
	return info
}

func newTriggerShowCmd(g *globals) *cobra.Command {
	var (
		jsonOut bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "show <pipeline-id> <trigger-id>",
		Short: "Show trigger configuration and recent runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			info := newTriggerInfo(snap)
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			printTrigger(cmd.OutOrStdout(), info, limit)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 5, "Number of recent runs to list")
	return cmd
}

func printTrigger(w io.Writer, info triggerInfo, limit int) {
	headerColor.Fprintf(w, "Trigger %s\n", info.Name)
	if info.Description != "" {
		dimColor.Fprintf(w, "  %s\n", info.Description)
	}
	pipeline := info.PipelineID
	if info.Pipeline != "" {
		pipeline = fmt.Sprintf("%s (%s)", info.Pipeline, info.PipelineID)
	}
	printField(w, "Pipeline", pipeline)
	printField(w, "Kind", info.Kind)
	if info.Kind == model.KindScheduled.String() {
		printField(w, "Schedule", orDash(info.Schedule))
		next := "-"
		if info.NextFireTime != nil {
			next = info.NextFireTime.Local().Format(timeLayout)
		}
		if info.Paused {
			next += " (paused)"
		}
		printField(w, "Next run", next)
	}
	printField(w, "Params", formatParams(info.Params))
	printField(w, "Run URL", info.RunURL)
	fmt.Fprintln(w)

	headerColor.Fprintf(w, "Recent runs (%d total)\n", len(info.Runs))
	runs := info.Runs
	if limit >= 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	printRuns(w, runs)
}

func newTriggerRunCmd(g *globals) *cobra.Command {
	var (
		params      string
		required    []string
		wait        bool
		waitTimeout time.Duration
		poll        time.Duration
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "run <pipeline-id> <trigger-id>",
		Short: "Start a run of a trigger",
		Long: `Start a run of a trigger.

--params takes a JSON object, or @file to read one from a file.
--require names params fields that must be present before the request is sent.
--wait polls the run list until the new run finishes; a failed or cancelled
run then exits 1.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := readParams(params)
			if err != nil {
				return withExitCode(exitInvalid, err)
			}

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

			res, err := v.Run(ctx, p, required...)
			if err != nil {
				if repository.IsValidation(err) {
					return withExitCode(exitInvalid, err)
				}
				return err
			}

			if !wait {
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), res)
				}
				successColor.Fprintf(cmd.OutOrStdout(), "Started run #%d\n", res.RunID)
				return nil
			}

			if !jsonOut {
				successColor.Fprintf(cmd.OutOrStdout(), "Started run #%d, waiting...\n", res.RunID)
			}
			run, err := waitForRun(ctx, v, res.RunID, poll, waitTimeout)
			if err != nil {
				return err
			}
			if jsonOut {
				if err := printJSON(cmd.OutOrStdout(), run); err != nil {
					return err
				}
			} else {
				printRuns(cmd.OutOrStdout(), []model.PipelineRun{run})
			}
			if run.Status != model.RunCompleted {
				return fmt.Errorf("run #%d %s", run.ID, run.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "Run params as a JSON object, or @file")
	cmd.Flags().StringSliceVar(&required, "require", nil, "Params fields that must be present")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 10*time.Minute, "Give up waiting after this long")
	cmd.Flags().DurationVar(&poll, "poll-interval", 2*time.Second, "How often to refresh the run list while waiting")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// waitForRun refreshes the view until runID appears with a terminal status.
func waitForRun(ctx context.Context, v *console.TriggerView, runID int64, poll, timeout time.Duration) (model.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		snap, err := v.Await(ctx)
		if err != nil {
			return model.PipelineRun{}, fmt.Errorf("waiting for run #%d: %w", runID, err)
		}
		if snap.Resolution.Phase == resolve.PhaseReady {
			for _, r := range snap.Resolution.Runs {
				if r.ID == runID && r.Status.Terminal() {
					return r, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return model.PipelineRun{}, fmt.Errorf("waiting for run #%d: %w", runID, ctx.Err())
		case <-ticker.C:
			v.Refresh()
		}
	}
}

func newTriggerURLCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "url <pipeline-id> <trigger-id>",
		Short: "Print the URL that runs a trigger via HTTP POST",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), repository.TriggerRunURL(cfg.API.BaseURL, args[0], args[1]))
			return nil
		},
	}
}

// resolutionError maps a non-ready resolution to a command error.
func resolutionError(res resolve.Resolution) error {
	switch res.Phase {
	case resolve.PhaseReady:
		return nil
	case resolve.PhaseNotFound:
		return withExitCode(exitNotFound, res.Err)
	case resolve.PhaseError:
		if repository.IsNotFound(res.Err) {
			return withExitCode(exitNotFound, res.Err)
		}
		return res.Err
	default:
		return errors.New("trigger state is still loading")
	}
}

// readParams parses --params. "@path" reads the payload from a file.
func readParams(raw string) (model.Params, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		var err error
		data, err = os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("read params: %w", err)
		}
	}
	p := model.Params(data)
	if _, err := p.Fields(); err != nil {
		return nil, &repository.ValidationError{Field: "params", Message: err.Error()}
	}
	return p, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
