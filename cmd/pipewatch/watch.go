package main

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/pipewatch/internal/console"
	"github.com/mattjoyce/pipewatch/internal/live"
	"github.com/mattjoyce/pipewatch/internal/tui/watch"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		params        string
		required      []string
		metricsListen string
		follow        bool
		refresh       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <pipeline-id> <trigger-id>",
		Short: "Interactive trigger console",
		Long: `Interactive trigger console: configuration, run status chart,
duration trend and run list, refreshed live.

Keys: r run, R refresh, up/down scroll runs, q quit.

Log lines go to log.file from the config, or are discarded.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readParams(params)
			if err != nil {
				return withExitCode(exitInvalid, err)
			}

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if metricsListen != "" {
				cfg.Metrics.Listen = metricsListen
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, io.Discard)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Metrics.Listen != "" {
				go func() {
					if err := serveMetrics(ctx, cfg.Metrics.Listen, a.metrics, a.logger); err != nil {
						a.logger.Error("metrics endpoint failed", "error", err)
					}
				}()
			}

			if follow {
				f := live.NewFollower(messagesURL(cfg), live.NewApplier(a.cache),
					live.WithToken(cfg.API.Token),
					live.WithStateFunc(func(ok bool, err error) {
						a.logger.Debug("message stream state", "connected", ok, "error", err)
					}),
				)
				go func() { _ = f.Run(ctx) }()
			}

			view := console.NewTriggerView(ctx, a.deps(), args[0], args[1])
			defer view.Close()

			m := watch.New(ctx, view,
				watch.WithParams(p, required...),
				watch.WithTickInterval(refresh),
			)
			defer m.Close()

			prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx),
				tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
			if _, err := prog.Run(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "Run params as a JSON object, or @file")
	cmd.Flags().StringSliceVar(&required, "require", nil, "Params fields that must be present")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&follow, "follow", false, "Apply push messages from the scheduler's message stream")
	cmd.Flags().DurationVar(&refresh, "refresh", time.Second, "Screen refresh interval")
	return cmd
}
