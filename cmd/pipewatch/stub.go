package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pipewatch/internal/auth"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/metrics"
	"github.com/mattjoyce/pipewatch/internal/model"
	"github.com/mattjoyce/pipewatch/internal/stub"
)

func newStubCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "In-memory scheduler API for local development",
	}
	cmd.AddCommand(newStubServeCmd(g))
	return cmd
}

func newStubServeCmd(g *globals) *cobra.Command {
	var (
		listen        string
		seedPath      string
		prefix        string
		completeAfter time.Duration
		metricsListen string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stub scheduler API",
		Long: `Serve the stub scheduler API until interrupted.

The stub never executes tasks. A requested run is recorded as running and
marked completed after --complete-after (0 leaves it running). Changes are
pushed as server-sent events on <prefix>/messages.

Without --seed (or stub.seed in the config) a demo pipeline "etl" with a
"nightly" trigger is served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()
			logger := log.WithComponent("stub")

			if listen == "" {
				listen = cfg.Stub.Listen
			}
			if seedPath == "" {
				seedPath = cfg.Stub.Seed
			}
			if metricsListen == "" {
				metricsListen = cfg.Metrics.Listen
			}

			seed := stub.DefaultSeed(time.Now())
			if seedPath != "" {
				if seed, err = stub.LoadSeed(seedPath); err != nil {
					return withExitCode(exitConfig, err)
				}
			}

			var srv *stub.Server
			sched, err := stub.NewScheduler(seed,
				stub.WithCompleteAfter(completeAfter),
				stub.WithPublisher(func(m model.Message) {
					if srv != nil {
						srv.PublishMessage(m)
					}
				}),
			)
			if err != nil {
				return withExitCode(exitConfig, err)
			}
			defer sched.Close()

			tokens := make([]auth.TokenConfig, 0, len(cfg.Stub.Tokens))
			for _, t := range cfg.Stub.Tokens {
				tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
			}

			collector := metrics.New("")
			srv = stub.New(stub.Config{Listen: listen, Tokens: tokens, Prefix: prefix}, sched,
				stub.WithRecorder(collector),
				stub.WithMessageHub(events.NewHub(cfg.Cache.HubCapacity)),
				stub.WithLogger(logger),
			)

			ctx := cmd.Context()
			if metricsListen != "" {
				go func() {
					if err := serveMetrics(ctx, metricsListen, collector, logger); err != nil {
						logger.Error("metrics endpoint failed", "error", err)
					}
				}()
			}

			successColor.Fprintf(cmd.OutOrStdout(), "Stub API on http://%s%s (%d pipelines)\n",
				listen, prefix, len(sched.Pipelines()))
			if err := srv.Start(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				return fmt.Errorf("stub: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default stub.listen)")
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML seed file")
	cmd.Flags().StringVar(&prefix, "prefix", "/api", "API mount point")
	cmd.Flags().DurationVar(&completeAfter, "complete-after", 5*time.Second, "Mark requested runs completed after this long")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	return cmd
}
