package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pipewatch/internal/config"
	"github.com/mattjoyce/pipewatch/internal/log"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
}

// exitError carries a specific exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "pipewatch",
		Short: "Operator console for a pipeline scheduler",
		Long: `pipewatch - inspect triggers, launch runs and review run history.

Reads the scheduler API location from a YAML config file:
  --config, $PIPEWATCH_CONFIG, ~/.config/pipewatch/config.yaml,
  /etc/pipewatch/config.yaml, or built-in defaults.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to configuration file or directory")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newPipelinesCmd(g),
		newTriggerCmd(g),
		newRunsCmd(g),
		newLogsCmd(g),
		newWatchCmd(g),
		newStubCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves and loads the configuration, then sets up logging.
// Log lines go to the configured file or, failing that, to stderr.
func (g *globals) loadConfig() (*config.Config, error) {
	path := config.Discover(g.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, withExitCode(2, fmt.Errorf("load config: %w", err))
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

// setupLogging points the global logger at w unless the config names a file.
func setupLogging(cfg *config.Config, w io.Writer) (func(), error) {
	if cfg.Log.File == "" {
		log.SetupWriter(w, cfg.Log.Level, cfg.Log.Format)
		return func() {}, nil
	}
	return log.SetupFile(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
}

// newApp loads the configuration and wires the client-side object graph.
func (g *globals) newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, logOut)
}
