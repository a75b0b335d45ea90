package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipewatch/internal/config"
	"github.com/mattjoyce/pipewatch/internal/doctor"
	"github.com/mattjoyce/pipewatch/internal/repository"
	"github.com/mattjoyce/pipewatch/internal/storage"
)

const redacted = "<redacted>"

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Check, read and edit the configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(g), newConfigGetCmd(g), newConfigSetCmd(g), newConfigEnvCmd())
	return cmd
}

func newConfigCheckCmd(g *globals) *cobra.Command {
	var (
		jsonOut bool
		probe   bool
		expect  string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Long: `Validate the configuration and report errors and warnings.

--probe also checks that the scheduler API answers and the snapshot backend
opens. --expect-fingerprint fails the check when the file's BLAKE3 differs,
e.g. to detect drift from a deployed copy. Exits 1 when the configuration is
invalid, 2 when it cannot be loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			var opts []doctor.Option
			if probe {
				opts = append(opts,
					doctor.WithAPI(repository.New(cfg.API.BaseURL,
						repository.WithToken(cfg.API.Token),
						repository.WithTimeout(cfg.API.Timeout),
					)),
					doctor.WithStoreOpener(storage.Open),
				)
			}
			result := doctor.New(cfg, opts...).Validate(cmd.Context())
			if expect != "" {
				checkFingerprint(result, cfg.SourcePath, expect)
			}

			w := cmd.OutOrStdout()
			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, out)
			} else {
				printCheckReport(w, result)
			}
			if !result.Valid {
				return withExitCode(1, fmt.Errorf("configuration invalid: %d error(s)", len(result.Errors)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&probe, "probe", false, "Check connectivity to the API and snapshot backend")
	cmd.Flags().StringVar(&expect, "expect-fingerprint", "", "Expected BLAKE3 of the config file")
	return cmd
}

func checkFingerprint(result *doctor.Result, path, expect string) {
	err := errors.New("no config file loaded")
	if path != "" {
		err = config.VerifyFingerprint(path, expect)
	}
	if err != nil {
		result.Errors = append(result.Errors, doctor.Issue{Category: "integrity", Field: "config", Message: err.Error()})
		result.Valid = false
	}
}

// printCheckReport colors the doctor's human report line by line.
func printCheckReport(w io.Writer, result *doctor.Result) {
	report := strings.TrimRight(doctor.FormatHuman(result), "\n")
	for _, line := range strings.Split(report, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "ERROR"), strings.HasPrefix(trimmed, "Configuration invalid"):
			errorColor.Fprintln(w, line)
		case strings.HasPrefix(trimmed, "WARN"):
			warnColor.Fprintln(w, line)
		case strings.HasPrefix(trimmed, "Configuration valid"):
			successColor.Fprintln(w, line)
		default:
			dimColor.Fprintln(w, line)
		}
	}
}

func newConfigGetCmd(g *globals) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get [path]",
		Short: "Print the effective configuration or one value",
		Long: `Print the effective configuration (file, ${VAR} expansion and PIPEWATCH_*
overrides applied), or the value at a dot-separated path such as
"api.base_url". Tokens and passwords are redacted unless --reveal is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			value, err := cfg.GetPath(path)
			if err != nil {
				return withExitCode(exitNotFound, err)
			}
			if !reveal {
				value = redact(lastSegment(path), value)
			}
			return printValue(cmd.OutOrStdout(), value)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show tokens and passwords")
	return cmd
}

func newConfigSetCmd(g *globals) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a value in the config file",
		Long: `Set a scalar at a dot-separated path in the config file. The edited file
must still validate; on failure nothing is written. ${VAR} references elsewhere
in the file are kept as written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.SetPath(args[0], args[1], !dryRun); err != nil {
				return withExitCode(exitConfig, err)
			}

			w := cmd.OutOrStdout()
			if dryRun {
				warnColor.Fprintf(w, "Dry run: %s would be set to %s\n", args[0], args[1])
				return nil
			}
			successColor.Fprintf(w, "Set %s = %s\n", args[0], args[1])
			dimColor.Fprintf(w, "%s\nBLAKE3: %s\n", cfg.SourcePath, cfg.Fingerprint)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without writing")
	return cmd
}

func newConfigEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables that override the config file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, line := range config.EnvUsage() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
		},
	}
}

func lastSegment(path string) string {
	path = strings.Trim(path, ".")
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// redact hides secret values. key is the map key value was found under.
func redact(key string, value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = redact(k, inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = redact(key, inner)
		}
		return out
	case string:
		if v != "" && (key == "token" || key == "password") {
			return redacted
		}
		return v
	default:
		return v
	}
}

func printValue(w io.Writer, value any) error {
	switch value.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("render value: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		_, err := fmt.Fprintln(w, value)
		return err
	}
}
