package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var (
	version   = "0.1.0-dev"
	gitCommit = ""
	buildDate = ""
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func newVersionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := currentVersionInfo()
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pipewatch %s (commit %s, built %s, %s)\n",
				info.Version, info.Commit, info.BuildTime, info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output version metadata as JSON")
	return cmd
}

// currentVersionInfo prefers -ldflags values and falls back to the VCS stamp
// the toolchain embeds. Missing values read "unknown".
func currentVersionInfo() versionInfo {
	vcs := buildSettings()

	commit := firstNonEmpty(gitCommit, vcs["vcs.revision"])
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit != "" && vcs["vcs.modified"] == "true" && gitCommit == "" {
		commit += "-dirty"
	}

	built := "unknown"
	if t, err := time.Parse(time.RFC3339Nano, firstNonEmpty(buildDate, vcs["vcs.time"])); err == nil {
		built = t.UTC().Format(time.RFC3339)
	}

	return versionInfo{
		Version:   firstNonEmpty(version, "0.0.0-dev"),
		Commit:    firstNonEmpty(commit, "unknown"),
		BuildTime: built,
		GoVersion: runtime.Version(),
	}
}

func buildSettings() map[string]string {
	out := make(map[string]string)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			out[s.Key] = s.Value
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
