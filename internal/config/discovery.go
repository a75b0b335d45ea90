package config

import (
	"os"
	"path/filepath"
)

// Discover returns the config file to load. Priority order: explicit path,
// $PIPEWATCH_CONFIG, ~/.config/pipewatch/config.yaml, /etc/pipewatch/config.yaml.
// An empty result means no file was found and Defaults apply.
func Discover(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	for _, candidate := range candidatePaths() {
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func candidatePaths() []string {
	var paths []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "pipewatch", "config.yaml"))
	}
	return append(paths, "/etc/pipewatch/config.yaml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
