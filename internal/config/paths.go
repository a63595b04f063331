package config

import (
	"os"
	"path/filepath"
)

// FlowlinePath returns the root directory for flowline data.
// It uses $FLOWLINE_PATH if set, otherwise defaults to ~/.flowline.
func FlowlinePath() string {
	if v := os.Getenv("FLOWLINE_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".flowline")
	}
	return filepath.Join(home, ".flowline")
}

// ConfigPath returns the path to the flowline config file.
func ConfigPath() string {
	return filepath.Join(FlowlinePath(), "config.jsonc")
}

// WorkspacesPath returns the root directory for workspace data.
func WorkspacesPath() string {
	return filepath.Join(FlowlinePath(), "workspaces")
}

// HeartbeatPath returns the path to the gateway heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(FlowlinePath(), "heartbeat.json")
}

// EventLogPath returns the path to the durable event log database.
func EventLogPath() string {
	return filepath.Join(FlowlinePath(), "events.db")
}
