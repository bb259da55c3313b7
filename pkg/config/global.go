package config

import (
	"net/url"
)

// Global contains configuration settings that only come from the command line
// and are shared across the whole process.
type Global struct {
	// InternalMonitoringListenerAddress is where the monitor TUI reaches the
	// running instance: its HTTP API (e.g. http://127.0.0.1:8000) or a
	// dedicated unix socket (e.g. unix:///run/pullpilot-monitor.sock).
	InternalMonitoringListenerAddress *url.URL
}
