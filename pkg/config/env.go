package config

import "path/filepath"

// Environment variables honoured on top of the configuration file, kept for
// compatibility with container images built for earlier releases.
const (
	EnvProjectsRoot = "PROJECTS_ROOT"
	EnvDataDir      = "DATA_DIR"
	EnvTimezone     = "TZ"
)

// sqliteFileName is the database file created inside DATA_DIR.
const sqliteFileName = "pullpilot.db"

// ApplyEnvironment overrides the configuration with the environment variables
// returned by getenv (usually os.Getenv).
func (c *Config) ApplyEnvironment(getenv func(string) string) {
	if root := getenv(EnvProjectsRoot); root != "" {
		c.Projects.Root = root
	}

	if dir := getenv(EnvDataDir); dir != "" {
		c.Store.SQLitePath = filepath.Join(dir, sqliteFileName)
	}

	if tz := getenv(EnvTimezone); tz != "" {
		c.Scheduler.Timezone = tz
	}
}
