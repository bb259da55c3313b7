package compose

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Project locates a deployment for the runtime and bounds its commands.
type Project struct {
	Dir string

	// Timeout bounds every single command run for this project, the runner
	// default applies when zero.
	Timeout time.Duration
}

// Result is the outcome of a successful command.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// StdoutLines returns the non empty lines of the command output.
func (r Result) StdoutLines() []string {
	return nonEmptyLines(r.Stdout)
}

// Runtime is the set of external commands the update pipeline relies on.
// A non zero exit status is the only failure signal.
type Runtime interface {
	// GitPull fast forwards the working copy of the project.
	GitPull(ctx context.Context, p Project) (Result, error)

	// RunningContainers counts the running containers of the project (compose ps -q).
	RunningContainers(ctx context.Context, p Project) (int, error)

	// Pull refreshes the images of the project.
	Pull(ctx context.Context, p Project) (Result, error)

	// Down stops and removes every container of the project.
	Down(ctx context.Context, p Project) (Result, error)

	// Up recreates the containers of the project in the background, building
	// local images and removing orphans.
	Up(ctx context.Context, p Project) (Result, error)

	// PruneImages removes every image not used by a container. Volumes and
	// containers are left alone.
	PruneImages(ctx context.Context) (Result, error)
}

// CommandError is returned when a command could not be started, exited with a
// non zero status or timed out.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "command '%s'", e.Command)

	switch {
	case e.TimedOut:
		b.WriteString(" timed out")
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, " exited with status %d", e.ExitCode)
	default:
		b.WriteString(" failed")
	}

	if e.Err != nil && !e.TimedOut {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		fmt.Fprintf(&b, ", stderr: %s", stderr)
	}

	return b.String()
}

func (e *CommandError) Unwrap() error { return e.Err }

func nonEmptyLines(s string) (lines []string) {
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimRight(l, "\r "); strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return
}
