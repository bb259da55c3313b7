package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/helvethink/pullpilot/pkg/compose"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// Levels of the lines of a run log.
const (
	LevelInfo  = "INFO"
	LevelOK    = "OK"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

const runLogTimeLayout = "2006-01-02 15:04:05"

// runLog accumulates the user visible lines of a deployment update and
// mirrors them to the process logs.
type runLog struct {
	ctx   context.Context
	name  string
	lines []string
}

func (l *runLog) add(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.lines = append(l.lines, fmt.Sprintf("%s [%s] %s", time.Now().Format(runLogTimeLayout), level, msg))

	log.WithContext(l.ctx).
		WithFields(log.Fields{
			"deployment-name": l.name,
			"level":           level,
		}).
		Debug(msg)
}

func (l *runLog) fold(r compose.Result) {
	for _, line := range r.StdoutLines() {
		l.add(LevelInfo, "%s", line)
	}
}

// UpdateDeployment runs the update pipeline of a single deployment: optional
// git sync, image pull, stop when in full stop mode, then recreate. It never
// fails outward, every failure ends up as a false result and a FATAL line.
func (c *Controller) UpdateDeployment(ctx context.Context, name string) (success bool, lines []string) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:UpdateDeployment")
	defer span.End()
	span.SetAttributes(attribute.String("deployment_name", name))

	l := &runLog{ctx: ctx, name: name}
	start := time.Now()

	// only known deployments get metric series
	known := false

	defer func() {
		if r := recover(); r != nil {
			log.WithContext(ctx).
				WithField("deployment-name", name).
				WithField("stack", string(debug.Stack())).
				Error("recovered from a panic while updating deployment")

			l.add(LevelFatal, "unexpected failure: %v", r)
			success = false
		}

		lines = l.lines
		if !success {
			span.SetStatus(codes.Error, "update failed")
		}

		if known {
			c.Metrics.ObserveUpdate(name, success, time.Since(start))
		}
	}()

	d := schemas.DeploymentSettings{Name: name}
	if err := c.Store.GetDeployment(ctx, &d); err != nil {
		if errors.Is(err, schemas.ErrNotFound) {
			l.add(LevelFatal, "deployment %s not found", name)
		} else {
			l.add(LevelFatal, "reading deployment %s: %v", name, err)
		}

		return false, nil
	}
	known = true

	p := c.composeProject(d)

	l.add(LevelInfo, "=== starting update of %s ===", name)

	c.gitSync(ctx, l, p)

	l.add(LevelInfo, "> compose pull")
	if !runStep(l, "images pulled", func() (compose.Result, error) { return c.Runtime.Pull(ctx, p) }) {
		return false, nil
	}

	if d.FullStop {
		l.add(LevelInfo, "> compose down (full stop mode)")
		if !runStep(l, "containers stopped", func() (compose.Result, error) { return c.Runtime.Down(ctx, p) }) {
			return false, nil
		}
	}

	l.add(LevelInfo, "> compose up -d --build --remove-orphans")
	if !runStep(l, "containers recreated", func() (compose.Result, error) { return c.Runtime.Up(ctx, p) }) {
		return false, nil
	}

	l.add(LevelOK, "=== update of %s completed in %s ===", name, roundDuration(time.Since(start)))

	return true, nil
}

// gitSync fast forwards the working copy, when there is one. Failures are
// logged and never stop the pipeline.
func (c *Controller) gitSync(ctx context.Context, l *runLog, p compose.Project) {
	if fi, err := os.Stat(filepath.Join(p.Dir, ".git")); err != nil || !fi.IsDir() {
		l.add(LevelInfo, "> skipping git pull, not a git working copy: %s", p.Dir)
		return
	}

	l.add(LevelInfo, "> git pull in %s", p.Dir)

	r, err := c.Runtime.GitPull(ctx, p)
	if err != nil {
		l.add(LevelError, "git pull failed, continuing: %v", err)
		return
	}

	if len(r.StdoutLines()) == 0 {
		l.add(LevelInfo, "Git: Already up to date.")
	} else {
		l.fold(r)
	}

	l.add(LevelOK, "git pull done in %s", roundDuration(r.Duration))
}

// runStep runs a fatal step and logs its outcome.
func runStep(l *runLog, done string, step func() (compose.Result, error)) bool {
	r, err := step()
	if err != nil {
		l.add(LevelFatal, "%v", err)
		return false
	}

	l.fold(r)
	l.add(LevelOK, "%s in %s", done, roundDuration(r.Duration))

	return true
}

func roundDuration(d time.Duration) time.Duration {
	return d.Round(10 * time.Millisecond)
}
