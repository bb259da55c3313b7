package compose

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/helvethink/pullpilot/pkg/ratelimit"
)

const (
	tracerName = "pullpilot"

	// DefaultTimeout bounds commands when neither the runner nor the project sets a timeout.
	DefaultTimeout = 15 * time.Minute

	detectionTimeout = 30 * time.Second
	readinessTimeout = 5 * time.Second
)

// Runner implements Runtime by running the docker, compose and git binaries
// as subprocesses.
type Runner struct {
	Compose []string      // Compose invocation, e.g. ["docker", "compose"] or ["docker-compose"]
	Docker  string        // Docker binary, used for image pruning and detection
	Git     string        // Git binary
	Timeout time.Duration // Timeout applied to commands whose project does not set one

	RateLimiter     ratelimit.Limiter        // RateLimiter paces command executions, none when nil.
	RateCounter     *ratecounter.RateCounter // RateCounter measures the amount of commands started per second.
	CommandsCounter atomic.Uint64            // CommandsCounter is the total amount of commands started.

	version Version
	mutex   sync.RWMutex
}

// RunnerConfig holds what NewRunner needs.
type RunnerConfig struct {
	// ComposeCommand forces the compose invocation, split on spaces. It is
	// detected when empty.
	ComposeCommand string

	DockerBinary string
	GitBinary    string
	Timeout      time.Duration
	RateLimiter  ratelimit.Limiter
}

// NewRunner returns a Runner, detecting the compose invocation unless one is forced.
func NewRunner(ctx context.Context, cfg RunnerConfig) (*Runner, error) {
	r := &Runner{
		Docker:      cfg.DockerBinary,
		Git:         cfg.GitBinary,
		Timeout:     cfg.Timeout,
		RateLimiter: cfg.RateLimiter,
		RateCounter: ratecounter.NewRateCounter(time.Second),
	}

	if r.Docker == "" {
		r.Docker = "docker"
	}

	if r.Git == "" {
		r.Git = "git"
	}

	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}

	if forced := strings.Fields(cfg.ComposeCommand); len(forced) > 0 {
		r.Compose = forced
		return r, nil
	}

	if err := r.detect(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// detect prefers the compose plugin of the docker CLI and falls back to the
// standalone docker-compose binary.
func (r *Runner) detect(ctx context.Context) error {
	res, err := r.run(ctx, "", detectionTimeout, r.Docker, "compose", "version", "--short")
	if err == nil {
		if v := NewVersion(res.Stdout); v.IsPlugin() {
			r.Compose = []string{r.Docker, "compose"}
			r.UpdateVersion(v)

			log.WithFields(log.Fields{
				"command": strings.Join(r.Compose, " "),
				"version": v.Version,
			}).Info("detected compose plugin")

			return nil
		}
	}

	path, lerr := exec.LookPath("docker-compose")
	if lerr != nil {
		if err == nil {
			err = lerr
		}
		return errors.Wrap(err, "neither 'docker compose' nor 'docker-compose' is available")
	}

	r.Compose = []string{path}

	if res, err = r.run(ctx, "", detectionTimeout, path, "version", "--short"); err == nil {
		r.UpdateVersion(NewVersion(res.Stdout))
	}

	log.WithFields(log.Fields{
		"command": path,
		"version": r.Version().Version,
	}).Info("falling back to standalone docker-compose")

	return nil
}

// UpdateVersion records the detected compose release.
func (r *Runner) UpdateVersion(version Version) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.version = version
}

// Version returns the detected compose release, empty when unknown.
func (r *Runner) Version() Version {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.version
}

// GitPull implements Runtime.
func (r *Runner) GitPull(ctx context.Context, p Project) (Result, error) {
	return r.run(ctx, p.Dir, p.Timeout, r.Git, "pull")
}

// RunningContainers implements Runtime.
func (r *Runner) RunningContainers(ctx context.Context, p Project) (int, error) {
	res, err := r.compose(ctx, p, "ps", "-q")
	if err != nil {
		return 0, err
	}

	return len(res.StdoutLines()), nil
}

// Pull implements Runtime.
func (r *Runner) Pull(ctx context.Context, p Project) (Result, error) {
	return r.compose(ctx, p, "pull")
}

// Down implements Runtime.
func (r *Runner) Down(ctx context.Context, p Project) (Result, error) {
	return r.compose(ctx, p, "down")
}

// Up implements Runtime.
func (r *Runner) Up(ctx context.Context, p Project) (Result, error) {
	return r.compose(ctx, p, "up", "-d", "--build", "--remove-orphans")
}

// PruneImages implements Runtime.
func (r *Runner) PruneImages(ctx context.Context) (Result, error) {
	return r.run(ctx, "", 0, r.Docker, "image", "prune", "-a", "-f")
}

// ReadinessCheck returns a healthcheck.Check verifying the docker daemon answers.
func (r *Runner) ReadinessCheck(ctx context.Context) healthcheck.Check {
	return func() error {
		_, err := r.run(ctx, "", readinessTimeout, r.Docker, "version", "--format", "{{.Server.Version}}")
		return err
	}
}

func (r *Runner) compose(ctx context.Context, p Project, args ...string) (Result, error) {
	if len(r.Compose) == 0 {
		return Result{}, errors.New("compose command is not configured")
	}

	argv := make([]string, 0, len(r.Compose)-1+len(args))
	argv = append(argv, r.Compose[1:]...)
	argv = append(argv, args...)

	return r.run(ctx, p.Dir, p.Timeout, r.Compose[0], argv...)
}

// run executes a command in dir and waits for it, killing it once timeout
// (or the runner default when zero) elapses.
func (r *Runner) run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (res Result, err error) {
	res.Command = strings.Join(append([]string{name}, args...), " ")

	ctx, span := otel.Tracer(tracerName).Start(ctx, "compose:run")
	defer span.End()
	span.SetAttributes(attribute.String("command", res.Command))
	span.SetAttributes(attribute.String("dir", dir))

	if r.RateLimiter != nil {
		if err = ratelimit.Take(ctx, r.RateLimiter); err != nil {
			err = errors.Wrapf(err, "waiting to run '%s'", res.Command)
			span.SetStatus(codes.Error, err.Error())
			return
		}
	}

	if r.RateCounter != nil {
		r.RateCounter.Incr(1)
	}
	r.CommandsCounter.Add(1)

	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// grandchildren may keep the pipes open after a kill
	cmd.WaitDelay = 5 * time.Second

	log.WithContext(ctx).
		WithFields(log.Fields{
			"command": res.Command,
			"dir":     dir,
			"timeout": timeout.String(),
		}).
		Debug("running command")

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if runErr == nil {
		return
	}

	ce := &CommandError{
		Command:  res.Command,
		ExitCode: -1,
		Stderr:   res.Stderr,
		Err:      runErr,
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
	}

	if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		ce.TimedOut = true
		ce.Err = errors.Wrapf(context.DeadlineExceeded, "after %s", timeout)
	}

	span.SetStatus(codes.Error, ce.Error())

	return res, ce
}
