package compose

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/pullpilot/pkg/ratelimit"
)

// script writes an executable shell script into a temporary directory.
func script(t *testing.T, name, body string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return p
}

func newEchoRunner(t *testing.T) *Runner {
	t.Helper()

	echo := script(t, "fake", `echo "$@"`)
	r, err := NewRunner(context.Background(), RunnerConfig{
		ComposeCommand: echo + " compose",
		DockerBinary:   echo,
		GitBinary:      echo,
		Timeout:        10 * time.Second,
		RateLimiter:    ratelimit.NewLocalLimiter(1000, 1000),
	})
	require.NoError(t, err)

	return r
}

func TestRunnerCommands(t *testing.T) {
	r := newEchoRunner(t)
	ctx := context.Background()
	p := Project{Dir: t.TempDir()}

	res, err := r.GitPull(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"pull"}, res.StdoutLines())

	res, err = r.Pull(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"compose pull"}, res.StdoutLines())

	res, err = r.Down(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"compose down"}, res.StdoutLines())

	res, err = r.Up(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"compose up -d --build --remove-orphans"}, res.StdoutLines())
	assert.True(t, strings.HasSuffix(res.Command, "compose up -d --build --remove-orphans"))

	res, err = r.PruneImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"image prune -a -f"}, res.StdoutLines())

	assert.Equal(t, uint64(5), r.CommandsCounter.Load())
}

func TestRunnerRunningContainers(t *testing.T) {
	fake := script(t, "fake", `printf 'aaa\nbbb\n\nccc\n'`)
	r, err := NewRunner(context.Background(), RunnerConfig{ComposeCommand: fake})
	require.NoError(t, err)

	n, err := r.RunningContainers(context.Background(), Project{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRunnerNonZeroExit(t *testing.T) {
	fake := script(t, "fake", `echo partial; echo boom >&2; exit 3`)
	r, err := NewRunner(context.Background(), RunnerConfig{ComposeCommand: fake})
	require.NoError(t, err)

	res, err := r.Pull(context.Background(), Project{Dir: t.TempDir()})
	require.Error(t, err)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.ExitCode)
	assert.False(t, ce.TimedOut)
	assert.Equal(t, "boom\n", ce.Stderr)
	assert.Contains(t, ce.Error(), "exited with status 3")
	assert.Contains(t, ce.Error(), "stderr: boom")
	assert.Equal(t, []string{"partial"}, res.StdoutLines())
}

func TestRunnerTimeout(t *testing.T) {
	fake := script(t, "fake", `exec sleep 5`)
	r, err := NewRunner(context.Background(), RunnerConfig{ComposeCommand: fake, Timeout: time.Minute})
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Up(context.Background(), Project{Dir: t.TempDir(), Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.TimedOut)
	assert.Contains(t, ce.Error(), "timed out")
}

func TestRunnerMissingBinary(t *testing.T) {
	r, err := NewRunner(context.Background(), RunnerConfig{ComposeCommand: filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)

	_, err = r.Pull(context.Background(), Project{Dir: t.TempDir()})

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, -1, ce.ExitCode)
}

func TestDetectComposePlugin(t *testing.T) {
	docker := script(t, "docker", `if [ "$1" = "compose" ]; then echo 2.27.1; fi`)

	r, err := NewRunner(context.Background(), RunnerConfig{DockerBinary: docker})
	require.NoError(t, err)
	assert.Equal(t, []string{docker, "compose"}, r.Compose)
	assert.Equal(t, "v2.27.1", r.Version().Version)
}

func TestReadinessCheck(t *testing.T) {
	ok := script(t, "docker", `echo 27.0.1`)
	r, err := NewRunner(context.Background(), RunnerConfig{ComposeCommand: ok, DockerBinary: ok})
	require.NoError(t, err)
	assert.NoError(t, r.ReadinessCheck(context.Background())())

	ko := script(t, "docker", `exit 1`)
	r, err = NewRunner(context.Background(), RunnerConfig{ComposeCommand: ko, DockerBinary: ko})
	require.NoError(t, err)
	assert.Error(t, r.ReadinessCheck(context.Background())())
}

func TestVersion(t *testing.T) {
	assert.True(t, NewVersion("2.20.0\n").IsPlugin())
	assert.True(t, NewVersion("v2.0.0").IsPlugin())
	assert.False(t, NewVersion("1.29.2").IsPlugin())
	assert.False(t, NewVersion("").IsPlugin())
	assert.False(t, NewVersion("garbage").Valid())
}
