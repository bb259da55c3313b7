package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/pullpilot/pkg/compose"
	"github.com/helvethink/pullpilot/pkg/config"
	"github.com/helvethink/pullpilot/pkg/store"
)

// fakeRuntime records the commands run, keyed "<step>:<deployment>".
type fakeRuntime struct {
	mutex      sync.Mutex
	calls      []string
	failures   map[string]error
	panics     map[string]bool
	containers map[string]int
	stdout     map[string]string

	// block, when set, is waited on by the pull step
	block chan struct{}
	// started is closed when the first pull step begins
	started     chan struct{}
	startedOnce sync.Once
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		failures:   map[string]error{},
		panics:     map[string]bool{},
		containers: map[string]int{},
		stdout:     map[string]string{},
		started:    make(chan struct{}),
	}
}

// step records a command. Like commands started with exec.CommandContext, a
// step fails once ctx is done.
func (f *fakeRuntime) step(ctx context.Context, step string, p compose.Project) (compose.Result, error) {
	key := step
	if p.Dir != "" {
		key = step + ":" + filepath.Base(p.Dir)
	}

	f.mutex.Lock()
	f.calls = append(f.calls, key)
	err := f.failures[key]
	doPanic := f.panics[key]
	out := f.stdout[key]
	f.mutex.Unlock()

	if doPanic {
		panic("boom on " + key)
	}

	if err != nil {
		return compose.Result{}, err
	}

	if ctx.Err() != nil {
		return compose.Result{}, fmt.Errorf("command %s: %w", key, ctx.Err())
	}

	return compose.Result{Command: key, Stdout: out, Duration: 20 * time.Millisecond}, nil
}

func (f *fakeRuntime) Calls() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) CallsFor(name string) (steps []string) {
	for _, c := range f.Calls() {
		if strings.HasSuffix(c, ":"+name) {
			steps = append(steps, strings.TrimSuffix(c, ":"+name))
		}
	}
	return
}

func (f *fakeRuntime) Called(key string) bool {
	for _, c := range f.Calls() {
		if c == key {
			return true
		}
	}
	return false
}

func (f *fakeRuntime) GitPull(ctx context.Context, p compose.Project) (compose.Result, error) {
	return f.step(ctx, "git", p)
}

func (f *fakeRuntime) RunningContainers(ctx context.Context, p compose.Project) (int, error) {
	key := "ps:" + filepath.Base(p.Dir)
	if _, err := f.step(ctx, "ps", p); err != nil {
		return 0, err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.containers[key], nil
}

func (f *fakeRuntime) Pull(ctx context.Context, p compose.Project) (compose.Result, error) {
	f.startedOnce.Do(func() { close(f.started) })

	if f.block != nil {
		<-f.block
	}

	return f.step(ctx, "pull", p)
}

func (f *fakeRuntime) Down(ctx context.Context, p compose.Project) (compose.Result, error) {
	return f.step(ctx, "down", p)
}

func (f *fakeRuntime) Up(ctx context.Context, p compose.Project) (compose.Result, error) {
	return f.step(ctx, "up", p)
}

func (f *fakeRuntime) PruneImages(ctx context.Context) (compose.Result, error) {
	return f.step(ctx, "prune", compose.Project{})
}

// projectsFixture describes a directory to create under the projects root.
type projectsFixture struct {
	name       string
	descriptor string // empty for no descriptor
	git        bool
}

func newProjectsRoot(t *testing.T, fixtures ...projectsFixture) string {
	t.Helper()

	root := t.TempDir()

	for _, f := range fixtures {
		dir := filepath.Join(root, f.name)
		require.NoError(t, os.MkdirAll(dir, 0o755))

		if f.descriptor != "" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, f.descriptor), []byte("services: {}\n"), 0o644))
		}

		if f.git {
			require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
		}
	}

	return root
}

// testController holds a controller wired to an in memory store and a fake runtime.
type testController struct {
	*Controller

	runtime *fakeRuntime

	waitsMutex sync.Mutex
	waits      []time.Duration
}

func (tc *testController) Waits() []time.Duration {
	tc.waitsMutex.Lock()
	defer tc.waitsMutex.Unlock()

	return append([]time.Duration(nil), tc.waits...)
}

func newTestController(t *testing.T, root string) *testController {
	t.Helper()

	cfg := config.New()
	cfg.Projects.Root = root

	ctx := context.Background()

	tc := &testController{runtime: newFakeRuntime()}
	tc.Controller = &Controller{
		Config:  cfg,
		Store:   store.NewLocalStore(),
		Runtime: tc.runtime,
		Status:  NewStatusTracker(),
		Metrics: NewUpdateMetrics(),
		Version: "test",
		UUID:    uuid.New(),
		root:    ctx,
	}

	tc.wait = func(_ context.Context, d time.Duration) error {
		tc.waitsMutex.Lock()
		defer tc.waitsMutex.Unlock()

		tc.waits = append(tc.waits, d)
		return nil
	}

	tc.TaskController = NewTaskController(ctx, nil, 10, cfg.JobReservationTimeout())
	tc.registerTasks()

	var err error
	tc.Scheduler, err = NewScheduler("UTC")
	require.NoError(t, err)

	t.Cleanup(func() {
		<-tc.Scheduler.Stop().Done()
		if tc.TaskController.Factory != nil {
			_ = tc.TaskController.Factory.Close()
		}
	})

	return tc
}

// discovered returns a controller whose registry already holds the fixtures.
func discovered(t *testing.T, fixtures ...projectsFixture) *testController {
	t.Helper()

	tc := newTestController(t, newProjectsRoot(t, fixtures...))
	_, err := tc.Discover(context.Background())
	require.NoError(t, err)

	return tc
}

func deploymentNames(n int) []projectsFixture {
	out := make([]projectsFixture, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, projectsFixture{name: fmt.Sprintf("app-%d", i), descriptor: "docker-compose.yml"})
	}
	return out
}
