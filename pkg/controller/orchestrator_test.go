package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/pullpilot/pkg/schemas"
	"github.com/helvethink/pullpilot/pkg/store"
)

// closeTrackingStore counts the run logs written after Close.
type closeTrackingStore struct {
	store.Store

	closed     atomic.Bool
	lateWrites atomic.Int32
}

func (s *closeTrackingStore) AddRunLog(ctx context.Context, r *schemas.RunLogRecord) error {
	if s.closed.Load() {
		s.lateWrites.Add(1)
		return errors.New("store is closed")
	}

	return s.Store.AddRunLog(ctx, r)
}

func (s *closeTrackingStore) Close() error {
	s.closed.Store(true)
	return s.Store.Close()
}

func isClosed(ch <-chan struct{}) func() bool {
	return func() bool {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
}

func lastRunLog(t *testing.T, tc *testController) schemas.RunLogRecord {
	t.Helper()

	records, err := tc.ListHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	return records[0]
}

func TestRunGlobalUpdate(t *testing.T) {
	tc := discovered(t, standardFixtures()...)

	require.True(t, tc.RunGlobalUpdate(context.Background()))

	r := lastRunLog(t, tc)
	assert.Equal(t, schemas.RunLogStatusSuccess, r.Status)
	assert.Equal(t, "Global Update: 2 OK, 0 Errors", r.Summary)
	assert.NotEmpty(t, r.Details["alpha"])
	assert.NotEmpty(t, r.Details["beta"])
	assert.True(t, strings.HasPrefix(r.Details[schemas.CleanupLogKey][0], "cleanup done in"))

	var order []string
	for _, c := range tc.runtime.Calls() {
		if !strings.HasPrefix(c, "ps:") {
			order = append(order, c)
		}
	}
	assert.Equal(t, []string{"git:alpha", "pull:alpha", "up:alpha", "pull:beta", "up:beta", "prune"}, order)

	// one cooldown between alpha and beta, then the grace before pruning
	assert.Equal(t, []time.Duration{3 * time.Second, 10 * time.Second}, tc.Waits())

	assert.False(t, tc.GlobalUpdateRunning())
	assert.False(t, tc.CurrentStatus().Running)
}

func TestRunGlobalUpdateSkipsExcluded(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	_, err := tc.ToggleExcluded(context.Background(), "beta")
	require.NoError(t, err)

	require.True(t, tc.RunGlobalUpdate(context.Background()))

	r := lastRunLog(t, tc)
	assert.Equal(t, schemas.RunLogStatusSuccess, r.Status)
	assert.Equal(t, "Global Update: 1 OK, 0 Errors", r.Summary)
	assert.NotContains(t, r.Details, "beta")
	assert.Contains(t, r.Details, schemas.CleanupLogKey)
	assert.False(t, tc.runtime.Called("pull:beta"))

	alpha := r.Details["alpha"]
	assert.True(t, containsLine(alpha, LevelInfo, "git pull in"))
	assert.True(t, containsLine(alpha, LevelOK, "images pulled in"))
	assert.True(t, containsLine(alpha, LevelOK, "containers recreated in"))

	// excluded deployments can still be updated on demand
	success, _, err := tc.UpdateOne(context.Background(), "beta")
	require.NoError(t, err)
	assert.True(t, success)
	assert.Equal(t, "beta: OK", lastRunLog(t, tc).Summary)
}

func TestRunGlobalUpdateWithFailure(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	tc.runtime.failures["pull:alpha"] = errors.New("manifest unknown")

	require.True(t, tc.RunGlobalUpdate(context.Background()))

	r := lastRunLog(t, tc)
	assert.Equal(t, schemas.RunLogStatusError, r.Status)
	assert.Equal(t, "Global Update: 1 OK, 1 Errors", r.Summary)
	assert.Equal(t, []string{"cleanup skipped, 1 deployment(s) failed"}, r.Details[schemas.CleanupLogKey])

	// a failure does not stop the run
	assert.True(t, tc.runtime.Called("up:beta"))
	assert.False(t, tc.runtime.Called("prune"))
}

func TestRunGlobalUpdateCleanup(t *testing.T) {
	for _, count := range []int{0, 1, 3} {
		for _, failures := range []int{0, 1} {
			if failures > count {
				continue
			}

			for _, pruneFails := range []bool{false, true} {
				t.Run(fmt.Sprintf("%d deployments, %d failures, prune failure %v", count, failures, pruneFails), func(t *testing.T) {
					tc := discovered(t, deploymentNames(count)...)
					if failures > 0 {
						tc.runtime.failures["pull:app-0"] = errors.New("manifest unknown")
					}
					if pruneFails {
						tc.runtime.failures["prune"] = errors.New("daemon busy")
					}

					require.True(t, tc.RunGlobalUpdate(context.Background()))

					r := lastRunLog(t, tc)
					assert.Equal(t, fmt.Sprintf("Global Update: %d OK, %d Errors", count-failures, failures), r.Summary)

					cleanup := r.Details[schemas.CleanupLogKey]
					require.NotEmpty(t, cleanup)

					cooldowns := count - 1
					if cooldowns < 0 {
						cooldowns = 0
					}

					if failures > 0 {
						assert.Equal(t, schemas.RunLogStatusError, r.Status)
						assert.False(t, tc.runtime.Called("prune"))
						assert.Equal(t, fmt.Sprintf("cleanup skipped, %d deployment(s) failed", failures), cleanup[0])
						assert.Len(t, tc.Waits(), cooldowns)

						return
					}

					// a prune failure does not change the aggregate status
					assert.Equal(t, schemas.RunLogStatusSuccess, r.Status)
					assert.True(t, tc.runtime.Called("prune"))
					assert.Len(t, tc.Waits(), cooldowns+1)

					if pruneFails {
						assert.Equal(t, "cleanup failed: daemon busy", cleanup[0])
					} else {
						assert.True(t, strings.HasPrefix(cleanup[0], "cleanup done in"))
					}
				})
			}
		}
	}
}

func TestRunGlobalUpdateInterrupted(t *testing.T) {
	tc := discovered(t, deploymentNames(3)...)
	tc.wait = func(context.Context, time.Duration) error { return context.Canceled }

	require.True(t, tc.RunGlobalUpdate(context.Background()))

	r := lastRunLog(t, tc)
	assert.Equal(t, "Global Update: 1 OK, 2 Errors", r.Summary)
	assert.False(t, tc.runtime.Called("pull:app-1"))
	assert.False(t, tc.runtime.Called("prune"))
}

func TestRunGlobalUpdateAlreadyRunning(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	tc.running.Store(true)

	assert.False(t, tc.RunGlobalUpdate(context.Background()))
	assert.False(t, tc.runtime.Called("pull:alpha"))
	assert.False(t, tc.CurrentStatus().Running)

	records, err := tc.ListHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRunGlobalUpdateSingleFlight(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	tc.runtime.block = make(chan struct{})

	var (
		wg      sync.WaitGroup
		started bool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		started = tc.RunGlobalUpdate(context.Background())
	}()

	<-tc.runtime.started

	assert.True(t, tc.GlobalUpdateRunning())
	assert.False(t, tc.RunGlobalUpdate(context.Background()))

	status := tc.CurrentStatus()
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Current)
	assert.Equal(t, "alpha", status.CurrentTarget)
	assert.NotEmpty(t, status.RunID)

	close(tc.runtime.block)
	wg.Wait()

	assert.True(t, started)
	assert.False(t, tc.GlobalUpdateRunning())

	records, err := tc.ListHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestUpdateOnePersistsRunLog(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	tc.runtime.failures["up:alpha"] = errors.New("port is already allocated")

	success, lines, err := tc.UpdateOne(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, success)

	r := lastRunLog(t, tc)
	assert.Equal(t, schemas.RunLogStatusError, r.Status)
	assert.Equal(t, "alpha: ERROR", r.Summary)
	assert.Equal(t, lines, r.Details["alpha"])
}

func TestUpdateOneOutlivesCanceledCaller(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	tc.runtime.block = make(chan struct{})

	_, err := tc.ToggleFullStop(context.Background(), "alpha")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		success bool
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		success, _, err := tc.UpdateOne(ctx, "alpha")
		done <- outcome{success, err}
	}()

	// the caller goes away while the images are being pulled
	<-tc.runtime.started
	cancel()
	close(tc.runtime.block)

	o := <-done
	require.NoError(t, o.err)
	assert.True(t, o.success)
	assert.Equal(t, []string{"git", "pull", "down", "up"}, tc.runtime.CallsFor("alpha")[1:])
	assert.Equal(t, "alpha: OK", lastRunLog(t, tc).Summary)
}

func TestStopWaitsForTriggeredGlobalUpdate(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	st := &closeTrackingStore{Store: tc.Store}
	tc.Store = st
	tc.runtime.block = make(chan struct{})

	tc.TriggerGlobalUpdate()
	<-tc.runtime.started

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		tc.Stop(context.Background())
	}()

	assert.Never(t, isClosed(stopped), 200*time.Millisecond, 20*time.Millisecond)

	close(tc.runtime.block)
	require.Eventually(t, isClosed(stopped), 2*time.Second, 10*time.Millisecond)

	assert.True(t, st.closed.Load())
	assert.Zero(t, st.lateWrites.Load())

	records, err := st.Store.RunLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Global Update: 2 OK, 0 Errors", records[0].Summary)
}

func TestEnqueueUpdateUnknown(t *testing.T) {
	tc := discovered(t, standardFixtures()...)

	_, err := tc.EnqueueUpdate(context.Background(), "gamma")
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestEnqueueUpdateAlreadyQueued(t *testing.T) {
	tc := discovered(t, standardFixtures()...)

	queued, err := tc.Store.QueueTask(context.Background(), schemas.TaskTypeUpdateDeployment, "alpha", tc.UUID.String())
	require.NoError(t, err)
	require.True(t, queued)

	queued, err = tc.EnqueueUpdate(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestListHistoryLimit(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	tc.Config.Orchestrator.HistoryLimit = 2

	for i := 0; i < 3; i++ {
		_, _, err := tc.UpdateOne(context.Background(), "beta")
		require.NoError(t, err)
	}

	records, err := tc.ListHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = tc.ListHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
