// Package storetest provides contract tests for [store.Store] implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/pullpilot/pkg/schemas"
	"github.com/helvethink/pullpilot/pkg/store"
)

// Factory creates a fresh, empty [store.Store] for each test invocation.
type Factory func(t *testing.T) store.Store

// Run exercises the [store.Store] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("DeploymentsCRUD", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		alpha := schemas.DeploymentSettings{Name: "alpha", Path: "/srv/alpha", FullStop: true}
		require.NoError(t, s.SetDeployment(ctx, alpha))
		require.NoError(t, s.SetDeployment(ctx, schemas.DeploymentSettings{Name: "beta", Path: "/srv/beta"}))

		exists, err := s.DeploymentExists(ctx, "alpha")
		require.NoError(t, err)
		assert.True(t, exists)

		got := schemas.DeploymentSettings{Name: "alpha"}
		require.NoError(t, s.GetDeployment(ctx, &got))
		assert.Equal(t, alpha, got)

		alpha.Excluded = true
		require.NoError(t, s.SetDeployment(ctx, alpha))

		all, err := s.Deployments(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, all["alpha"].Excluded)

		count, err := s.DeploymentsCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		require.NoError(t, s.DelDeployment(ctx, "beta"))
		exists, err = s.DeploymentExists(ctx, "beta")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("GetDeploymentNotFound", func(t *testing.T) {
		s := factory(t)

		err := s.GetDeployment(context.Background(), &schemas.DeploymentSettings{Name: "ghost"})
		assert.True(t, errors.Is(err, schemas.ErrNotFound), "got %v", err)
	})

	t.Run("Schedules", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		first := schemas.ScheduleEntry{Target: schemas.AllDeployments(), Kind: schemas.TriggerKindCron, Expression: "0 4 * * *", Active: true}
		second := schemas.ScheduleEntry{Target: schemas.SingleDeployment("alpha"), Kind: schemas.TriggerKindDate, Expression: "2030-01-01T00:00:00Z", Active: false}
		third := schemas.ScheduleEntry{Target: schemas.SingleDeployment("beta"), Kind: schemas.TriggerKindCron, Expression: "@daily", Active: true}

		for _, e := range []*schemas.ScheduleEntry{&first, &second, &third} {
			require.NoError(t, s.AddSchedule(ctx, e))
		}
		assert.NotZero(t, first.ID)
		assert.Less(t, first.ID, second.ID)
		assert.Less(t, second.ID, third.ID)

		got := schemas.ScheduleEntry{ID: second.ID}
		require.NoError(t, s.GetSchedule(ctx, &got))
		assert.Equal(t, second, got)

		all, err := s.Schedules(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, schemas.ScheduleEntries{first, second, third}, all)

		active, err := s.Schedules(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, schemas.ScheduleEntries{first, third}, active)

		require.NoError(t, s.DelSchedule(ctx, first.ID))
		assert.True(t, errors.Is(s.DelSchedule(ctx, first.ID), schemas.ErrNotFound))
		assert.True(t, errors.Is(s.GetSchedule(ctx, &schemas.ScheduleEntry{ID: first.ID}), schemas.ErrNotFound))

		count, err := s.SchedulesCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		// IDs are never reused
		fourth := schemas.ScheduleEntry{Target: schemas.AllDeployments(), Kind: schemas.TriggerKindCron, Expression: "@weekly", Active: true}
		require.NoError(t, s.AddSchedule(ctx, &fourth))
		assert.Greater(t, fourth.ID, third.ID)
	})

	t.Run("RunLogsMostRecentFirst", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		for i := 0; i < 5; i++ {
			r := schemas.NewGlobalRunLog(i, 0, map[string][]string{
				"alpha":               {"line"},
				schemas.CleanupLogKey: {"pruned"},
			})
			r.Timestamp = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.AddRunLog(ctx, &r))
			assert.NotZero(t, r.ID)
		}

		records, err := s.RunLogs(ctx, 3)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "Global Update: 4 OK, 0 Errors", records[0].Summary)
		assert.Equal(t, "Global Update: 2 OK, 0 Errors", records[2].Summary)
		assert.Greater(t, records[0].ID, records[1].ID)
		assert.True(t, base.Add(4*time.Minute).Equal(records[0].Timestamp))
		assert.Equal(t, schemas.RunLogStatusSuccess, records[0].Status)
		assert.Equal(t, []string{"pruned"}, records[0].Details[schemas.CleanupLogKey])

		records, err = s.RunLogs(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, records, 5)

		count, err := s.RunLogsCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)
	})

	t.Run("QueueTask", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		queued, err := s.QueueTask(ctx, schemas.TaskTypeDispatch, "1", "process")
		require.NoError(t, err)
		assert.True(t, queued)

		queued, err = s.QueueTask(ctx, schemas.TaskTypeDispatch, "1", "process")
		require.NoError(t, err)
		assert.False(t, queued)

		queued, err = s.QueueTask(ctx, schemas.TaskTypeUpdateDeployment, "1", "process")
		require.NoError(t, err)
		assert.True(t, queued)

		count, err := s.CurrentlyQueuedTasksCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), count)

		executed, err := s.ExecutedTasksCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), executed)

		require.NoError(t, s.UnqueueTask(ctx, schemas.TaskTypeDispatch, "1"))
		require.NoError(t, s.UnqueueTask(ctx, schemas.TaskTypeDispatch, "unknown"))

		count, err = s.CurrentlyQueuedTasksCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), count)

		executed, err = s.ExecutedTasksCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), executed)

		queued, err = s.QueueTask(ctx, schemas.TaskTypeDispatch, "1", "process")
		require.NoError(t, err)
		assert.True(t, queued)
	})
}
