package controller

import (
	"context"
	"time"

	"github.com/helvethink/pullpilot/pkg/monitor"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// Telemetry gathers the internal state exposed to the monitor.
func (c *Controller) Telemetry(ctx context.Context) (t monitor.Telemetry, err error) {
	var queuedTasks uint64

	if queuedTasks, err = c.Store.CurrentlyQueuedTasksCount(ctx); err != nil {
		return
	}

	if c.TaskController.Queue != nil {
		t.TasksBufferUsage = monitor.Ratio(float64(queuedTasks), float64(c.TaskController.Queue.Options().BufferSize))
	}

	if t.TasksExecutedCount, err = c.Store.ExecutedTasksCount(ctx); err != nil {
		return
	}

	if t.Deployments.Count, err = c.Store.DeploymentsCount(ctx); err != nil {
		return
	}

	if t.Schedules.Count, err = c.Store.SchedulesCount(ctx); err != nil {
		return
	}

	if t.RunLogs.Count, err = c.Store.RunLogsCount(ctx); err != nil {
		return
	}

	if c.Runner != nil {
		t.RuntimeCommandsCount = c.Runner.CommandsCounter.Load()
		if c.Runner.RateCounter != nil {
			t.RuntimeUsage = monitor.Ratio(float64(c.Runner.RateCounter.Rate()), float64(c.Config.Runtime.MaximumCommandsPerSecond))
		}
	}

	statuses := c.TaskController.SchedulingStatuses()
	if s, ok := statuses[schemas.TaskTypeDispatch]; ok {
		t.Schedules.Last = s.Last
		t.Schedules.Next = s.Next
	}

	if s, ok := statuses[schemas.TaskTypeUpdateDeployment]; ok {
		t.Deployments.Last = s.Last
	}

	t.NextRuns = map[int64]time.Time{}
	if c.Scheduler != nil {
		t.NextRuns = c.Scheduler.NextRuns()
	}

	t.GlobalUpdate = c.CurrentStatus()

	if history, herr := c.Store.RunLogs(ctx, 1); herr == nil && len(history) > 0 {
		t.RunLogs.Last = history[0].Timestamp
	}

	return
}
