package monitor

import (
	"time"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

// TaskSchedulingStatus represents the scheduling status of a task.
// It includes information about the last and next scheduled times.
type TaskSchedulingStatus struct {
	Last time.Time `json:"last"` // The last time the task was executed
	Next time.Time `json:"next"` // The next time the task is expected to be scheduled
}

// Entity summarizes a kind of object handled by the orchestrator.
type Entity struct {
	Count int64     `json:"count"`
	Last  time.Time `json:"last,omitempty"`
	Next  time.Time `json:"next,omitempty"`
}

// Telemetry is a point in time view of the orchestrator internals.
type Telemetry struct {
	// RuntimeUsage is the share of the command rate limit currently used, between 0 and 1.
	RuntimeUsage         float64 `json:"runtime_usage"`
	RuntimeCommandsCount uint64  `json:"runtime_commands_count"`

	// TasksBufferUsage is the share of the task queue currently used, between 0 and 1.
	TasksBufferUsage   float64 `json:"tasks_buffer_usage"`
	TasksExecutedCount uint64  `json:"tasks_executed_count"`

	Deployments Entity `json:"deployments"`
	Schedules   Entity `json:"schedules"`
	RunLogs     Entity `json:"run_logs"`

	// NextRuns holds the next fire time of every registered schedule, by id.
	NextRuns map[int64]time.Time `json:"next_runs"`

	GlobalUpdate schemas.RunStatus `json:"global_update"`
}

// Ratio returns value/limit capped to [0, 1], 0 when the limit is not positive.
func Ratio(value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}

	r := value / limit
	switch {
	case r > 1:
		return 1
	case r < 0:
		return 0
	}

	return r
}
