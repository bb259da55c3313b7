package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	// deploymentLabels identify the deployment a metric relates to.
	deploymentLabels = []string{"deployment"}

	// outcomeLabels add the result of an update.
	outcomeLabels = []string{"deployment", "outcome"}
)

// NewInternalCollectorCurrentlyQueuedTasksCount returns a gauge of the tasks waiting in the queue.
func NewInternalCollectorCurrentlyQueuedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_currently_queued_tasks_count",
			Help: "Number of tasks in the queue",
		},
		[]string{}, // no labels for this metric
	)
}

// NewInternalCollectorExecutedTasksCount returns a gauge of the tasks executed so far.
func NewInternalCollectorExecutedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_executed_tasks_count",
			Help: "Number of tasks executed",
		},
		[]string{},
	)
}

// NewInternalCollectorDeploymentsCount returns a gauge of the known deployments.
func NewInternalCollectorDeploymentsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_deployments_count",
			Help: "Number of deployments known to the registry",
		},
		[]string{},
	)
}

// NewInternalCollectorSchedulesCount returns a gauge of the persisted schedules.
func NewInternalCollectorSchedulesCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_schedules_count",
			Help: "Number of persisted schedules",
		},
		[]string{},
	)
}

// NewInternalCollectorRunLogsCount returns a gauge of the persisted run logs.
func NewInternalCollectorRunLogsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_run_logs_count",
			Help: "Number of persisted run logs",
		},
		[]string{},
	)
}

// NewInternalCollectorRuntimeCommandsCount returns a gauge of the external commands run by this process.
func NewInternalCollectorRuntimeCommandsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_runtime_commands_count",
			Help: "Number of external git and compose commands run",
		},
		[]string{},
	)
}

// NewInternalCollectorRuntimeCommandsRate returns a gauge of the commands run over the last second.
func NewInternalCollectorRuntimeCommandsRate() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_runtime_commands_rate",
			Help: "Number of external commands run over the last second",
		},
		[]string{},
	)
}

// NewInternalCollectorGlobalUpdateRunning returns a gauge set to 1 while a global run is in flight.
func NewInternalCollectorGlobalUpdateRunning() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_global_update_running",
			Help: "Whether a global update is currently running",
		},
		[]string{},
	)
}

// NewCollectorDeploymentInfo returns a gauge describing the settings of every deployment.
func NewCollectorDeploymentInfo() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_deployment_info",
			Help: "Settings of the deployment, always 1",
		},
		[]string{"deployment", "excluded", "full_stop"},
	)
}

// NewCollectorUpdatesTotal returns a counter of the updates performed, by outcome.
func NewCollectorUpdatesTotal() prometheus.Collector {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pullpilot_deployment_updates_total",
			Help: "Number of deployment updates performed",
		},
		outcomeLabels,
	)
}

// NewCollectorUpdateDurationSeconds returns a histogram of the update durations.
func NewCollectorUpdateDurationSeconds() prometheus.Collector {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pullpilot_deployment_update_duration_seconds",
			Help:    "Duration in seconds of deployment updates",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		deploymentLabels,
	)
}

// NewCollectorLastUpdateTimestamp returns a gauge of the end time of the last update.
func NewCollectorLastUpdateTimestamp() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pullpilot_deployment_last_update_timestamp_seconds",
			Help: "Timestamp of the last update of the deployment",
		},
		deploymentLabels,
	)
}

// NewCollectorGlobalRunsTotal returns a counter of the global runs started.
func NewCollectorGlobalRunsTotal() prometheus.Collector {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pullpilot_global_runs_total",
			Help: "Number of global updates started",
		},
		[]string{},
	)
}
