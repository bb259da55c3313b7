package controller

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helvethink/pullpilot/pkg/compose"
	"github.com/helvethink/pullpilot/pkg/schemas"
	"github.com/helvethink/pullpilot/pkg/store"
)

// Registry wraps a Prometheus registry and holds the collectors exported on /metrics.
type Registry struct {
	*prometheus.Registry

	InternalCollectors struct {
		CurrentlyQueuedTasksCount prometheus.Collector
		ExecutedTasksCount        prometheus.Collector
		DeploymentsCount          prometheus.Collector
		SchedulesCount            prometheus.Collector
		RunLogsCount              prometheus.Collector
		RuntimeCommandsCount      prometheus.Collector
		RuntimeCommandsRate       prometheus.Collector
		GlobalUpdateRunning       prometheus.Collector
	}

	DeploymentInfo prometheus.Collector
}

// UpdateMetrics accumulates the outcome of the updates performed by this
// process. Unlike the Registry it lives as long as the controller.
type UpdateMetrics struct {
	UpdatesTotal          prometheus.Collector
	UpdateDurationSeconds prometheus.Collector
	LastUpdateTimestamp   prometheus.Collector
	GlobalRunsTotal       prometheus.Collector
}

// NewRegistry initializes a new registry with the internal collectors registered.
func NewRegistry(_ context.Context) *Registry {
	r := &Registry{
		Registry:       prometheus.NewRegistry(),
		DeploymentInfo: NewCollectorDeploymentInfo(),
	}

	r.RegisterInternalCollectors()
	_ = r.Register(r.DeploymentInfo)

	return r
}

// RegisterInternalCollectors creates and registers the internal collectors.
func (r *Registry) RegisterInternalCollectors() {
	r.InternalCollectors.CurrentlyQueuedTasksCount = NewInternalCollectorCurrentlyQueuedTasksCount()
	r.InternalCollectors.ExecutedTasksCount = NewInternalCollectorExecutedTasksCount()
	r.InternalCollectors.DeploymentsCount = NewInternalCollectorDeploymentsCount()
	r.InternalCollectors.SchedulesCount = NewInternalCollectorSchedulesCount()
	r.InternalCollectors.RunLogsCount = NewInternalCollectorRunLogsCount()
	r.InternalCollectors.RuntimeCommandsCount = NewInternalCollectorRuntimeCommandsCount()
	r.InternalCollectors.RuntimeCommandsRate = NewInternalCollectorRuntimeCommandsRate()
	r.InternalCollectors.GlobalUpdateRunning = NewInternalCollectorGlobalUpdateRunning()

	_ = r.Register(r.InternalCollectors.CurrentlyQueuedTasksCount)
	_ = r.Register(r.InternalCollectors.ExecutedTasksCount)
	_ = r.Register(r.InternalCollectors.DeploymentsCount)
	_ = r.Register(r.InternalCollectors.SchedulesCount)
	_ = r.Register(r.InternalCollectors.RunLogsCount)
	_ = r.Register(r.InternalCollectors.RuntimeCommandsCount)
	_ = r.Register(r.InternalCollectors.RuntimeCommandsRate)
	_ = r.Register(r.InternalCollectors.GlobalUpdateRunning)
}

// ExportInternalMetrics reads the counters of the store and the runner into the internal collectors.
// The runner is optional.
func (r *Registry) ExportInternalMetrics(ctx context.Context, runner *compose.Runner, s store.Store, globalRunning bool) (err error) {
	var (
		currentlyQueuedTasks uint64
		executedTasksCount   uint64
		deploymentsCount     int64
		schedulesCount       int64
		runLogsCount         int64
		deployments          schemas.Deployments
	)

	if currentlyQueuedTasks, err = s.CurrentlyQueuedTasksCount(ctx); err != nil {
		return
	}

	if executedTasksCount, err = s.ExecutedTasksCount(ctx); err != nil {
		return
	}

	if deploymentsCount, err = s.DeploymentsCount(ctx); err != nil {
		return
	}

	if schedulesCount, err = s.SchedulesCount(ctx); err != nil {
		return
	}

	if runLogsCount, err = s.RunLogsCount(ctx); err != nil {
		return
	}

	if deployments, err = s.Deployments(ctx); err != nil {
		return
	}

	r.InternalCollectors.CurrentlyQueuedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(currentlyQueuedTasks))
	r.InternalCollectors.ExecutedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(executedTasksCount))
	r.InternalCollectors.DeploymentsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(deploymentsCount))
	r.InternalCollectors.SchedulesCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(schedulesCount))
	r.InternalCollectors.RunLogsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(runLogsCount))

	running := 0.0
	if globalRunning {
		running = 1
	}
	r.InternalCollectors.GlobalUpdateRunning.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(running)

	if runner != nil {
		r.InternalCollectors.RuntimeCommandsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(runner.CommandsCounter.Load()))
		if runner.RateCounter != nil {
			r.InternalCollectors.RuntimeCommandsRate.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(runner.RateCounter.Rate()))
		}
	}

	for _, d := range deployments {
		r.DeploymentInfo.(*prometheus.GaugeVec).With(prometheus.Labels{
			"deployment": d.Name,
			"excluded":   strconv.FormatBool(d.Excluded),
			"full_stop":  strconv.FormatBool(d.FullStop),
		}).Set(1)
	}

	return
}

// NewUpdateMetrics returns the long lived update collectors.
func NewUpdateMetrics() *UpdateMetrics {
	return &UpdateMetrics{
		UpdatesTotal:          NewCollectorUpdatesTotal(),
		UpdateDurationSeconds: NewCollectorUpdateDurationSeconds(),
		LastUpdateTimestamp:   NewCollectorLastUpdateTimestamp(),
		GlobalRunsTotal:       NewCollectorGlobalRunsTotal(),
	}
}

// Collectors returns every collector, to be registered on a Registry.
func (m *UpdateMetrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}

	return []prometheus.Collector{
		m.UpdatesTotal,
		m.UpdateDurationSeconds,
		m.LastUpdateTimestamp,
		m.GlobalRunsTotal,
	}
}

// ObserveUpdate records the outcome of a deployment update.
func (m *UpdateMetrics) ObserveUpdate(name string, success bool, d time.Duration) {
	if m == nil {
		return
	}

	m.UpdatesTotal.(*prometheus.CounterVec).With(prometheus.Labels{
		"deployment": name,
		"outcome":    string(schemas.OutcomeFromBool(success)),
	}).Inc()
	m.UpdateDurationSeconds.(*prometheus.HistogramVec).With(prometheus.Labels{"deployment": name}).Observe(d.Seconds())
	m.LastUpdateTimestamp.(*prometheus.GaugeVec).With(prometheus.Labels{"deployment": name}).SetToCurrentTime()
}

// GlobalRunStarted counts a new global run.
func (m *UpdateMetrics) GlobalRunStarted() {
	if m == nil {
		return
	}

	m.GlobalRunsTotal.(*prometheus.CounterVec).With(prometheus.Labels{}).Inc()
}
