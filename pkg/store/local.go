package store

import (
	"context"
	"sort"
	"sync"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

// Local is an in memory store.
type Local struct {
	deployments      schemas.Deployments
	deploymentsMutex sync.RWMutex

	schedules      map[int64]schemas.ScheduleEntry
	lastScheduleID int64
	schedulesMutex sync.RWMutex

	runLogs      schemas.RunLogRecords // oldest first
	runLogsMutex sync.RWMutex

	tasks              schemas.Tasks
	tasksMutex         sync.RWMutex
	executedTasksCount uint64
}

// SetDeployment stores a deployment in the local storage.
func (l *Local) SetDeployment(_ context.Context, d schemas.DeploymentSettings) error {
	l.deploymentsMutex.Lock()
	defer l.deploymentsMutex.Unlock()

	l.deployments[d.Key()] = d

	return nil
}

// DelDeployment deletes a deployment from the local storage.
func (l *Local) DelDeployment(_ context.Context, k schemas.DeploymentKey) error {
	l.deploymentsMutex.Lock()
	defer l.deploymentsMutex.Unlock()

	delete(l.deployments, k)

	return nil
}

// GetDeployment retrieves a deployment from the local storage.
func (l *Local) GetDeployment(_ context.Context, d *schemas.DeploymentSettings) error {
	l.deploymentsMutex.RLock()
	defer l.deploymentsMutex.RUnlock()

	stored, ok := l.deployments[d.Key()]
	if !ok {
		return notFound("deployment", d.Name)
	}

	*d = stored

	return nil
}

// DeploymentExists checks if a deployment exists in the local storage.
func (l *Local) DeploymentExists(_ context.Context, k schemas.DeploymentKey) (bool, error) {
	l.deploymentsMutex.RLock()
	defer l.deploymentsMutex.RUnlock()

	_, ok := l.deployments[k]

	return ok, nil
}

// Deployments returns a copy of every deployment of the local storage.
func (l *Local) Deployments(_ context.Context) (deployments schemas.Deployments, err error) {
	deployments = make(schemas.Deployments)

	l.deploymentsMutex.RLock()
	defer l.deploymentsMutex.RUnlock()

	for k, v := range l.deployments {
		deployments[k] = v
	}

	return
}

// DeploymentsCount returns the amount of deployments in the local storage.
func (l *Local) DeploymentsCount(_ context.Context) (int64, error) {
	l.deploymentsMutex.RLock()
	defer l.deploymentsMutex.RUnlock()

	return int64(len(l.deployments)), nil
}

// AddSchedule stores a new schedule with the next available ID.
func (l *Local) AddSchedule(_ context.Context, e *schemas.ScheduleEntry) error {
	l.schedulesMutex.Lock()
	defer l.schedulesMutex.Unlock()

	l.lastScheduleID++
	e.ID = l.lastScheduleID
	l.schedules[e.ID] = *e

	return nil
}

// DelSchedule deletes a schedule from the local storage.
func (l *Local) DelSchedule(_ context.Context, id int64) error {
	l.schedulesMutex.Lock()
	defer l.schedulesMutex.Unlock()

	if _, ok := l.schedules[id]; !ok {
		return notFound("schedule", id)
	}

	delete(l.schedules, id)

	return nil
}

// GetSchedule retrieves a schedule from the local storage.
func (l *Local) GetSchedule(_ context.Context, e *schemas.ScheduleEntry) error {
	l.schedulesMutex.RLock()
	defer l.schedulesMutex.RUnlock()

	stored, ok := l.schedules[e.ID]
	if !ok {
		return notFound("schedule", e.ID)
	}

	*e = stored

	return nil
}

// Schedules returns the schedules of the local storage ordered by ID.
func (l *Local) Schedules(_ context.Context, activeOnly bool) (schemas.ScheduleEntries, error) {
	l.schedulesMutex.RLock()
	defer l.schedulesMutex.RUnlock()

	entries := make(schemas.ScheduleEntries, 0, len(l.schedules))
	for _, e := range l.schedules {
		if activeOnly && !e.Active {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})

	return entries, nil
}

// SchedulesCount returns the amount of schedules in the local storage.
func (l *Local) SchedulesCount(_ context.Context) (int64, error) {
	l.schedulesMutex.RLock()
	defer l.schedulesMutex.RUnlock()

	return int64(len(l.schedules)), nil
}

// AddRunLog appends a record to the local storage.
func (l *Local) AddRunLog(_ context.Context, r *schemas.RunLogRecord) error {
	l.runLogsMutex.Lock()
	defer l.runLogsMutex.Unlock()

	r.ID = int64(len(l.runLogs)) + 1
	l.runLogs = append(l.runLogs, *r)

	return nil
}

// RunLogs returns the most recent records of the local storage.
func (l *Local) RunLogs(_ context.Context, limit int) (schemas.RunLogRecords, error) {
	l.runLogsMutex.RLock()
	defer l.runLogsMutex.RUnlock()

	if limit <= 0 || limit > len(l.runLogs) {
		limit = len(l.runLogs)
	}

	records := make(schemas.RunLogRecords, 0, limit)
	for i := len(l.runLogs) - 1; i >= 0 && len(records) < limit; i-- {
		records = append(records, l.runLogs[i])
	}

	return records, nil
}

// RunLogsCount returns the amount of records in the local storage.
func (l *Local) RunLogsCount(_ context.Context) (int64, error) {
	l.runLogsMutex.RLock()
	defer l.runLogsMutex.RUnlock()

	return int64(len(l.runLogs)), nil
}

// isTaskAlreadyQueued assesses if a task is already queued or not.
func (l *Local) isTaskAlreadyQueued(tt schemas.TaskType, uniqueID string) bool {
	l.tasksMutex.Lock()
	defer l.tasksMutex.Unlock()

	if l.tasks == nil {
		l.tasks = make(schemas.Tasks)
	}

	taskTypeQueue, ok := l.tasks[tt]
	if !ok {
		l.tasks[tt] = make(map[string]interface{})

		return false
	}

	_, alreadyQueued := taskTypeQueue[uniqueID]

	return alreadyQueued
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
func (l *Local) QueueTask(_ context.Context, tt schemas.TaskType, uniqueID, _ string) (bool, error) {
	if !l.isTaskAlreadyQueued(tt, uniqueID) {
		l.tasksMutex.Lock()
		defer l.tasksMutex.Unlock()

		if _, raced := l.tasks[tt][uniqueID]; raced {
			return false, nil
		}

		l.tasks[tt][uniqueID] = nil

		return true, nil
	}

	return false, nil
}

// UnqueueTask removes the task from the tracker.
func (l *Local) UnqueueTask(_ context.Context, tt schemas.TaskType, uniqueID string) error {
	if l.isTaskAlreadyQueued(tt, uniqueID) {
		l.tasksMutex.Lock()
		defer l.tasksMutex.Unlock()

		delete(l.tasks[tt], uniqueID)

		l.executedTasksCount++
	}

	return nil
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (l *Local) CurrentlyQueuedTasksCount(_ context.Context) (count uint64, err error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	for _, t := range l.tasks {
		count += uint64(len(t))
	}

	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (l *Local) ExecutedTasksCount(_ context.Context) (uint64, error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	return l.executedTasksCount, nil
}

// Close implements Store.
func (l *Local) Close() error { return nil }
