package controller

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/memqueue/v4"
	"github.com/vmihailenco/taskq/redisq/v4"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/pullpilot/pkg/monitor"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// TaskController holds the components needed to manage task queues and scheduling.
type TaskController struct {
	Factory                  taskq.Factory                                      // Factory creates task queues and manages their lifecycle.
	Queue                    taskq.Queue                                        // Queue is the actual task queue instance where tasks are enqueued and consumed.
	TaskMap                  *taskq.TaskMap                                     // TaskMap holds the mapping of task types to their handlers for processing.
	TaskSchedulingMonitoring map[schemas.TaskType]*monitor.TaskSchedulingStatus // TaskSchedulingMonitoring holds monitoring status per task type to track scheduling health.

	monitoringMutex *sync.Mutex
}

// keepaliver is implemented by stores able to advertise that this process is alive.
type keepaliver interface {
	SetKeepalive(ctx context.Context, uuid string, ttl time.Duration) (bool, error)
}

// NewTaskController initializes and returns a new TaskController.
// It sets up the task queue backed either by Redis (if provided) or an in-memory queue.
// maximumJobsQueueSize controls the queue buffer size. reservationTimeout must
// outlast the longest job, the Redis queue redelivers jobs reserved for longer.
// The function also starts consumers if Redis is used and purges the queue at startup.
func NewTaskController(ctx context.Context, r *redis.Client, maximumJobsQueueSize int, reservationTimeout time.Duration) (t TaskController) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:NewTaskController")
	defer span.End()

	t.TaskMap = &taskq.TaskMap{}

	queueOptions := &taskq.QueueConfig{
		Name:                 "default",
		PauseErrorsThreshold: 3,
		Handler:              t.TaskMap,
		BufferSize:           maximumJobsQueueSize,
		ReservationTimeout:   reservationTimeout,
	}

	if r != nil {
		t.Factory = redisq.NewFactory()
		queueOptions.Redis = r
	} else {
		t.Factory = memqueue.NewFactory()
	}

	t.Queue = t.Factory.RegisterQueue(queueOptions)

	if err := t.Queue.Purge(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Error("purging the task queue")
	}

	if r != nil {
		if err := t.Factory.StartConsumers(context.TODO()); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Fatal("starting consuming the task queue")
		}
	}

	t.TaskSchedulingMonitoring = make(map[schemas.TaskType]*monitor.TaskSchedulingStatus)
	t.monitoringMutex = &sync.Mutex{}

	return
}

// TaskHandlerDispatch runs the target of a fired schedule.
func (c *Controller) TaskHandlerDispatch(ctx context.Context, scheduleID string, target schemas.Target) error {
	defer c.unqueueTask(ctx, schemas.TaskTypeDispatch, scheduleID)
	defer c.TaskController.monitorLastTaskScheduling(schemas.TaskTypeDispatch)

	c.Dispatch(ctx, target)

	return nil
}

// TaskHandlerUpdateDeployment updates a single deployment requested asynchronously.
func (c *Controller) TaskHandlerUpdateDeployment(ctx context.Context, name string) error {
	defer c.unqueueTask(ctx, schemas.TaskTypeUpdateDeployment, name)
	defer c.TaskController.monitorLastTaskScheduling(schemas.TaskTypeUpdateDeployment)

	if _, _, err := c.UpdateOne(ctx, name); err != nil {
		log.WithContext(ctx).
			WithField("deployment-name", name).
			WithError(err).
			Warn("updating deployment")
	}

	return nil
}

// Dispatch runs what a schedule designates: a global run for every
// deployment, or a single deployment update whose run log is flagged as scheduled.
func (c *Controller) Dispatch(ctx context.Context, target schemas.Target) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("target", target.String()))

	if target.All {
		c.RunGlobalUpdate(ctx)
		return
	}

	success, lines := c.UpdateDeployment(ctx, target.Name)
	c.recordRunLog(ctx, schemas.NewSingleRunLog(target.Name, success, lines, true))
}

// Reconcile rebuilds the calendar triggers from the persisted active schedules.
// It returns the amount of registered triggers.
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:Reconcile")
	defer span.End()

	entries, err := c.Store.Schedules(ctx, true)
	if err != nil {
		return 0, err
	}

	count := c.Scheduler.Replace(ctx, entries, c.fireSchedule)
	c.refreshNextDispatch()
	span.SetAttributes(attribute.Int("schedules_count", count))

	log.WithContext(ctx).
		WithFields(log.Fields{
			"active-schedules":     len(entries),
			"registered-schedules": count,
		}).
		Info("schedules reconciled")

	return count, nil
}

// fireSchedule enqueues the dispatch of a schedule. It runs on the cron
// goroutine, detached from any request.
func (c *Controller) fireSchedule(e schemas.ScheduleEntry) {
	ctx := c.rootContext()

	log.WithContext(ctx).
		WithFields(log.Fields{
			"schedule-id":     e.ID,
			"schedule-target": e.Target.String(),
		}).
		Info("schedule fired")

	c.ScheduleTask(ctx, schemas.TaskTypeDispatch, strconv.FormatInt(e.ID, 10), strconv.FormatInt(e.ID, 10), e.Target)
	c.refreshNextDispatch()
}

// refreshNextDispatch records the earliest upcoming schedule fire time.
func (c *Controller) refreshNextDispatch() {
	var next time.Time

	for _, t := range c.Scheduler.NextRuns() {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	c.TaskController.monitorNextTaskScheduling(schemas.TaskTypeDispatch, next)
}

// CreateSchedule validates and persists a new active schedule, then reconciles the triggers.
func (c *Controller) CreateSchedule(ctx context.Context, in schemas.ScheduleInput) (e schemas.ScheduleEntry, err error) {
	if e, err = in.ToEntry(); err != nil {
		return
	}

	if _, err = c.Scheduler.Parse(e); err != nil {
		return
	}

	if err = c.Store.AddSchedule(ctx, &e); err != nil {
		return
	}

	_, err = c.Reconcile(ctx)

	return
}

// DeleteSchedule removes a schedule, then reconciles the triggers.
func (c *Controller) DeleteSchedule(ctx context.Context, id int64) (err error) {
	if err = c.Store.DelSchedule(ctx, id); err != nil {
		return
	}

	_, err = c.Reconcile(ctx)

	return
}

// ListSchedules returns every persisted schedule, ordered by id.
func (c *Controller) ListSchedules(ctx context.Context) (schemas.ScheduleEntries, error) {
	return c.Store.Schedules(ctx, false)
}

// NextRuns returns the next fire time of every registered schedule, by id.
func (c *Controller) NextRuns() map[int64]time.Time {
	return c.Scheduler.NextRuns()
}

// ScheduleRedisSetKeepalive periodically advertises this process as alive so that
// other processes do not take over its queued tasks.
func (c *Controller) ScheduleRedisSetKeepalive(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleRedisSetKeepalive")
	defer span.End()

	k, ok := c.Store.(keepaliver)
	if !ok {
		log.WithContext(ctx).Debug("store does not support keepalives")
		return
	}

	go func(ctx context.Context) {
		ticker := time.NewTicker(time.Duration(1) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("stopped redis keepalive")

				return
			case <-ticker.C:
				if _, err := k.SetKeepalive(ctx, c.UUID.String(), time.Duration(10)*time.Second); err != nil {
					log.WithContext(ctx).
						WithError(err).
						Warn("setting keepalive")
				}
			}
		}
	}(ctx)
}

// ScheduleTask schedules a new task of type `tt` with a unique identifier `uniqueID` and optional arguments.
// The task is skipped when the queue is full or when a task with the same
// identifier is already queued. It returns whether the task got queued.
func (c *Controller) ScheduleTask(ctx context.Context, tt schemas.TaskType, uniqueID string, args ...interface{}) bool {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleTask")
	defer span.End()

	span.SetAttributes(attribute.String("task_type", string(tt)))
	span.SetAttributes(attribute.String("task_unique_id", uniqueID))

	logFields := log.Fields{
		"task_type":      tt,
		"task_unique_id": uniqueID,
	}
	task := c.TaskController.TaskMap.Get(string(tt))
	msg := task.NewJob(args...)

	qlen, err := c.TaskController.Queue.Len(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to read task queue length, skipping scheduling of task..")

		return false
	}

	if qlen >= c.TaskController.Queue.Options().BufferSize {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("queue buffer size exhausted, skipping scheduling of task..")

		return false
	}

	queued, err := c.Store.QueueTask(ctx, tt, uniqueID, c.UUID.String())
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to declare the queueing, skipping scheduling of task..")

		return false
	}

	if !queued {
		log.WithFields(logFields).
			Debug("task already queued, skipping scheduling of task..")

		return false
	}

	go func(job *taskq.Job) {
		if err := c.TaskController.Queue.AddJob(ctx, job); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Warn("scheduling task")
		}
	}(msg)

	return true
}

// SchedulingStatuses returns a copy of the scheduling status of every task type.
func (tc *TaskController) SchedulingStatuses() map[schemas.TaskType]monitor.TaskSchedulingStatus {
	out := make(map[schemas.TaskType]monitor.TaskSchedulingStatus)
	if tc.monitoringMutex == nil {
		return out
	}

	tc.monitoringMutex.Lock()
	defer tc.monitoringMutex.Unlock()

	for tt, s := range tc.TaskSchedulingMonitoring {
		out[tt] = *s
	}

	return out
}

// monitorNextTaskScheduling records when a task of type tt is next expected to be scheduled.
func (tc *TaskController) monitorNextTaskScheduling(tt schemas.TaskType, at time.Time) {
	tc.monitoringMutex.Lock()
	defer tc.monitoringMutex.Unlock()

	if _, ok := tc.TaskSchedulingMonitoring[tt]; !ok {
		tc.TaskSchedulingMonitoring[tt] = &monitor.TaskSchedulingStatus{}
	}

	tc.TaskSchedulingMonitoring[tt].Next = at
}

// monitorLastTaskScheduling records the last execution time of the given task type `tt`.
func (tc *TaskController) monitorLastTaskScheduling(tt schemas.TaskType) {
	tc.monitoringMutex.Lock()
	defer tc.monitoringMutex.Unlock()

	if _, ok := tc.TaskSchedulingMonitoring[tt]; !ok {
		tc.TaskSchedulingMonitoring[tt] = &monitor.TaskSchedulingStatus{}
	}

	tc.TaskSchedulingMonitoring[tt].Last = time.Now()
}
