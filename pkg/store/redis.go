package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

const (
	redisDeploymentsKey        string = "deployments"
	redisSchedulesKey          string = "schedules"
	redisSchedulesSequenceKey  string = "schedules:sequence"
	redisRunLogsKey            string = "runlogs"
	redisRunLogsSequenceKey    string = "runlogs:sequence"
	redisTaskKey               string = "task"
	redisTasksExecutedCountKey string = "tasksExecutedCount"
	redisKeepaliveKey          string = "keepalive"
)

// Redis is a store persisting msgpack encoded values in Redis.
type Redis struct {
	*redis.Client
}

// SetDeployment stores a deployment in Redis.
func (r *Redis) SetDeployment(ctx context.Context, d schemas.DeploymentSettings) error {
	marshalledDeployment, err := msgpack.Marshal(d)
	if err != nil {
		return err
	}

	_, err = r.HSet(ctx, redisDeploymentsKey, string(d.Key()), marshalledDeployment).Result()
	return err
}

// DelDeployment deletes a deployment from Redis.
func (r *Redis) DelDeployment(ctx context.Context, k schemas.DeploymentKey) error {
	_, err := r.HDel(ctx, redisDeploymentsKey, string(k)).Result()
	return err
}

// GetDeployment retrieves a deployment from Redis.
func (r *Redis) GetDeployment(ctx context.Context, d *schemas.DeploymentSettings) error {
	marshalledDeployment, err := r.HGet(ctx, redisDeploymentsKey, string(d.Key())).Result()
	if errors.Is(err, redis.Nil) {
		return notFound("deployment", d.Name)
	}
	if err != nil {
		return err
	}

	return msgpack.Unmarshal([]byte(marshalledDeployment), d)
}

// DeploymentExists checks if a deployment exists in Redis.
func (r *Redis) DeploymentExists(ctx context.Context, k schemas.DeploymentKey) (bool, error) {
	return r.HExists(ctx, redisDeploymentsKey, string(k)).Result()
}

// Deployments retrieves all deployments from Redis.
func (r *Redis) Deployments(ctx context.Context) (schemas.Deployments, error) {
	deployments := schemas.Deployments{}

	marshalledDeployments, err := r.HGetAll(ctx, redisDeploymentsKey).Result()
	if err != nil {
		return deployments, err
	}

	for stringDeploymentKey, marshalledDeployment := range marshalledDeployments {
		d := schemas.DeploymentSettings{}

		if err = msgpack.Unmarshal([]byte(marshalledDeployment), &d); err != nil {
			return deployments, err
		}

		deployments[schemas.DeploymentKey(stringDeploymentKey)] = d
	}

	return deployments, nil
}

// DeploymentsCount returns the count of deployments in Redis.
func (r *Redis) DeploymentsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisDeploymentsKey).Result()
}

// AddSchedule stores a new schedule in Redis, its ID taken from a counter.
func (r *Redis) AddSchedule(ctx context.Context, e *schemas.ScheduleEntry) error {
	id, err := r.Incr(ctx, redisSchedulesSequenceKey).Result()
	if err != nil {
		return errors.Wrap(err, "allocating schedule id")
	}

	e.ID = id

	marshalledSchedule, err := msgpack.Marshal(e)
	if err != nil {
		return err
	}

	_, err = r.HSet(ctx, redisSchedulesKey, strconv.FormatInt(id, 10), marshalledSchedule).Result()
	return err
}

// DelSchedule deletes a schedule from Redis.
func (r *Redis) DelSchedule(ctx context.Context, id int64) error {
	matched, err := r.HDel(ctx, redisSchedulesKey, strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return err
	}

	if matched == 0 {
		return notFound("schedule", id)
	}

	return nil
}

// GetSchedule retrieves a schedule from Redis.
func (r *Redis) GetSchedule(ctx context.Context, e *schemas.ScheduleEntry) error {
	marshalledSchedule, err := r.HGet(ctx, redisSchedulesKey, strconv.FormatInt(e.ID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return notFound("schedule", e.ID)
	}
	if err != nil {
		return err
	}

	return msgpack.Unmarshal([]byte(marshalledSchedule), e)
}

// Schedules retrieves the schedules from Redis ordered by ID.
func (r *Redis) Schedules(ctx context.Context, activeOnly bool) (schemas.ScheduleEntries, error) {
	entries := schemas.ScheduleEntries{}

	marshalledSchedules, err := r.HGetAll(ctx, redisSchedulesKey).Result()
	if err != nil {
		return entries, err
	}

	for _, marshalledSchedule := range marshalledSchedules {
		e := schemas.ScheduleEntry{}

		if err = msgpack.Unmarshal([]byte(marshalledSchedule), &e); err != nil {
			return entries, err
		}

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

// SchedulesCount returns the count of schedules in Redis.
func (r *Redis) SchedulesCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisSchedulesKey).Result()
}

// AddRunLog pushes a record at the head of the Redis run log list.
func (r *Redis) AddRunLog(ctx context.Context, rl *schemas.RunLogRecord) error {
	id, err := r.Incr(ctx, redisRunLogsSequenceKey).Result()
	if err != nil {
		return errors.Wrap(err, "allocating run log id")
	}

	rl.ID = id

	marshalledRunLog, err := msgpack.Marshal(rl)
	if err != nil {
		return err
	}

	_, err = r.LPush(ctx, redisRunLogsKey, marshalledRunLog).Result()
	return err
}

// RunLogs retrieves the most recent records from Redis.
func (r *Redis) RunLogs(ctx context.Context, limit int) (schemas.RunLogRecords, error) {
	records := schemas.RunLogRecords{}

	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}

	marshalledRunLogs, err := r.LRange(ctx, redisRunLogsKey, 0, stop).Result()
	if err != nil {
		return records, err
	}

	for _, marshalledRunLog := range marshalledRunLogs {
		rl := schemas.RunLogRecord{}

		if err = msgpack.Unmarshal([]byte(marshalledRunLog), &rl); err != nil {
			return records, err
		}

		records = append(records, rl)
	}

	return records, nil
}

// RunLogsCount returns the count of records in Redis.
func (r *Redis) RunLogsCount(ctx context.Context) (int64, error) {
	return r.LLen(ctx, redisRunLogsKey).Result()
}

// SetKeepalive sets a key with a UUID corresponding to the currently running process.
func (r *Redis) SetKeepalive(ctx context.Context, uuid string, ttl time.Duration) (bool, error) {
	return r.SetNX(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid), nil, ttl).Result()
}

// KeepaliveExists returns whether a keepalive exists or not for a particular UUID.
func (r *Redis) KeepaliveExists(ctx context.Context, uuid string) (bool, error) {
	exists, err := r.Exists(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid)).Result()
	return exists == 1, err
}

func getRedisQueueKey(tt schemas.TaskType, taskUUID string) string {
	return fmt.Sprintf("%s:%v:%s", redisTaskKey, tt, taskUUID)
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
func (r *Redis) QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (set bool, err error) {
	k := getRedisQueueKey(tt, taskUUID)

	set, err = r.SetNX(ctx, k, processUUID, 0).Result()
	if err != nil || set {
		return
	}

	var tpuuid string
	if tpuuid, err = r.Get(ctx, k).Result(); err != nil {
		return
	}

	// a task left behind by a dead process must not block the schedule forever
	if tpuuid != processUUID {
		var uuidIsAlive bool
		if uuidIsAlive, err = r.KeepaliveExists(ctx, tpuuid); err != nil {
			return
		}

		if !uuidIsAlive {
			if _, err = r.Set(ctx, k, processUUID, 0).Result(); err != nil {
				return
			}
			return true, nil
		}
	}

	return
}

// UnqueueTask removes the task from the tracker.
func (r *Redis) UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) (err error) {
	var matched int64

	matched, err = r.Del(ctx, getRedisQueueKey(tt, taskUUID)).Result()
	if err != nil {
		return
	}

	if matched > 0 {
		_, err = r.Incr(ctx, redisTasksExecutedCountKey).Result()
	}

	return
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (r *Redis) CurrentlyQueuedTasksCount(ctx context.Context) (count uint64, err error) {
	iter := r.Scan(ctx, 0, fmt.Sprintf("%s:*", redisTaskKey), 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	err = iter.Err()
	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (r *Redis) ExecutedTasksCount(ctx context.Context) (uint64, error) {
	countString, err := r.Get(ctx, redisTasksExecutedCountKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	c, err := strconv.ParseUint(countString, 10, 64)
	return c, err
}

// Close implements Store. The client is shared with the rest of the process
// and closed by its owner.
func (r *Redis) Close() error { return nil }
