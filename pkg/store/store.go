package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/pullpilot/pkg/config"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// Store persists deployment settings, schedules and run logs.
type Store interface {
	// Methods for manipulating deployment settings
	SetDeployment(ctx context.Context, d schemas.DeploymentSettings) error       // SetDeployment Stores a deployment, replacing any previous value
	DelDeployment(ctx context.Context, k schemas.DeploymentKey) error            // DelDeployment Deletes a deployment
	GetDeployment(ctx context.Context, d *schemas.DeploymentSettings) error      // GetDeployment Retrieves a deployment by name, ErrNotFound when missing
	DeploymentExists(ctx context.Context, k schemas.DeploymentKey) (bool, error) // DeploymentExists Checks the existence of a deployment
	Deployments(ctx context.Context) (schemas.Deployments, error)                // Deployments Retrieves all deployments
	DeploymentsCount(ctx context.Context) (int64, error)                         // DeploymentsCount Counts the number of deployments

	// Methods for manipulating schedules
	AddSchedule(ctx context.Context, e *schemas.ScheduleEntry) error                 // AddSchedule Stores a new schedule and sets its ID
	DelSchedule(ctx context.Context, id int64) error                                 // DelSchedule Deletes a schedule, ErrNotFound when missing
	GetSchedule(ctx context.Context, e *schemas.ScheduleEntry) error                 // GetSchedule Retrieves a schedule by ID, ErrNotFound when missing
	Schedules(ctx context.Context, activeOnly bool) (schemas.ScheduleEntries, error) // Schedules Retrieves schedules ordered by ID
	SchedulesCount(ctx context.Context) (int64, error)                               // SchedulesCount Counts the number of schedules

	// Methods for manipulating run logs, which are append only
	AddRunLog(ctx context.Context, r *schemas.RunLogRecord) error          // AddRunLog Stores a new record and sets its ID
	RunLogs(ctx context.Context, limit int) (schemas.RunLogRecords, error) // RunLogs Retrieves at most limit records, most recent first
	RunLogsCount(ctx context.Context) (int64, error)                       // RunLogsCount Counts the number of records

	// Helpers to keep track of currently queued tasks and avoid scheduling them
	// twice at the risk of ending up with loads of dangling goroutines being locked
	QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (bool, error) // QueueTask Adds a task to the queue
	UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) error                    // UnqueueTask Removes a task from the queue
	CurrentlyQueuedTasksCount(ctx context.Context) (uint64, error)                                  // CurrentlyQueuedTasksCount Counts the number of currently queued tasks
	ExecutedTasksCount(ctx context.Context) (uint64, error)                                         // ExecutedTasksCount Counts the number of executed tasks

	// Close releases the resources owned by the store.
	Close() error
}

// NewLocalStore creates a new in memory store, lost on restart.
func NewLocalStore() Store {
	return &Local{
		deployments: make(schemas.Deployments),
		schedules:   make(map[int64]schemas.ScheduleEntry),
	}
}

// NewRedisStore creates a new store backed by Redis.
func NewRedisStore(client *redis.Client) Store {
	return &Redis{
		Client: client,
	}
}

// New creates the store selected by the configured driver.
func New(
	ctx context.Context,
	cfg config.Store,
	r *redis.Client,
) (s Store, err error) {
	ctx, span := otel.Tracer("pullpilot").Start(ctx, "store:New")
	defer span.End()

	switch cfg.Driver {
	case "local":
		s = NewLocalStore()
	case "redis":
		if r == nil {
			return nil, errors.New("redis store driver selected but redis is not configured")
		}
		s = NewRedisStore(r)
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" && cfg.SQLitePath != ":memory:" {
			if err = os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.Wrapf(err, "creating sqlite directory %s", dir)
			}
		}

		if s, err = NewSQLiteStore(cfg.SQLitePath); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown store driver '%s'", cfg.Driver)
	}

	log.WithContext(ctx).
		WithField("driver", cfg.Driver).
		Debug("store configured")

	return s, nil
}

func notFound(kind string, key interface{}) error {
	return errors.Wrapf(schemas.ErrNotFound, "%s '%v'", kind, key)
}
