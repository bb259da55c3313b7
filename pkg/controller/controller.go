package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"google.golang.org/grpc"

	"github.com/helvethink/pullpilot/pkg/compose"
	"github.com/helvethink/pullpilot/pkg/config"
	"github.com/helvethink/pullpilot/pkg/ratelimit"
	"github.com/helvethink/pullpilot/pkg/schemas"
	"github.com/helvethink/pullpilot/pkg/store"
)

const tracerName = "pullpilot"

// Controller holds the necessary clients and components to run the application and handle its operations.
type Controller struct {
	Config         config.Config   // Application configuration settings
	Redis          *redis.Client   // Redis client, nil unless a Redis URL is configured
	Store          store.Store     // Persistence of settings, schedules and run logs
	Runtime        compose.Runtime // External git and compose commands
	Runner         *compose.Runner // Concrete runtime, nil when Runtime is provided otherwise
	TaskController TaskController  // Manages background tasks and job queues
	Scheduler      *Scheduler      // Calendar triggers of the persisted schedules
	Status         *StatusTracker  // Progress of the global run in flight
	Metrics        *UpdateMetrics  // Outcome counters of the updates performed by this process
	Version        string          // Version of the running build

	// UUID uniquely identifies this controller instance, used to tell its
	// queued tasks apart from the ones of a previous process.
	UUID uuid.UUID

	// running guards global runs, at most one at a time.
	running atomic.Bool

	// inflight tracks the updates started outside of the task queue, Stop
	// waits for them before releasing the store.
	inflight sync.WaitGroup

	// root is the context scheduled and background work runs with.
	root context.Context

	// wait pauses for d or until ctx is done, replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// New creates and initializes a new Controller instance.
// It sets up tracing, Redis, the store, the runtime, the task queue and
// loads the persisted schedules.
func New(ctx context.Context, cfg config.Config, version string) (c *Controller, err error) {
	c = &Controller{
		Config:  cfg,
		Version: version,
		UUID:    uuid.New(),
		Status:  NewStatusTracker(),
		Metrics: NewUpdateMetrics(),
		root:    ctx,
		wait:    sleepContext,
	}

	if err = configureTracing(ctx, cfg.OpenTelemetry.GRPCEndpoint, version); err != nil {
		return
	}

	if err = c.configureRedis(ctx, cfg.Redis.URL); err != nil {
		return
	}

	if c.Store, err = store.New(ctx, cfg.Store, c.Redis); err != nil {
		return
	}

	if err = c.configureRuntime(ctx, cfg.Runtime); err != nil {
		return
	}

	c.TaskController = NewTaskController(ctx, c.Redis, cfg.Scheduler.MaximumJobsQueueSize, cfg.JobReservationTimeout())
	c.registerTasks()

	if c.Scheduler, err = NewScheduler(cfg.Scheduler.Timezone); err != nil {
		return
	}

	if _, err = c.Reconcile(ctx); err != nil {
		return
	}
	c.Scheduler.Start()

	if c.Redis != nil {
		c.ScheduleRedisSetKeepalive(ctx)
	}

	log.WithContext(ctx).
		WithFields(cfg.Orchestrator.Log()).
		WithField("controller-uuid", c.UUID.String()).
		Debug("controller initialized")

	return
}

// Stop halts the schedule triggers, waits for the updates in flight and
// releases the store.
func (c *Controller) Stop(ctx context.Context) {
	if c.Scheduler != nil {
		<-c.Scheduler.Stop().Done()
	}

	c.inflight.Wait()

	if c.TaskController.Factory != nil {
		if err := c.TaskController.Factory.Close(); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Warn("closing the task queues")
		}
		c.TaskController.Factory = nil
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Warn("closing the store")
		}
	}
}

// registerTasks registers all task handlers with the TaskController's task map.
func (c *Controller) registerTasks() {
	for n, h := range map[schemas.TaskType]interface{}{
		schemas.TaskTypeDispatch:         c.TaskHandlerDispatch,
		schemas.TaskTypeUpdateDeployment: c.TaskHandlerUpdateDeployment,
	} {
		_, _ = c.TaskController.TaskMap.Register(string(n), &taskq.TaskConfig{
			Handler:    h,
			RetryLimit: 1,
		})
	}
}

// unqueueTask removes a task from the store tracker, logging failures.
func (c *Controller) unqueueTask(ctx context.Context, tt schemas.TaskType, uniqueID string) {
	if err := c.Store.UnqueueTask(ctx, tt, uniqueID); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"task_type":      tt,
				"task_unique_id": uniqueID,
			}).
			WithError(err).
			Warn("unqueuing task")
	}
}

func (c *Controller) rootContext() context.Context {
	if c.root == nil {
		return context.Background()
	}
	return c.root
}

func (c *Controller) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	if c.wait == nil {
		return sleepContext(ctx, d)
	}

	return c.wait(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// configureTracing sets up OpenTelemetry tracing via a gRPC endpoint.
// If no endpoint is provided, tracing support is skipped.
func configureTracing(ctx context.Context, grpcEndpoint, version string) error {
	if len(grpcEndpoint) == 0 {
		log.Debug("opentelemetry.grpc_endpoint is not configured, skipping open telemetry support")
		return nil
	}

	log.WithFields(log.Fields{
		"opentelemetry_grpc_endpoint": grpcEndpoint,
	}).Info("opentelemetry gRPC endpoint provided, initializing connection..")

	traceClient := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(grpcEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithBlock()), // nolint: staticcheck
	)

	traceExp, err := otlptrace.New(ctx, traceClient)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("pullpilot"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return err
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExp)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)

	otel.SetTracerProvider(tracerProvider)

	return nil
}

// configureRuntime builds the command runner, paced by a Redis limiter when
// Redis is available and by a local one otherwise.
func (c *Controller) configureRuntime(ctx context.Context, cfg config.Runtime) (err error) {
	var rl ratelimit.Limiter

	if c.Redis != nil {
		rl = ratelimit.NewRedisLimiter(c.Redis, cfg.MaximumCommandsPerSecond)
	} else {
		rl = ratelimit.NewLocalLimiter(cfg.MaximumCommandsPerSecond, cfg.BurstableCommandsPerSecond)
	}

	c.Runner, err = compose.NewRunner(ctx, compose.RunnerConfig{
		ComposeCommand: cfg.ComposeCommand,
		DockerBinary:   cfg.DockerBinary,
		GitBinary:      cfg.GitBinary,
		Timeout:        time.Duration(cfg.CommandTimeoutSeconds) * time.Second,
		RateLimiter:    rl,
	})
	if err != nil {
		return
	}

	c.Runtime = c.Runner

	return
}

// configureRedis initializes the Redis client using the provided URL and sets up OpenTelemetry tracing instrumentation.
func (c *Controller) configureRedis(ctx context.Context, url string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:configureRedis")
	defer span.End()

	if len(url) <= 0 {
		log.Debug("redis url is not configured, skipping configuration & using local driver")
		return
	}

	log.Info("redis url configured, initializing connection..")

	var opt *redis.Options

	if opt, err = redis.ParseURL(url); err != nil {
		return
	}

	c.Redis = redis.NewClient(opt)

	if err = redisotel.InstrumentTracing(c.Redis); err != nil {
		return
	}

	if _, err := c.Redis.Ping(ctx).Result(); err != nil {
		return errors.Wrap(err, "connecting to redis")
	}

	log.Info("connected to redis")

	return
}
