package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

const cleanupTargetLabel = "cleaning up images (prune)"

// RunGlobalUpdate updates every non excluded deployment, one after the other,
// then prunes unused images when all of them succeeded. Only one global run
// happens at a time: when one is already running the call returns false
// straight away.
func (c *Controller) RunGlobalUpdate(ctx context.Context) bool {
	if !c.running.CompareAndSwap(false, true) {
		log.WithContext(ctx).Warn("a global update is already running, skipping")
		return false
	}
	defer c.running.Store(false)
	defer c.Status.End()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:RunGlobalUpdate")
	defer span.End()

	runID := uuid.New().String()
	logFields := log.Fields{"run-id": runID}
	span.SetAttributes(attribute.String("run_id", runID))

	details := map[string][]string{}
	successCount, errorCount := 0, 0

	deployments, err := c.Store.Deployments(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			WithError(err).
			Error("listing deployments")

		details[schemas.CleanupLogKey] = []string{fmt.Sprintf("cleanup skipped, deployments could not be listed: %v", err)}
		c.recordRunLog(ctx, schemas.NewGlobalRunLog(0, 1, details))

		return true
	}

	selected := make([]schemas.DeploymentSettings, 0, len(deployments))
	for _, d := range deployments.Sorted() {
		if !d.Excluded {
			selected = append(selected, d)
		}
	}

	c.Status.Begin(runID, len(selected))
	c.Metrics.GlobalRunStarted()

	log.WithContext(ctx).
		WithFields(logFields).
		WithField("deployments-count", len(selected)).
		Info("global update started")

	for i, d := range selected {
		if i > 0 {
			if err := c.pause(ctx, c.cooldown()); err != nil {
				log.WithContext(ctx).
					WithFields(logFields).
					WithError(err).
					Warn("global update interrupted")

				break
			}
		}

		c.Status.Advance(d.Name)

		success, lines := c.safeUpdate(ctx, d.Name)
		details[d.Name] = lines
		c.Status.RecordOutcome(d.Name, schemas.OutcomeFromBool(success))

		if success {
			successCount++
		} else {
			errorCount++
		}
	}

	// interrupted runs count the deployments they never reached as failed
	errorCount += len(selected) - successCount - errorCount

	details[schemas.CleanupLogKey] = c.cleanup(ctx, errorCount)

	c.recordRunLog(ctx, schemas.NewGlobalRunLog(successCount, errorCount, details))

	span.SetAttributes(
		attribute.Int("success_count", successCount),
		attribute.Int("error_count", errorCount),
	)

	log.WithContext(ctx).
		WithFields(logFields).
		WithFields(log.Fields{
			"success-count": successCount,
			"error-count":   errorCount,
		}).
		Info("global update finished")

	return true
}

// safeUpdate turns a panic escaping the executor into a failed update.
func (c *Controller) safeUpdate(ctx context.Context, name string) (success bool, lines []string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithContext(ctx).
				WithField("deployment-name", name).
				Errorf("recovered from a panic during global update: %v", r)

			success = false
			lines = append(lines, fmt.Sprintf("%s [%s] unexpected failure: %v", time.Now().Format(runLogTimeLayout), LevelFatal, r))
		}
	}()

	return c.UpdateDeployment(ctx, name)
}

// cleanup prunes unused images, only when the run had no error.
func (c *Controller) cleanup(ctx context.Context, errorCount int) []string {
	if errorCount > 0 {
		return []string{fmt.Sprintf("cleanup skipped, %d deployment(s) failed", errorCount)}
	}

	c.Status.SetCurrentTarget(cleanupTargetLabel)

	if err := c.pause(ctx, c.cleanupGrace()); err != nil {
		return []string{fmt.Sprintf("cleanup skipped, interrupted: %v", err)}
	}

	r, err := c.Runtime.PruneImages(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithError(err).
			Warn("pruning images")

		return []string{fmt.Sprintf("cleanup failed: %v", err)}
	}

	out := []string{fmt.Sprintf("cleanup done in %s", roundDuration(r.Duration))}

	return append(out, r.StdoutLines()...)
}

// TriggerGlobalUpdate starts a global run in the background and returns immediately.
func (c *Controller) TriggerGlobalUpdate() {
	c.inflight.Add(1)

	go func() {
		defer c.inflight.Done()
		c.RunGlobalUpdate(c.rootContext())
	}()
}

// GlobalUpdateRunning tells whether a global run is in flight.
func (c *Controller) GlobalUpdateRunning() bool {
	return c.running.Load()
}

// UpdateOne updates a single deployment on demand and persists its run log.
// The update ignores the cancellation of ctx: once started, it runs to
// completion even when the requester goes away. The returned error only
// reports a persistence failure.
func (c *Controller) UpdateOne(ctx context.Context, name string) (bool, []string, error) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	ctx = context.WithoutCancel(ctx)

	success, lines := c.UpdateDeployment(ctx, name)
	r := schemas.NewSingleRunLog(name, success, lines, false)

	return success, lines, c.Store.AddRunLog(ctx, &r)
}

// EnqueueUpdate requests the update of a deployment through the task queue.
// It returns false when an update of the same deployment is already queued.
func (c *Controller) EnqueueUpdate(ctx context.Context, name string) (bool, error) {
	exists, err := c.Store.DeploymentExists(ctx, schemas.DeploymentKey(name))
	if err != nil {
		return false, err
	}

	if !exists {
		return false, fmt.Errorf("%w: deployment %s", schemas.ErrNotFound, name)
	}

	return c.ScheduleTask(ctx, schemas.TaskTypeUpdateDeployment, name, name), nil
}

// CurrentStatus returns the progress of the global run in flight.
func (c *Controller) CurrentStatus() schemas.RunStatus {
	return c.Status.Snapshot()
}

// ListHistory returns at most limit run logs, most recent first. The
// configured history limit applies when limit is not positive.
func (c *Controller) ListHistory(ctx context.Context, limit int) (schemas.RunLogRecords, error) {
	if limit <= 0 {
		limit = c.Config.Orchestrator.HistoryLimit
	}

	if limit <= 0 {
		limit = schemas.DefaultHistoryLimit
	}

	return c.Store.RunLogs(ctx, limit)
}

func (c *Controller) recordRunLog(ctx context.Context, r schemas.RunLogRecord) {
	if err := c.Store.AddRunLog(ctx, &r); err != nil {
		log.WithContext(ctx).
			WithField("summary", r.Summary).
			WithError(err).
			Error("persisting run log")
	}
}

func (c *Controller) cooldown() time.Duration {
	return time.Duration(c.Config.Orchestrator.CooldownSeconds) * time.Second
}

func (c *Controller) cleanupGrace() time.Duration {
	return time.Duration(c.Config.Orchestrator.CleanupGraceSeconds) * time.Second
}
