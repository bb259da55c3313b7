package controller

import (
	"sync/atomic"
	"time"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

// StatusTracker holds the progress of the global run in flight, if any.
// There is a single writer, the orchestrator holding the run guard. Readers
// get deep copies published through an atomic pointer and never observe a
// partially updated state.
type StatusTracker struct {
	current  schemas.RunStatus
	snapshot atomic.Pointer[schemas.RunStatus]
}

// NewStatusTracker returns an idle tracker.
func NewStatusTracker() *StatusTracker {
	t := &StatusTracker{}
	t.publish()

	return t
}

// Begin resets the tracker for a new run over total deployments.
func (t *StatusTracker) Begin(runID string, total int) {
	t.current = schemas.RunStatus{
		Running:   true,
		RunID:     runID,
		StartedAt: time.Now(),
		Total:     total,
		Processed: []schemas.ProcessedDeployment{},
	}
	t.publish()
}

// Advance marks name as the deployment being processed.
func (t *StatusTracker) Advance(name string) {
	if !t.current.Running {
		return
	}

	t.current.Current++
	t.current.CurrentTarget = name
	t.publish()
}

// SetCurrentTarget changes the label of what the run is doing without
// advancing, e.g. while pruning images.
func (t *StatusTracker) SetCurrentTarget(label string) {
	if !t.current.Running {
		return
	}

	t.current.CurrentTarget = label
	t.publish()
}

// RecordOutcome appends the result of a processed deployment.
func (t *StatusTracker) RecordOutcome(name string, outcome schemas.Outcome) {
	if !t.current.Running {
		return
	}

	t.current.Processed = append(t.current.Processed, schemas.ProcessedDeployment{
		Name:    name,
		Outcome: outcome,
	})
	t.publish()
}

// End resets the tracker to idle.
func (t *StatusTracker) End() {
	t.current = schemas.RunStatus{Processed: []schemas.ProcessedDeployment{}}
	t.publish()
}

// Snapshot returns a copy of the current state, safe to keep and modify.
func (t *StatusTracker) Snapshot() schemas.RunStatus {
	return t.snapshot.Load().Copy()
}

func (t *StatusTracker) publish() {
	s := t.current.Copy()
	t.snapshot.Store(&s)
}
