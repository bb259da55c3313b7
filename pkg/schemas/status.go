package schemas

import "time"

// Outcome is the per deployment result shown while a global run progresses.
type Outcome string

const (
	OutcomeOK    Outcome = "OK"
	OutcomeError Outcome = "ERROR"
)

// OutcomeFromBool maps a boolean result to an Outcome.
func OutcomeFromBool(success bool) Outcome {
	if success {
		return OutcomeOK
	}
	return OutcomeError
}

func outcomeLabel(success bool) string { return string(OutcomeFromBool(success)) }

// ProcessedDeployment is one finished step of a global run.
type ProcessedDeployment struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"status"`
}

// RunStatus is the transient progress of the global run, if any.
type RunStatus struct {
	Running       bool                  `json:"is_running"`
	RunID         string                `json:"run_id,omitempty"`
	StartedAt     time.Time             `json:"started_at,omitempty"`
	Total         int                   `json:"total"`
	Current       int                   `json:"current"`
	CurrentTarget string                `json:"current_project"`
	Processed     []ProcessedDeployment `json:"processed"`
}

// Copy returns a deep copy so callers cannot alias the tracker's slice.
func (s RunStatus) Copy() RunStatus {
	c := s
	c.Processed = make([]ProcessedDeployment, len(s.Processed))
	copy(c.Processed, s.Processed)
	return c
}
