package schemas

import (
	"fmt"
	"time"
)

// RunLogStatus is the aggregate outcome of a persisted run.
type RunLogStatus string

const (
	RunLogStatusSuccess RunLogStatus = "SUCCESS"
	RunLogStatusError   RunLogStatus = "ERROR"
)

// CleanupLogKey is the synthetic entry of RunLogRecord.Details holding the
// image pruning phase of a global run.
const CleanupLogKey = "cleanup"

// DefaultHistoryLimit is how many records history listings return when the
// caller does not ask for a specific amount.
const DefaultHistoryLimit = 20

// RunLogRecord is an append-only record of one update run, global or single.
type RunLogRecord struct {
	ID        int64               `json:"id" msgpack:"id"`
	Timestamp time.Time           `json:"timestamp" msgpack:"timestamp"`
	Status    RunLogStatus        `json:"status" msgpack:"status"`
	Summary   string              `json:"summary" msgpack:"summary"`
	Details   map[string][]string `json:"details" msgpack:"details"`
}

// RunLogRecords is a list of records, most recent first.
type RunLogRecords []RunLogRecord

// StatusFromOutcome maps a boolean outcome to its persisted status.
func StatusFromOutcome(success bool) RunLogStatus {
	if success {
		return RunLogStatusSuccess
	}
	return RunLogStatusError
}

// NewSingleRunLog builds the record of a single deployment update. Scheduled
// updates get a "[Scheduled]" prefix so operators can tell them apart from
// manual ones.
func NewSingleRunLog(name string, success bool, lines []string, scheduled bool) RunLogRecord {
	summary := fmt.Sprintf("%s: %s", name, outcomeLabel(success))
	if scheduled {
		summary = "[Scheduled] " + summary
	}

	return RunLogRecord{
		Timestamp: time.Now(),
		Status:    StatusFromOutcome(success),
		Summary:   summary,
		Details:   map[string][]string{name: lines},
	}
}

// NewGlobalRunLog builds the aggregate record of a global run.
func NewGlobalRunLog(successCount, errorCount int, details map[string][]string) RunLogRecord {
	return RunLogRecord{
		Timestamp: time.Now(),
		Status:    StatusFromOutcome(errorCount == 0),
		Summary:   fmt.Sprintf("Global Update: %d OK, %d Errors", successCount, errorCount),
		Details:   details,
	}
}
