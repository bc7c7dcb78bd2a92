// Package execution models executions of orchestrated units as reported by
// the workflow engine, the error taxonomy of the orchestration layer and the
// audit store recording start, cancel and terminate requests.
//
// The orchestration layer never writes execution state: status transitions
// are owned by the engine. Status values mirror the engine's execution
// statuses:
//
//	RUNNING -> COMPLETED | FAILED | CANCELED | TERMINATED | TIMED_OUT
//	RUNNING -> CONTINUED_AS_NEW -> RUNNING
package execution

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
)

// Status is the engine-reported status of an execution.
type Status string

const (
	// StatusUnspecified is reported when the engine returns no status.
	StatusUnspecified Status = "UNSPECIFIED"
	// StatusRunning indicates the execution is in flight.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the execution finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the execution failed.
	StatusFailed Status = "FAILED"
	// StatusCanceled indicates the execution was canceled cooperatively.
	StatusCanceled Status = "CANCELED"
	// StatusTerminated indicates the execution was stopped without cleanup.
	StatusTerminated Status = "TERMINATED"
	// StatusContinuedAsNew indicates the run handed over to a new run.
	StatusContinuedAsNew Status = "CONTINUED_AS_NEW"
	// StatusTimedOut indicates the execution exceeded its timeout.
	StatusTimedOut Status = "TIMED_OUT"
)

type (
	// Summary describes one execution run.
	Summary struct {
		// ID is the execution id, "{unit}-{uuid}".
		ID string `json:"id"`
		// RunID is assigned by the engine.
		RunID string `json:"run_id"`
		// Unit is the unit name (engine workflow type).
		Unit string `json:"unit"`
		// TaskQueue is the priority-derived queue.
		TaskQueue string `json:"task_queue"`
		// Status is the engine status.
		Status Status `json:"status"`
		// StartTime is when the run started.
		StartTime time.Time `json:"start_time"`
		// CloseTime is set iff Status is terminal.
		CloseTime *time.Time `json:"close_time,omitempty"`
		// CronSchedule is the recurrence expression, empty for one-off runs.
		CronSchedule string `json:"cron_schedule,omitempty"`
		// Result is the JSON-encoded result of a completed run.
		Result json.RawMessage `json:"result,omitempty"`
	}

	// Details extends Summary with the runs of the execution, newest first.
	Details struct {
		Summary
		Runs []Summary `json:"runs"`
	}
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusTerminated, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ParseStatus parses the textual form of a status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCanceled,
		StatusTerminated, StatusContinuedAsNew, StatusTimedOut:
		return st, nil
	}
	return "", fmt.Errorf("unknown execution status %q", s)
}

// StatusFromEngine maps an engine execution status.
func StatusFromEngine(s enumspb.WorkflowExecutionStatus) Status {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return StatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return StatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return StatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return StatusCanceled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return StatusTerminated
	case enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return StatusContinuedAsNew
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return StatusTimedOut
	default:
		return StatusUnspecified
	}
}

// VisibilityName returns the name of s in engine visibility queries.
func (s Status) VisibilityName() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCanceled:
		return "Canceled"
	case StatusTerminated:
		return "Terminated"
	case StatusContinuedAsNew:
		return "ContinuedAsNew"
	case StatusTimedOut:
		return "TimedOut"
	default:
		return ""
	}
}

// NewID returns a globally unique execution id for the named unit.
func NewID(unit string) string {
	return unit + "-" + uuid.NewString()
}
