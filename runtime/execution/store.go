package execution

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by stores for unknown execution ids.
var ErrRecordNotFound = errors.New("execution record not found")

type (
	// Record is the audit entry of an execution started through the
	// orchestration layer.
	Record struct {
		ID              string          `json:"id"`
		Kind            string          `json:"kind"`
		Unit            string          `json:"unit"`
		TaskQueue       string          `json:"task_queue"`
		CronSchedule    string          `json:"cron_schedule,omitempty"`
		Args            json.RawMessage `json:"args,omitempty"`
		RequestedAt     time.Time       `json:"requested_at"`
		CanceledAt      *time.Time      `json:"canceled_at,omitempty"`
		TerminatedAt    *time.Time      `json:"terminated_at,omitempty"`
		Reason          string          `json:"reason,omitempty"`
	}

	// RecordFilter narrows List results. Zero fields match everything.
	RecordFilter struct {
		Kind  string
		Unit  string
		Limit int
	}

	// Store persists execution records. Implementations must be safe for
	// concurrent use and return ErrRecordNotFound for unknown ids.
	Store interface {
		// Save inserts or replaces the record with the same ID.
		Save(ctx context.Context, r *Record) error
		// Get returns the record for id.
		Get(ctx context.Context, id string) (*Record, error)
		// MarkCanceled stamps the cancel request time.
		MarkCanceled(ctx context.Context, id string, at time.Time) error
		// MarkTerminated stamps the termination time and reason.
		MarkTerminated(ctx context.Context, id, reason string, at time.Time) error
		// List returns records matching f, newest first.
		List(ctx context.Context, f RecordFilter) ([]*Record, error)
	}
)
