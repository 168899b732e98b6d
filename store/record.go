// Package store implements the durable persistence contract that the
// step memoization protocol is built on: step records keyed by
// (workflow_id, step_key), and workflow status records keyed by
// workflow_id.
package store

import (
	"strconv"
	"time"
)

// Status is a step's lifecycle state.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// WorkflowStatus is a workflow's lifecycle state.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
)

// StepRecord is one row per step attempt, keyed by (WorkflowID, StepKey).
// Once Status is COMPLETED, Output is never rewritten.
type StepRecord struct {
	WorkflowID  string     `db:"workflow_id" json:"workflow_id"`
	StepKey     string     `db:"step_key" json:"step_key"`
	StepName    string     `db:"step_name" json:"step_name"`
	SequenceID  int64      `db:"sequence_id" json:"sequence_id"`
	Status      Status     `db:"status" json:"status"`
	Output      *string    `db:"output" json:"output,omitempty"`
	Error       *string    `db:"error" json:"error,omitempty"`
	RetryCount  int        `db:"retry_count" json:"retry_count"`
	NextRetryAt *int64     `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// WorkflowRecord is one row per workflow.
type WorkflowRecord struct {
	WorkflowID string         `db:"workflow_id" json:"workflow_id"`
	Status     WorkflowStatus `db:"status" json:"status"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// StepKey derives the stable "<name>#<sequence>" memo key.
func StepKey(stepName string, sequenceID int64) string {
	return stepName + "#" + strconv.FormatInt(sequenceID, 10)
}
