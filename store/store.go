package store

import "context"

// Store is the narrow durable persistence interface the step memoization
// protocol is built against. Every mutating method must commit before
// returning; all operations on a single Store must be serializable
// against each other.
type Store interface {
	// Find looks up a step record by primary key. Returns (nil, nil) if
	// absent.
	Find(ctx context.Context, workflowID, stepKey string) (*StepRecord, error)

	// MarkRunning inserts a fresh RUNNING record, or overwrites any
	// existing record with the same identity columns, resetting
	// status/output/error/retry to their initial values. This reclaims
	// zombie RUNNING rows without a separate cleanup path.
	MarkRunning(ctx context.Context, workflowID, stepKey, stepName string, sequenceID int64) error

	// MarkCompleted transitions a step to COMPLETED with the given
	// serialized output. No-op if the row is absent.
	MarkCompleted(ctx context.Context, workflowID, stepKey, output string) error

	// MarkFailed transitions a step to FAILED. retryCount and
	// nextRetryAt are optional retry accounting; pass nil for both to
	// record a terminal failure with no retry bookkeeping.
	MarkFailed(ctx context.Context, workflowID, stepKey, errMsg string, retryCount *int, nextRetryAtMs *int64) error

	// UpsertWorkflow inserts or replaces the workflow row.
	UpsertWorkflow(ctx context.Context, workflowID string, status WorkflowStatus) error

	// GetWorkflowStatus returns (status, true, nil) if the workflow
	// exists, ("", false, nil) if absent.
	GetWorkflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, bool, error)

	// IsCancelled is a convenience wrapper over GetWorkflowStatus.
	IsCancelled(ctx context.Context, workflowID string) (bool, error)

	// CancelWorkflow is shorthand for UpsertWorkflow(..., WorkflowCancelled).
	CancelWorkflow(ctx context.Context, workflowID string) error

	// GetCompletedSteps returns all COMPLETED step records for a
	// workflow, ordered by SequenceID ascending. Used by external
	// drivers for resume diagnostics; not required by the executor.
	GetCompletedSteps(ctx context.Context, workflowID string) ([]StepRecord, error)

	// Close releases the backing handle.
	Close() error
}
