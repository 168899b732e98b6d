// Package workflowerr defines the error taxa surfaced to callers of the
// durable workflow engine: cancellation, step failure, and retry-limit
// exhaustion. All three support errors.As; StepExecutionFailed and
// RetryLimitExceeded also wrap an underlying cause reachable with
// errors.Is / errors.As.
package workflowerr

import "fmt"

// Cancelled is returned when a step is attempted against a workflow whose
// status has been set to CANCELLED. No store write occurs before this
// error is returned.
type Cancelled struct {
	WorkflowID string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("workflow %q is cancelled", e.WorkflowID)
}

// StepExecutionFailed wraps the error returned by a user closure, or a
// storage I/O failure encountered while persisting a step transition.
type StepExecutionFailed struct {
	StepName string
	Cause    error
}

func (e *StepExecutionFailed) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.StepName, e.Cause)
}

func (e *StepExecutionFailed) Unwrap() error {
	return e.Cause
}

// RetryLimitExceeded specializes StepExecutionFailed: the step's retry
// policy has no attempts left.
type RetryLimitExceeded struct {
	*StepExecutionFailed
	Attempts int
}

func NewRetryLimitExceeded(stepName string, attempts int, cause error) *RetryLimitExceeded {
	return &RetryLimitExceeded{
		StepExecutionFailed: &StepExecutionFailed{StepName: stepName, Cause: cause},
		Attempts:            attempts,
	}
}

func (e *RetryLimitExceeded) Error() string {
	return fmt.Sprintf("step %q exceeded retry limit after %d attempt(s): %v", e.StepName, e.Attempts, e.Cause)
}

// Unwrap exposes the embedded StepExecutionFailed itself (rather than the
// promoted Cause) so errors.As can recover the underlying step name.
func (e *RetryLimitExceeded) Unwrap() error {
	return e.StepExecutionFailed
}
