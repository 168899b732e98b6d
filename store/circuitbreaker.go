package store

import (
	"context"

	"github.com/durablestep/engine/resilience"
)

// breakerStore decorates a Store so every call passes through a circuit
// breaker. A degraded backing database trips the breaker open, and
// subsequent calls fail fast instead of blocking the caller.
type breakerStore struct {
	inner   Store
	breaker *resilience.CircuitBreaker
}

// WithCircuitBreaker wraps inner so every Store method is guarded by cb.
func WithCircuitBreaker(inner Store, cb *resilience.CircuitBreaker) Store {
	return &breakerStore{inner: inner, breaker: cb}
}

func (b *breakerStore) guard(ctx context.Context, fn func(context.Context) error) error {
	return b.breaker.Execute(ctx, fn)
}

func (b *breakerStore) Find(ctx context.Context, workflowID, stepKey string) (*StepRecord, error) {
	var rec *StepRecord
	err := b.guard(ctx, func(ctx context.Context) error {
		var innerErr error
		rec, innerErr = b.inner.Find(ctx, workflowID, stepKey)
		return innerErr
	})
	return rec, err
}

func (b *breakerStore) MarkRunning(ctx context.Context, workflowID, stepKey, stepName string, sequenceID int64) error {
	return b.guard(ctx, func(ctx context.Context) error {
		return b.inner.MarkRunning(ctx, workflowID, stepKey, stepName, sequenceID)
	})
}

func (b *breakerStore) MarkCompleted(ctx context.Context, workflowID, stepKey, output string) error {
	return b.guard(ctx, func(ctx context.Context) error {
		return b.inner.MarkCompleted(ctx, workflowID, stepKey, output)
	})
}

func (b *breakerStore) MarkFailed(ctx context.Context, workflowID, stepKey, errMsg string, retryCount *int, nextRetryAtMs *int64) error {
	return b.guard(ctx, func(ctx context.Context) error {
		return b.inner.MarkFailed(ctx, workflowID, stepKey, errMsg, retryCount, nextRetryAtMs)
	})
}

func (b *breakerStore) UpsertWorkflow(ctx context.Context, workflowID string, status WorkflowStatus) error {
	return b.guard(ctx, func(ctx context.Context) error {
		return b.inner.UpsertWorkflow(ctx, workflowID, status)
	})
}

func (b *breakerStore) GetWorkflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, bool, error) {
	var status WorkflowStatus
	var found bool
	err := b.guard(ctx, func(ctx context.Context) error {
		var innerErr error
		status, found, innerErr = b.inner.GetWorkflowStatus(ctx, workflowID)
		return innerErr
	})
	return status, found, err
}

func (b *breakerStore) IsCancelled(ctx context.Context, workflowID string) (bool, error) {
	var cancelled bool
	err := b.guard(ctx, func(ctx context.Context) error {
		var innerErr error
		cancelled, innerErr = b.inner.IsCancelled(ctx, workflowID)
		return innerErr
	})
	return cancelled, err
}

func (b *breakerStore) CancelWorkflow(ctx context.Context, workflowID string) error {
	return b.guard(ctx, func(ctx context.Context) error {
		return b.inner.CancelWorkflow(ctx, workflowID)
	})
}

func (b *breakerStore) GetCompletedSteps(ctx context.Context, workflowID string) ([]StepRecord, error) {
	var recs []StepRecord
	err := b.guard(ctx, func(ctx context.Context) error {
		var innerErr error
		recs, innerErr = b.inner.GetCompletedSteps(ctx, workflowID)
		return innerErr
	})
	return recs, err
}

func (b *breakerStore) Close() error {
	return b.inner.Close()
}
