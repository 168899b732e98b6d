// Package saga wraps the step executor with compensation registration,
// giving callers an all-or-nothing rollback discipline across a sequence
// of durable steps.
package saga

import (
	"context"

	"github.com/durablestep/engine/durable"
	"github.com/durablestep/engine/executor"
	"github.com/durablestep/engine/metrics"
	"github.com/durablestep/engine/retry"
)

// Run executes work as a durable step with no retry policy. On success,
// compensate is pushed onto the context's LIFO rollback stack. On
// failure, every previously-registered compensation fires, in reverse
// registration order, before the original error is returned.
func Run[T any](ctx context.Context, dctx *durable.Context, stepName string, work func() (T, error), compensate func() error) (T, error) {
	return run[T](ctx, dctx, stepName, nil, work, compensate)
}

// RunWithPolicy is Run with a retry policy applied to the underlying step.
func RunWithPolicy[T any](ctx context.Context, dctx *durable.Context, stepName string, policy retry.Policy, work func() (T, error), compensate func() error) (T, error) {
	return run[T](ctx, dctx, stepName, &policy, work, compensate)
}

func run[T any](ctx context.Context, dctx *durable.Context, stepName string, policy *retry.Policy, work func() (T, error), compensate func() error) (T, error) {
	var result T
	var err error

	if policy == nil {
		result, err = executor.Run[T](ctx, dctx, stepName, work)
	} else {
		result, err = executor.RunWithPolicy[T](ctx, dctx, stepName, *policy, work)
	}

	if err != nil {
		dctx.ExecuteCompensations()
		return result, err
	}

	if compensate != nil {
		dctx.AddCompensation(func() error {
			metrics.Default().IncCompensation(dctx.WorkflowID)
			return compensate()
		})
	}
	return result, nil
}
