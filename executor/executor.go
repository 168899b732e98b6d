// Package executor implements the step memoization protocol: the
// lookup, mark-running, execute, and mark-completed pipeline that
// durable steps are built from, with retry accounting and type-safe
// decoding of memoized output.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/durablestep/engine/durable"
	"github.com/durablestep/engine/metrics"
	"github.com/durablestep/engine/retry"
	"github.com/durablestep/engine/store"
	"github.com/durablestep/engine/workflowerr"
)

var tracer = otel.Tracer("github.com/durablestep/engine/executor")

// Run executes work under stepName with no retry policy. See RunWithPolicy
// for the retrying variant.
func Run[T any](ctx context.Context, dctx *durable.Context, stepName string, work func() (T, error)) (T, error) {
	return run[T](ctx, dctx, stepName, nil, work)
}

// RunWithPolicy executes work under stepName, retrying according to
// policy across successive workflow invocations.
func RunWithPolicy[T any](ctx context.Context, dctx *durable.Context, stepName string, policy retry.Policy, work func() (T, error)) (T, error) {
	return run[T](ctx, dctx, stepName, &policy, work)
}

func run[T any](ctx context.Context, dctx *durable.Context, stepName string, policy *retry.Policy, work func() (T, error)) (T, error) {
	var zero T
	reg := metrics.Default()
	log := dctx.Logger().With(zap.String("step_name", stepName))

	// 1. Cancellation gate — fails before any store write occurs.
	if err := dctx.CheckCancelled(ctx); err != nil {
		return zero, err
	}

	// 2. Key derivation.
	seq := dctx.Sequence().Next()
	stepKey := store.StepKey(stepName, seq)
	log = log.With(zap.String("step_key", stepKey))

	// 3. Memo lookup.
	rec, err := dctx.Store().Find(ctx, dctx.WorkflowID, stepKey)
	if err != nil {
		return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: err}
	}

	// 4. Cache hit: completion wins over retry eligibility (tie-break).
	if rec != nil && rec.Status == store.StatusCompleted {
		log.Debug("skipping-memoized")
		if rec.Output == nil {
			return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: errors.New("completed record has no output")}
		}
		var result T
		if err := json.Unmarshal([]byte(*rec.Output), &result); err != nil {
			return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: fmt.Errorf("decode memoized output: %w", err)}
		}
		return result, nil
	}

	// 5. Retry-eligible prior failure: reject without running the
	// closure if the persisted attempt count has already reached
	// policy.MaxAttempts.
	priorRetryCount := 0
	if rec != nil && rec.Status == store.StatusFailed {
		priorRetryCount = rec.RetryCount
		if policy != nil {
			nowMs := time.Now().UnixMilli()
			eligible := rec.NextRetryAt == nil || *rec.NextRetryAt <= nowMs
			if eligible {
				attempt := priorRetryCount + 1
				if attempt > policy.MaxAttempts {
					var cause error
					if rec.Error != nil {
						cause = errors.New(*rec.Error)
					}
					return zero, workflowerr.NewRetryLimitExceeded(stepName, priorRetryCount, cause)
				}
			}
		}
	}

	// 6. Transition to RUNNING, reclaiming any zombie row.
	if err := dctx.Store().MarkRunning(ctx, dctx.WorkflowID, stepKey, stepName, seq); err != nil {
		return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: err}
	}
	log.Info("starting")

	// 7. Execute the closure under a trace span.
	_, span := tracer.Start(ctx, "step."+stepName, trace.WithAttributes(
		attribute.String("workflow_id", dctx.WorkflowID),
		attribute.String("step_key", stepKey),
	))
	result, workErr := work()
	if workErr != nil {
		span.RecordError(workErr)
	}
	span.End()

	if workErr == nil {
		// 8. Success.
		serialized, err := json.Marshal(result)
		if err != nil {
			return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: fmt.Errorf("encode output: %w", err)}
		}
		if err := dctx.Store().MarkCompleted(ctx, dctx.WorkflowID, stepKey, string(serialized)); err != nil {
			return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: err}
		}
		reg.IncStep(dctx.WorkflowID)
		log.Info("completed")
		return result, nil
	}

	// 9. Failure.
	reg.IncFailure(dctx.WorkflowID)
	attempt := priorRetryCount + 1

	if policy == nil {
		_ = dctx.Store().MarkFailed(ctx, dctx.WorkflowID, stepKey, workErr.Error(), nil, nil)
		return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: workErr}
	}

	if attempt >= policy.MaxAttempts {
		rc := attempt
		_ = dctx.Store().MarkFailed(ctx, dctx.WorkflowID, stepKey, workErr.Error(), &rc, nil)
		log.Warn("retry limit exceeded", zap.Int("attempt", attempt))
		return zero, workflowerr.NewRetryLimitExceeded(stepName, attempt, workErr)
	}

	rc := attempt
	nextRetryAt := time.Now().Add(policy.BackoffForAttempt(attempt)).UnixMilli()
	_ = dctx.Store().MarkFailed(ctx, dctx.WorkflowID, stepKey, workErr.Error(), &rc, &nextRetryAt)
	log.Warn("scheduled-retry", zap.Int("attempt", attempt), zap.Int64("next_retry_at", nextRetryAt))
	return zero, &workflowerr.StepExecutionFailed{StepName: stepName, Cause: workErr}
}
