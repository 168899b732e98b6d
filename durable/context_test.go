package durable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durablestep/engine/durable"
	"github.com/durablestep/engine/store"
	"github.com/durablestep/engine/workflowerr"
)

func TestCheckCancelledReturnsErrorWhenCancelled(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.UpsertWorkflow(ctx, "wf-1", store.WorkflowCancelled))

	dctx := durable.New("wf-1", st, nil)
	err := dctx.CheckCancelled(ctx)

	var cancelled *workflowerr.Cancelled
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, "wf-1", cancelled.WorkflowID)
}

func TestCheckCancelledPassesWhenRunning(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.UpsertWorkflow(ctx, "wf-1", store.WorkflowRunning))

	dctx := durable.New("wf-1", st, nil)
	assert.NoError(t, dctx.CheckCancelled(ctx))
}

func TestCheckCancelledPassesWhenWorkflowAbsent(t *testing.T) {
	st := store.NewMemoryStore()
	dctx := durable.New("wf-unseen", st, nil)
	assert.NoError(t, dctx.CheckCancelled(context.Background()))
}

func TestExecuteCompensationsRunsInLIFOOrder(t *testing.T) {
	dctx := durable.New("wf-1", store.NewMemoryStore(), nil)

	var order []int
	dctx.AddCompensation(func() error { order = append(order, 1); return nil })
	dctx.AddCompensation(func() error { order = append(order, 2); return nil })
	dctx.AddCompensation(func() error { order = append(order, 3); return nil })

	dctx.ExecuteCompensations()
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestExecuteCompensationsContinuesAfterFailure(t *testing.T) {
	dctx := durable.New("wf-1", store.NewMemoryStore(), nil)

	var ran []int
	dctx.AddCompensation(func() error { ran = append(ran, 1); return nil })
	dctx.AddCompensation(func() error { return errors.New("rollback failed") })
	dctx.AddCompensation(func() error { ran = append(ran, 3); return nil })

	dctx.ExecuteCompensations()
	assert.Equal(t, []int{3, 1}, ran)
}

func TestExecuteCompensationsRecoversPanic(t *testing.T) {
	dctx := durable.New("wf-1", store.NewMemoryStore(), nil)

	var ran bool
	dctx.AddCompensation(func() error { panic("boom") })
	dctx.AddCompensation(func() error { ran = true; return nil })

	assert.NotPanics(t, func() { dctx.ExecuteCompensations() })
	assert.True(t, ran)
}

func TestGetCompensationCount(t *testing.T) {
	dctx := durable.New("wf-1", store.NewMemoryStore(), nil)
	assert.Equal(t, 0, dctx.GetCompensationCount())

	dctx.AddCompensation(func() error { return nil })
	dctx.AddCompensation(func() error { return nil })
	assert.Equal(t, 2, dctx.GetCompensationCount())

	dctx.ExecuteCompensations()
	assert.Equal(t, 0, dctx.GetCompensationCount())
}

func TestGoAndWaitJoinGoroutines(t *testing.T) {
	dctx := durable.New("wf-1", store.NewMemoryStore(), nil)

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		dctx.Go(func() error {
			results <- i
			return nil
		})
	}
	require.NoError(t, dctx.Wait())
	close(results)

	count := 0
	for range results {
		count++
	}
	assert.Equal(t, 3, count)
}
