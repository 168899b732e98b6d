package saga_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durablestep/engine/durable"
	"github.com/durablestep/engine/saga"
	"github.com/durablestep/engine/store"
)

func newDurableContext(t *testing.T, workflowID string) *durable.Context {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertWorkflow(context.Background(), workflowID, store.WorkflowRunning))
	return durable.New(workflowID, st, nil)
}

func TestSagaRegistersCompensationOnSuccess(t *testing.T) {
	dctx := newDurableContext(t, "wf-1")
	ran := false

	_, err := saga.Run[string](context.Background(), dctx, "reserve", func() (string, error) {
		return "reservation-1", nil
	}, func() error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.False(t, ran, "compensation must not run on success")
	assert.Equal(t, 1, dctx.GetCompensationCount())
}

func TestSagaFiresCompensationsInReverseOrderOnFailure(t *testing.T) {
	dctx := newDurableContext(t, "wf-1")
	var order []string

	_, err := saga.Run[string](context.Background(), dctx, "setup", func() (string, error) {
		return "ok", nil
	}, func() error {
		order = append(order, "setup")
		return nil
	})
	require.NoError(t, err)

	_, err = saga.Run[string](context.Background(), dctx, "provision", func() (string, error) {
		return "ok", nil
	}, func() error {
		order = append(order, "provision")
		return nil
	})
	require.NoError(t, err)

	_, err = saga.Run[string](context.Background(), dctx, "fail", func() (string, error) {
		return "", errors.New("boom")
	}, func() error {
		order = append(order, "fail")
		return nil
	})
	require.Error(t, err)

	assert.Equal(t, []string{"provision", "setup"}, order)
	assert.Equal(t, 0, dctx.GetCompensationCount())
}

func TestSagaCompensationFailureDoesNotBlockRemainingRollback(t *testing.T) {
	dctx := newDurableContext(t, "wf-1")
	var ran []string

	_, err := saga.Run[string](context.Background(), dctx, "first", func() (string, error) {
		return "ok", nil
	}, func() error {
		ran = append(ran, "first")
		return nil
	})
	require.NoError(t, err)

	_, err = saga.Run[string](context.Background(), dctx, "second", func() (string, error) {
		return "ok", nil
	}, func() error {
		return errors.New("rollback unavailable")
	})
	require.NoError(t, err)

	_, err = saga.Run[string](context.Background(), dctx, "fail", func() (string, error) {
		return "", errors.New("boom")
	}, nil)
	require.Error(t, err)

	assert.Equal(t, []string{"first"}, ran)
}

func TestSagaWithNilCompensationIsSkippedOnSuccess(t *testing.T) {
	dctx := newDurableContext(t, "wf-1")

	_, err := saga.Run[int](context.Background(), dctx, "no-rollback-needed", func() (int, error) {
		return 7, nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 0, dctx.GetCompensationCount())
}
