//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durablestep/engine/store"
)

// newPostgresStore connects to TEST_DATABASE_URL, skipping the test suite
// entirely when it is unset. Run with: go test -tags=integration ./store/...
func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration test")
	}

	s, err := store.NewPostgresStore(dsn, store.DefaultPostgresConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreMarkRunningReclaimsZombieRow(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	workflowID := "integration-wf-" + time.Now().Format(time.RFC3339Nano)

	require.NoError(t, s.MarkRunning(ctx, workflowID, "step#1", "step", 1))
	retryCount := 2
	nextRetryAt := time.Now().Add(time.Minute).UnixMilli()
	require.NoError(t, s.MarkFailed(ctx, workflowID, "step#1", "boom", &retryCount, &nextRetryAt))

	require.NoError(t, s.MarkRunning(ctx, workflowID, "step#1", "step", 1))
	rec, err := s.Find(ctx, workflowID, "step#1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, store.StatusRunning, rec.Status)
	require.Equal(t, 0, rec.RetryCount)
	require.Nil(t, rec.NextRetryAt)
}

func TestPostgresStoreCompletedOutputSurvivesRoundTrip(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	workflowID := "integration-wf-" + time.Now().Format(time.RFC3339Nano)

	require.NoError(t, s.MarkRunning(ctx, workflowID, "step#1", "step", 1))
	require.NoError(t, s.MarkCompleted(ctx, workflowID, "step#1", `{"ok":true}`))

	rec, err := s.Find(ctx, workflowID, "step#1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, store.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Output)
	require.JSONEq(t, `{"ok":true}`, *rec.Output)
}

func TestPostgresStoreWorkflowCancellation(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	workflowID := "integration-wf-" + time.Now().Format(time.RFC3339Nano)

	require.NoError(t, s.UpsertWorkflow(ctx, workflowID, store.WorkflowRunning))
	require.NoError(t, s.CancelWorkflow(ctx, workflowID))

	cancelled, err := s.IsCancelled(ctx, workflowID)
	require.NoError(t, err)
	require.True(t, cancelled)
}
