package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/durablestep/engine/memocache"
)

// cachedStore decorates a Store with a read-through memo cache. Only
// COMPLETED records are cached, since a COMPLETED record's output is
// never rewritten once written; RUNNING/FAILED rows would go stale the
// instant a retry mutates them, so they are always read from the Store
// directly.
type cachedStore struct {
	inner Store
	cache memocache.Cache
	ttl   time.Duration
}

// WithMemoCache wraps inner with a cache of completed-step lookups. ttl
// bounds how long a cached COMPLETED record may be served before falling
// back to inner; pass 0 for no expiry (safe, since completed records are
// immutable once written).
func WithMemoCache(inner Store, cache memocache.Cache, ttl time.Duration) Store {
	return &cachedStore{inner: inner, cache: cache, ttl: ttl}
}

func cacheKey(workflowID, stepKey string) string {
	return "step:" + workflowID + ":" + stepKey
}

func (c *cachedStore) Find(ctx context.Context, workflowID, stepKey string) (*StepRecord, error) {
	key := cacheKey(workflowID, stepKey)

	if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var rec StepRecord
		if jsonErr := json.Unmarshal([]byte(raw), &rec); jsonErr == nil {
			return &rec, nil
		}
	}

	rec, err := c.inner.Find(ctx, workflowID, stepKey)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Status == StatusCompleted {
		if raw, jsonErr := json.Marshal(rec); jsonErr == nil {
			_ = c.cache.Set(ctx, key, string(raw), c.ttl)
		}
	}
	return rec, nil
}

func (c *cachedStore) MarkRunning(ctx context.Context, workflowID, stepKey, stepName string, sequenceID int64) error {
	_ = c.cache.Delete(ctx, cacheKey(workflowID, stepKey))
	return c.inner.MarkRunning(ctx, workflowID, stepKey, stepName, sequenceID)
}

func (c *cachedStore) MarkCompleted(ctx context.Context, workflowID, stepKey, output string) error {
	return c.inner.MarkCompleted(ctx, workflowID, stepKey, output)
}

func (c *cachedStore) MarkFailed(ctx context.Context, workflowID, stepKey, errMsg string, retryCount *int, nextRetryAtMs *int64) error {
	_ = c.cache.Delete(ctx, cacheKey(workflowID, stepKey))
	return c.inner.MarkFailed(ctx, workflowID, stepKey, errMsg, retryCount, nextRetryAtMs)
}

func (c *cachedStore) UpsertWorkflow(ctx context.Context, workflowID string, status WorkflowStatus) error {
	return c.inner.UpsertWorkflow(ctx, workflowID, status)
}

func (c *cachedStore) GetWorkflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, bool, error) {
	return c.inner.GetWorkflowStatus(ctx, workflowID)
}

func (c *cachedStore) IsCancelled(ctx context.Context, workflowID string) (bool, error) {
	return c.inner.IsCancelled(ctx, workflowID)
}

func (c *cachedStore) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.inner.CancelWorkflow(ctx, workflowID)
}

func (c *cachedStore) GetCompletedSteps(ctx context.Context, workflowID string) ([]StepRecord, error) {
	return c.inner.GetCompletedSteps(ctx, workflowID)
}

func (c *cachedStore) Close() error {
	return c.inner.Close()
}
