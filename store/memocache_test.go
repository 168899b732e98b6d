package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durablestep/engine/store"
)

// fakeCache is an in-process memocache.Cache used so the decorator can be
// exercised without a Redis instance.
type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
	gets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Close() error { return nil }

// countingStore wraps a Store and counts calls to Find, so a test can
// assert the decorator actually skipped the inner store on a cache hit
// rather than just observing cache.Get call counts (which increment on
// both hits and misses).
type countingStore struct {
	store.Store
	mu    sync.Mutex
	finds int
}

func (c *countingStore) Find(ctx context.Context, workflowID, stepKey string) (*store.StepRecord, error) {
	c.mu.Lock()
	c.finds++
	c.mu.Unlock()
	return c.Store.Find(ctx, workflowID, stepKey)
}

func TestMemoCacheServesCompletedRecordsWithoutHittingInner(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: store.NewMemoryStore()}
	cache := newFakeCache()
	cached := store.WithMemoCache(inner, cache, time.Minute)

	require.NoError(t, inner.MarkRunning(ctx, "wf-1", "step#1", "step", 1))
	require.NoError(t, inner.MarkCompleted(ctx, "wf-1", "step#1", `"value"`))

	rec, err := cached.Find(ctx, "wf-1", "step#1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.StatusCompleted, rec.Status)

	rec, err = cached.Find(ctx, "wf-1", "step#1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, inner.finds, "second lookup should be served by the cache, not re-fetched from inner")
}

func TestMemoCacheNeverCachesRunningOrFailedRecords(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryStore()
	cache := newFakeCache()
	cached := store.WithMemoCache(inner, cache, time.Minute)

	require.NoError(t, inner.MarkRunning(ctx, "wf-1", "step#1", "step", 1))
	_, err := cached.Find(ctx, "wf-1", "step#1")
	require.NoError(t, err)

	_, ok, _ := cache.Get(ctx, "step:wf-1:step#1")
	assert.False(t, ok)

	require.NoError(t, inner.MarkFailed(ctx, "wf-1", "step#1", "boom", nil, nil))
	_, err = cached.Find(ctx, "wf-1", "step#1")
	require.NoError(t, err)

	_, ok, _ = cache.Get(ctx, "step:wf-1:step#1")
	assert.False(t, ok)
}

func TestMemoCacheInvalidatesOnMarkRunningAndMarkFailed(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryStore()
	cache := newFakeCache()
	cached := store.WithMemoCache(inner, cache, time.Minute)

	require.NoError(t, cached.MarkRunning(ctx, "wf-1", "step#1", "step", 1))
	require.NoError(t, cached.MarkCompleted(ctx, "wf-1", "step#1", `"value"`))
	_, err := cached.Find(ctx, "wf-1", "step#1")
	require.NoError(t, err)

	_, ok, _ := cache.Get(ctx, "step:wf-1:step#1")
	require.True(t, ok)

	require.NoError(t, cached.MarkRunning(ctx, "wf-1", "step#1", "step", 1))
	_, ok, _ = cache.Get(ctx, "step:wf-1:step#1")
	assert.False(t, ok, "a re-run must invalidate the stale cached completion")

	require.NoError(t, cached.MarkCompleted(ctx, "wf-1", "step#1", `"value"`))
	_, err = cached.Find(ctx, "wf-1", "step#1")
	require.NoError(t, err)
	_, ok, _ = cache.Get(ctx, "step:wf-1:step#1")
	require.True(t, ok)

	require.NoError(t, cached.MarkFailed(ctx, "wf-1", "step#1", "boom", nil, nil))
	_, ok, _ = cache.Get(ctx, "step:wf-1:step#1")
	assert.False(t, ok, "a failure must invalidate the stale cached completion")
}
