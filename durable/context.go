// Package durable implements the per-workflow runtime that the step
// memoization protocol and saga compensation engine are built on top of:
// workflow identity, sequencing, the compensation stack, and the
// cooperative cancellation check.
package durable

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/durablestep/engine/sequence"
	"github.com/durablestep/engine/store"
	"github.com/durablestep/engine/workflowerr"
)

// compensation is a registered zero-argument rollback action.
type compensation func() error

// Context is the per-workflow runtime threaded through every step call.
// Its SequenceManager is safe for concurrent use from parallel branches.
// Its compensation stack is guarded by a mutex, so concurrent
// AddCompensation calls are safe, but compensations pushed from parallel
// goroutines land on the stack in scheduling order, so their rollback
// order is only deterministic when they are registered from the
// orchestrator goroutine.
type Context struct {
	WorkflowID string

	store    store.Store
	sequence *sequence.Manager
	logger   *zap.Logger

	mu            sync.Mutex
	compensations []compensation

	eg *errgroup.Group
}

// New constructs a Context for workflowID against store. logger may be
// nil, in which case a no-op logger is used.
func New(workflowID string, st store.Store, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		WorkflowID: workflowID,
		store:      st,
		sequence:   sequence.NewManager(0),
		logger:     logger.With(zap.String("workflow_id", workflowID)),
		eg:         &errgroup.Group{},
	}
}

// Store exposes the backing Store to the executor package.
func (c *Context) Store() store.Store { return c.store }

// Sequence exposes the SequenceManager to the executor package.
func (c *Context) Sequence() *sequence.Manager { return c.sequence }

// Logger returns the context's scoped logger.
func (c *Context) Logger() *zap.Logger { return c.logger }

// CheckCancelled consults the Store for the workflow's status. If it is
// CANCELLED, it returns workflowerr.Cancelled. Store errors during this
// check are swallowed: this is a best-effort liveness check, not a
// correctness gate — the step itself is still persisted atomically by the
// executor regardless of what CheckCancelled observes.
func (c *Context) CheckCancelled(ctx context.Context) error {
	cancelled, err := c.store.IsCancelled(ctx, c.WorkflowID)
	if err != nil {
		c.logger.Warn("cancellation check failed, proceeding", zap.Error(err))
		return nil
	}
	if cancelled {
		return &workflowerr.Cancelled{WorkflowID: c.WorkflowID}
	}
	return nil
}

// AddCompensation pushes action onto the LIFO compensation stack.
func (c *Context) AddCompensation(action func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compensations = append(c.compensations, action)
}

// ExecuteCompensations pops and runs every registered compensation in
// LIFO order. A failing compensation is logged and skipped; the rest
// still run — one failing rollback must never block the others.
func (c *Context) ExecuteCompensations() {
	c.mu.Lock()
	stack := c.compensations
	c.compensations = nil
	c.mu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("compensation panicked", zap.Any("recovered", r))
				}
			}()
			if err := stack[i](); err != nil {
				c.logger.Error("compensation failed, continuing rollback", zap.Error(err))
			}
		}()
	}
}

// GetCompensationCount returns the number of compensations currently
// registered. Test-observable.
func (c *Context) GetCompensationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.compensations)
}

// Go runs fn concurrently, joined by a later call to Wait. All goroutines
// dispatched this way share this Context's SequenceManager and Store;
// they must use step names unique to their branch so that the memo key
// stays stable across restarts regardless of which goroutine's
// sequence.Next() call wins the race.
func (c *Context) Go(fn func() error) {
	c.eg.Go(fn)
}

// Wait blocks until every goroutine dispatched via Go has returned, and
// returns the first non-nil error, if any.
func (c *Context) Wait() error {
	return c.eg.Wait()
}
