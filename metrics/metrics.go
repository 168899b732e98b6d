// Package metrics exposes the engine's process-wide counters: steps,
// failures, workflow restarts, and saga compensations. Counters are not
// part of the memoization correctness surface; Reset is provided purely
// for test isolation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the engine's Prometheus counters.
type Registry struct {
	Steps             *prometheus.CounterVec
	Failures          *prometheus.CounterVec
	WorkflowRestarts  *prometheus.CounterVec
	Compensations     *prometheus.CounterVec
}

var (
	mu      sync.Mutex
	current *Registry
)

// newRegistry builds a fresh set of counters and registers them against
// their own registry, so repeated calls (e.g. across tests) never hit
// Prometheus's "duplicate metrics collector registration" panic.
func newRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		Steps: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "workflow_steps_total", Help: "Total number of step closures that completed successfully."},
			[]string{"workflow_id"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "workflow_step_failures_total", Help: "Total number of step closure failures."},
			[]string{"workflow_id"},
		),
		WorkflowRestarts: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "workflow_restarts_total", Help: "Total number of workflow restarts observed."},
			[]string{"workflow_id"},
		),
		Compensations: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "workflow_compensations_total", Help: "Total number of saga compensations executed."},
			[]string{"workflow_id"},
		),
	}
}

// Default returns the process-wide Registry, creating it on first use.
func Default() *Registry {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = newRegistry()
	}
	return current
}

// Reset recreates the process-wide Registry. Test-only: it exists so
// successive test cases don't accumulate counts against each other.
func Reset() *Registry {
	mu.Lock()
	defer mu.Unlock()
	current = newRegistry()
	return current
}

// IncStep increments the steps counter for workflowID.
func (r *Registry) IncStep(workflowID string) { r.Steps.WithLabelValues(workflowID).Inc() }

// IncFailure increments the failures counter for workflowID.
func (r *Registry) IncFailure(workflowID string) { r.Failures.WithLabelValues(workflowID).Inc() }

// IncWorkflowRestart increments the workflow_restarts counter for workflowID.
func (r *Registry) IncWorkflowRestart(workflowID string) {
	r.WorkflowRestarts.WithLabelValues(workflowID).Inc()
}

// IncCompensation increments the compensations counter for workflowID.
func (r *Registry) IncCompensation(workflowID string) {
	r.Compensations.WithLabelValues(workflowID).Inc()
}
