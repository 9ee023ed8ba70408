// Package metrics exposes Prometheus counters for the engine's hot
// paths. Everything is registered on the default registry and served by
// promhttp from the main binary.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TaskTransitions counts lifecycle operations by verb and outcome.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbench_task_transitions_total",
		Help: "Task lifecycle operations by verb and outcome.",
	}, []string{"operation", "outcome"})

	// QueryExecutions counts query engine runs by entity kind.
	QueryExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbench_query_executions_total",
		Help: "Query engine executions by entity kind.",
	}, []string{"kind"})

	// ConcurrencyConflicts counts version-conditioned writes that lost
	// the race.
	ConcurrencyConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskbench_concurrency_conflicts_total",
		Help: "Optimistic-concurrency write conflicts.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome converts an error into the label value used on TaskTransitions.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
