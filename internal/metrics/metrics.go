// Package metrics defines the Prometheus instrumentation for the
// swarm coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the swarm collectors. All collectors are registered on
// the Registerer passed to New, never on the global default.
type Metrics struct {
	// TasksCompleted counts tasks that completed and passed verification.
	TasksCompleted prometheus.Counter
	// TasksFailed counts tasks that failed permanently.
	TasksFailed prometheus.Counter
	// TasksRetried counts retry dispatches.
	TasksRetried prometheus.Counter
	// ObjectivesCompleted counts accepted objectives.
	ObjectivesCompleted prometheus.Counter
	// ObjectivesFailed counts failed objectives.
	ObjectivesFailed prometheus.Counter
	// VerificationFailures counts enforcement failures.
	VerificationFailures prometheus.Counter
	// MemoryEvictions counts memory entries evicted by capacity.
	MemoryEvictions prometheus.Counter
	// ActiveAgents tracks registered agents by status.
	ActiveAgents *prometheus.GaugeVec
	// OpenCircuits tracks agents with an open circuit.
	OpenCircuits prometheus.Gauge
	// PendingTasks tracks tasks awaiting dispatch.
	PendingTasks prometheus.Gauge
	// TaskDuration observes task wall-clock durations.
	TaskDuration prometheus.Histogram
}

// New creates and registers the swarm collectors.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claude_flow",
			Name:      "tasks_completed_total",
			Help:      "Tasks that completed and passed verification.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claude_flow",
			Name:      "tasks_failed_total",
			Help:      "Tasks that failed permanently.",
		}),
		TasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claude_flow",
			Name:      "tasks_retried_total",
			Help:      "Task retry dispatches.",
		}),
		ObjectivesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claude_flow",
			Name:      "objectives_completed_total",
			Help:      "Objectives that reached completed.",
		}),
		ObjectivesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claude_flow",
			Name:      "objectives_failed_total",
			Help:      "Objectives that reached failed.",
		}),
		VerificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claude_flow",
			Name:      "verification_failures_total",
			Help:      "Verification enforcement failures.",
		}),
		MemoryEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claude_flow",
			Name:      "memory_evictions_total",
			Help:      "Memory entries evicted by capacity or pressure.",
		}),
		ActiveAgents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "claude_flow",
			Name:      "agents",
			Help:      "Registered agents by status.",
		}, []string{"status"}),
		OpenCircuits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "claude_flow",
			Name:      "open_circuits",
			Help:      "Agents whose circuit breaker is open.",
		}),
		PendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "claude_flow",
			Name:      "pending_tasks",
			Help:      "Tasks awaiting dispatch.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "claude_flow",
			Name:      "task_duration_seconds",
			Help:      "Task wall-clock durations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}

	collectors := []prometheus.Collector{
		m.TasksCompleted, m.TasksFailed, m.TasksRetried,
		m.ObjectivesCompleted, m.ObjectivesFailed,
		m.VerificationFailures, m.MemoryEvictions,
		m.ActiveAgents, m.OpenCircuits, m.PendingTasks, m.TaskDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is New, panicking on registration errors. Intended for
// program startup.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}
