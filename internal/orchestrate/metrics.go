package orchestrate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's counters on a private Registry. The
// registry lives and dies with the Runtime — no package-global collectors,
// so concurrent orchestrations in tests stay isolated.
type Metrics struct {
	reg *prometheus.Registry

	JobsSubmitted   *prometheus.CounterVec // by job kind
	JobsSucceeded   *prometheus.CounterVec
	JobsRetried     *prometheus.CounterVec
	JobsFailed      *prometheus.CounterVec // permanent failures only
	Transitions     *prometheus.CounterVec // by target stage
	WorkflowsActive prometheus.Gauge
}

// NewMetrics creates a fresh registry with all collectors registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonoflow_jobs_submitted_total",
			Help: "External jobs submitted, including resubmissions.",
		}, []string{"kind"}),
		JobsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonoflow_jobs_succeeded_total",
			Help: "External jobs that completed successfully.",
		}, []string{"kind"}),
		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonoflow_jobs_retried_total",
			Help: "Job failures that were retried.",
		}, []string{"kind"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonoflow_jobs_failed_total",
			Help: "Jobs that failed permanently after exhausting retries.",
		}, []string{"kind"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonoflow_stage_transitions_total",
			Help: "Workflow state-machine transitions by target stage.",
		}, []string{"to"}),
		WorkflowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phonoflow_workflows_active",
			Help: "Workflows currently tracked by the runtime.",
		}),
	}
	m.reg.MustRegister(
		m.JobsSubmitted, m.JobsSucceeded, m.JobsRetried, m.JobsFailed,
		m.Transitions, m.WorkflowsActive,
	)
	return m
}

// Registry exposes the private registry for scraping or test assertions.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
