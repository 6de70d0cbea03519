// Package metrics exposes prometheus collectors for the provisioning workflows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "brain"

// Collector is a prometheus.Collector that collects metrics about workflow
// steps and backend logins.
type Collector struct {
	stepOutcomes     *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	logins           *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		stepOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_step_total",
				Help:      "The number of workflow steps by outcome.",
			}, []string{"workflow", "step", "outcome"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_duration_seconds",
				Help:      "The time taken to run a workflow.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			}, []string{"workflow", "result"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "backend_login_total",
				Help:      "The number of backend logins by result.",
			}, []string{"backend", "result"},
		),
	}
}

// ObserveStep records the outcome of one workflow step.
func (c *Collector) ObserveStep(workflow, step, outcome string) {
	c.stepOutcomes.WithLabelValues(workflow, step, outcome).Inc()
}

// ObserveWorkflow records the duration of a finished workflow.
func (c *Collector) ObserveWorkflow(workflow, result string, elapsed time.Duration) {
	c.workflowDuration.WithLabelValues(workflow, result).Observe(elapsed.Seconds())
}

// ObserveLogin records a backend login attempt.
func (c *Collector) ObserveLogin(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.logins.WithLabelValues(backend, result).Inc()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.stepOutcomes.Describe(ch)
	c.workflowDuration.Describe(ch)
	c.logins.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.stepOutcomes.Collect(ch)
	c.workflowDuration.Collect(ch)
	c.logins.Collect(ch)
}
