// Package prometheus implements the engine MetricsCollector on Prometheus.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector.
type Collector struct {
	runsStarted        *prometheus.CounterVec
	runsFinished       *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	stepsExecuted      *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	stepRetries        *prometheus.CounterVec
	triggersDeduped    prometheus.Counter
	workerPoolIdle     prometheus.Gauge
	workerPoolBusy     prometheus.Gauge
	workerPoolStopped  prometheus.Gauge
}

// NewCollector registers the engine metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a private registry
// to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_runs_started_total",
				Help: "Total number of workflow runs started",
			},
			[]string{"trigger"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_runs_finished_total",
				Help: "Total number of workflow runs reaching a terminal state",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowline_run_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 1800, 3600},
			},
			[]string{"status"},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_steps_executed_total",
				Help: "Total number of step executions by type and status",
			},
			[]string{"step_type", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowline_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"step_type"},
		),
		stepRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_step_retries_total",
				Help: "Total number of step retry attempts",
			},
			[]string{"step_type"},
		),
		triggersDeduped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flowline_triggers_deduplicated_total",
				Help: "Total number of webhook deliveries deduplicated by idempotency key",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowline_worker_pool_idle",
				Help: "Current number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowline_worker_pool_busy",
				Help: "Current number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowline_worker_pool_stopped",
				Help: "Current number of stopped workers",
			},
		),
	}
}

// RecordRunStarted counts a started run by trigger type.
func (c *Collector) RecordRunStarted(triggerType string) {
	c.runsStarted.WithLabelValues(triggerType).Inc()
}

// RecordRunFinished counts a terminal run and observes its duration.
func (c *Collector) RecordRunFinished(status string, duration time.Duration) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepExecuted counts a step execution and observes its duration.
func (c *Collector) RecordStepExecuted(stepType, status string, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(stepType, status).Inc()
	c.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordStepRetry counts a retry attempt.
func (c *Collector) RecordStepRetry(stepType string) {
	c.stepRetries.WithLabelValues(stepType).Inc()
}

// RecordTriggerDeduplicated counts a deduplicated webhook delivery.
func (c *Collector) RecordTriggerDeduplicated() {
	c.triggersDeduped.Inc()
}

// RecordWorkerPoolStatus updates the worker pool gauges.
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
