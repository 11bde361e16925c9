// Package noop provides a MetricsCollector that discards everything, for
// tests and deployments without a metrics backend.
package noop

import "time"

// Collector implements ports.MetricsCollector as no-ops.
type Collector struct{}

// NewCollector returns a no-op collector.
func NewCollector() *Collector { return &Collector{} }

func (*Collector) RecordRunStarted(string)                        {}
func (*Collector) RecordRunFinished(string, time.Duration)        {}
func (*Collector) RecordStepExecuted(string, string, time.Duration) {}
func (*Collector) RecordStepRetry(string)                         {}
func (*Collector) RecordTriggerDeduplicated()                     {}
func (*Collector) RecordWorkerPoolStatus(int, int, int)           {}
