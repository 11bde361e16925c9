package ports

import "time"

// MetricsCollector records engine activity. Implementations must be safe for
// concurrent use from multiple runner goroutines.
type MetricsCollector interface {
	RecordRunStarted(triggerType string)
	RecordRunFinished(status string, duration time.Duration)
	RecordStepExecuted(stepType, status string, duration time.Duration)
	RecordStepRetry(stepType string)
	RecordTriggerDeduplicated()
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
