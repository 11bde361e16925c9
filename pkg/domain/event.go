package domain

import "time"

// EventType identifies a run or step lifecycle event.
type EventType string

const (
	EventTypeRunStarted    EventType = "run.started"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunFailed     EventType = "run.failed"
	EventTypeRunCancelled  EventType = "run.cancelled"
	EventTypeStepStarted   EventType = "step.started"
	EventTypeStepSucceeded EventType = "step.succeeded"
	EventTypeStepFailed    EventType = "step.failed"
	EventTypeStepSkipped   EventType = "step.skipped"
	EventTypeStepRetrying  EventType = "step.retrying"
)

// Event is the wire shape of a lifecycle event. Delivery is best-effort and
// ordered per run; there is no cross-run ordering guarantee.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	StepID     string         `json:"step_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}
