package domain

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus is the lifecycle state of one step within a run.
type StepStatus string

const (
	StepStatusWaiting   StepStatus = "waiting"
	StepStatusReady     StepStatus = "ready"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step can no longer change state.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusSkipped
}

// Skip reasons recorded on StepRun.Reason.
const (
	SkipReasonBlocked   = "blocked"
	SkipReasonCondition = "condition_false"
)

// StepRun tracks one StepDefinition within one Run.
type StepRun struct {
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Attempt     int            `json:"attempt"`
	LastError   string         `json:"last_error,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Satisfies reports whether a dependent may proceed past this dependency.
// A skip satisfies dependents unless it was itself caused by an upstream
// failure, in which case the block travels down the chain.
func (sr *StepRun) Satisfies() bool {
	return sr.Status == StepStatusSucceeded ||
		(sr.Status == StepStatusSkipped && sr.Reason != SkipReasonBlocked)
}

// StepUpdate carries the fields of a conditional StepRun transition. Nil
// pointers leave the stored value untouched.
type StepUpdate struct {
	Status      StepStatus
	Attempt     int
	Output      map[string]any
	Error       string
	Reason      string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Run is one execution instance of a workflow definition. The definition is
// snapshotted at start; Input is immutable after start, Variables accumulate
// step outputs as the run advances.
type Run struct {
	ID          string              `json:"id"`
	WorkflowID  string              `json:"workflow_id"`
	Definition  *WorkflowDefinition `json:"definition"`
	Status      RunStatus           `json:"status"`
	TriggerType TriggerType         `json:"trigger_type,omitempty"`
	Input       map[string]any      `json:"input,omitempty"`
	Variables   map[string]any      `json:"variables,omitempty"`
	Steps       map[string]*StepRun `json:"steps"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// StepSnapshot is the per-step slice of a run snapshot.
type StepSnapshot struct {
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Attempt     int            `json:"attempt"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// RunSnapshot is the run-level view consumed by monitoring and API layers.
type RunSnapshot struct {
	RunID       string         `json:"run_id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      RunStatus      `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Steps       []StepSnapshot `json:"steps"`
	Variables   map[string]any `json:"variables,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Snapshot flattens the run into its exposed shape. Steps follow definition
// order when the definition snapshot is present.
func (r *Run) Snapshot() *RunSnapshot {
	snap := &RunSnapshot{
		RunID:       r.ID,
		WorkflowID:  r.WorkflowID,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Variables:   r.Variables,
		Error:       r.Error,
	}
	appendStep := func(sr *StepRun) {
		snap.Steps = append(snap.Steps, StepSnapshot{
			StepID:      sr.StepID,
			Status:      sr.Status,
			Attempt:     sr.Attempt,
			Output:      sr.Output,
			Error:       sr.LastError,
			Reason:      sr.Reason,
			StartedAt:   sr.StartedAt,
			CompletedAt: sr.CompletedAt,
		})
	}
	if r.Definition != nil {
		for _, sd := range r.Definition.Steps {
			if sr, ok := r.Steps[sd.ID]; ok {
				appendStep(sr)
			}
		}
		return snap
	}
	for _, sr := range r.Steps {
		appendStep(sr)
	}
	return snap
}
