package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across components.
var (
	// ErrStoreConflict signals an optimistic-update race: the stored status
	// did not match the expected previous status. Callers re-read and retry
	// their decision; the error never surfaces to users.
	ErrStoreConflict = errors.New("store: status conflict")

	// ErrRunNotFound means the requested run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrWorkflowNotFound means the requested workflow definition does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunTerminal means the run already reached a terminal state.
	ErrRunTerminal = errors.New("run already in terminal state")

	// ErrDispatcherClosed means the work dispatcher is shutting down and
	// accepts no new tasks.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// ValidationError reports every problem found in a workflow definition.
// It is raised before any run is created; a definition that validates once
// never fails validation later.
type ValidationError struct {
	WorkflowID string
	Issues     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s invalid: %s", e.WorkflowID, strings.Join(e.Issues, "; "))
}

// ExecutorError wraps a failure produced by a step executor. Timeouts are
// executor errors too, so they feed the same retry policy.
type ExecutorError struct {
	StepID  string
	Timeout bool
	Err     error
}

func (e *ExecutorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("step %s: execution timed out: %v", e.StepID, e.Err)
	}
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// NewExecutorError wraps err as a step execution failure.
func NewExecutorError(stepID string, err error) *ExecutorError {
	return &ExecutorError{StepID: stepID, Err: err}
}

// NewTimeoutError marks a step failure caused by exceeding its timeout.
func NewTimeoutError(stepID string, err error) *ExecutorError {
	return &ExecutorError{StepID: stepID, Timeout: true, Err: err}
}
