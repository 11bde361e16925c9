package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutorErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewExecutorError("fetch", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "step fetch")
	assert.False(t, err.Timeout)

	timeout := NewTimeoutError("fetch", context.DeadlineExceeded)
	assert.True(t, timeout.Timeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.Contains(t, timeout.Error(), "timed out")
}

func TestValidationErrorJoinsIssues(t *testing.T) {
	err := &ValidationError{WorkflowID: "wf", Issues: []string{"first", "second"}}
	assert.Contains(t, err.Error(), "workflow wf invalid")
	assert.Contains(t, err.Error(), "first; second")
}
