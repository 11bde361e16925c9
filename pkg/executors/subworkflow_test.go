package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlinehq/flowline/pkg/domain"
)

type fakeLauncher struct {
	started map[string]map[string]any
	result  *domain.Run
	err     error
}

func (l *fakeLauncher) StartRunForWorkflow(ctx context.Context, workflowID string, input map[string]any, trigger domain.TriggerType) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	if l.started == nil {
		l.started = map[string]map[string]any{}
	}
	l.started[workflowID] = input
	return l.result.ID, nil
}

func (l *fakeLauncher) WaitRun(ctx context.Context, runID string) (*domain.Run, error) {
	return l.result, nil
}

func TestSubworkflowSuccess(t *testing.T) {
	launcher := &fakeLauncher{result: &domain.Run{
		ID:        "child-1",
		Status:    domain.RunStatusCompleted,
		Variables: map[string]any{"report": "done"},
	}}
	e := NewSubworkflowExecutor(launcher)

	out, err := e.Execute(context.Background(), map[string]any{
		"workflow_id": "nightly-report",
		"input":       map[string]any{"day": "monday"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "child-1", out["run_id"])
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, map[string]any{"day": "monday"}, launcher.started["nightly-report"])
	assert.Equal(t, map[string]any{"report": "done"}, out["variables"])
}

func TestSubworkflowChildFailureFailsStep(t *testing.T) {
	launcher := &fakeLauncher{result: &domain.Run{
		ID:     "child-2",
		Status: domain.RunStatusFailed,
		Error:  "step exploded",
	}}
	e := NewSubworkflowExecutor(launcher)

	_, err := e.Execute(context.Background(), map[string]any{"workflow_id": "doomed"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step exploded")
}

func TestSubworkflowRequiresWorkflowID(t *testing.T) {
	e := NewSubworkflowExecutor(&fakeLauncher{})
	_, err := e.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
}
