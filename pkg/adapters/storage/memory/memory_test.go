package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlinehq/flowline/pkg/domain"
)

func sampleRun(id string) *domain.Run {
	return &domain.Run{
		ID:         id,
		WorkflowID: "wf-1",
		Definition: &domain.WorkflowDefinition{
			ID:    "wf-1",
			Steps: []domain.StepDefinition{{ID: "a", Type: "noop"}},
		},
		Status:    domain.RunStatusPending,
		Variables: map[string]any{"region": "eu"},
		Steps: map[string]*domain.StepRun{
			"a": {StepID: "a", Status: domain.StepStatusWaiting},
		},
		CreatedAt: time.Now(),
	}
}

func TestRepositoryRunLifecycle(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateRun(ctx, sampleRun("run-1")))
	assert.Error(t, repo.CreateRun(ctx, sampleRun("run-1")), "duplicate id must be rejected")

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, got.Status)

	_, err = repo.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRepositoryStoredRunIsDetached(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	run := sampleRun("run-1")
	require.NoError(t, repo.CreateRun(ctx, run))

	// Mutating the caller's copy must not leak into the store.
	run.Steps["a"].Status = domain.StepStatusFailed
	run.Variables["region"] = "us"

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusWaiting, got.Steps["a"].Status)
	assert.Equal(t, "eu", got.Variables["region"])
}

func TestRepositoryConditionalRunStatus(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, sampleRun("run-1")))

	require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", domain.RunStatusPending, domain.RunStatusRunning, ""))

	// Stale expectation loses.
	err := repo.UpdateRunStatus(ctx, "run-1", domain.RunStatusPending, domain.RunStatusCancelled, "")
	assert.ErrorIs(t, err, domain.ErrStoreConflict)

	require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", domain.RunStatusRunning, domain.RunStatusFailed, "boom"))
	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestRepositoryConditionalStepUpdate(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, sampleRun("run-1")))

	now := time.Now()
	require.NoError(t, repo.UpdateStepRun(ctx, "run-1", "a", domain.StepStatusWaiting, domain.StepUpdate{
		Status:    domain.StepStatusRunning,
		Attempt:   1,
		StartedAt: &now,
	}))

	err := repo.UpdateStepRun(ctx, "run-1", "a", domain.StepStatusWaiting, domain.StepUpdate{
		Status: domain.StepStatusSkipped,
	})
	assert.ErrorIs(t, err, domain.ErrStoreConflict)

	require.NoError(t, repo.UpdateStepRun(ctx, "run-1", "a", domain.StepStatusRunning, domain.StepUpdate{
		Status: domain.StepStatusSucceeded,
		Output: map[string]any{"n": 1},
	}))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	step := got.Steps["a"]
	assert.Equal(t, domain.StepStatusSucceeded, step.Status)
	assert.Equal(t, 1, step.Attempt)
	assert.EqualValues(t, 1, step.Output["n"])
}

func TestRepositoryMergeVariables(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, sampleRun("run-1")))

	require.NoError(t, repo.MergeVariables(ctx, "run-1", map[string]any{"token": "t"}))
	require.NoError(t, repo.MergeVariables(ctx, "run-1", map[string]any{"token": "t2", "extra": true}))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Variables["token"])
	assert.Equal(t, true, got.Variables["extra"])
	assert.Equal(t, "eu", got.Variables["region"])
}

func TestRepositoryListRunsNewestFirst(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	older := sampleRun("run-old")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := sampleRun("run-new")
	require.NoError(t, repo.CreateRun(ctx, older))
	require.NoError(t, repo.CreateRun(ctx, newer))

	runs, err := repo.ListRuns(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)

	runs, err = repo.ListRuns(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRepositoryLogs(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	require.NoError(t, repo.AppendLog(ctx, &domain.ExecutionLog{RunID: "run-1", Level: domain.LogLevelInfo, Message: "first"}))
	require.NoError(t, repo.AppendLog(ctx, &domain.ExecutionLog{RunID: "run-1", StepID: "a", Level: domain.LogLevelError, Message: "second"}))

	logs, err := repo.ListLogs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
	assert.NotEmpty(t, logs[0].ID)
}

func TestRepositoryDefinitions(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	def := &domain.WorkflowDefinition{
		ID:    "wf-1",
		Name:  "sample",
		Steps: []domain.StepDefinition{{ID: "a", Type: "noop"}},
	}
	require.NoError(t, repo.SaveDefinition(ctx, def))

	got, err := repo.LoadDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "sample", got.Name)

	_, err = repo.LoadDefinition(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}
