package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinitionYAML(t *testing.T) {
	raw := []byte(`
id: greet
name: Greeting pipeline
variables:
  recipient: world
steps:
  - id: fetch
    type: http_request
    config:
      url: https://api.example.com/message
    outputs: [data]
    retry:
      max_attempts: 3
      backoff: exponential
      base_delay: 100ms
    timeout: 5s
  - id: render
    type: transform
    depends_on: [fetch]
    condition: "{{recipient}} != nobody"
triggers:
  - type: webhook
    mapping:
      recipient: to
`)
	def, err := ParseDefinitionYAML(raw)
	require.NoError(t, err)

	assert.Equal(t, "greet", def.ID)
	require.Len(t, def.Steps, 2)

	fetch, ok := def.Step("fetch")
	require.True(t, ok)
	assert.Equal(t, 3, fetch.Retry.MaxAttempts)
	assert.Equal(t, BackoffExponential, fetch.Retry.Backoff)
	assert.Equal(t, 100*time.Millisecond, fetch.Retry.BaseDelay.Std())
	assert.Equal(t, 5*time.Second, fetch.Timeout.Std())

	render, ok := def.Step("render")
	require.True(t, ok)
	assert.Equal(t, []string{"fetch"}, render.DependsOn)

	trig, ok := def.Trigger(TriggerTypeWebhook)
	require.True(t, ok)
	assert.Equal(t, "to", trig.Mapping["recipient"])

	_, ok = def.Trigger(TriggerTypeSchedule)
	assert.False(t, ok)
}

func TestParseDefinitionJSONDuration(t *testing.T) {
	raw := []byte(`{
		"id": "wf",
		"name": "wf",
		"steps": [
			{"id": "wait", "type": "delay", "timeout": "250ms"}
		]
	}`)
	def, err := ParseDefinition(raw)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, def.Steps[0].Timeout.Std())

	_, err = ParseDefinition([]byte(`{"steps": [{"timeout": "forever"}]}`))
	require.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	t.Run("zero attempts normalizes to one", func(t *testing.T) {
		assert.Equal(t, 1, RetryPolicy{}.Attempts())
		assert.Equal(t, 4, RetryPolicy{MaxAttempts: 4}.Attempts())
	})

	t.Run("fixed backoff", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 3, Backoff: BackoffFixed, BaseDelay: Duration(time.Second)}
		assert.Equal(t, time.Second, p.Delay(1))
		assert.Equal(t, time.Second, p.Delay(2))
	})

	t.Run("exponential backoff doubles", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 4, Backoff: BackoffExponential, BaseDelay: Duration(time.Second)}
		assert.Equal(t, time.Second, p.Delay(1))
		assert.Equal(t, 2*time.Second, p.Delay(2))
		assert.Equal(t, 4*time.Second, p.Delay(3))
	})

	t.Run("no base delay means immediate retry", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 2}
		assert.Equal(t, time.Duration(0), p.Delay(1))
	})
}

func TestCloneDetachesDefinition(t *testing.T) {
	def := &WorkflowDefinition{
		ID: "wf",
		Steps: []StepDefinition{
			{ID: "a", Type: "noop", Config: map[string]any{"nested": map[string]any{"k": "v"}}},
		},
	}
	clone := def.Clone()
	clone.Steps[0].Config["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", def.Steps[0].Config["nested"].(map[string]any)["k"])
}

func TestRunSnapshotFollowsDefinitionOrder(t *testing.T) {
	run := &Run{
		ID:         "run-1",
		WorkflowID: "wf",
		Status:     RunStatusRunning,
		Definition: &WorkflowDefinition{
			ID: "wf",
			Steps: []StepDefinition{
				{ID: "zeta", Type: "noop"},
				{ID: "alpha", Type: "noop"},
			},
		},
		Steps: map[string]*StepRun{
			"alpha": {StepID: "alpha", Status: StepStatusWaiting},
			"zeta":  {StepID: "zeta", Status: StepStatusRunning, Attempt: 1},
		},
	}

	snap := run.Snapshot()
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, "zeta", snap.Steps[0].StepID)
	assert.Equal(t, "alpha", snap.Steps[1].StepID)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
	assert.False(t, RunStatusRunning.Terminal())

	assert.True(t, StepStatusSkipped.Terminal())
	assert.False(t, StepStatusReady.Terminal())
}

func TestStepRunSatisfies(t *testing.T) {
	assert.True(t, (&StepRun{Status: StepStatusSucceeded}).Satisfies())
	assert.True(t, (&StepRun{Status: StepStatusSkipped, Reason: SkipReasonCondition}).Satisfies())
	assert.False(t, (&StepRun{Status: StepStatusSkipped, Reason: SkipReasonBlocked}).Satisfies())
	assert.False(t, (&StepRun{Status: StepStatusFailed}).Satisfies())
	assert.False(t, (&StepRun{Status: StepStatusRunning}).Satisfies())
}
