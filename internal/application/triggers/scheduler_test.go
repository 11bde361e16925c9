package triggers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
)

func TestSchedulerFiresScheduleTriggers(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID:    "periodic",
		Steps: []domain.StepDefinition{{ID: "tick", Type: "noop"}},
		Triggers: []domain.TriggerDefinition{
			{Type: domain.TriggerTypeSchedule, Config: map[string]any{"cron": "@every 10ms"}},
		},
	}
	d, launcher := newTestDispatcher(t, def)

	s := NewScheduler(d, zap.NewNop())
	require.NoError(t, s.RegisterWorkflow(def))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return launcher.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.TriggerTypeSchedule, launcher.last().trigger)
}

func TestSchedulerRejectsMissingCron(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID:    "broken",
		Steps: []domain.StepDefinition{{ID: "tick", Type: "noop"}},
		Triggers: []domain.TriggerDefinition{
			{Type: domain.TriggerTypeSchedule},
		},
	}
	d, _ := newTestDispatcher(t, def)

	s := NewScheduler(d, zap.NewNop())
	err := s.RegisterWorkflow(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron")
}

func TestSchedulerReplacesEntriesOnReregister(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID:    "periodic",
		Steps: []domain.StepDefinition{{ID: "tick", Type: "noop"}},
		Triggers: []domain.TriggerDefinition{
			{Type: domain.TriggerTypeSchedule, Config: map[string]any{"cron": "@every 1h"}},
		},
	}
	d, _ := newTestDispatcher(t, def)

	s := NewScheduler(d, zap.NewNop())
	require.NoError(t, s.RegisterWorkflow(def))
	require.NoError(t, s.RegisterWorkflow(def))
	assert.Len(t, s.entries[def.ID], 1)

	s.UnregisterWorkflow(def.ID)
	assert.Empty(t, s.entries[def.ID])
}
