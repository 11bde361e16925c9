package triggers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	dedupmemory "github.com/flowlinehq/flowline/pkg/adapters/dedup/memory"
	"github.com/flowlinehq/flowline/pkg/adapters/metrics/noop"
	storagememory "github.com/flowlinehq/flowline/pkg/adapters/storage/memory"
	"github.com/flowlinehq/flowline/pkg/domain"
)

// recordingLauncher captures StartRun calls instead of executing anything.
// failures makes that many leading calls fail.
type recordingLauncher struct {
	mu       sync.Mutex
	calls    []launchCall
	failures int
}

type launchCall struct {
	workflowID string
	input      map[string]any
	trigger    domain.TriggerType
	runID      string
}

func (l *recordingLauncher) StartRun(ctx context.Context, def *domain.WorkflowDefinition, input map[string]any, trigger domain.TriggerType, runID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if runID == "" {
		runID = "generated-run"
	}
	l.calls = append(l.calls, launchCall{workflowID: def.ID, input: input, trigger: trigger, runID: runID})
	if l.failures > 0 {
		l.failures--
		return "", errors.New("engine unavailable")
	}
	return runID, nil
}

func (l *recordingLauncher) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *recordingLauncher) last() launchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[len(l.calls)-1]
}

func newTestDispatcher(t *testing.T, def *domain.WorkflowDefinition) (*Dispatcher, *recordingLauncher) {
	t.Helper()
	repo := storagememory.NewRepository()
	require.NoError(t, repo.SaveDefinition(context.Background(), def))
	launcher := &recordingLauncher{}
	d := NewDispatcher(launcher, repo, dedupmemory.NewStore(), noop.NewCollector(), zap.NewNop(), time.Hour)
	return d, launcher
}

func webhookWorkflow() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID: "orders",
		Steps: []domain.StepDefinition{
			{ID: "process", Type: "noop"},
		},
		Triggers: []domain.TriggerDefinition{
			{Type: domain.TriggerTypeWebhook, Mapping: map[string]string{
				"order_id": "id",
				"amount":   "total",
			}},
		},
	}
}

func TestOnTriggerWebhookMapsPayload(t *testing.T) {
	d, launcher := newTestDispatcher(t, webhookWorkflow())

	payload := map[string]any{"id": "ord-1", "total": 42.5, "noise": "ignored"}
	runID, deduplicated, err := d.OnTrigger(context.Background(), "orders", domain.TriggerTypeWebhook, payload, "")
	require.NoError(t, err)
	assert.False(t, deduplicated)
	assert.NotEmpty(t, runID)

	call := launcher.last()
	assert.Equal(t, domain.TriggerTypeWebhook, call.trigger)
	assert.Equal(t, map[string]any{"order_id": "ord-1", "amount": 42.5}, call.input)
}

func TestOnTriggerWebhookDeduplicates(t *testing.T) {
	d, launcher := newTestDispatcher(t, webhookWorkflow())

	payload := map[string]any{"id": "ord-2", "total": 10}
	first, deduplicated, err := d.OnTrigger(context.Background(), "orders", domain.TriggerTypeWebhook, payload, "delivery-123")
	require.NoError(t, err)
	assert.False(t, deduplicated)

	second, deduplicated, err := d.OnTrigger(context.Background(), "orders", domain.TriggerTypeWebhook, payload, "delivery-123")
	require.NoError(t, err)
	assert.True(t, deduplicated)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, launcher.callCount())
}

func TestOnTriggerFailedStartReleasesDedupClaim(t *testing.T) {
	d, launcher := newTestDispatcher(t, webhookWorkflow())
	launcher.failures = 1

	payload := map[string]any{"id": "ord-9"}
	_, deduplicated, err := d.OnTrigger(context.Background(), "orders", domain.TriggerTypeWebhook, payload, "delivery-777")
	require.Error(t, err)
	assert.False(t, deduplicated)

	// The retried delivery must start a real run, not replay the failure.
	runID, deduplicated, err := d.OnTrigger(context.Background(), "orders", domain.TriggerTypeWebhook, payload, "delivery-777")
	require.NoError(t, err)
	assert.False(t, deduplicated)
	assert.NotEmpty(t, runID)
	assert.Equal(t, 2, launcher.callCount())
}

func TestOnTriggerDistinctKeysStartDistinctRuns(t *testing.T) {
	d, launcher := newTestDispatcher(t, webhookWorkflow())

	payload := map[string]any{"id": "ord-3"}
	first, _, err := d.OnTrigger(context.Background(), "orders", domain.TriggerTypeWebhook, payload, "delivery-a")
	require.NoError(t, err)
	second, _, err := d.OnTrigger(context.Background(), "orders", domain.TriggerTypeWebhook, payload, "delivery-b")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, launcher.callCount())
}

func TestOnTriggerManualNeedsNoDeclaration(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID:    "plain",
		Steps: []domain.StepDefinition{{ID: "only", Type: "noop"}},
	}
	d, launcher := newTestDispatcher(t, def)

	_, _, err := d.OnTrigger(context.Background(), "plain", domain.TriggerTypeManual, map[string]any{"who": "operator"}, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"who": "operator"}, launcher.last().input)
}

func TestOnTriggerUndeclaredTypeRejected(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID:    "plain",
		Steps: []domain.StepDefinition{{ID: "only", Type: "noop"}},
	}
	d, launcher := newTestDispatcher(t, def)

	_, _, err := d.OnTrigger(context.Background(), "plain", domain.TriggerTypeWebhook, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares no webhook trigger")
	assert.Equal(t, 0, launcher.callCount())
}

func TestOnTriggerUnknownWorkflow(t *testing.T) {
	d, _ := newTestDispatcher(t, webhookWorkflow())

	_, _, err := d.OnTrigger(context.Background(), "missing", domain.TriggerTypeManual, nil, "")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestOnTriggerEmptyMappingCopiesPayload(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID:    "passthrough",
		Steps: []domain.StepDefinition{{ID: "only", Type: "noop"}},
		Triggers: []domain.TriggerDefinition{
			{Type: domain.TriggerTypeWebhook},
		},
	}
	d, launcher := newTestDispatcher(t, def)

	payload := map[string]any{"everything": "kept"}
	_, _, err := d.OnTrigger(context.Background(), "passthrough", domain.TriggerTypeWebhook, payload, "")
	require.NoError(t, err)
	assert.Equal(t, payload, launcher.last().input)
}
