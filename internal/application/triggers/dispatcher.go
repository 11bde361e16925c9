package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
	"github.com/flowlinehq/flowline/pkg/ports"
)

// Launcher is the slice of the engine the trigger layer needs. A run id may
// be pre-assigned so webhook deduplication can claim it before any run state
// exists.
type Launcher interface {
	StartRun(ctx context.Context, def *domain.WorkflowDefinition, input map[string]any, trigger domain.TriggerType, runID string) (string, error)
}

// Dispatcher turns external stimuli into runs: it loads the workflow,
// matches the trigger declaration, seeds input variables from the payload
// and deduplicates webhook deliveries by idempotency key.
type Dispatcher struct {
	launcher Launcher
	repo     ports.Repository
	dedup    ports.DedupStore
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	// dedupWindow is how long a webhook idempotency key suppresses replays.
	dedupWindow time.Duration
}

// NewDispatcher creates the trigger dispatcher.
func NewDispatcher(launcher Launcher, repo ports.Repository, dedup ports.DedupStore, metrics ports.MetricsCollector, logger *zap.Logger, dedupWindow time.Duration) *Dispatcher {
	return &Dispatcher{
		launcher:    launcher,
		repo:        repo,
		dedup:       dedup,
		metrics:     metrics,
		logger:      logger,
		dedupWindow: dedupWindow,
	}
}

// OnTrigger starts a run of workflowID in response to a trigger.
// For webhooks with an idempotency key, a replayed delivery returns the
// already-started run id with deduplicated=true and starts nothing.
//
// Manual triggers never require a declaration; every other trigger type
// must be declared on the workflow.
func (d *Dispatcher) OnTrigger(ctx context.Context, workflowID string, triggerType domain.TriggerType, payload map[string]any, idempotencyKey string) (runID string, deduplicated bool, err error) {
	def, err := d.repo.LoadDefinition(ctx, workflowID)
	if err != nil {
		return "", false, err
	}

	trig, declared := def.Trigger(triggerType)
	if !declared && triggerType != domain.TriggerTypeManual {
		return "", false, fmt.Errorf("workflow %s declares no %s trigger", workflowID, triggerType)
	}

	input := payload
	if declared && len(trig.Mapping) > 0 {
		input = make(map[string]any, len(trig.Mapping))
		for variable, payloadKey := range trig.Mapping {
			if value, ok := payload[payloadKey]; ok {
				input[variable] = value
			}
		}
	}

	if triggerType == domain.TriggerTypeWebhook && idempotencyKey != "" {
		candidate := uuid.New().String()
		key := workflowID + ":" + idempotencyKey
		existing, claimed, err := d.dedup.PutIfAbsent(ctx, key, candidate, d.dedupWindow)
		if err != nil {
			return "", false, fmt.Errorf("webhook dedup check: %w", err)
		}
		if !claimed {
			d.metrics.RecordTriggerDeduplicated()
			d.logger.Info("webhook delivery deduplicated",
				zap.String("workflow_id", workflowID),
				zap.String("idempotency_key", idempotencyKey),
				zap.String("run_id", existing))
			return existing, true, nil
		}
		runID, err = d.launcher.StartRun(ctx, def, input, triggerType, candidate)
		if err != nil {
			// Release the claim so a retried delivery is not answered with
			// a run id that never came to exist.
			if delErr := d.dedup.Delete(ctx, key); delErr != nil {
				d.logger.Error("failed to release dedup claim after start failure",
					zap.String("workflow_id", workflowID),
					zap.String("idempotency_key", idempotencyKey),
					zap.Error(delErr))
			}
			return "", false, err
		}
		return runID, false, nil
	}

	runID, err = d.launcher.StartRun(ctx, def, input, triggerType, "")
	return runID, false, err
}
