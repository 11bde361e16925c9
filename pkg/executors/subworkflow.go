package executors

import (
	"context"
	"fmt"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// RunLauncher starts child runs and waits for them. The orchestrator engine
// implements it; the indirection keeps this package free of an import cycle.
type RunLauncher interface {
	StartRunForWorkflow(ctx context.Context, workflowID string, input map[string]any, trigger domain.TriggerType) (string, error)
	WaitRun(ctx context.Context, runID string) (*domain.Run, error)
}

// SubworkflowExecutor runs another workflow as a single step and blocks
// until the child run terminates. Config: "workflow_id" (required) and
// "input" (optional map seeding the child's variables). A child that does
// not complete successfully fails the step, so the parent's retry policy
// applies to the whole child run.
//
// The wait occupies a pool worker while the child's steps need workers of
// their own. The worker pool must therefore be sized above the number of
// concurrently waiting subworkflow steps, or deep nesting stalls until
// step timeouts fire. Cap nesting depth well below the configured pool
// size.
type SubworkflowExecutor struct {
	launcher RunLauncher
}

func NewSubworkflowExecutor(launcher RunLauncher) *SubworkflowExecutor {
	return &SubworkflowExecutor{launcher: launcher}
}

func (e *SubworkflowExecutor) Type() string { return domain.StepTypeSubworkflow }

func (e *SubworkflowExecutor) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	workflowID, _ := config["workflow_id"].(string)
	if workflowID == "" {
		return nil, fmt.Errorf("subworkflow step requires a \"workflow_id\" in config")
	}
	input, _ := config["input"].(map[string]any)

	runID, err := e.launcher.StartRunForWorkflow(ctx, workflowID, input, domain.TriggerTypeEvent)
	if err != nil {
		return nil, fmt.Errorf("start subworkflow %s: %w", workflowID, err)
	}

	child, err := e.launcher.WaitRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("wait for subworkflow run %s: %w", runID, err)
	}

	output := map[string]any{
		"run_id": child.ID,
		"status": string(child.Status),
	}
	if len(child.Variables) > 0 {
		output["variables"] = child.Variables
	}
	if child.Status != domain.RunStatusCompleted {
		return output, fmt.Errorf("subworkflow run %s ended %s: %s", child.ID, child.Status, child.Error)
	}
	return output, nil
}
