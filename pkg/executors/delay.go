package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// DelayExecutor pauses the step for a configured duration. The wait is
// interruptible: cancellation or a step timeout ends it early with an error.
type DelayExecutor struct{}

func NewDelayExecutor() *DelayExecutor { return &DelayExecutor{} }

func (e *DelayExecutor) Type() string { return domain.StepTypeDelay }

func (e *DelayExecutor) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	raw, ok := config["duration"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("delay step requires a \"duration\" string in config")
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid delay duration %q: %w", raw, err)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"waited": duration.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
