package executors

import (
	"context"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// NoopExecutor does nothing and succeeds. Useful as a join point in a graph
// and in tests. If the config carries an "output" map it becomes the step
// output verbatim.
type NoopExecutor struct{}

func NewNoopExecutor() *NoopExecutor { return &NoopExecutor{} }

func (e *NoopExecutor) Type() string { return domain.StepTypeNoop }

func (e *NoopExecutor) Execute(_ context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	if out, ok := config["output"].(map[string]any); ok {
		return out, nil
	}
	return nil, nil
}
