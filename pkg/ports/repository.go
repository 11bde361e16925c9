package ports

import (
	"context"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// Repository is the single source of truth for workflow definitions, runs,
// step results and execution logs. Implementations must make UpdateStepRun
// and UpdateRunStatus conditional: the transition applies only when the
// stored status equals the expected previous status, otherwise
// domain.ErrStoreConflict is returned and the caller re-reads before
// retrying its decision.
type Repository interface {
	SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error
	LoadDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error)

	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, workflowID string) ([]*domain.Run, error)

	UpdateRunStatus(ctx context.Context, runID string, expected, next domain.RunStatus, errMsg string) error
	UpdateStepRun(ctx context.Context, runID, stepID string, expected domain.StepStatus, update domain.StepUpdate) error

	// MergeVariables folds step outputs into the run's live variable
	// bindings. Calls for one run are always issued from its single runner
	// goroutine, so merges are serialized per run.
	MergeVariables(ctx context.Context, runID string, vars map[string]any) error

	AppendLog(ctx context.Context, entry *domain.ExecutionLog) error
	ListLogs(ctx context.Context, runID string) ([]*domain.ExecutionLog, error)
}
