// Package memory provides an in-memory Repository, used by tests and
// single-process deployments that do not need durability.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// Repository implements ports.Repository over process-local maps. Conditional
// updates follow the same compare-and-set contract as the durable adapters.
type Repository struct {
	mu          sync.RWMutex
	definitions map[string]*domain.WorkflowDefinition
	runs        map[string]*domain.Run
	logs        map[string][]*domain.ExecutionLog
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		definitions: make(map[string]*domain.WorkflowDefinition),
		runs:        make(map[string]*domain.Run),
		logs:        make(map[string][]*domain.ExecutionLog),
	}
}

// SaveDefinition stores a copy of the definition.
func (r *Repository) SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.ID] = def.Clone()
	return nil
}

// LoadDefinition returns a copy of the stored definition.
func (r *Repository) LoadDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	if !ok {
		return nil, fmt.Errorf("definition %s: %w", id, domain.ErrWorkflowNotFound)
	}
	return def.Clone(), nil
}

// CreateRun stores a new run with its step runs.
func (r *Repository) CreateRun(ctx context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun returns a copy of the stored run.
func (r *Repository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrRunNotFound)
	}
	return cloneRun(run), nil
}

// ListRuns returns runs for a workflow, most recent first.
func (r *Repository) ListRuns(ctx context.Context, workflowID string) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Run
	for _, run := range r.runs {
		if run.WorkflowID == workflowID {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateRunStatus transitions the run status iff the stored status matches
// expected.
func (r *Repository) UpdateRunStatus(ctx context.Context, runID string, expected, next domain.RunStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	if run.Status != expected {
		return fmt.Errorf("run %s: expected %s, stored %s: %w", runID, expected, run.Status, domain.ErrStoreConflict)
	}
	now := time.Now()
	run.Status = next
	if next == domain.RunStatusRunning && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if next.Terminal() {
		run.CompletedAt = &now
	}
	if errMsg != "" {
		run.Error = errMsg
	}
	return nil
}

// UpdateStepRun applies a conditional step transition.
func (r *Repository) UpdateStepRun(ctx context.Context, runID, stepID string, expected domain.StepStatus, update domain.StepUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	step, ok := run.Steps[stepID]
	if !ok {
		return fmt.Errorf("run %s step %s: not found", runID, stepID)
	}
	if step.Status != expected {
		return fmt.Errorf("run %s step %s: expected %s, stored %s: %w",
			runID, stepID, expected, step.Status, domain.ErrStoreConflict)
	}
	step.Status = update.Status
	if update.Attempt > 0 {
		step.Attempt = update.Attempt
	}
	if update.Output != nil {
		step.Output = cloneMap(update.Output)
	}
	if update.Error != "" {
		step.LastError = update.Error
	}
	if update.Reason != "" {
		step.Reason = update.Reason
	}
	if update.StartedAt != nil {
		step.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		step.CompletedAt = update.CompletedAt
	}
	return nil
}

// MergeVariables folds vars into the run's live bindings.
func (r *Repository) MergeVariables(ctx context.Context, runID string, vars map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	if run.Variables == nil {
		run.Variables = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		run.Variables[k] = v
	}
	return nil
}

// AppendLog appends an execution log entry.
func (r *Repository) AppendLog(ctx context.Context, entry *domain.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := *entry
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.logs[e.RunID] = append(r.logs[e.RunID], &e)
	return nil
}

// ListLogs returns log entries for a run in append order.
func (r *Repository) ListLogs(ctx context.Context, runID string) ([]*domain.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.logs[runID]
	out := make([]*domain.ExecutionLog, len(entries))
	for i, e := range entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}

func cloneRun(run *domain.Run) *domain.Run {
	data, err := json.Marshal(run)
	if err != nil {
		panic(fmt.Sprintf("clone run: %v", err))
	}
	var out domain.Run
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone run: %v", err))
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
