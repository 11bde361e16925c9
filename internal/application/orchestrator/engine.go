package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
	"github.com/flowlinehq/flowline/pkg/ports"
)

// Engine coordinates workflow run execution. Each run gets its own runner
// goroutine that owns all mutation of that run's state; the engine tracks
// active runners for cancellation, waiting and shutdown.
type Engine struct {
	repo        ports.Repository
	registry    ports.ExecutorRegistry
	dispatcher  ports.Dispatcher
	broadcaster ports.Broadcaster
	metrics     ports.MetricsCollector
	validator   *Validator
	logger      *zap.Logger

	defaultStepTimeout time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc

	runners sync.Map // map[string]*runner
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewEngine creates the execution engine.
func NewEngine(
	repo ports.Repository,
	registry ports.ExecutorRegistry,
	dispatcher ports.Dispatcher,
	broadcaster ports.Broadcaster,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	defaultStepTimeout time.Duration,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		repo:               repo,
		registry:           registry,
		dispatcher:         dispatcher,
		broadcaster:        broadcaster,
		metrics:            metrics,
		validator:          validator,
		logger:             logger,
		defaultStepTimeout: defaultStepTimeout,
		baseCtx:            ctx,
		baseCancel:         cancel,
	}
}

// StartRun validates the definition, snapshots it, persists the new run and
// launches its runner. runID may be pre-assigned (webhook dedup claims an id
// before starting); empty means generate one. Returns the run id.
func (e *Engine) StartRun(ctx context.Context, def *domain.WorkflowDefinition, input map[string]any, trigger domain.TriggerType, runID string) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("engine is shut down")
	}
	e.mu.Unlock()

	if err := e.validator.Validate(def); err != nil {
		e.logger.Error("workflow validation failed",
			zap.String("workflow_id", def.ID),
			zap.Error(err))
		return "", err
	}

	if runID == "" {
		runID = uuid.New().String()
	}

	snapshot := def.Clone()
	variables := make(map[string]any, len(snapshot.Variables)+len(input))
	for k, v := range snapshot.Variables {
		variables[k] = v
	}
	for k, v := range input {
		variables[k] = v
	}

	run := &domain.Run{
		ID:          runID,
		WorkflowID:  snapshot.ID,
		Definition:  snapshot,
		Status:      domain.RunStatusPending,
		TriggerType: trigger,
		Input:       input,
		Variables:   variables,
		Steps:       make(map[string]*domain.StepRun, len(snapshot.Steps)),
		CreatedAt:   time.Now(),
	}
	for i := range snapshot.Steps {
		id := snapshot.Steps[i].ID
		run.Steps[id] = &domain.StepRun{StepID: id, Status: domain.StepStatusWaiting}
	}

	// Registration happens under mu so a racing Shutdown either rejects the
	// start or sees this runner in its cancel sweep.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("engine is shut down")
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("create run: %w", err)
	}
	r := newRunner(e, run)
	e.runners.Store(runID, r)
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.RecordRunStarted(string(trigger))
	go func() {
		defer e.wg.Done()
		defer e.runners.Delete(runID)
		r.execute(e.baseCtx)
	}()

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("workflow_id", snapshot.ID),
		zap.String("trigger", string(trigger)))
	return runID, nil
}

// StartRunForWorkflow loads the workflow definition from the repository and
// starts a run. Used by sub-workflow steps and the trigger dispatcher.
func (e *Engine) StartRunForWorkflow(ctx context.Context, workflowID string, input map[string]any, trigger domain.TriggerType) (string, error) {
	def, err := e.repo.LoadDefinition(ctx, workflowID)
	if err != nil {
		return "", err
	}
	return e.StartRun(ctx, def, input, trigger, "")
}

// Cancel requests cooperative cancellation of a run: no new steps are
// dispatched, in-flight steps finish, then the run ends cancelled.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if val, ok := e.runners.Load(runID); ok {
		val.(*runner).cancel()
		e.logger.Info("run cancellation requested", zap.String("run_id", runID))
		return nil
	}
	run, err := e.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s: %w", runID, domain.ErrRunTerminal)
	}
	return fmt.Errorf("run %s is not active on this node", runID)
}

// WaitRun blocks until the run reaches a terminal state or ctx expires, then
// returns the stored run.
func (e *Engine) WaitRun(ctx context.Context, runID string) (*domain.Run, error) {
	if val, ok := e.runners.Load(runID); ok {
		select {
		case <-val.(*runner).done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.repo.GetRun(ctx, runID)
}

// Snapshot returns the run-level view for monitoring and API layers.
func (e *Engine) Snapshot(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	run, err := e.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Snapshot(), nil
}

// Shutdown cancels all active runs and waits for their runners to finish,
// bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.logger.Info("shutting down engine")
	e.runners.Range(func(key, value any) bool {
		value.(*runner).cancel()
		return true
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.baseCancel()
		return fmt.Errorf("engine shutdown timeout")
	}
	e.baseCancel()
	e.logger.Info("engine shut down complete")
	return nil
}
