package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// stepResult travels from a worker back to the runner goroutine.
type stepResult struct {
	stepID   string
	output   map[string]any
	err      error
	duration time.Duration
}

// runner drives one run to completion. It is the only goroutine that mutates
// the run's state; workers execute steps and report back over the results
// channel, so no locking is needed around run bookkeeping.
type runner struct {
	engine *Engine
	run    *domain.Run
	logger *zap.Logger

	// results is buffered for every step so workers never block on it.
	results  chan stepResult
	cancelCh chan struct{}
	done     chan struct{}

	cancelOnce sync.Once

	inFlight  map[string]bool
	notBefore map[string]time.Time
	cancelled bool
	runErr    string
}

func newRunner(e *Engine, run *domain.Run) *runner {
	return &runner{
		engine: e,
		run:    run,
		logger: e.logger.With(
			zap.String("run_id", run.ID),
			zap.String("workflow_id", run.WorkflowID)),
		results:   make(chan stepResult, len(run.Definition.Steps)),
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
		inFlight:  make(map[string]bool),
		notBefore: make(map[string]time.Time),
	}
}

// cancel requests cooperative cancellation. Safe to call more than once.
func (r *runner) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// execute is the run's state machine loop. It alternates between advancing
// the ready set and waiting for something to happen: a step result, a retry
// becoming due, a cancel request, or engine shutdown.
func (r *runner) execute(ctx context.Context) {
	defer close(r.done)

	now := time.Now()
	r.run.StartedAt = &now
	if err := r.engine.repo.UpdateRunStatus(ctx, r.run.ID, domain.RunStatusPending, domain.RunStatusRunning, ""); err != nil {
		r.logger.Error("failed to mark run running", zap.Error(err))
	}
	r.run.Status = domain.RunStatusRunning
	r.publish(domain.EventTypeRunStarted, "", nil)

	ctxDone := ctx.Done()
	cancelCh := r.cancelCh
	for {
		// A cancel that raced with a step result must win before anything
		// new is dispatched.
		if cancelCh != nil {
			select {
			case <-cancelCh:
				r.cancelled = true
				cancelCh = nil
			default:
			}
		}

		r.advance(ctx)

		if r.finished() {
			r.finalize(ctx)
			return
		}

		var wake <-chan time.Time
		var timer *time.Timer
		if t, ok := r.earliestRetry(); ok {
			timer = time.NewTimer(time.Until(t))
			wake = timer.C
		}

		select {
		case res := <-r.results:
			r.handleResult(ctx, res)
		case <-wake:
			// A retry became due; the next advance pass dispatches it.
		case <-cancelCh:
			r.cancelled = true
			cancelCh = nil
			r.logger.Info("run cancelled, waiting for in-flight steps",
				zap.Int("in_flight", len(r.inFlight)))
		case <-ctxDone:
			r.cancelled = true
			ctxDone = nil
			r.logger.Warn("engine shutting down, cancelling run")
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// advance repeatedly sweeps the step set until a fixpoint: skips cascade
// through the graph and every step whose dependencies are satisfied is
// dispatched, unless the run was cancelled or the step is backing off.
func (r *runner) advance(ctx context.Context) {
	for progressed := true; progressed; {
		progressed = false
		for i := range r.run.Definition.Steps {
			step := &r.run.Definition.Steps[i]
			sr := r.run.Steps[step.ID]
			if sr.Status != domain.StepStatusWaiting || r.inFlight[step.ID] {
				continue
			}

			blocked, pending := r.dependencyState(step)
			if pending {
				continue
			}
			if blocked {
				r.skipStep(ctx, step, sr, domain.SkipReasonBlocked)
				progressed = true
				continue
			}
			if r.cancelled {
				continue
			}

			// Conditions are evaluated once, before the first attempt.
			if sr.Attempt == 0 && step.Condition != "" {
				pass, err := evalCondition(step.Condition, r.run.Variables)
				if err != nil {
					r.failStepNow(ctx, step, sr, fmt.Errorf("evaluate condition: %w", err))
					progressed = true
					continue
				}
				if !pass {
					r.skipStep(ctx, step, sr, domain.SkipReasonCondition)
					progressed = true
					continue
				}
			}

			if due, ok := r.notBefore[step.ID]; ok && time.Now().Before(due) {
				continue
			}
			delete(r.notBefore, step.ID)

			r.dispatchStep(ctx, step, sr)
			progressed = true
		}
	}
}

// dependencyState classifies a step's dependencies: pending means at least
// one is not terminal yet; blocked means a failure upstream prevents the
// step from running and it is not marked optional. A dependency skipped
// because of a failure carries the block down the whole dependent chain;
// condition skips satisfy their dependents.
func (r *runner) dependencyState(step *domain.StepDefinition) (blocked, pending bool) {
	for _, dep := range step.DependsOn {
		ds := r.run.Steps[dep]
		if !ds.Status.Terminal() {
			return false, true
		}
		if !step.Optional && !ds.Satisfies() {
			blocked = true
		}
	}
	return blocked, false
}

// dispatchStep moves a step waiting -> ready -> running and hands the work
// to the dispatcher. Config interpolation and the variable snapshot happen
// here, on the runner goroutine, so the worker never touches run state.
func (r *runner) dispatchStep(ctx context.Context, step *domain.StepDefinition, sr *domain.StepRun) {
	if err := r.engine.repo.UpdateStepRun(ctx, r.run.ID, step.ID, domain.StepStatusWaiting,
		domain.StepUpdate{Status: domain.StepStatusReady}); err != nil {
		r.logger.Error("failed to mark step ready", zap.String("step_id", step.ID), zap.Error(err))
	}
	sr.Status = domain.StepStatusReady

	sr.Attempt++
	now := time.Now()
	sr.StartedAt = &now
	if err := r.engine.repo.UpdateStepRun(ctx, r.run.ID, step.ID, domain.StepStatusReady,
		domain.StepUpdate{Status: domain.StepStatusRunning, Attempt: sr.Attempt, StartedAt: &now}); err != nil {
		r.logger.Error("failed to mark step running", zap.String("step_id", step.ID), zap.Error(err))
	}
	sr.Status = domain.StepStatusRunning
	r.inFlight[step.ID] = true

	r.publish(domain.EventTypeStepStarted, step.ID, map[string]any{"attempt": sr.Attempt})
	r.appendLog(ctx, step.ID, domain.LogLevelInfo,
		fmt.Sprintf("step %s started (attempt %d)", step.ID, sr.Attempt), nil)

	// Unresolved references in config stay literal; executors that need a
	// value surface the problem themselves.
	config, _ := interpolateValue(step.Config, r.run.Variables).(map[string]any)
	inputs := maps.Clone(r.run.Variables)

	stepID := step.ID
	stepType := step.Type
	timeout := step.Timeout.Std()
	if timeout <= 0 {
		timeout = r.engine.defaultStepTimeout
	}

	task := func(taskCtx context.Context) {
		start := time.Now()
		output, err := r.runStep(taskCtx, stepID, stepType, timeout, config, inputs)
		r.results <- stepResult{stepID: stepID, output: output, err: err, duration: time.Since(start)}
	}
	if err := r.engine.dispatcher.Submit(ctx, task); err != nil {
		r.results <- stepResult{stepID: stepID, err: domain.NewExecutorError(stepID, err)}
	}
}

// runStep executes one attempt inside a worker, with a timeout and panic
// containment. Errors always come back as *domain.ExecutorError.
func (r *runner) runStep(ctx context.Context, stepID, stepType string, timeout time.Duration, config, inputs map[string]any) (output map[string]any, err error) {
	executor, ok := r.engine.registry.Lookup(stepType)
	if !ok {
		// Validation rejects unknown types; reaching this means the registry
		// changed after the run started.
		return nil, domain.NewExecutorError(stepID, fmt.Errorf("no executor registered for type %q", stepType))
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = domain.NewExecutorError(stepID, fmt.Errorf("executor panic: %v", rec))
		}
	}()

	output, execErr := executor.Execute(execCtx, config, inputs)
	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) || execCtx.Err() == context.DeadlineExceeded {
			return nil, domain.NewTimeoutError(stepID, execErr)
		}
		return nil, domain.NewExecutorError(stepID, execErr)
	}
	return output, nil
}

// handleResult applies one attempt's outcome: success merges outputs into
// run variables, failure either schedules a retry or marks the step failed.
func (r *runner) handleResult(ctx context.Context, res stepResult) {
	delete(r.inFlight, res.stepID)
	step, _ := r.run.Definition.Step(res.stepID)
	sr := r.run.Steps[res.stepID]
	now := time.Now()

	if res.err == nil {
		sr.Status = domain.StepStatusSucceeded
		sr.Output = res.output
		sr.LastError = ""
		sr.CompletedAt = &now
		if err := r.engine.repo.UpdateStepRun(ctx, r.run.ID, res.stepID, domain.StepStatusRunning,
			domain.StepUpdate{Status: domain.StepStatusSucceeded, Output: res.output, CompletedAt: &now}); err != nil {
			r.logger.Error("failed to mark step succeeded", zap.String("step_id", res.stepID), zap.Error(err))
		}
		r.mergeOutputs(ctx, step, res.output)
		r.engine.metrics.RecordStepExecuted(step.Type, string(domain.StepStatusSucceeded), res.duration)
		r.publish(domain.EventTypeStepSucceeded, res.stepID, map[string]any{
			"attempt": sr.Attempt,
			"output":  res.output,
		})
		return
	}

	errMsg := res.err.Error()
	sr.LastError = errMsg

	if sr.Attempt < step.Retry.Attempts() && !r.cancelled {
		delay := step.Retry.Delay(sr.Attempt)
		r.notBefore[res.stepID] = now.Add(delay)
		sr.Status = domain.StepStatusWaiting
		if err := r.engine.repo.UpdateStepRun(ctx, r.run.ID, res.stepID, domain.StepStatusRunning,
			domain.StepUpdate{Status: domain.StepStatusWaiting, Error: errMsg}); err != nil {
			r.logger.Error("failed to requeue step for retry", zap.String("step_id", res.stepID), zap.Error(err))
		}
		r.engine.metrics.RecordStepRetry(step.Type)
		r.publish(domain.EventTypeStepRetrying, res.stepID, map[string]any{
			"attempt":      sr.Attempt,
			"max_attempts": step.Retry.Attempts(),
			"retry_in":     delay.String(),
			"error":        errMsg,
		})
		r.appendLog(ctx, res.stepID, domain.LogLevelWarn,
			fmt.Sprintf("step %s attempt %d failed, retrying in %s: %s", res.stepID, sr.Attempt, delay, errMsg), nil)
		return
	}

	sr.Status = domain.StepStatusFailed
	sr.CompletedAt = &now
	if err := r.engine.repo.UpdateStepRun(ctx, r.run.ID, res.stepID, domain.StepStatusRunning,
		domain.StepUpdate{Status: domain.StepStatusFailed, Error: errMsg, CompletedAt: &now}); err != nil {
		r.logger.Error("failed to mark step failed", zap.String("step_id", res.stepID), zap.Error(err))
	}
	r.engine.metrics.RecordStepExecuted(step.Type, string(domain.StepStatusFailed), res.duration)
	r.publish(domain.EventTypeStepFailed, res.stepID, map[string]any{
		"attempt": sr.Attempt,
		"error":   errMsg,
	})
	r.appendLog(ctx, res.stepID, domain.LogLevelError,
		fmt.Sprintf("step %s failed after %d attempt(s): %s", res.stepID, sr.Attempt, errMsg), nil)
	if !step.Optional && r.runErr == "" {
		r.runErr = errMsg
	}
}

// mergeOutputs folds a successful step's output into the run variables,
// honoring the step's declared output filter.
func (r *runner) mergeOutputs(ctx context.Context, step *domain.StepDefinition, output map[string]any) {
	if len(output) == 0 {
		return
	}
	merged := output
	if len(step.Outputs) > 0 {
		merged = make(map[string]any, len(step.Outputs))
		for _, key := range step.Outputs {
			if v, ok := output[key]; ok {
				merged[key] = v
			}
		}
	}
	if len(merged) == 0 {
		return
	}
	if r.run.Variables == nil {
		r.run.Variables = make(map[string]any, len(merged))
	}
	for k, v := range merged {
		r.run.Variables[k] = v
	}
	if err := r.engine.repo.MergeVariables(ctx, r.run.ID, merged); err != nil {
		r.logger.Error("failed to persist run variables", zap.String("step_id", step.ID), zap.Error(err))
	}
}

// skipStep marks a waiting step skipped. Skips satisfy dependents, so the
// caller's advance pass continues the cascade.
func (r *runner) skipStep(ctx context.Context, step *domain.StepDefinition, sr *domain.StepRun, reason string) {
	now := time.Now()
	sr.Status = domain.StepStatusSkipped
	sr.Reason = reason
	sr.CompletedAt = &now
	if err := r.engine.repo.UpdateStepRun(ctx, r.run.ID, step.ID, domain.StepStatusWaiting,
		domain.StepUpdate{Status: domain.StepStatusSkipped, Reason: reason, CompletedAt: &now}); err != nil {
		r.logger.Error("failed to mark step skipped", zap.String("step_id", step.ID), zap.Error(err))
	}
	r.publish(domain.EventTypeStepSkipped, step.ID, map[string]any{"reason": reason})
	r.appendLog(ctx, step.ID, domain.LogLevelInfo,
		fmt.Sprintf("step %s skipped (%s)", step.ID, reason), nil)
}

// failStepNow marks a waiting step failed without dispatching it. Used when
// its condition cannot be evaluated; retrying would not change the outcome.
func (r *runner) failStepNow(ctx context.Context, step *domain.StepDefinition, sr *domain.StepRun, failure error) {
	now := time.Now()
	errMsg := failure.Error()
	sr.Status = domain.StepStatusFailed
	sr.LastError = errMsg
	sr.CompletedAt = &now
	if err := r.engine.repo.UpdateStepRun(ctx, r.run.ID, step.ID, domain.StepStatusWaiting,
		domain.StepUpdate{Status: domain.StepStatusFailed, Error: errMsg, CompletedAt: &now}); err != nil {
		r.logger.Error("failed to mark step failed", zap.String("step_id", step.ID), zap.Error(err))
	}
	r.publish(domain.EventTypeStepFailed, step.ID, map[string]any{"error": errMsg})
	r.appendLog(ctx, step.ID, domain.LogLevelError,
		fmt.Sprintf("step %s failed: %s", step.ID, errMsg), nil)
	if !step.Optional && r.runErr == "" {
		r.runErr = errMsg
	}
}

// finished reports whether the run can be finalized: nothing in flight, and
// either the run was cancelled or no step is waiting on a retry or a
// dependency anymore.
func (r *runner) finished() bool {
	if len(r.inFlight) > 0 {
		return false
	}
	if r.cancelled {
		return true
	}
	for _, sr := range r.run.Steps {
		if !sr.Status.Terminal() {
			return false
		}
	}
	return true
}

// earliestRetry returns the soonest pending retry time, if any.
func (r *runner) earliestRetry() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, t := range r.notBefore {
		if !found || t.Before(earliest) {
			earliest = t
			found = true
		}
	}
	return earliest, found
}

// finalize records the terminal run status and emits the closing event.
// Steps still waiting after a cancellation are left as they are.
func (r *runner) finalize(ctx context.Context) {
	now := time.Now()
	r.run.CompletedAt = &now

	var status domain.RunStatus
	var event domain.EventType
	switch {
	case r.cancelled:
		status, event = domain.RunStatusCancelled, domain.EventTypeRunCancelled
	case r.runErr != "":
		status, event = domain.RunStatusFailed, domain.EventTypeRunFailed
	default:
		status, event = domain.RunStatusCompleted, domain.EventTypeRunCompleted
	}

	if err := r.engine.repo.UpdateRunStatus(ctx, r.run.ID, domain.RunStatusRunning, status, r.runErr); err != nil {
		r.logger.Error("failed to record terminal run status",
			zap.String("status", string(status)), zap.Error(err))
	}
	r.run.Status = status
	if r.runErr != "" {
		r.run.Error = r.runErr
	}

	var duration time.Duration
	if r.run.StartedAt != nil {
		duration = now.Sub(*r.run.StartedAt)
	}
	r.engine.metrics.RecordRunFinished(string(status), duration)

	payload := map[string]any{"duration": duration.String()}
	if r.runErr != "" {
		payload["error"] = r.runErr
	}
	r.publish(event, "", payload)
	r.appendLog(ctx, "", domain.LogLevelInfo,
		fmt.Sprintf("run finished with status %s in %s", status, duration), nil)
	r.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Duration("duration", duration))
}

// publish emits a lifecycle event. The broadcaster never blocks, so the
// runner can publish freely from its loop.
func (r *runner) publish(eventType domain.EventType, stepID string, payload map[string]any) {
	r.engine.broadcaster.Publish(domain.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		RunID:      r.run.ID,
		WorkflowID: r.run.WorkflowID,
		StepID:     stepID,
		Timestamp:  time.Now(),
		Payload:    payload,
	})
}

func (r *runner) appendLog(ctx context.Context, stepID string, level domain.LogLevel, msg string, metadata map[string]any) {
	entry := &domain.ExecutionLog{
		ID:        uuid.New().String(),
		RunID:     r.run.ID,
		StepID:    stepID,
		Level:     level,
		Message:   msg,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := r.engine.repo.AppendLog(ctx, entry); err != nil {
		r.logger.Warn("failed to append execution log", zap.Error(err))
	}
}
