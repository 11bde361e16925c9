package triggers

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// Scheduler fires schedule triggers on their cron expressions. One scheduler
// serves all registered workflows; re-registering a workflow replaces its
// previous schedule entries.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string][]cron.EntryID
}

// NewScheduler creates the scheduler. It does not tick until Start.
func NewScheduler(dispatcher *Dispatcher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		logger:     logger,
		entries:    make(map[string][]cron.EntryID),
	}
}

// RegisterWorkflow installs cron entries for every schedule trigger of the
// definition. Validation already checked the expressions; a parse failure
// here still surfaces as an error rather than a silent no-op.
func (s *Scheduler) RegisterWorkflow(def *domain.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(def.ID)

	workflowID := def.ID
	for i := range def.Triggers {
		trig := &def.Triggers[i]
		if trig.Type != domain.TriggerTypeSchedule {
			continue
		}
		expr, _ := trig.Config["cron"].(string)
		if expr == "" {
			return fmt.Errorf("workflow %s: schedule trigger has no \"cron\" expression", workflowID)
		}
		entryID, err := s.cron.AddFunc(expr, func() {
			runID, _, err := s.dispatcher.OnTrigger(context.Background(), workflowID, domain.TriggerTypeSchedule, nil, "")
			if err != nil {
				s.logger.Error("scheduled trigger failed",
					zap.String("workflow_id", workflowID),
					zap.Error(err))
				return
			}
			s.logger.Info("scheduled run started",
				zap.String("workflow_id", workflowID),
				zap.String("run_id", runID))
		})
		if err != nil {
			return fmt.Errorf("workflow %s: schedule %q: %w", workflowID, expr, err)
		}
		s.entries[workflowID] = append(s.entries[workflowID], entryID)
	}
	return nil
}

// UnregisterWorkflow removes the workflow's schedule entries.
func (s *Scheduler) UnregisterWorkflow(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(workflowID)
}

func (s *Scheduler) removeLocked(workflowID string) {
	for _, id := range s.entries[workflowID] {
		s.cron.Remove(id)
	}
	delete(s.entries, workflowID)
}

// Start begins firing schedules in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("trigger scheduler started")
}

// Stop halts scheduling and waits for in-flight trigger callbacks.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("trigger scheduler stopped")
}
