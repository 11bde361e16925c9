package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// TriggerRequest represents a manual trigger request
type TriggerRequest struct {
	Input map[string]any `json:"input"`
}

// RunStartedResponse represents a run creation response
type RunStartedResponse struct {
	RunID        string `json:"run_id"`
	WorkflowID   string `json:"workflow_id"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	StartedAt    string `json:"started_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSaveWorkflow validates and stores a workflow definition. A saved
// workflow with schedule triggers is registered with the scheduler.
func (s *Server) handleSaveWorkflow(c *gin.Context) {
	var def domain.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		s.logger.Error("invalid workflow payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	if err := s.validator.Validate(&def); err != nil {
		var verr *domain.ValidationError
		detail := ErrorDetail{Code: "INVALID_WORKFLOW", Message: err.Error()}
		if errors.As(err, &verr) {
			detail.Details = verr.Issues
		}
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: detail})
		return
	}

	if err := s.repo.SaveDefinition(c.Request.Context(), &def); err != nil {
		s.logger.Error("failed to save workflow", zap.String("workflow_id", def.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{Code: "STORAGE_ERROR", Message: err.Error()},
		})
		return
	}

	if s.scheduler != nil {
		if err := s.scheduler.RegisterWorkflow(&def); err != nil {
			s.logger.Error("failed to register schedules", zap.String("workflow_id", def.ID), zap.Error(err))
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_SCHEDULE", Message: err.Error()},
			})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"workflow_id": def.ID})
}

// handleGetWorkflow returns a stored workflow definition
func (s *Server) handleGetWorkflow(c *gin.Context) {
	def, err := s.repo.LoadDefinition(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Workflow not found"},
		})
		return
	}
	c.JSON(http.StatusOK, def)
}

// handleManualTrigger starts a run of a workflow on demand
func (s *Server) handleManualTrigger(c *gin.Context) {
	workflowID := c.Param("id")

	var req TriggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
			})
			return
		}
	}

	runID, _, err := s.triggers.OnTrigger(c.Request.Context(), workflowID, domain.TriggerTypeManual, req.Input, "")
	if err != nil {
		s.writeTriggerError(c, workflowID, err)
		return
	}

	c.JSON(http.StatusAccepted, RunStartedResponse{
		RunID:      runID,
		WorkflowID: workflowID,
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWebhook starts a run from an inbound webhook delivery. Replays
// carrying the same X-Idempotency-Key within the dedup window return the
// original run instead of starting a new one.
func (s *Server) handleWebhook(c *gin.Context) {
	workflowID := c.Param("id")

	var payload map[string]any
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
			})
			return
		}
	}

	key := c.GetHeader("X-Idempotency-Key")
	runID, deduplicated, err := s.triggers.OnTrigger(c.Request.Context(), workflowID, domain.TriggerTypeWebhook, payload, key)
	if err != nil {
		s.writeTriggerError(c, workflowID, err)
		return
	}

	status := http.StatusAccepted
	if deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, RunStartedResponse{
		RunID:        runID,
		WorkflowID:   workflowID,
		Deduplicated: deduplicated,
		StartedAt:    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetRun returns a run snapshot
func (s *Server) handleGetRun(c *gin.Context) {
	snap, err := s.engine.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Run not found"},
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleListRuns returns snapshots of a workflow's runs
func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.repo.ListRuns(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{Code: "STORAGE_ERROR", Message: err.Error()},
		})
		return
	}

	snapshots := make([]*domain.RunSnapshot, 0, len(runs))
	for _, run := range runs {
		snapshots = append(snapshots, run.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"runs": snapshots, "total": len(snapshots)})
}

// handleGetRunLogs returns the run's execution log entries
func (s *Server) handleGetRunLogs(c *gin.Context) {
	logs, err := s.repo.ListLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Run not found"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": len(logs)})
}

// handleCancelRun requests cooperative cancellation of a run
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.engine.Cancel(c.Request.Context(), runID); err != nil {
		switch {
		case errors.Is(err, domain.ErrRunNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{Code: "NOT_FOUND", Message: "Run not found"},
			})
		case errors.Is(err, domain.ErrRunTerminal):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error: ErrorDetail{Code: "ALREADY_FINISHED", Message: "Run already reached a terminal state"},
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: ErrorDetail{Code: "CANCEL_FAILED", Message: err.Error()},
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
}

func (s *Server) writeTriggerError(c *gin.Context, workflowID string, err error) {
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Workflow not found"},
		})
		return
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_WORKFLOW", Message: err.Error(), Details: verr.Issues},
		})
		return
	}
	s.logger.Error("trigger failed", zap.String("workflow_id", workflowID), zap.Error(err))
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error: ErrorDetail{Code: "TRIGGER_FAILED", Message: err.Error()},
	})
}
