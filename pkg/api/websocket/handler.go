package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// Handler handles WebSocket connections
type Handler struct {
	broadcaster ports.Broadcaster
	logger      *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(broadcaster ports.Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// HandleRunStream streams lifecycle events for a single run
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")
	h.stream(c, "run_id", runID, h.broadcaster.SubscribeRun(runID))
}

// HandleWorkflowStream streams lifecycle events for every run of a workflow
func (h *Handler) HandleWorkflowStream(c *gin.Context) {
	workflowID := c.Param("id")
	h.stream(c, "workflow_id", workflowID, h.broadcaster.SubscribeWorkflow(workflowID))
}

func (h *Handler) stream(c *gin.Context, field, id string, sub ports.Subscription) {
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String(field, id),
		zap.String("client", c.ClientIP()))

	// Drain client frames so pings and close messages are processed; the
	// read error doubles as the disconnect signal.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-disconnected:
			return
		case event, ok := <-sub.Events():
			if !ok {
				// Dropped by the broadcaster for falling behind.
				h.logger.Warn("event subscription closed", zap.String(field, id))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
