package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/internal/application/orchestrator"
	"github.com/flowlinehq/flowline/internal/application/triggers"
	"github.com/flowlinehq/flowline/pkg/ports"
)

// Server represents the HTTP API server
type Server struct {
	router    *gin.Engine
	server    *http.Server
	engine    *orchestrator.Engine
	triggers  *triggers.Dispatcher
	scheduler *triggers.Scheduler
	validator *orchestrator.Validator
	repo      ports.Repository
	logger    *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port      int
	Engine    *orchestrator.Engine
	Triggers  *triggers.Dispatcher
	Scheduler *triggers.Scheduler
	Validator *orchestrator.Validator
	Repo      ports.Repository
	// Gatherer serves /metrics; nil falls back to the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{
		router:    router,
		engine:    cfg.Engine,
		triggers:  cfg.Triggers,
		scheduler: cfg.Scheduler,
		validator: cfg.Validator,
		repo:      cfg.Repo,
		logger:    cfg.Logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metricsHandler))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Workflow endpoints
		v1.POST("/workflows", s.handleSaveWorkflow)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.POST("/workflows/:id/trigger", s.handleManualTrigger)
		v1.GET("/workflows/:id/runs", s.handleListRuns)

		// Webhook ingress
		v1.POST("/webhooks/:id", s.handleWebhook)

		// Run endpoints
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/logs", s.handleGetRunLogs)
		v1.POST("/runs/:id/cancel", s.handleCancelRun)
	}
}

// SetupWebSocket adds WebSocket handlers to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleRunStream(*gin.Context)
	HandleWorkflowStream(*gin.Context)
}) {
	s.router.GET("/api/v1/runs/:id/ws", handler.HandleRunStream)
	s.router.GET("/api/v1/workflows/:id/ws", handler.HandleWorkflowStream)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
