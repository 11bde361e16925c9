package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/flowlinehq/flowline/internal/application/dispatch"
	"github.com/flowlinehq/flowline/internal/application/orchestrator"
	"github.com/flowlinehq/flowline/internal/application/triggers"
	"github.com/flowlinehq/flowline/internal/config"
	dedupmemory "github.com/flowlinehq/flowline/pkg/adapters/dedup/memory"
	dedupredis "github.com/flowlinehq/flowline/pkg/adapters/dedup/redis"
	"github.com/flowlinehq/flowline/pkg/adapters/events"
	eventsmemory "github.com/flowlinehq/flowline/pkg/adapters/events/memory"
	eventsredis "github.com/flowlinehq/flowline/pkg/adapters/events/redis"
	"github.com/flowlinehq/flowline/pkg/adapters/metrics/prometheus"
	storagememory "github.com/flowlinehq/flowline/pkg/adapters/storage/memory"
	storagesqlite "github.com/flowlinehq/flowline/pkg/adapters/storage/sqlite"
	httpapi "github.com/flowlinehq/flowline/pkg/api/http"
	"github.com/flowlinehq/flowline/pkg/api/websocket"
	"github.com/flowlinehq/flowline/pkg/executors"
	"github.com/flowlinehq/flowline/pkg/executors/n8n"
	"github.com/flowlinehq/flowline/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting Flowline engine",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize storage
	var repo ports.Repository
	switch cfg.Storage.Driver {
	case "sqlite":
		sqliteRepo, err := storagesqlite.Open(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("failed to open sqlite storage", zap.Error(err))
		}
		defer sqliteRepo.Close()
		repo = sqliteRepo
		logger.Info("using sqlite storage", zap.String("path", cfg.Storage.Path))
	default:
		repo = storagememory.NewRepository()
		logger.Info("using in-memory storage")
	}

	// Initialize Redis (optional: event relay + webhook dedup)
	var redisClient *goredis.Client
	var dedupStore ports.DedupStore = dedupmemory.NewStore()
	var broadcaster ports.Broadcaster = eventsmemory.NewBroadcaster(logger)

	if cfg.Redis.Enabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		relay := eventsredis.NewRelay(
			redisClient,
			"flowline-subscribers",
			fmt.Sprintf("flowline-%d", os.Getpid()),
			logger,
		)
		broadcaster = events.NewMirror(broadcaster, logger, relay)
		dedupStore = dedupredis.NewStore(redisClient)
	}

	// Initialize metrics
	promRegistry := prom.NewRegistry()
	metricsCollector := prometheus.NewCollector(promRegistry)

	// Initialize worker pool
	workerPool := dispatch.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueDepth,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize executors
	registry := executors.NewRegistry()
	registry.Register(executors.NewNoopExecutor())
	registry.Register(executors.NewDelayExecutor())
	registry.Register(executors.NewHTTPExecutor(nil))
	registry.Register(executors.NewTransformExecutor())
	if cfg.N8N.BaseURL != "" {
		registry.Register(n8n.NewExecutor(n8n.Config{
			BaseURL: cfg.N8N.BaseURL,
			APIKey:  cfg.N8N.APIKey,
		}, nil, logger))
		logger.Info("n8n bridge enabled", zap.String("base_url", cfg.N8N.BaseURL))
	}

	// Initialize engine
	validator := orchestrator.NewValidator(registry)
	engine := orchestrator.NewEngine(
		repo,
		registry,
		workerPool,
		broadcaster,
		metricsCollector,
		validator,
		logger,
		cfg.Engine.StepTimeout,
	)

	// Subworkflow steps launch child runs through the engine itself.
	registry.Register(executors.NewSubworkflowExecutor(engine))

	// Initialize triggers
	triggerDispatcher := triggers.NewDispatcher(engine, repo, dedupStore, metricsCollector, logger, cfg.Engine.DedupWindow)
	scheduler := triggers.NewScheduler(triggerDispatcher, logger)
	scheduler.Start()

	// Initialize HTTP API
	httpServer := httpapi.NewServer(&httpapi.Config{
		Port:      cfg.HTTPPort,
		Engine:    engine,
		Triggers:  triggerDispatcher,
		Scheduler: scheduler,
		Validator: validator,
		Repo:      repo,
		Gatherer:  promRegistry,
		Logger:    logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(broadcaster, logger)
	httpServer.SetupWebSocket(wsHandler)

	// Start server
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("Flowline engine started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Strings("step_types", registry.Types()))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	scheduler.Stop()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	broadcaster.Close()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("Flowline engine shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
