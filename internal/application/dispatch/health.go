package dispatch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/ports"
)

// HealthMonitor periodically reports worker pool health to the logger and
// metrics collector.
type HealthMonitor struct {
	pool     *Pool
	metrics  ports.MetricsCollector
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health of the worker pool at one instant.
type HealthStatus struct {
	TotalWorkers   int
	IdleWorkers    int
	BusyWorkers    int
	StoppedWorkers int
	QueueDepth     int
	Healthy        bool
	Timestamp      time.Time
}

// NewHealthMonitor creates a health monitor for pool.
func NewHealthMonitor(pool *Pool, metrics ports.MetricsCollector, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the monitoring loop.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the monitoring loop.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Debug("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("queue_depth", status.QueueDepth),
		zap.Bool("healthy", status.Healthy))

	h.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)

	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("idle", status.IdleWorkers),
			zap.Int("total", status.TotalWorkers))
	}
	if status.BusyWorkers == status.TotalWorkers && status.QueueDepth > 0 {
		h.logger.Warn("all workers busy with tasks queued",
			zap.Int("total", status.TotalWorkers),
			zap.Int("queue_depth", status.QueueDepth))
	}
}

// GetStatus returns the current health status.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	workerStatuses := h.pool.GetStatus()

	var idle, busy, stopped int
	for _, status := range workerStatuses {
		switch status {
		case WorkerStatusIdle:
			idle++
		case WorkerStatusBusy:
			busy++
		case WorkerStatusStopped:
			stopped++
		}
	}

	total := len(workerStatuses)
	return &HealthStatus{
		TotalWorkers:   total,
		IdleWorkers:    idle,
		BusyWorkers:    busy,
		StoppedWorkers: stopped,
		QueueDepth:     len(h.pool.queue),
		Healthy:        idle > 0 && stopped == 0,
		Timestamp:      time.Now(),
	}
}

// IsHealthy reports whether the pool currently has idle capacity.
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
