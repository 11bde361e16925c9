package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
	"github.com/flowlinehq/flowline/pkg/ports"
)

// Pool implements ports.Dispatcher with a fixed-size worker pool. Ready
// steps from every active run share the same workers; the queue buffer
// absorbs dispatch bursts from parallel branches.
type Pool struct {
	size   int
	queue  chan ports.Task
	logger *zap.Logger
	health *HealthMonitor

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// worker is a single pool goroutine.
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a worker pool with size workers and a queue of queueDepth
// pending tasks.
func NewPool(size, queueDepth int, metrics ports.MetricsCollector, logger *zap.Logger, healthCheckInterval time.Duration) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		size:    size,
		queue:   make(chan ports.Task, queueDepth),
		logger:  logger,
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}
	pool.health = NewHealthMonitor(pool, metrics, healthCheckInterval, logger)
	return pool
}

// Start launches the workers and the health monitor.
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit enqueues a task for execution. It blocks while the queue is full
// and returns domain.ErrDispatcherClosed once shutdown has begun.
func (p *Pool) Submit(ctx context.Context, task ports.Task) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return domain.ErrDispatcherClosed
	}
	select {
	case p.queue <- task:
		return nil
	case <-p.ctx.Done():
		return domain.ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for in-flight tasks to finish,
// bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown timeout")
	}
}

// GetStatus returns the status of all workers.
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop: drain the queue until shutdown.
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case task := <-w.pool.queue:
			w.execute(ctx, task)
		}
	}
}

func (w *worker) execute(ctx context.Context, task ports.Task) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	task(ctx)
}
