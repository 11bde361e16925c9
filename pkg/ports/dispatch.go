package ports

import "context"

// Task is a unit of work submitted to the dispatcher. The task owns its own
// error reporting; the dispatcher only runs it.
type Task func(ctx context.Context)

// Dispatcher decouples the orchestrator from how work is executed: an
// in-process worker pool in a single deployment, a distributed queue in a
// clustered one. Submit returns domain.ErrDispatcherClosed during shutdown.
type Dispatcher interface {
	Submit(ctx context.Context, task Task) error
	Shutdown(ctx context.Context) error
}
