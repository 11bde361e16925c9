package ports

import "github.com/flowlinehq/flowline/pkg/domain"

// Subscription is a live stream of run/step events. Close releases it;
// the channel is closed when the subscription ends, including when the
// broadcaster drops a subscriber that cannot keep up.
type Subscription interface {
	Events() <-chan domain.Event
	Close()
}

// Broadcaster fans lifecycle events out to subscribers. Publish is
// fire-and-forget from the caller's perspective: it must not block and must
// not fail the run when nobody listens or a subscriber is slow. Delivery is
// best-effort and ordered per run.
type Broadcaster interface {
	Publish(event domain.Event)
	SubscribeRun(runID string) Subscription
	SubscribeWorkflow(workflowID string) Subscription
	Close()
}

// EventSink receives every published event. Sinks mirror the local stream to
// external transports (e.g. Redis Streams) for cross-process subscribers.
type EventSink interface {
	Write(event domain.Event) error
}
