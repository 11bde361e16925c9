// Package memory provides the in-process event broadcaster. It is the
// engine-facing fan-out: publishing never blocks the orchestrator, delivery
// is ordered per run, and a subscriber that cannot drain its buffer is
// dropped rather than back-pressuring the rest.
package memory

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
	"github.com/flowlinehq/flowline/pkg/ports"
)

const defaultBuffer = 64

type subscriber struct {
	id         string
	runID      string
	workflowID string
	ch         chan domain.Event
}

// Broadcaster implements ports.Broadcaster with buffered per-subscriber
// channels. Publish runs on the caller's goroutine; because each run has a
// single runner goroutine, per-run ordering is preserved end to end.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	buffer int
	closed bool
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster with the default subscriber buffer.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]*subscriber),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Publish delivers the event to every matching subscriber. A subscriber
// whose buffer is full is dropped: its channel is closed and removed so one
// slow consumer cannot stall the others or the run.
func (b *Broadcaster) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		if sub.runID != "" && sub.runID != event.RunID {
			continue
		}
		if sub.workflowID != "" && sub.workflowID != event.WorkflowID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("subscriber too slow, dropping",
				zap.String("subscription_id", id),
				zap.String("run_id", event.RunID),
				zap.String("event_type", string(event.Type)))
			close(sub.ch)
			delete(b.subs, id)
		}
	}
}

// SubscribeRun streams events for a single run.
func (b *Broadcaster) SubscribeRun(runID string) ports.Subscription {
	return b.subscribe(runID, "")
}

// SubscribeWorkflow streams events for every run of a workflow.
func (b *Broadcaster) SubscribeWorkflow(workflowID string) ports.Subscription {
	return b.subscribe("", workflowID)
}

func (b *Broadcaster) subscribe(runID, workflowID string) ports.Subscription {
	sub := &subscriber{
		id:         uuid.New().String(),
		runID:      runID,
		workflowID: workflowID,
		ch:         make(chan domain.Event, b.buffer),
	}
	b.mu.Lock()
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[sub.id] = sub
	}
	b.mu.Unlock()
	return &subscription{broadcaster: b, sub: sub}
}

// Close drops all subscribers and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

type subscription struct {
	broadcaster *Broadcaster
	sub         *subscriber
	once        sync.Once
}

func (s *subscription) Events() <-chan domain.Event { return s.sub.ch }

func (s *subscription) Close() {
	s.once.Do(func() { s.broadcaster.remove(s.sub.id) })
}
