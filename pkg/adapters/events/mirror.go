// Package events groups event broadcaster implementations.
//
// Implementations:
//   - memory: in-process fan-out, the engine-facing broadcaster
//   - redis: Redis Streams relay for cross-process subscribers
//
// Mirror composes the two: local subscriptions stay in-process while every
// event is also copied to external sinks.
package events

import (
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
	"github.com/flowlinehq/flowline/pkg/ports"
)

// Mirror wraps a broadcaster and copies every published event to the given
// sinks. Sink failures are logged and never reach the publisher.
type Mirror struct {
	ports.Broadcaster
	sinks  []ports.EventSink
	logger *zap.Logger
}

// NewMirror wraps inner so published events also reach sinks.
func NewMirror(inner ports.Broadcaster, logger *zap.Logger, sinks ...ports.EventSink) *Mirror {
	return &Mirror{Broadcaster: inner, sinks: sinks, logger: logger}
}

// Publish forwards to the inner broadcaster, then to each sink.
func (m *Mirror) Publish(event domain.Event) {
	m.Broadcaster.Publish(event)
	for _, sink := range m.sinks {
		if err := sink.Write(event); err != nil {
			m.logger.Warn("event sink write failed",
				zap.String("run_id", event.RunID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}
