// Package redis mirrors the local event stream onto Redis Streams so
// subscribers in other processes (dashboards, audit consumers) can follow
// run progress. One stream per workflow keeps per-run ordering intact.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// Relay writes every published event to a Redis stream and can consume the
// stream back through a consumer group on other nodes.
type Relay struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64
}

// NewRelay creates a relay. consumerGroup and consumerName are only used by
// Consume; a write-only relay may pass empty strings.
func NewRelay(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) *Relay {
	return &Relay{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        10000,
	}
}

// Write appends the event to the workflow's stream. Implements
// ports.EventSink.
func (r *Relay) Write(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: streamKey(event.WorkflowID),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}
	// Publish must not block the runner; a short deadline bounds the worst case.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Handler processes one consumed event.
type Handler func(ctx context.Context, event domain.Event) error

// Consume reads the workflow's stream through the relay's consumer group,
// invoking handler for each event. It blocks until ctx is cancelled.
func (r *Relay) Consume(ctx context.Context, workflowID string, handler Handler) error {
	key := streamKey(workflowID)
	err := r.client.XGroupCreateMkStream(ctx, key, r.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}

	r.logger.Info("consuming event stream",
		zap.String("stream", key),
		zap.String("consumer_group", r.consumerGroup),
		zap.String("consumer", r.consumerName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  []string{key, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("read event stream failed", zap.String("stream", key), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				r.processMessage(ctx, key, message, handler)
			}
		}
	}
}

func (r *Relay) processMessage(ctx context.Context, key string, message redis.XMessage, handler Handler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		r.logger.Error("invalid message format",
			zap.String("stream", key),
			zap.String("message_id", message.ID))
		return
	}
	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		r.logger.Error("unmarshal event failed",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}
	if err := handler(ctx, event); err != nil {
		r.logger.Error("event handler failed",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}
	if err := r.client.XAck(ctx, key, r.consumerGroup, message.ID).Err(); err != nil {
		r.logger.Error("ack failed",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

func streamKey(workflowID string) string {
	return fmt.Sprintf("flowline:events:%s", workflowID)
}
