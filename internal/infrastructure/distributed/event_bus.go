package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope is the wire form of a stream event on the bus.
type envelope struct {
	InstanceID string              `json:"instance_id"`
	SentAt     time.Time           `json:"sent_at"`
	Event      *domain.StreamEvent `json:"event"`
}

// EventBus publishes stream lifecycle events over Redis pub/sub so other
// coordinator instances and consumers can follow them.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

var _ ports.EventPublisher = (*EventBus)(nil)

func NewEventBus(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, event *domain.StreamEvent) error {
	data, err := json.Marshal(envelope{
		InstanceID: eb.instanceID,
		SentAt:     time.Now(),
		Event:      event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"stream_id", event.StreamID,
		"participant_id", event.ParticipantID,
	)
	return nil
}

// Subscribe delivers events published by other instances to handler until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.StreamEvent) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*domain.StreamEvent) error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Event == nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}

	// Skip events from this instance
	if env.InstanceID == eb.instanceID {
		return
	}

	if err := handler(env.Event); err != nil {
		eb.logger.Warnw("error handling event",
			"type", env.Event.Type,
			"error", err,
		)
	}
}

func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
