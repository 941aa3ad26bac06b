package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shop-monitor/internal/models"
)

// EventTypeEntityChanged is published whenever a poller commits a changed
// entity.
const EventTypeEntityChanged = "ENTITY_CHANGED"

// EntityChangedPayload is the wire form of a change notification: the kind
// discriminator plus the entity's serialized DTO.
type EntityChangedPayload struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      models.EntityKind `json:"kind"`
	Entity    json.RawMessage   `json:"entity"`
}

// RedisClient is the slice of go-redis the publisher uses (narrowed for
// testing).
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// Publisher fans out change events to a Redis stream consumed by the UI
// push channel and the chat notifier.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishEntityChanged appends one change event to the stream.
func (p *Publisher) PublishEntityChanged(ctx context.Context, kind models.EntityKind, entity interface{}) error {
	dto, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	payload := EntityChangedPayload{
		EventID:   uuid.NewString(),
		EventType: EventTypeEntityChanged,
		Timestamp: time.Now(),
		Kind:      kind,
		Entity:    dto,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_type": payload.EventType,
			"kind":       string(kind),
			"payload":    data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("change event published", "kind", kind, "event_id", payload.EventID)
	return nil
}
