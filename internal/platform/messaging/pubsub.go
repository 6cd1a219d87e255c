// Package messaging carries fulfillment events out over Pub/Sub and purchase receipts in over AMQP.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/hanko-field/fulfillment/internal/platform/textutil"
	"github.com/hanko-field/fulfillment/internal/services"
)

const eventTypePrefix = "fulfillment."

// EventEnvelope is the JSON body of every published event.
type EventEnvelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	SubjectID  string         `json:"subjectId,omitempty"`
	OrderID    string         `json:"orderId,omitempty"`
	SKU        string         `json:"sku,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// PubSubPublisher implements services.EventPublisher on a Pub/Sub topic. Messages share an
// ordering key per order so subscribers see an order's events in commit order.
type PubSubPublisher struct {
	topic *pubsub.Topic
	newID func() string
}

func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic, newID: uuid.NewString}, nil
}

func (p *PubSubPublisher) PublishFulfillmentEvent(ctx context.Context, event services.FulfillmentEvent) error {
	envelope := EventEnvelope{
		ID:         p.newID(),
		Type:       eventTypePrefix + event.Type,
		SubjectID:  event.SubjectID,
		OrderID:    event.OrderID,
		SKU:        event.SKU,
		ActorID:    event.ActorID,
		OccurredAt: event.OccurredAt.UTC(),
		Data:       event.Attributes,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: textutil.NormalizeAttributes(map[string]string{
			"eventId":   envelope.ID,
			"eventType": envelope.Type,
			"subjectId": event.SubjectID,
			"orderId":   event.OrderID,
			"sku":       event.SKU,
		}),
		OrderingKey: event.OrderID,
	}
	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			// A failed publish pauses its ordering key until resumed.
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
