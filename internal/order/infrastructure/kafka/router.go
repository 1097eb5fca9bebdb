package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ecomflow/payment-platform/internal/order/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

// Router maps the order-service outbox rows to the order-created topic.
// The only event this side emits is OrderCreated; anything else in the
// table is a bug and fails routing.
type Router struct {
	orderCreatedTopic string
}

func NewRouter(orderCreatedTopic string) *Router {
	return &Router{orderCreatedTopic: orderCreatedTopic}
}

func (r *Router) Route(m outbox.Message) (kafka.Message, error) {
	if m.EventType != domain.EventOrderCreated {
		return kafka.Message{}, fmt.Errorf("unknown event type %q", m.EventType)
	}

	var ev domain.OrderCreated
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return kafka.Message{}, fmt.Errorf("decode %s: %w", m.EventType, err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(m.EventType)},
		{Key: "occurred_at", Value: []byte(m.OccurredAt.UTC().Format(time.RFC3339Nano))},
	}
	if m.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation_id", Value: []byte(m.CorrelationID)})
	}

	return kafka.Message{
		Topic:   r.orderCreatedTopic,
		Key:     []byte(ev.OrderID.String()),
		Value:   m.Payload,
		Headers: headers,
	}, nil
}
