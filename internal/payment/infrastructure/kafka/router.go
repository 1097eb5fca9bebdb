package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ecomflow/payment-platform/internal/payment/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

type Topics struct {
	OrderCreated     string
	PaymentSucceeded string
	PaymentFailed    string
	RefundCompleted  string
	RefundFailed     string
}

// Router maps outbox rows to their destination topics. The event set is
// closed: adding a kind means adding a case here, at compile time. The
// partition key is the order id so all events for one order stay ordered.
type Router struct {
	topics Topics
}

func NewRouter(topics Topics) *Router {
	return &Router{topics: topics}
}

func (r *Router) Route(m outbox.Message) (kafka.Message, error) {
	var (
		topic   string
		orderID uuid.UUID
	)

	switch m.EventType {
	case domain.EventPaymentSucceeded:
		var ev domain.PaymentSucceeded
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return kafka.Message{}, fmt.Errorf("decode %s: %w", m.EventType, err)
		}
		topic, orderID = r.topics.PaymentSucceeded, ev.OrderID
	case domain.EventPaymentFailed:
		var ev domain.PaymentFailed
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return kafka.Message{}, fmt.Errorf("decode %s: %w", m.EventType, err)
		}
		topic, orderID = r.topics.PaymentFailed, ev.OrderID
	case domain.EventRefundCompleted:
		var ev domain.RefundCompleted
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return kafka.Message{}, fmt.Errorf("decode %s: %w", m.EventType, err)
		}
		topic, orderID = r.topics.RefundCompleted, ev.OrderID
	case domain.EventRefundFailed:
		var ev domain.RefundFailed
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return kafka.Message{}, fmt.Errorf("decode %s: %w", m.EventType, err)
		}
		topic, orderID = r.topics.RefundFailed, ev.OrderID
	default:
		return kafka.Message{}, fmt.Errorf("unknown event type %q", m.EventType)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(m.EventType)},
		{Key: "occurred_at", Value: []byte(m.OccurredAt.UTC().Format(time.RFC3339Nano))},
	}
	if m.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation_id", Value: []byte(m.CorrelationID)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(orderID.String()),
		Value:   m.Payload,
		Headers: headers,
	}, nil
}
