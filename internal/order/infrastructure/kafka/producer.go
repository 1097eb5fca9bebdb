package kafka

import "github.com/segmentio/kafka-go"

// NewWriter builds the producer the outbox publisher writes through.
// RequireAll keeps delivery durable across broker restarts.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
}
