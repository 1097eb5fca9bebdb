package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Message is a durable at-least-once delivery record. It is written in the
// same database transaction as the domain state change it announces and
// retired by the publisher. A message with ProcessedAt set is terminal.
type Message struct {
	ID            uuid.UUID
	EventType     string
	Payload       []byte
	CorrelationID string
	OccurredAt    time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     string
}

func NewMessage(eventType string, payload []byte, correlationID string) Message {
	return Message{
		ID:            uuid.New(),
		EventType:     eventType,
		Payload:       payload,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
	}
}
