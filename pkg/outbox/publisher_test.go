package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// memStore keeps pending messages in insertion order, the way the SQL
// store orders by occurred_at.
type memStore struct {
	msgs     []Message
	markErr  error
	fetchErr error
}

func (s *memStore) FetchPending(_ context.Context, batchSize, maxRetries int) ([]Message, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []Message
	for _, m := range s.msgs {
		if m.ProcessedAt == nil && m.RetryCount < maxRetries {
			out = append(out, m)
		}
		if len(out) == batchSize {
			break
		}
	}
	return out, nil
}

func (s *memStore) MarkBatch(_ context.Context, processed []uuid.UUID, failed []Failure) error {
	if s.markErr != nil {
		return s.markErr
	}
	for i := range s.msgs {
		for _, id := range processed {
			if s.msgs[i].ID == id {
				now := time.Now().UTC()
				s.msgs[i].ProcessedAt = &now
			}
		}
		for _, f := range failed {
			if s.msgs[i].ID == f.ID {
				s.msgs[i].RetryCount++
				s.msgs[i].LastError = f.Err
			}
		}
	}
	return nil
}

func (s *memStore) CountExhausted(_ context.Context, maxRetries int) (int, error) {
	n := 0
	for _, m := range s.msgs {
		if m.ProcessedAt == nil && m.RetryCount >= maxRetries {
			n++
		}
	}
	return n, nil
}

func (s *memStore) pendingTypes() []string {
	var out []string
	for _, m := range s.msgs {
		if m.ProcessedAt == nil {
			out = append(out, m.EventType)
		}
	}
	return out
}

type memProducer struct {
	written []kafka.Message
	failFor map[string]error // keyed by topic
}

func (p *memProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if err, ok := p.failFor[m.Topic]; ok {
			return err
		}
		p.written = append(p.written, m)
	}
	return nil
}

// typeRouter routes every known event type to a topic of the same name.
type typeRouter struct{ known map[string]bool }

func (r typeRouter) Route(m Message) (kafka.Message, error) {
	if !r.known[m.EventType] {
		return kafka.Message{}, errors.New("unroutable event type " + m.EventType)
	}
	return kafka.Message{Topic: m.EventType, Key: []byte(m.CorrelationID), Value: m.Payload}, nil
}

func newTestPublisher(store *memStore, producer *memProducer, router Router) *Publisher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPublisher(log, store, producer, router)
}

func msg(eventType string) Message {
	return NewMessage(eventType, []byte(`{}`), uuid.NewString())
}

func TestPublishOnce_DeliversAndMarksProcessed(t *testing.T) {
	store := &memStore{msgs: []Message{msg("payment-succeeded"), msg("payment-failed")}}
	producer := &memProducer{}
	pub := newTestPublisher(store, producer, typeRouter{known: map[string]bool{
		"payment-succeeded": true, "payment-failed": true,
	}})

	require.NoError(t, pub.PublishOnce(context.Background()))
	require.Len(t, producer.written, 2)
	require.Empty(t, store.pendingTypes())

	// Processed rows must never be picked up again.
	require.NoError(t, pub.PublishOnce(context.Background()))
	require.Len(t, producer.written, 2)
}

func TestPublishOnce_FIFOWithinBatch(t *testing.T) {
	store := &memStore{}
	for _, et := range []string{"a", "b", "c"} {
		m := msg(et)
		store.msgs = append(store.msgs, m)
		time.Sleep(time.Millisecond)
	}
	producer := &memProducer{}
	pub := newTestPublisher(store, producer, typeRouter{known: map[string]bool{"a": true, "b": true, "c": true}})

	require.NoError(t, pub.PublishOnce(context.Background()))
	require.Len(t, producer.written, 3)
	got := []string{producer.written[0].Topic, producer.written[1].Topic, producer.written[2].Topic}
	require.True(t, sort.StringsAreSorted(got), "delivery order %v should follow insertion order", got)
}

func TestPublishOnce_BrokerFailureKeepsRowPending(t *testing.T) {
	store := &memStore{msgs: []Message{msg("payment-succeeded"), msg("payment-failed")}}
	producer := &memProducer{failFor: map[string]error{"payment-failed": errors.New("broker down")}}
	pub := newTestPublisher(store, producer, typeRouter{known: map[string]bool{
		"payment-succeeded": true, "payment-failed": true,
	}})

	require.NoError(t, pub.PublishOnce(context.Background()))

	require.Len(t, producer.written, 1)
	require.Equal(t, []string{"payment-failed"}, store.pendingTypes())
	require.Equal(t, 1, store.msgs[1].RetryCount)
	require.Equal(t, "broker down", store.msgs[1].LastError)

	// Broker recovers; the pending row is redelivered on the next cycle.
	producer.failFor = nil
	require.NoError(t, pub.PublishOnce(context.Background()))
	require.Empty(t, store.pendingTypes())
}

func TestPublishOnce_UnroutableMessageFailsWithoutBlockingOthers(t *testing.T) {
	store := &memStore{msgs: []Message{msg("bogus"), msg("payment-succeeded")}}
	producer := &memProducer{}
	pub := newTestPublisher(store, producer, typeRouter{known: map[string]bool{"payment-succeeded": true}})

	require.NoError(t, pub.PublishOnce(context.Background()))
	require.Len(t, producer.written, 1)
	require.Equal(t, "payment-succeeded", producer.written[0].Topic)
	require.Equal(t, []string{"bogus"}, store.pendingTypes())
	require.Contains(t, store.msgs[0].LastError, "unroutable")
}

func TestPublishOnce_RetryCapExcludesRow(t *testing.T) {
	m := msg("payment-succeeded")
	m.RetryCount = 5
	store := &memStore{msgs: []Message{m}}
	producer := &memProducer{}
	pub := newTestPublisher(store, producer, typeRouter{known: map[string]bool{"payment-succeeded": true}})

	require.NoError(t, pub.PublishOnce(context.Background()))
	require.Empty(t, producer.written, "exhausted rows must not be redelivered")
}

func TestPublishOnce_MarkFailureIsSurfaced(t *testing.T) {
	store := &memStore{msgs: []Message{msg("payment-succeeded")}, markErr: errors.New("db gone")}
	producer := &memProducer{}
	pub := newTestPublisher(store, producer, typeRouter{known: map[string]bool{"payment-succeeded": true}})

	err := pub.PublishOnce(context.Background())
	require.Error(t, err)
	// The message went out but the row is still pending: at-least-once.
	require.Len(t, producer.written, 1)
	require.Equal(t, []string{"payment-succeeded"}, store.pendingTypes())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &memStore{}
	pub := newTestPublisher(store, &memProducer{}, typeRouter{}).WithInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
