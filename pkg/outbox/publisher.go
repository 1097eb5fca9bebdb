package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomflow/payment-platform/pkg/tracing"
)

// Store is the persistence side of the publisher. MarkBatch must apply all
// outcome updates of one poll cycle in a single transaction.
type Store interface {
	FetchPending(ctx context.Context, batchSize, maxRetries int) ([]Message, error)
	MarkBatch(ctx context.Context, processed []uuid.UUID, failed []Failure) error
	CountExhausted(ctx context.Context, maxRetries int) (int, error)
}

// Failure records a delivery error for one message; the row stays pending
// and its retry counter advances.
type Failure struct {
	ID  uuid.UUID
	Err string
}

// Router maps a stored message to its destination topic, partition key and
// headers. Unknown event types must return an error.
type Router interface {
	Route(m Message) (kafka.Message, error)
}

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	log        *slog.Logger
	store      Store
	producer   Producer
	router     Router
	interval   time.Duration
	batchSize  int
	maxRetries int
	tracer     trace.Tracer
}

func NewPublisher(log *slog.Logger, store Store, producer Producer, router Router) *Publisher {
	return &Publisher{
		log:        log,
		store:      store,
		producer:   producer,
		router:     router,
		interval:   5 * time.Second,
		batchSize:  100,
		maxRetries: 5,
		tracer:     otel.Tracer("outbox-publisher"),
	}
}

func (p *Publisher) WithInterval(d time.Duration) *Publisher {
	p.interval = d
	return p
}

func (p *Publisher) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("outbox publisher stopping")
			return nil
		case <-t.C:
			if err := p.PublishOnce(ctx); err != nil {
				p.log.Error("outbox publish cycle failed", "err", err)
			}
		}
	}
}

// PublishOnce runs a single poll cycle: fetch pending rows FIFO, deliver
// each, then persist all outcomes in one batch commit. A crash between
// delivery and MarkBatch leaves rows pending, so they are redelivered;
// consumers are expected to deduplicate.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	msgs, err := p.store.FetchPending(ctx, p.batchSize, p.maxRetries)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		p.reportExhausted(ctx)
		return nil
	}

	var processed []uuid.UUID
	var failed []Failure

	for _, m := range msgs {
		km, err := p.router.Route(m)
		if err != nil {
			p.log.Warn("outbox message not routable", "message_id", m.ID, "type", m.EventType, "err", err)
			failed = append(failed, Failure{ID: m.ID, Err: err.Error()})
			continue
		}
		msgCtx, span := p.tracer.Start(ctx, "PublishOutboxMessage")
		km.Headers = tracing.InjectKafkaHeaders(msgCtx, km.Headers)
		err = p.producer.WriteMessages(msgCtx, km)
		span.End()
		if err != nil {
			p.log.Error("outbox publish failed", "message_id", m.ID, "type", m.EventType, "err", err)
			failed = append(failed, Failure{ID: m.ID, Err: err.Error()})
			continue
		}
		p.log.Info("outbox published", "message_id", m.ID, "type", m.EventType, "topic", km.Topic)
		processed = append(processed, m.ID)
	}

	if err := p.store.MarkBatch(ctx, processed, failed); err != nil {
		return err
	}
	p.reportExhausted(ctx)
	return nil
}

// Rows past the retry cap are excluded from polling but kept for alerting.
func (p *Publisher) reportExhausted(ctx context.Context) {
	n, err := p.store.CountExhausted(ctx, p.maxRetries)
	if err != nil || n == 0 {
		return
	}
	p.log.Warn("outbox messages exhausted retries", "count", n, "max_retries", p.maxRetries)
}
