package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomflow/payment-platform/internal/order/application"
	"github.com/ecomflow/payment-platform/internal/order/domain"
	"github.com/ecomflow/payment-platform/pkg/idempotency"
	"github.com/ecomflow/payment-platform/pkg/tracing"
)

// Topics the order service subscribes to for payment and refund outcomes.
type Topics struct {
	PaymentSucceeded string
	PaymentFailed    string
	RefundCompleted  string
	RefundFailed     string
}

// Consumer drains the payment outcome topics with one group reader and
// applies each event to the order aggregate. Offsets are committed only
// after the transition has committed locally.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	topics Topics
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topics Topics, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: group,
		GroupTopics: []string{
			topics.PaymentSucceeded,
			topics.PaymentFailed,
			topics.RefundCompleted,
			topics.RefundFailed,
		},
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		topics: topics,
		tracer: otel.Tracer("order-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			// Stop without committing: fetching past this message and then
			// committing a later offset would lose it for good.
			return fmt.Errorf("idempotency check: %w", err)
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentOutcome")

		err = c.dispatch(msgCtx, msg)
		span.End()

		switch {
		case err == nil:
			_ = c.reader.CommitMessages(ctx, msg)
		case fatal(err):
			// Infrastructure failure: stop before any later commit can
			// advance the group offset past this message. On restart the
			// reader resumes from the last commit and redelivers it.
			c.log.Error("apply outcome failed, stopping for redelivery",
				"topic", msg.Topic, "err", err)
			_ = c.idem.Forget(ctx, key)
			return err
		case errors.Is(err, application.ErrNotFound):
			// The order is emitted before any outcome can exist, so an
			// unknown order means the event is not for this deployment.
			c.log.Warn("outcome for unknown order dropped", "topic", msg.Topic, "err", err)
			_ = c.reader.CommitMessages(ctx, msg)
		default:
			c.log.Error("undecodable message dropped", "topic", msg.Topic,
				"partition", msg.Partition, "offset", msg.Offset, "err", err)
			_ = c.reader.CommitMessages(ctx, msg)
		}
	}
}

// fatal reports whether consumption must stop so the message is redelivered
// after a restart. Business drops commit their offset instead.
func fatal(err error) bool {
	return !errors.Is(err, application.ErrNotFound) && !errors.Is(err, errUndecodable)
}

var errUndecodable = errors.New("undecodable event payload")

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case c.topics.PaymentSucceeded:
		var ev domain.PaymentSucceeded
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return errors.Join(errUndecodable, err)
		}
		return c.svc.ApplyPaymentSucceeded(ctx, ev)
	case c.topics.PaymentFailed:
		var ev domain.PaymentFailed
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return errors.Join(errUndecodable, err)
		}
		return c.svc.ApplyPaymentFailed(ctx, ev)
	case c.topics.RefundCompleted:
		var ev domain.RefundCompleted
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return errors.Join(errUndecodable, err)
		}
		return c.svc.ApplyRefundCompleted(ctx, ev)
	case c.topics.RefundFailed:
		var ev domain.RefundFailed
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return errors.Join(errUndecodable, err)
		}
		return c.svc.ApplyRefundFailed(ctx, ev)
	default:
		return errors.Join(errUndecodable, errors.New("unexpected topic "+msg.Topic))
	}
}
