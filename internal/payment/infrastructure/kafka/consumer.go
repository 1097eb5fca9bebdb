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

	"github.com/ecomflow/payment-platform/internal/payment/application"
	"github.com/ecomflow/payment-platform/internal/payment/domain"
	"github.com/ecomflow/payment-platform/pkg/idempotency"
	"github.com/ecomflow/payment-platform/pkg/tracing"
)

// Consumer drains the order-created topic and starts a payment saga per
// order. Offsets are committed only after the saga operation has committed
// locally, so an infrastructure failure leads to redelivery.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
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
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumeOrderCreated")

		var event domain.OrderCreated
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Poison message: no local entity is resolvable, drop it.
			c.log.Error("unmarshal order created failed, dropping", "err", err,
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		res, err := c.svc.StartPaymentForOrder(msgCtx, event)
		span.End()
		if err != nil && !isBusinessOutcome(err) {
			// Infrastructure failure: stop before committing anything past
			// this offset. On restart the reader resumes from the last
			// commit and redelivers; StartPaymentForOrder is idempotent.
			c.log.Error("start payment failed, stopping for redelivery",
				"order_id", event.OrderID, "err", err)
			_ = c.idem.Forget(ctx, key)
			return err
		}
		if err != nil {
			c.log.Warn("payment could not be initiated", "order_id", event.OrderID, "err", err)
		} else {
			c.log.Info("payment saga started", "order_id", event.OrderID,
				"payment_id", res.PaymentID, "status", res.Status)
		}
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

// Business outcomes are terminal for the message: the saga has recorded the
// result (including a PaymentFailed outbox row), so redelivery adds nothing.
func isBusinessOutcome(err error) bool {
	return errors.Is(err, application.ErrGateway) ||
		errors.Is(err, application.ErrValidation) ||
		errors.Is(err, application.ErrNotFound)
}
