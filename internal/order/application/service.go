package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ecomflow/payment-platform/internal/order/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

type Service struct {
	log   *slog.Logger
	store Store
}

func NewService(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store}
}

type CreateOrderInput struct {
	UserID      uuid.UUID
	UserEmail   string
	UserName    string
	UserPhone   string
	UserAddress string
	UserIP      string
	Currency    string
	Items       []domain.Line
}

// CreateOrder persists a pending order and an OrderCreated outbox row in
// one transaction; the payment saga starts once the publisher ships it.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if in.UserID == uuid.Nil || in.UserEmail == "" || len(in.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: user id, email and items are required", ErrValidation)
	}
	if in.Currency == "" {
		return domain.Order{}, fmt.Errorf("%w: currency is required", ErrValidation)
	}
	for _, l := range in.Items {
		if l.Quantity <= 0 || l.UnitPrice <= 0 {
			return domain.Order{}, fmt.Errorf("%w: item quantity and price must be positive", ErrValidation)
		}
	}

	o := domain.NewOrder(in.UserID, in.UserEmail, in.UserName, in.UserPhone, in.UserAddress, in.Currency, in.Items)

	ev := domain.OrderCreated{
		OrderID:       o.ID,
		UserID:        o.UserID,
		UserEmail:     o.UserEmail,
		UserName:      o.UserName,
		UserPhone:     o.UserPhone,
		UserAddress:   o.UserAddress,
		UserIP:        in.UserIP,
		Currency:      o.Currency,
		TotalAmount:   o.TotalAmount,
		Items:         itemsFromLines(o.Items),
		CreatedAt:     o.CreatedAt,
		CorrelationID: o.ID.String(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.Order{}, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.AddOutboxMessage(ctx, outbox.NewMessage(domain.EventOrderCreated, payload, ev.CorrelationID))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order created", "order_id", o.ID, "total", o.TotalAmount, "currency", o.Currency)
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ApplyPaymentSucceeded marks the order paid. Redelivered events resolve to
// the same state and commit cleanly.
func (s *Service) ApplyPaymentSucceeded(ctx context.Context, ev domain.PaymentSucceeded) error {
	return s.applyOutcome(ctx, ev.OrderID, func(o *domain.Order) error {
		return o.MarkPaid(ev.PaymentID)
	})
}

func (s *Service) ApplyPaymentFailed(ctx context.Context, ev domain.PaymentFailed) error {
	reason := ev.ReasonMessage
	if reason == "" {
		reason = ev.ReasonCode
	}
	return s.applyOutcome(ctx, ev.OrderID, func(o *domain.Order) error {
		return o.MarkPaymentFailed(ev.PaymentID, reason)
	})
}

func (s *Service) ApplyRefundCompleted(ctx context.Context, ev domain.RefundCompleted) error {
	return s.applyOutcome(ctx, ev.OrderID, func(o *domain.Order) error {
		return o.RecordRefund(ev.RefundID, ev.RefundAmount)
	})
}

// ApplyRefundFailed records nothing on the order itself; the refund stays
// visible on the payment side. It is here so the consumer treats the event
// as handled once the order is known to exist.
func (s *Service) ApplyRefundFailed(ctx context.Context, ev domain.RefundFailed) error {
	_, err := s.store.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	s.log.Warn("refund failed for order", "order_id", ev.OrderID,
		"refund_id", ev.RefundID, "reason", ev.ReasonMessage)
	return nil
}

func (s *Service) applyOutcome(ctx context.Context, orderID uuid.UUID, apply func(*domain.Order) error) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		o, err := tx.LockOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := apply(&o); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// Conflicting outcome after the order settled; the event is
				// stale, keep the current state.
				s.log.Warn("payment outcome discarded", "order_id", orderID,
					"status", o.Status, "err", err)
				return nil
			}
			return err
		}
		return tx.UpdateOrder(ctx, o)
	})
}

func itemsFromLines(lines []domain.Line) []domain.Item {
	items := make([]domain.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.Item{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
		})
	}
	return items
}
