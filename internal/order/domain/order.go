package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid order transition")

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusCancelled OrderStatus = "cancelled"
	StatusRefunded  OrderStatus = "refunded"
)

// Order is the order-service aggregate. After creation it is mutated only
// by payment and refund outcomes arriving over the event stream, so every
// transition must tolerate redelivery of the same outcome.
type Order struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	UserEmail      string
	UserName       string
	UserPhone      string
	UserAddress    string
	Status         OrderStatus
	Currency       string
	TotalAmount    int64
	Items          []Line
	PaymentID      uuid.NullUUID
	PaymentFailure string
	RefundedAmount int64
	RefundIDs      []uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Line struct {
	ProductID   uuid.UUID
	ProductName string
	UnitPrice   int64
	Quantity    int
}

func NewOrder(userID uuid.UUID, email, name, phone, address, currency string, items []Line) Order {
	var total int64
	for _, l := range items {
		total += int64(l.Quantity) * l.UnitPrice
	}
	now := time.Now().UTC()
	return Order{
		ID:          uuid.New(),
		UserID:      userID,
		UserEmail:   email,
		UserName:    name,
		UserPhone:   phone,
		UserAddress: address,
		Status:      StatusPending,
		Currency:    currency,
		TotalAmount: total,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkPaid records a successful payment. Reapplying the same outcome is a
// no-op so redelivered events converge instead of erroring.
func (o *Order) MarkPaid(paymentID uuid.UUID) error {
	if o.Status == StatusPaid && o.PaymentID.Valid && o.PaymentID.UUID == paymentID {
		return nil
	}
	if o.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusPaid)
	}
	o.Status = StatusPaid
	o.PaymentID = uuid.NullUUID{UUID: paymentID, Valid: true}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (o *Order) MarkPaymentFailed(paymentID uuid.UUID, reason string) error {
	if o.Status == StatusCancelled {
		return nil
	}
	if o.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCancelled)
	}
	o.Status = StatusCancelled
	o.PaymentID = uuid.NullUUID{UUID: paymentID, Valid: true}
	o.PaymentFailure = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordRefund accumulates a completed refund; the order becomes refunded
// once the whole amount is returned. Each refund counts at most once: a
// refund id already in RefundIDs is a no-op, so the same event delivered
// again (including via an outbox re-publish, which arrives at a fresh
// offset) cannot double-count the amount.
func (o *Order) RecordRefund(refundID uuid.UUID, amount int64) error {
	for _, id := range o.RefundIDs {
		if id == refundID {
			return nil
		}
	}
	if o.Status != StatusPaid && o.Status != StatusRefunded {
		return fmt.Errorf("%w: refund on %s order", ErrInvalidTransition, o.Status)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive refund amount", ErrInvalidTransition)
	}
	o.RefundIDs = append(o.RefundIDs, refundID)
	o.RefundedAmount += amount
	if o.RefundedAmount >= o.TotalAmount {
		o.Status = StatusRefunded
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}
