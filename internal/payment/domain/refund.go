package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
	RefundStatusRejected   RefundStatus = "rejected"
)

// Refund is one refund request against a paid payment. The sum of completed
// refund amounts never exceeds the payment amount; the store enforces that
// under the payment row lock.
type Refund struct {
	ID            uuid.UUID
	PaymentID     uuid.UUID
	Amount        int64
	Currency      string
	Status        RefundStatus
	Reason        string
	ProviderRef   string
	FailureReason string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

func NewRefund(paymentID uuid.UUID, amount int64, currency, reason string) Refund {
	return Refund{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Amount:    amount,
		Currency:  currency,
		Reason:    reason,
		Status:    RefundStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func (r Refund) IsFinal() bool {
	switch r.Status {
	case RefundStatusCompleted, RefundStatusFailed, RefundStatusRejected:
		return true
	}
	return false
}

func (r *Refund) MarkProcessing() error {
	if r.Status != RefundStatusPending {
		return fmt.Errorf("%w: refund %s -> %s", ErrInvalidTransition, r.Status, RefundStatusProcessing)
	}
	r.Status = RefundStatusProcessing
	return nil
}

func (r *Refund) MarkCompleted(providerRef string) error {
	if r.Status != RefundStatusProcessing {
		return fmt.Errorf("%w: refund %s -> %s", ErrInvalidTransition, r.Status, RefundStatusCompleted)
	}
	r.Status = RefundStatusCompleted
	r.ProviderRef = providerRef
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}

func (r *Refund) MarkFailed(reason string) error {
	if r.IsFinal() {
		return fmt.Errorf("%w: refund %s -> %s", ErrInvalidTransition, r.Status, RefundStatusFailed)
	}
	r.Status = RefundStatusFailed
	r.FailureReason = reason
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}

func (r *Refund) MarkRejected(reason string) error {
	if r.IsFinal() {
		return fmt.Errorf("%w: refund %s -> %s", ErrInvalidTransition, r.Status, RefundStatusRejected)
	}
	r.Status = RefundStatusRejected
	r.FailureReason = reason
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}
