package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a state change would leave a final
// state or skip over the status graph.
var ErrInvalidTransition = errors.New("invalid state transition")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusAuthorized Status = "authorized"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Payment is the aggregate root of the saga. One payment exists per order;
// Amount is in minor units (kuruş) and immutable after creation. All
// mutation goes through the Mark* transitions.
type Payment struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	PayerID          uuid.UUID
	Amount           int64
	Currency         string
	Status           Status
	ProviderRef      string
	FailureReason    string
	CurrentAttemptID *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewPayment(orderID, payerID uuid.UUID, amount int64, currency string) Payment {
	now := time.Now().UTC()
	return Payment{
		ID:        uuid.New(),
		OrderID:   orderID,
		PayerID:   payerID,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MerchantOID is the opaque reference handed to the payment provider.
// PayTR rejects non-alphanumeric order ids, so dashes are stripped.
func (p Payment) MerchantOID() string {
	return strings.ReplaceAll(p.ID.String(), "-", "")
}

// ParseMerchantOID resolves a provider callback reference back to a payment id.
func ParseMerchantOID(oid string) (uuid.UUID, error) {
	id, err := uuid.Parse(oid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse merchant oid %q: %w", oid, err)
	}
	return id, nil
}

func (p Payment) CanProcess() bool { return p.Status == StatusPending }

func (p Payment) IsFinal() bool {
	switch p.Status {
	case StatusPaid, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

func (p *Payment) MarkProcessing() error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusProcessing)
	}
	p.Status = StatusProcessing
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) MarkAuthorized(providerRef string) error {
	if p.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusAuthorized)
	}
	p.Status = StatusAuthorized
	p.ProviderRef = providerRef
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) MarkPaid(providerRef string) error {
	if p.Status != StatusProcessing && p.Status != StatusAuthorized {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusPaid)
	}
	p.Status = StatusPaid
	p.ProviderRef = providerRef
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) MarkFailed(reason string) error {
	if p.IsFinal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusFailed)
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) MarkCancelled() error {
	if p.IsFinal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusCancelled)
	}
	p.Status = StatusCancelled
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachAttempt records the single in-flight attempt. The store backs this
// with a partial unique index, so the pointer is exclusive, not inferred.
func (p *Payment) AttachAttempt(attemptID uuid.UUID) error {
	if p.Status != StatusProcessing {
		return fmt.Errorf("%w: attach attempt in %s", ErrInvalidTransition, p.Status)
	}
	id := attemptID
	p.CurrentAttemptID = &id
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) DetachAttempt() {
	p.CurrentAttemptID = nil
	p.UpdatedAt = time.Now().UTC()
}

// MarkRefunded is the one allowed exit from a final state (Paid -> Refunded).
func (p *Payment) MarkRefunded() error {
	if p.Status != StatusPaid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusRefunded)
	}
	p.Status = StatusRefunded
	p.UpdatedAt = time.Now().UTC()
	return nil
}
