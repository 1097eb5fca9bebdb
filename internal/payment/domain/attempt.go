package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AttemptStatus string

const (
	AttemptInitiated       AttemptStatus = "initiated"
	AttemptWaitingCallback AttemptStatus = "waiting_callback"
	AttemptSuccess         AttemptStatus = "success"
	AttemptFailed          AttemptStatus = "failed"
	AttemptExpired         AttemptStatus = "expired"
)

// Attempt records a single gateway call for a payment. Retries create new
// attempts; a completed attempt is never mutated again. At most one attempt
// per payment may be waiting for a callback at a time.
type Attempt struct {
	ID              uuid.UUID
	PaymentID       uuid.UUID
	Provider        string
	ProviderRef     string
	Status          AttemptStatus
	RequestPayload  []byte
	ResponsePayload []byte
	ErrorMessage    string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

func NewAttempt(paymentID uuid.UUID, provider string, requestPayload []byte) Attempt {
	return Attempt{
		ID:             uuid.New(),
		PaymentID:      paymentID,
		Provider:       provider,
		Status:         AttemptInitiated,
		RequestPayload: requestPayload,
		CreatedAt:      time.Now().UTC(),
	}
}

func (a Attempt) IsCompleted() bool {
	switch a.Status {
	case AttemptSuccess, AttemptFailed, AttemptExpired:
		return true
	}
	return false
}

func (a *Attempt) MarkWaitingCallback(providerRef string, responsePayload []byte) error {
	if a.Status != AttemptInitiated {
		return fmt.Errorf("%w: attempt %s -> %s", ErrInvalidTransition, a.Status, AttemptWaitingCallback)
	}
	a.Status = AttemptWaitingCallback
	a.ProviderRef = providerRef
	a.ResponsePayload = responsePayload
	return nil
}

func (a *Attempt) MarkSuccess(responsePayload []byte) error {
	if a.Status != AttemptWaitingCallback {
		return fmt.Errorf("%w: attempt %s -> %s", ErrInvalidTransition, a.Status, AttemptSuccess)
	}
	a.Status = AttemptSuccess
	a.ResponsePayload = responsePayload
	now := time.Now().UTC()
	a.CompletedAt = &now
	return nil
}

func (a *Attempt) MarkFailed(errMsg string, responsePayload []byte) error {
	if a.IsCompleted() {
		return fmt.Errorf("%w: attempt %s -> %s", ErrInvalidTransition, a.Status, AttemptFailed)
	}
	a.Status = AttemptFailed
	a.ErrorMessage = errMsg
	a.ResponsePayload = responsePayload
	now := time.Now().UTC()
	a.CompletedAt = &now
	return nil
}

func (a *Attempt) MarkExpired() error {
	if a.Status != AttemptWaitingCallback {
		return fmt.Errorf("%w: attempt %s -> %s", ErrInvalidTransition, a.Status, AttemptExpired)
	}
	a.Status = AttemptExpired
	now := time.Now().UTC()
	a.CompletedAt = &now
	return nil
}
