package application

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ecomflow/payment-platform/internal/order/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("order not found")
)

// Store opens transactions; everything that mutates an order goes through
// TxStore so the outbox row commits atomically with the order row.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
}

type TxStore interface {
	LockOrderByID(ctx context.Context, id uuid.UUID) (domain.Order, error)
	InsertOrder(ctx context.Context, o domain.Order) error
	UpdateOrder(ctx context.Context, o domain.Order) error
	AddOutboxMessage(ctx context.Context, m outbox.Message) error
}
