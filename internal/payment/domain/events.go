package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event type tags stored on outbox rows. The publisher resolves topics by
// switching over these; adding a kind is a compile-time change.
const (
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentFailed    = "PaymentFailed"
	EventRefundCompleted  = "RefundCompleted"
	EventRefundFailed     = "RefundFailed"
)

// OrderCreated is consumed from the order service to start a payment saga.
type OrderCreated struct {
	OrderID       uuid.UUID   `json:"order_id"`
	UserID        uuid.UUID   `json:"user_id"`
	UserEmail     string      `json:"user_email"`
	UserName      string      `json:"user_name"`
	UserPhone     string      `json:"user_phone"`
	UserAddress   string      `json:"user_address"`
	UserIP        string      `json:"user_ip"`
	Currency      string      `json:"currency"`
	TotalAmount   int64       `json:"total_amount"`
	Items         []OrderItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

type OrderItem struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   int64     `json:"unit_price"`
	Quantity    int       `json:"quantity"`
}

type PaymentSucceeded struct {
	OrderID       uuid.UUID `json:"order_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	ProviderRef   string    `json:"provider_ref"`
	PaidAmount    int64     `json:"paid_amount"`
	Currency      string    `json:"currency"`
	PaidAt        time.Time `json:"paid_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type PaymentFailed struct {
	OrderID       uuid.UUID `json:"order_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	ReasonCode    string    `json:"reason_code"`
	ReasonMessage string    `json:"reason_message"`
	FailedAt      time.Time `json:"failed_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type RefundCompleted struct {
	OrderID       uuid.UUID `json:"order_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	RefundID      uuid.UUID `json:"refund_id"`
	RefundAmount  int64     `json:"refund_amount"`
	Currency      string    `json:"currency"`
	Reason        string    `json:"reason,omitempty"`
	RefundedAt    time.Time `json:"refunded_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type RefundFailed struct {
	OrderID       uuid.UUID `json:"order_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	RefundID      uuid.UUID `json:"refund_id"`
	RefundAmount  int64     `json:"refund_amount"`
	ReasonCode    string    `json:"reason_code"`
	ReasonMessage string    `json:"reason_message"`
	FailedAt      time.Time `json:"failed_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}
