package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/ecomflow/payment-platform/internal/payment/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

// Store is the transactional record store for the saga. WithinTx runs fn in
// one database transaction and commits only when fn returns nil; any error
// rolls the whole unit back, outbox writes included.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error

	GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (domain.Payment, error)
	ListRefundsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error)
	GetRefundByID(ctx context.Context, refundID uuid.UUID) (domain.Refund, error)
}

// TxStore is the view of the store inside one transaction. The Lock* loads
// take a row lock on the payment, serializing concurrent saga operations on
// the same payment.
type TxStore interface {
	LockPaymentByID(ctx context.Context, id uuid.UUID) (domain.Payment, error)
	LockPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (domain.Payment, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (domain.Attempt, error)
	SumCompletedRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error)

	InsertPayment(ctx context.Context, p domain.Payment) error
	UpdatePayment(ctx context.Context, p domain.Payment) error
	InsertAttempt(ctx context.Context, a domain.Attempt) error
	UpdateAttempt(ctx context.Context, a domain.Attempt) error
	InsertRefund(ctx context.Context, r domain.Refund) error
	UpdateRefund(ctx context.Context, r domain.Refund) error
	AddOutboxMessage(ctx context.Context, m outbox.Message) error
}

// Gateway adapts the external payment provider.
type Gateway interface {
	Name() string
	InitPayment(ctx context.Context, req InitRequest) (InitResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	// PaymentPageURL builds the customer-facing redirect for a provider token.
	PaymentPageURL(token string) string
	// VerifyCallback authenticates an inbound webhook in constant time.
	VerifyCallback(cb Callback) bool
}

type InitRequest struct {
	MerchantOID string
	UserIP      string
	UserEmail   string
	UserName    string
	UserPhone   string
	UserAddress string
	Amount      int64
	Currency    string
	Basket      []BasketItem
}

type BasketItem struct {
	Name     string
	Price    int64
	Quantity int
}

type InitResult struct {
	Success bool
	Token   string
	Error   string
	Raw     []byte
}

type RefundRequest struct {
	MerchantOID string
	Amount      int64
	ReferenceNo string
}

type RefundResult struct {
	Success  bool
	RefundID string
	Error    string
	Raw      []byte
}

// Callback is the provider webhook payload. TotalAmount stays the raw wire
// string because it participates in hash verification byte-for-byte.
type Callback struct {
	MerchantOID      string
	Status           string
	TotalAmount      string
	Hash             string
	FailedReasonCode string
	FailedReasonMsg  string
	Raw              []byte
}
