package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleLines() []Line {
	return []Line{
		{ProductID: uuid.New(), ProductName: "kettle", UnitPrice: 4500, Quantity: 2},
		{ProductID: uuid.New(), ProductName: "mug", UnitPrice: 550, Quantity: 1},
	}
}

func TestNewOrder_TotalsLines(t *testing.T) {
	o := NewOrder(uuid.New(), "a@b.c", "Ada", "+90", "addr", "TRY", sampleLines())

	require.Equal(t, StatusPending, o.Status)
	require.Equal(t, int64(2*4500+550), o.TotalAmount)
	require.False(t, o.PaymentID.Valid)
}

func TestMarkPaid(t *testing.T) {
	o := NewOrder(uuid.New(), "a@b.c", "Ada", "+90", "addr", "TRY", sampleLines())
	paymentID := uuid.New()

	require.NoError(t, o.MarkPaid(paymentID))
	require.Equal(t, StatusPaid, o.Status)
	require.Equal(t, paymentID, o.PaymentID.UUID)

	// Redelivered outcome converges without erroring.
	require.NoError(t, o.MarkPaid(paymentID))
	require.Equal(t, StatusPaid, o.Status)
}

func TestMarkPaymentFailed(t *testing.T) {
	o := NewOrder(uuid.New(), "a@b.c", "Ada", "+90", "addr", "TRY", sampleLines())

	require.NoError(t, o.MarkPaymentFailed(uuid.New(), "card declined"))
	require.Equal(t, StatusCancelled, o.Status)
	require.Equal(t, "card declined", o.PaymentFailure)

	require.NoError(t, o.MarkPaymentFailed(uuid.New(), "card declined"))
}

func TestOutcomesExcludeEachOther(t *testing.T) {
	o := NewOrder(uuid.New(), "a@b.c", "Ada", "+90", "addr", "TRY", sampleLines())
	require.NoError(t, o.MarkPaid(uuid.New()))

	err := o.MarkPaymentFailed(uuid.New(), "late failure")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusPaid, o.Status)
}

func TestRecordRefund(t *testing.T) {
	o := NewOrder(uuid.New(), "a@b.c", "Ada", "+90", "addr", "TRY", sampleLines())
	require.NoError(t, o.MarkPaid(uuid.New()))

	require.NoError(t, o.RecordRefund(uuid.New(), 500))
	require.Equal(t, StatusPaid, o.Status, "partial refund keeps the order paid")

	require.NoError(t, o.RecordRefund(uuid.New(), o.TotalAmount-500))
	require.Equal(t, StatusRefunded, o.Status)
}

func TestRecordRefund_CountsEachRefundOnce(t *testing.T) {
	o := NewOrder(uuid.New(), "a@b.c", "Ada", "+90", "addr", "TRY", sampleLines())
	require.NoError(t, o.MarkPaid(uuid.New()))

	refundID := uuid.New()
	require.NoError(t, o.RecordRefund(refundID, 4500))
	require.NoError(t, o.RecordRefund(refundID, 4500))

	require.Equal(t, int64(4500), o.RefundedAmount)
	require.Equal(t, StatusPaid, o.Status, "a replayed partial refund must not finish the order")
}

func TestRecordRefund_RejectsUnpaidOrder(t *testing.T) {
	o := NewOrder(uuid.New(), "a@b.c", "Ada", "+90", "addr", "TRY", sampleLines())
	require.ErrorIs(t, o.RecordRefund(uuid.New(), 100), ErrInvalidTransition)
}
