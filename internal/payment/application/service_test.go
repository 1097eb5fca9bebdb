package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ecomflow/payment-platform/internal/payment/application"
	"github.com/ecomflow/payment-platform/internal/payment/domain"
	"github.com/ecomflow/payment-platform/pkg/logging"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

// memStore keeps everything in maps and simulates transaction rollback by
// restoring a snapshot when the unit of work fails.
type memStore struct {
	payments map[uuid.UUID]domain.Payment
	byOrder  map[uuid.UUID]uuid.UUID
	attempts map[uuid.UUID]domain.Attempt
	refunds  map[uuid.UUID]domain.Refund
	outbox   []outbox.Message

	failOutbox bool
}

func newMemStore() *memStore {
	return &memStore{
		payments: map[uuid.UUID]domain.Payment{},
		byOrder:  map[uuid.UUID]uuid.UUID{},
		attempts: map[uuid.UUID]domain.Attempt{},
		refunds:  map[uuid.UUID]domain.Refund{},
	}
}

func (s *memStore) snapshot() *memStore {
	cp := newMemStore()
	for k, v := range s.payments {
		cp.payments[k] = v
	}
	for k, v := range s.byOrder {
		cp.byOrder[k] = v
	}
	for k, v := range s.attempts {
		cp.attempts[k] = v
	}
	for k, v := range s.refunds {
		cp.refunds[k] = v
	}
	cp.outbox = append([]outbox.Message(nil), s.outbox...)
	return cp
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx application.TxStore) error) error {
	saved := s.snapshot()
	if err := fn(ctx, s); err != nil {
		s.payments, s.byOrder, s.attempts, s.refunds, s.outbox =
			saved.payments, saved.byOrder, saved.attempts, saved.refunds, saved.outbox
		return err
	}
	return nil
}

func (s *memStore) LockPaymentByID(_ context.Context, id uuid.UUID) (domain.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return domain.Payment{}, application.ErrNotFound
	}
	return p, nil
}

func (s *memStore) LockPaymentByOrderID(_ context.Context, orderID uuid.UUID) (domain.Payment, error) {
	id, ok := s.byOrder[orderID]
	if !ok {
		return domain.Payment{}, application.ErrNotFound
	}
	return s.payments[id], nil
}

func (s *memStore) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	return s.LockPaymentByOrderID(ctx, orderID)
}

func (s *memStore) GetAttempt(_ context.Context, id uuid.UUID) (domain.Attempt, error) {
	a, ok := s.attempts[id]
	if !ok {
		return domain.Attempt{}, application.ErrNotFound
	}
	return a, nil
}

func (s *memStore) SumCompletedRefunds(_ context.Context, paymentID uuid.UUID) (int64, error) {
	var sum int64
	for _, r := range s.refunds {
		if r.PaymentID == paymentID && r.Status == domain.RefundStatusCompleted {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (s *memStore) ListRefundsByPaymentID(_ context.Context, paymentID uuid.UUID) ([]domain.Refund, error) {
	var out []domain.Refund
	for _, r := range s.refunds {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) GetRefundByID(_ context.Context, id uuid.UUID) (domain.Refund, error) {
	r, ok := s.refunds[id]
	if !ok {
		return domain.Refund{}, application.ErrNotFound
	}
	return r, nil
}

func (s *memStore) InsertPayment(_ context.Context, p domain.Payment) error {
	if _, exists := s.byOrder[p.OrderID]; exists {
		return errors.New("unique violation: order_id")
	}
	s.payments[p.ID] = p
	s.byOrder[p.OrderID] = p.ID
	return nil
}

func (s *memStore) UpdatePayment(_ context.Context, p domain.Payment) error {
	s.payments[p.ID] = p
	return nil
}

func (s *memStore) InsertAttempt(_ context.Context, a domain.Attempt) error {
	s.attempts[a.ID] = a
	return nil
}

func (s *memStore) UpdateAttempt(_ context.Context, a domain.Attempt) error {
	s.attempts[a.ID] = a
	return nil
}

func (s *memStore) InsertRefund(_ context.Context, r domain.Refund) error {
	s.refunds[r.ID] = r
	return nil
}

func (s *memStore) UpdateRefund(_ context.Context, r domain.Refund) error {
	s.refunds[r.ID] = r
	return nil
}

func (s *memStore) AddOutboxMessage(_ context.Context, m outbox.Message) error {
	if s.failOutbox {
		return errors.New("outbox insert failed")
	}
	s.outbox = append(s.outbox, m)
	return nil
}

func (s *memStore) outboxOfType(eventType string) []outbox.Message {
	var out []outbox.Message
	for _, m := range s.outbox {
		if m.EventType == eventType {
			out = append(out, m)
		}
	}
	return out
}

type fakeGateway struct {
	initCalls   int
	refundCalls int
	initRes     application.InitResult
	initErr     error
	refundRes   application.RefundResult
	refundErr   error
}

func (g *fakeGateway) Name() string { return "paytr" }

func (g *fakeGateway) InitPayment(_ context.Context, _ application.InitRequest) (application.InitResult, error) {
	g.initCalls++
	return g.initRes, g.initErr
}

func (g *fakeGateway) Refund(_ context.Context, _ application.RefundRequest) (application.RefundResult, error) {
	g.refundCalls++
	return g.refundRes, g.refundErr
}

func (g *fakeGateway) PaymentPageURL(token string) string {
	return "https://www.paytr.com/odeme/guvenli/" + token
}

func (g *fakeGateway) VerifyCallback(_ application.Callback) bool { return true }

func orderEvent(amount int64) domain.OrderCreated {
	return domain.OrderCreated{
		OrderID:     uuid.New(),
		UserID:      uuid.New(),
		UserEmail:   "ayse@example.com",
		UserIP:      "203.0.113.7",
		Currency:    "TRY",
		TotalAmount: amount,
		Items:       []domain.OrderItem{{ProductID: uuid.New(), ProductName: "kitap", UnitPrice: amount, Quantity: 1}},
	}
}

func newTestService(store *memStore, gw *fakeGateway) *application.Service {
	return application.NewService(logging.New(), store, gw)
}

func TestStartPaymentForOrder_HappyPath(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{initRes: application.InitResult{Success: true, Token: "tok-1"}}
	svc := newTestService(store, gw)

	res, err := svc.StartPaymentForOrder(context.Background(), orderEvent(10_000))
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, res.Status)
	require.Contains(t, res.IframeURL, "tok-1")
	require.Equal(t, 1, gw.initCalls)

	p := store.payments[res.PaymentID]
	require.Equal(t, domain.StatusProcessing, p.Status)
	require.NotNil(t, p.CurrentAttemptID)
	require.Equal(t, domain.AttemptWaitingCallback, store.attempts[*p.CurrentAttemptID].Status)
	require.Empty(t, store.outbox)
}

func TestStartPaymentForOrder_InFlightAttemptMakesNoSecondGatewayCall(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{initRes: application.InitResult{Success: true, Token: "tok-1"}}
	svc := newTestService(store, gw)
	ev := orderEvent(10_000)

	first, err := svc.StartPaymentForOrder(context.Background(), ev)
	require.NoError(t, err)

	second, err := svc.StartPaymentForOrder(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, 1, gw.initCalls)
	require.Equal(t, first.PaymentID, second.PaymentID)
	require.Equal(t, first.IframeURL, second.IframeURL)
	require.Len(t, store.attempts, 1)
}

func TestStartPaymentForOrder_FinalPaymentSkipsGateway(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{initRes: application.InitResult{Success: true, Token: "tok-1"}}
	svc := newTestService(store, gw)
	ev := orderEvent(10_000)

	res, err := svc.StartPaymentForOrder(context.Background(), ev)
	require.NoError(t, err)
	require.NoError(t, svc.HandleCallback(context.Background(), successCallback(store, res.PaymentID)))

	again, err := svc.StartPaymentForOrder(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, again.Status)
	require.Equal(t, 1, gw.initCalls)
}

func TestStartPaymentForOrder_GatewayFailureWritesOutboxAtomically(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{initRes: application.InitResult{Error: "invalid merchant"}}
	svc := newTestService(store, gw)

	res, err := svc.StartPaymentForOrder(context.Background(), orderEvent(10_000))
	require.ErrorIs(t, err, application.ErrGateway)
	require.Equal(t, domain.StatusFailed, res.Status)

	p := store.payments[res.PaymentID]
	require.Equal(t, domain.StatusFailed, p.Status)
	require.Equal(t, "invalid merchant", p.FailureReason)
	require.Len(t, store.outboxOfType(domain.EventPaymentFailed), 1)
}

func TestStartPaymentForOrder_RejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeGateway{})
	_, err := svc.StartPaymentForOrder(context.Background(), orderEvent(0))
	require.ErrorIs(t, err, application.ErrValidation)
}

func successCallback(store *memStore, paymentID uuid.UUID) application.Callback {
	p := store.payments[paymentID]
	return application.Callback{
		MerchantOID: p.MerchantOID(),
		Status:      "success",
		TotalAmount: "10000",
		Raw:         []byte(`{"status":"success"}`),
	}
}

func TestHandleCallback_SuccessIsIdempotent(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{initRes: application.InitResult{Success: true, Token: "tok-1"}}
	svc := newTestService(store, gw)

	res, err := svc.StartPaymentForOrder(context.Background(), orderEvent(10_000))
	require.NoError(t, err)

	cb := successCallback(store, res.PaymentID)
	require.NoError(t, svc.HandleCallback(context.Background(), cb))

	p := store.payments[res.PaymentID]
	require.Equal(t, domain.StatusPaid, p.Status)
	require.Nil(t, p.CurrentAttemptID)
	require.Len(t, store.outboxOfType(domain.EventPaymentSucceeded), 1)

	// Duplicate webhook delivery is a no-op.
	require.NoError(t, svc.HandleCallback(context.Background(), cb))
	require.Len(t, store.outboxOfType(domain.EventPaymentSucceeded), 1)
	require.Equal(t, domain.StatusPaid, store.payments[res.PaymentID].Status)
}

func TestHandleCallback_FailureMarksPaymentFailed(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{initRes: application.InitResult{Success: true, Token: "tok-1"}}
	svc := newTestService(store, gw)

	res, err := svc.StartPaymentForOrder(context.Background(), orderEvent(10_000))
	require.NoError(t, err)

	cb := successCallback(store, res.PaymentID)
	cb.Status = "failed"
	cb.FailedReasonCode = "INSUFFICIENT_FUNDS"
	cb.FailedReasonMsg = "kart limiti yetersiz"
	require.NoError(t, svc.HandleCallback(context.Background(), cb))

	p := store.payments[res.PaymentID]
	require.Equal(t, domain.StatusFailed, p.Status)
	require.Equal(t, "kart limiti yetersiz", p.FailureReason)
	require.Len(t, store.outboxOfType(domain.EventPaymentFailed), 1)
}

func TestHandleCallback_MalformedAndUnknownReferences(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeGateway{})

	err := svc.HandleCallback(context.Background(), application.Callback{MerchantOID: "garbage"})
	require.ErrorIs(t, err, application.ErrMalformedReference)

	unknown := domain.NewPayment(uuid.New(), uuid.New(), 100, "TRY")
	err = svc.HandleCallback(context.Background(), application.Callback{MerchantOID: unknown.MerchantOID(), Status: "success"})
	require.ErrorIs(t, err, application.ErrNotFound)
}

func TestHandleCallback_StoreFailureRollsBackEverything(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{initRes: application.InitResult{Success: true, Token: "tok-1"}}
	svc := newTestService(store, gw)

	res, err := svc.StartPaymentForOrder(context.Background(), orderEvent(10_000))
	require.NoError(t, err)

	store.failOutbox = true
	err = svc.HandleCallback(context.Background(), successCallback(store, res.PaymentID))
	require.Error(t, err)

	// The whole callback rolled back: payment still processing, attempt
	// still in flight, so a redelivered webhook succeeds cleanly.
	p := store.payments[res.PaymentID]
	require.Equal(t, domain.StatusProcessing, p.Status)
	require.NotNil(t, p.CurrentAttemptID)

	store.failOutbox = false
	require.NoError(t, svc.HandleCallback(context.Background(), successCallback(store, res.PaymentID)))
	require.Equal(t, domain.StatusPaid, store.payments[res.PaymentID].Status)
}

func paidPayment(t *testing.T, store *memStore, gw *fakeGateway, svc *application.Service, amount int64) uuid.UUID {
	t.Helper()
	gw.initRes = application.InitResult{Success: true, Token: "tok-1"}
	res, err := svc.StartPaymentForOrder(context.Background(), orderEvent(amount))
	require.NoError(t, err)
	require.NoError(t, svc.HandleCallback(context.Background(), successCallback(store, res.PaymentID)))
	return res.PaymentID
}

func TestProcessRefund_PartialThenCapEnforced(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{refundRes: application.RefundResult{Success: true, RefundID: "iade-1"}}
	svc := newTestService(store, gw)
	paymentID := paidPayment(t, store, gw, svc, 10_000)

	r, err := svc.ProcessRefund(context.Background(), paymentID, 4_000, "damaged item")
	require.NoError(t, err)
	require.Equal(t, domain.RefundStatusCompleted, r.Status)
	require.Equal(t, domain.StatusPaid, store.payments[paymentID].Status)
	require.Len(t, store.outboxOfType(domain.EventRefundCompleted), 1)

	_, err = svc.ProcessRefund(context.Background(), paymentID, 7_000, "")
	require.ErrorIs(t, err, application.ErrExceedsRefundable)
	require.Len(t, store.refunds, 1) // no refund row for the rejected request
}

func TestProcessRefund_FullRefundTransitionsPayment(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{refundRes: application.RefundResult{Success: true}}
	svc := newTestService(store, gw)
	paymentID := paidPayment(t, store, gw, svc, 10_000)

	_, err := svc.ProcessRefund(context.Background(), paymentID, 4_000, "")
	require.NoError(t, err)
	_, err = svc.ProcessRefund(context.Background(), paymentID, 6_000, "")
	require.NoError(t, err)

	require.Equal(t, domain.StatusRefunded, store.payments[paymentID].Status)

	_, err = svc.ProcessRefund(context.Background(), paymentID, 1, "")
	require.ErrorIs(t, err, application.ErrNotRefundable)
}

func TestProcessRefund_GatewayFailure(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{refundRes: application.RefundResult{Error: "iade reddedildi"}}
	svc := newTestService(store, gw)
	paymentID := paidPayment(t, store, gw, svc, 10_000)

	r, err := svc.ProcessRefund(context.Background(), paymentID, 4_000, "")
	require.ErrorIs(t, err, application.ErrGateway)
	require.Equal(t, domain.RefundStatusFailed, r.Status)
	require.Equal(t, domain.StatusPaid, store.payments[paymentID].Status)
	require.Len(t, store.outboxOfType(domain.EventRefundFailed), 1)
}

func TestProcessRefund_Preconditions(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})

	_, err := svc.ProcessRefund(context.Background(), uuid.New(), 0, "")
	require.ErrorIs(t, err, application.ErrValidation)

	_, err = svc.ProcessRefund(context.Background(), uuid.New(), 100, "")
	require.ErrorIs(t, err, application.ErrNotFound)
}
