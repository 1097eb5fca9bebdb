package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecomflow/payment-platform/internal/payment/domain"
	"github.com/ecomflow/payment-platform/pkg/outbox"
)

// Service orchestrates the payment saga. Every operation is one database
// transaction spanning the state machine, the record store and the outbox.
type Service struct {
	log     *slog.Logger
	store   Store
	gateway Gateway
}

func NewService(log *slog.Logger, store Store, gateway Gateway) *Service {
	return &Service{log: log, store: store, gateway: gateway}
}

// StartResult is the outcome of StartPaymentForOrder. For a payment waiting
// on its provider callback, IframeURL carries the customer redirect.
type StartResult struct {
	PaymentID uuid.UUID
	Status    domain.Status
	IframeURL string
}

// StartPaymentForOrder begins (or idempotently resumes) the saga for an
// order-created event. A payment already in a final state returns its
// outcome without touching the gateway; a payment with an in-flight attempt
// returns the existing redirect without a second gateway call.
func (s *Service) StartPaymentForOrder(ctx context.Context, ev domain.OrderCreated) (StartResult, error) {
	if ev.TotalAmount <= 0 {
		return StartResult{}, fmt.Errorf("%w: total amount must be positive", ErrValidation)
	}

	var (
		result StartResult
		bizErr error
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		p, err := tx.LockPaymentByOrderID(ctx, ev.OrderID)
		switch {
		case errors.Is(err, ErrNotFound):
			p = domain.NewPayment(ev.OrderID, ev.UserID, ev.TotalAmount, ev.Currency)
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if p.IsFinal() {
			s.log.Info("payment already in final state, skipping",
				"order_id", ev.OrderID, "payment_id", p.ID, "status", p.Status)
			result = StartResult{PaymentID: p.ID, Status: p.Status}
			return nil
		}

		if p.CurrentAttemptID != nil {
			a, err := tx.GetAttempt(ctx, *p.CurrentAttemptID)
			if err != nil {
				return err
			}
			if a.Status == domain.AttemptWaitingCallback {
				s.log.Info("payment attempt already in flight, returning existing redirect",
					"order_id", ev.OrderID, "payment_id", p.ID, "attempt_id", a.ID)
				result = StartResult{PaymentID: p.ID, Status: p.Status, IframeURL: s.gateway.PaymentPageURL(a.ProviderRef)}
				return nil
			}
		}

		if p.CanProcess() {
			if err := p.MarkProcessing(); err != nil {
				return err
			}
		}

		req := InitRequest{
			MerchantOID: p.MerchantOID(),
			UserIP:      ev.UserIP,
			UserEmail:   ev.UserEmail,
			UserName:    ev.UserName,
			UserPhone:   ev.UserPhone,
			UserAddress: ev.UserAddress,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Basket:      basketFromItems(ev.Items),
		}
		reqPayload, err := json.Marshal(req)
		if err != nil {
			return err
		}

		attempt := domain.NewAttempt(p.ID, s.gateway.Name(), reqPayload)
		if err := tx.InsertAttempt(ctx, attempt); err != nil {
			return err
		}

		res, gwErr := s.gateway.InitPayment(ctx, req)
		if gwErr != nil {
			if ctx.Err() != nil {
				return gwErr
			}
			res = InitResult{Error: gwErr.Error()}
		}

		if res.Success {
			if err := attempt.MarkWaitingCallback(res.Token, res.Raw); err != nil {
				return err
			}
			if err := p.AttachAttempt(attempt.ID); err != nil {
				return err
			}
			if err := tx.UpdateAttempt(ctx, attempt); err != nil {
				return err
			}
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			s.log.Info("payment initiated", "order_id", ev.OrderID, "payment_id", p.ID, "attempt_id", attempt.ID)
			result = StartResult{PaymentID: p.ID, Status: p.Status, IframeURL: s.gateway.PaymentPageURL(res.Token)}
			return nil
		}

		reason := res.Error
		if reason == "" {
			reason = "payment initialization failed"
		}
		if err := attempt.MarkFailed(reason, res.Raw); err != nil {
			return err
		}
		if err := p.MarkFailed(reason); err != nil {
			return err
		}
		if err := tx.UpdateAttempt(ctx, attempt); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := s.enqueuePaymentFailed(ctx, tx, p, "INIT_FAILED", reason, ev.CorrelationID); err != nil {
			return err
		}

		s.log.Warn("payment initialization failed", "order_id", ev.OrderID, "payment_id", p.ID, "err", reason)
		result = StartResult{PaymentID: p.ID, Status: p.Status}
		bizErr = fmt.Errorf("%w: %s", ErrGateway, reason)
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	return result, bizErr
}

// HandleCallback applies a verified provider webhook. Duplicate deliveries
// for a payment already in a final state are accepted and discarded.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	paymentID, err := domain.ParseMerchantOID(cb.MerchantOID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		p, err := tx.LockPaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}

		if p.IsFinal() {
			s.log.Info("callback for finalized payment discarded",
				"payment_id", p.ID, "status", p.Status, "callback_status", cb.Status)
			return nil
		}

		if p.CurrentAttemptID == nil {
			s.log.Warn("callback without in-flight attempt discarded", "payment_id", p.ID)
			return nil
		}
		attempt, err := tx.GetAttempt(ctx, *p.CurrentAttemptID)
		if err != nil {
			return err
		}

		if cb.Status == "success" {
			if err := attempt.MarkSuccess(cb.Raw); err != nil {
				return err
			}
			providerRef := attempt.ProviderRef
			if providerRef == "" {
				providerRef = cb.MerchantOID
			}
			if err := p.MarkPaid(providerRef); err != nil {
				return err
			}
			p.DetachAttempt()

			if err := tx.UpdateAttempt(ctx, attempt); err != nil {
				return err
			}
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}

			ev := domain.PaymentSucceeded{
				OrderID:     p.OrderID,
				PaymentID:   p.ID,
				ProviderRef: providerRef,
				PaidAmount:  p.Amount,
				Currency:    p.Currency,
				PaidAt:      time.Now().UTC(),
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if err := tx.AddOutboxMessage(ctx, outbox.NewMessage(domain.EventPaymentSucceeded, payload, "")); err != nil {
				return err
			}
			s.log.Info("payment succeeded", "payment_id", p.ID, "order_id", p.OrderID)
			return nil
		}

		reason := cb.FailedReasonMsg
		if reason == "" {
			reason = cb.FailedReasonCode
		}
		if reason == "" {
			reason = "payment failed"
		}
		if err := attempt.MarkFailed(reason, cb.Raw); err != nil {
			return err
		}
		if err := p.MarkFailed(reason); err != nil {
			return err
		}
		p.DetachAttempt()

		if err := tx.UpdateAttempt(ctx, attempt); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}

		code := cb.FailedReasonCode
		if code == "" {
			code = "UNKNOWN"
		}
		if err := s.enqueuePaymentFailed(ctx, tx, p, code, reason, ""); err != nil {
			return err
		}
		s.log.Warn("payment failed", "payment_id", p.ID, "order_id", p.OrderID, "err", reason)
		return nil
	})
}

// ProcessRefund refunds part or all of a paid payment. The refundable
// balance check runs under the payment row lock, so concurrent refunds
// cannot jointly exceed the payment amount.
func (s *Service) ProcessRefund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (domain.Refund, error) {
	if amount <= 0 {
		return domain.Refund{}, fmt.Errorf("%w: refund amount must be positive", ErrValidation)
	}

	var (
		refund domain.Refund
		bizErr error
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		p, err := tx.LockPaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != domain.StatusPaid {
			return fmt.Errorf("%w: status %s", ErrNotRefundable, p.Status)
		}

		refunded, err := tx.SumCompletedRefunds(ctx, p.ID)
		if err != nil {
			return err
		}
		if amount > p.Amount-refunded {
			return fmt.Errorf("%w: requested %d, refundable %d", ErrExceedsRefundable, amount, p.Amount-refunded)
		}

		r := domain.NewRefund(p.ID, amount, p.Currency, reason)
		if err := r.MarkProcessing(); err != nil {
			return err
		}
		if err := tx.InsertRefund(ctx, r); err != nil {
			return err
		}

		res, gwErr := s.gateway.Refund(ctx, RefundRequest{
			MerchantOID: p.MerchantOID(),
			Amount:      amount,
			ReferenceNo: r.ID.String(),
		})
		if gwErr != nil {
			if ctx.Err() != nil {
				return gwErr
			}
			res = RefundResult{Error: gwErr.Error()}
		}

		if res.Success {
			providerRef := res.RefundID
			if providerRef == "" {
				providerRef = r.ID.String()
			}
			if err := r.MarkCompleted(providerRef); err != nil {
				return err
			}
			if refunded+amount >= p.Amount {
				if err := p.MarkRefunded(); err != nil {
					return err
				}
				if err := tx.UpdatePayment(ctx, p); err != nil {
					return err
				}
			}
			if err := tx.UpdateRefund(ctx, r); err != nil {
				return err
			}

			ev := domain.RefundCompleted{
				OrderID:      p.OrderID,
				PaymentID:    p.ID,
				RefundID:     r.ID,
				RefundAmount: amount,
				Currency:     p.Currency,
				Reason:       reason,
				RefundedAt:   time.Now().UTC(),
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if err := tx.AddOutboxMessage(ctx, outbox.NewMessage(domain.EventRefundCompleted, payload, "")); err != nil {
				return err
			}
			s.log.Info("refund completed", "payment_id", p.ID, "refund_id", r.ID, "amount", amount)
			refund = r
			return nil
		}

		errMsg := res.Error
		if errMsg == "" {
			errMsg = "refund processing failed"
		}
		if err := r.MarkFailed(errMsg); err != nil {
			return err
		}
		if err := tx.UpdateRefund(ctx, r); err != nil {
			return err
		}

		ev := domain.RefundFailed{
			OrderID:       p.OrderID,
			PaymentID:     p.ID,
			RefundID:      r.ID,
			RefundAmount:  amount,
			ReasonCode:    "REFUND_FAILED",
			ReasonMessage: errMsg,
			FailedAt:      time.Now().UTC(),
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := tx.AddOutboxMessage(ctx, outbox.NewMessage(domain.EventRefundFailed, payload, "")); err != nil {
			return err
		}
		s.log.Warn("refund failed", "payment_id", p.ID, "refund_id", r.ID, "err", errMsg)
		refund = r
		bizErr = fmt.Errorf("%w: %s", ErrGateway, errMsg)
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}
	return refund, bizErr
}

func (s *Service) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	return s.store.GetPaymentByOrderID(ctx, orderID)
}

func (s *Service) ListRefundsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error) {
	return s.store.ListRefundsByPaymentID(ctx, paymentID)
}

func (s *Service) GetRefundByID(ctx context.Context, refundID uuid.UUID) (domain.Refund, error) {
	return s.store.GetRefundByID(ctx, refundID)
}

func (s *Service) enqueuePaymentFailed(ctx context.Context, tx TxStore, p domain.Payment, code, msg, correlationID string) error {
	ev := domain.PaymentFailed{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		ReasonCode:    code,
		ReasonMessage: msg,
		FailedAt:      time.Now().UTC(),
		CorrelationID: correlationID,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return tx.AddOutboxMessage(ctx, outbox.NewMessage(domain.EventPaymentFailed, payload, correlationID))
}

func basketFromItems(items []domain.OrderItem) []BasketItem {
	basket := make([]BasketItem, 0, len(items))
	for _, it := range items {
		basket = append(basket, BasketItem{Name: it.ProductName, Price: it.UnitPrice, Quantity: it.Quantity})
	}
	return basket
}
