package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomflow/payment-platform/internal/payment/application"
	"github.com/ecomflow/payment-platform/internal/payment/domain"
)

// SagaService is the slice of the application service the HTTP surface
// needs.
type SagaService interface {
	HandleCallback(ctx context.Context, cb application.Callback) error
	ProcessRefund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (domain.Refund, error)
	GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (domain.Payment, error)
	ListRefundsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error)
	GetRefundByID(ctx context.Context, refundID uuid.UUID) (domain.Refund, error)
}

type CallbackVerifier interface {
	VerifyCallback(cb application.Callback) bool
}

type Handler struct {
	log      *slog.Logger
	service  SagaService
	verifier CallbackVerifier
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service SagaService, verifier CallbackVerifier) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		verifier: verifier,
		tracer:   otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payments/callback", h.callback)
	r.Post("/payments/refund", h.refund)
	r.Get("/payments/refund/{refundId}", h.getRefund)
	r.Get("/payments/{orderId}", h.getPaymentByOrder)
	r.Get("/payments/{paymentId}/refunds", h.listRefunds)

	return r
}

// callback is the provider webhook. The provider's retry-suppression
// contract requires the literal body "OK" regardless of outcome; every
// failure is handled internally and never surfaced in the response.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PaymentCallback")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		h.log.Warn("callback form parse failed", "err", err)
		writeOK(w)
		return
	}

	cb := application.Callback{
		MerchantOID:      r.PostForm.Get("merchant_oid"),
		Status:           r.PostForm.Get("status"),
		TotalAmount:      r.PostForm.Get("total_amount"),
		Hash:             r.PostForm.Get("hash"),
		FailedReasonCode: r.PostForm.Get("failed_reason_code"),
		FailedReasonMsg:  r.PostForm.Get("failed_reason_msg"),
		Raw:              []byte(r.PostForm.Encode()),
	}

	// Hash verification is the authorization boundary for the whole
	// webhook path: an unauthenticated callback is acknowledged but never
	// reaches the state-changing saga.
	if !h.verifier.VerifyCallback(cb) {
		h.log.Warn("callback hash verification failed", "merchant_oid", cb.MerchantOID)
		writeOK(w)
		return
	}

	if err := h.service.HandleCallback(ctx, cb); err != nil {
		switch {
		case errors.Is(err, application.ErrMalformedReference):
			h.log.Warn("callback reference not parseable", "merchant_oid", cb.MerchantOID)
		case errors.Is(err, application.ErrNotFound):
			h.log.Warn("callback for unknown payment ignored", "merchant_oid", cb.MerchantOID)
		default:
			h.log.Error("callback processing failed", "merchant_oid", cb.MerchantOID, "err", err)
		}
	}
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

type refundRequest struct {
	PaymentID uuid.UUID `json:"paymentId"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ProcessRefund")
	defer span.End()

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	refund, err := h.service.ProcessRefund(ctx, req.PaymentID, req.Amount, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, refundResponseFrom(refund))
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, application.ErrNotRefundable),
		errors.Is(err, application.ErrExceedsRefundable),
		errors.Is(err, application.ErrValidation),
		errors.Is(err, application.ErrGateway):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("refund failed", "payment_id", req.PaymentID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) getPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	p, err := h.service.GetPaymentByOrderID(r.Context(), orderID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, paymentResponseFrom(p))
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	default:
		h.log.Error("get payment failed", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	refunds, err := h.service.ListRefundsByPaymentID(r.Context(), paymentID)
	if err != nil {
		h.log.Error("list refunds failed", "payment_id", paymentID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]refundResponse, 0, len(refunds))
	for _, ref := range refunds {
		out = append(out, refundResponseFrom(ref))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getRefund(w http.ResponseWriter, r *http.Request) {
	refundID, err := uuid.Parse(chi.URLParam(r, "refundId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid refund id")
		return
	}

	ref, err := h.service.GetRefundByID(r.Context(), refundID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, refundResponseFrom(ref))
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "refund not found")
	default:
		h.log.Error("get refund failed", "refund_id", refundID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type paymentResponse struct {
	PaymentID     uuid.UUID `json:"paymentId"`
	OrderID       uuid.UUID `json:"orderId"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	ProviderRef   string    `json:"providerRef,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func paymentResponseFrom(p domain.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        string(p.Status),
		ProviderRef:   p.ProviderRef,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type refundResponse struct {
	RefundID      uuid.UUID  `json:"refundId"`
	PaymentID     uuid.UUID  `json:"paymentId"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	ProviderRef   string     `json:"providerRef,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func refundResponseFrom(r domain.Refund) refundResponse {
	return refundResponse{
		RefundID:      r.ID,
		PaymentID:     r.PaymentID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        string(r.Status),
		Reason:        r.Reason,
		ProviderRef:   r.ProviderRef,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
