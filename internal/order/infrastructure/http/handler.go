package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomflow/payment-platform/internal/order/application"
	"github.com/ecomflow/payment-platform/internal/order/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)

	return r
}

type createOrderReq struct {
	UserID      uuid.UUID   `json:"userId"`
	UserEmail   string      `json:"userEmail"`
	UserName    string      `json:"userName"`
	UserPhone   string      `json:"userPhone"`
	UserAddress string      `json:"userAddress"`
	Currency    string      `json:"currency"`
	Items       []orderItem `json:"items"`
}

type orderItem struct {
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	UnitPrice   int64     `json:"unitPrice"`
	Quantity    int       `json:"quantity"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	lines := make([]domain.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, domain.Line{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	o, err := h.service.CreateOrder(ctx, application.CreateOrderInput{
		UserID:      req.UserID,
		UserEmail:   req.UserEmail,
		UserName:    req.UserName,
		UserPhone:   req.UserPhone,
		UserAddress: req.UserAddress,
		UserIP:      clientIP(r),
		Currency:    req.Currency,
		Items:       lines,
	})
	switch {
	case err == nil:
		// Accepted, not created: payment starts asynchronously once the
		// OrderCreated event ships.
		writeJSON(w, http.StatusAccepted, orderResponseFrom(o))
	case errors.Is(err, application.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("create order failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.service.GetOrder(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, orderResponseFrom(o))
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		h.log.Error("get order failed", "order_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// clientIP prefers the left-most X-Forwarded-For hop; the payment provider
// requires the buyer's address, not the proxy's.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type orderResponse struct {
	OrderID        uuid.UUID   `json:"orderId"`
	Status         string      `json:"status"`
	Currency       string      `json:"currency"`
	TotalAmount    int64       `json:"totalAmount"`
	PaymentID      *uuid.UUID  `json:"paymentId,omitempty"`
	PaymentFailure string      `json:"paymentFailure,omitempty"`
	RefundedAmount int64       `json:"refundedAmount"`
	Items          []orderItem `json:"items"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func orderResponseFrom(o domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:        o.ID,
		Status:         string(o.Status),
		Currency:       o.Currency,
		TotalAmount:    o.TotalAmount,
		PaymentFailure: o.PaymentFailure,
		RefundedAmount: o.RefundedAmount,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.PaymentID.Valid {
		id := o.PaymentID.UUID
		resp.PaymentID = &id
	}
	for _, l := range o.Items {
		resp.Items = append(resp.Items, orderItem{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
