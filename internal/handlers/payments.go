package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

type addPaymentRequest struct {
	AmountCents *int64 `json:"amount_cents"`
	Amount      string `json:"amount"`
	Method      string `json:"method"`
	Reference   string `json:"reference"`
	Note        string `json:"note"`
}

// PaymentHandlers exposes the partial payment ledger of an order.
type PaymentHandlers struct {
	ledger services.PaymentLedger
	locale *Localizer
	guard  func(http.Handler) http.Handler
}

// PaymentOption customises PaymentHandlers.
type PaymentOption func(*PaymentHandlers)

// WithPaymentLocalizer sets how *_display amounts are localised.
func WithPaymentLocalizer(l *Localizer) PaymentOption {
	return func(h *PaymentHandlers) {
		if l != nil {
			h.locale = l
		}
	}
}

// WithPaymentIdempotency guards payment creation with an idempotency middleware.
func WithPaymentIdempotency(mw func(http.Handler) http.Handler) PaymentOption {
	return func(h *PaymentHandlers) {
		h.guard = mw
	}
}

// NewPaymentHandlers constructs PaymentHandlers.
func NewPaymentHandlers(ledger services.PaymentLedger, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{ledger: ledger}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders/{orderID}/payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(middlewares(h.guard)...).Post("/orders/{orderID}/payments", h.addPayment)
	r.Get("/orders/{orderID}/payments", h.listPayments)
}

func (h *PaymentHandlers) addPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment ledger unavailable", http.StatusServiceUnavailable))
		return
	}

	var req addPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	amount, err := amountInput{Cents: req.AmountCents, Display: req.Amount}.resolve("amount", true)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	actor, _ := auth.ActorFromContext(ctx)
	result, err := h.ledger.AddPartialPayment(ctx, services.AddPaymentCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		Amount:    amount,
		Method:    domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Reference: strings.TrimSpace(req.Reference),
		Note:      req.Note,
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	tag := h.locale.Tag(r)
	httpx.WriteJSON(w, http.StatusCreated, paymentResponse{
		Order:          buildOrderPayload(result.Order, tag),
		Payment:        buildPaymentRecordPayload(result.Record, tag),
		PaymentCount:   result.PaymentCount,
		PreviousStatus: string(result.PreviousStatus),
	})
}

func (h *PaymentHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment ledger unavailable", http.StatusServiceUnavailable))
		return
	}

	records, err := h.ledger.ListPayments(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	tag := h.locale.Tag(r)
	items := make([]paymentRecordPayload, 0, len(records))
	for _, record := range records {
		items = append(items, buildPaymentRecordPayload(record, tag))
	}
	httpx.WriteJSON(w, http.StatusOK, paymentListResponse{Items: items})
}
