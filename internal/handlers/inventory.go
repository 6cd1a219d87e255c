package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

type purchaseReceiptRequest struct {
	ReceiptID                  string `json:"receipt_id"`
	SKU                        string `json:"sku"`
	StoreID                    string `json:"store_id"`
	Supplier                   string `json:"supplier"`
	Quantity                   int64  `json:"quantity"`
	UnitPriceCents             *int64 `json:"unit_price_cents"`
	UnitPrice                  string `json:"unit_price"`
	AllocatedShippingCostCents *int64 `json:"allocated_shipping_cost_cents"`
	AllocatedShippingCost      string `json:"allocated_shipping_cost"`
}

type allocationRequest struct {
	StoreID string `json:"store_id"`
}

// InventoryHandlers exposes purchase receipts, backorder allocation and SKU cost basis.
type InventoryHandlers struct {
	receipts  services.PurchaseReceiptService
	allocator services.BackorderAllocator
	ledger    services.CostLedger
	locale    *Localizer
	guard     func(http.Handler) http.Handler
}

// InventoryOption customises InventoryHandlers.
type InventoryOption func(*InventoryHandlers)

// WithInventoryLocalizer sets how *_display amounts are localised.
func WithInventoryLocalizer(l *Localizer) InventoryOption {
	return func(h *InventoryHandlers) {
		if l != nil {
			h.locale = l
		}
	}
}

// WithInventoryIdempotency guards receipt creation with an idempotency middleware.
func WithInventoryIdempotency(mw func(http.Handler) http.Handler) InventoryOption {
	return func(h *InventoryHandlers) {
		h.guard = mw
	}
}

// NewInventoryHandlers constructs InventoryHandlers.
func NewInventoryHandlers(receipts services.PurchaseReceiptService, allocator services.BackorderAllocator, ledger services.CostLedger, opts ...InventoryOption) *InventoryHandlers {
	h := &InventoryHandlers{
		receipts:  receipts,
		allocator: allocator,
		ledger:    ledger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the staff-facing inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(middlewares(h.guard)...).Post("/purchase-receipts", h.receivePurchase)
	r.Post("/purchase-lines/{purchaseLineID}/allocations", h.allocate)
	r.Get("/stock-items/{sku}", h.getStockItem)
}

// InternalRoutes registers the service-to-service receipt endpoint.
func (h *InventoryHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(middlewares(h.guard)...).Post("/purchase-receipts", h.receivePurchase)
}

func (h *InventoryHandlers) receivePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.receipts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_service_unavailable", "purchase receipt service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req purchaseReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	unitPrice, err := amountInput{Cents: req.UnitPriceCents, Display: req.UnitPrice}.resolve("unit_price", true)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	shipping, err := amountInput{Cents: req.AllocatedShippingCostCents, Display: req.AllocatedShippingCost}.resolve("allocated_shipping_cost", false)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	actor, _ := auth.ActorFromContext(ctx)
	result, err := h.receipts.ReceivePurchase(ctx, services.ReceivePurchaseCommand{
		ReceiptID:             strings.TrimSpace(req.ReceiptID),
		SKU:                   strings.TrimSpace(req.SKU),
		StoreID:               strings.TrimSpace(req.StoreID),
		Supplier:              strings.TrimSpace(req.Supplier),
		Quantity:              req.Quantity,
		UnitPrice:             unitPrice,
		AllocatedShippingCost: shipping,
		Actor:                 actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	tag := h.locale.Tag(r)
	httpx.WriteJSON(w, http.StatusCreated, receiptResponse{
		PurchaseLine: buildPurchaseLinePayload(result.PurchaseLine, tag),
		StockItem:    buildStockItemPayload(result.StockItem, tag),
		Allocation:   buildAllocationReportPayload(result.Allocation),
	})
}

func (h *InventoryHandlers) allocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.allocator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("allocation_service_unavailable", "allocation service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req allocationRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	}

	purchaseLineID := strings.TrimSpace(chi.URLParam(r, "purchaseLineID"))
	actor, _ := auth.ActorFromContext(ctx)

	var (
		report services.AllocationReport
		err    error
	)
	if storeID := strings.TrimSpace(req.StoreID); storeID != "" {
		report, err = h.allocator.AllocateToBackorders(ctx, services.AllocateCommand{
			PurchaseLineID: purchaseLineID,
			Filter:         services.AllocationFilter{StoreID: storeID},
			Actor:          actor,
		})
	} else {
		report, err = h.allocator.AllocateBackorders(ctx, purchaseLineID, actor)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAllocationReportPayload(report))
}

func (h *InventoryHandlers) getStockItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cost_ledger_unavailable", "cost ledger unavailable", http.StatusServiceUnavailable))
		return
	}

	item, err := h.ledger.GetStockItem(ctx, strings.TrimSpace(chi.URLParam(r, "sku")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStockItemPayload(item, h.locale.Tag(r)))
}

func middlewares(mw ...func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
