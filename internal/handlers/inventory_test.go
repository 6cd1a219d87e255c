package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/services"
)

func TestInventoryHandlers_ReceivePurchase(t *testing.T) {
	received := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	var captured services.ReceivePurchaseCommand
	receipts := &stubReceiptService{
		receiveFn: func(_ context.Context, cmd services.ReceivePurchaseCommand) (services.ReceiptResult, error) {
			captured = cmd
			return services.ReceiptResult{
				PurchaseLine: domain.PurchaseLine{
					ID:         "pl_1", ReceiptID: cmd.ReceiptID, SKU: cmd.SKU, Quantity: cmd.Quantity, AllocatedQuantity: 3,
					UnitPrice:  cmd.UnitPrice, AllocatedShippingCost: cmd.AllocatedShippingCost,
					ReceivedBy: cmd.Actor.ID, ReceivedAt: received,
				},
				StockItem: domain.StockItem{SKU: cmd.SKU, AverageCost: 1350, TotalPurchasedQuantity: 4, TotalCostAmount: 5400},
				Allocation: services.AllocationReport{
					PurchaseLineID: "pl_1",
					SKU:            cmd.SKU,
					AllocatedItems: []services.AllocatedItem{{
						LineItemID:        "li_1", OrderID: "ord_1", Priority: domain.PriorityUrgent, Granted: 3,
						FulfilledQuantity: 3, Quantity: 3, PreviousStatus: domain.FulfillmentPending, Status: domain.FulfillmentFullyFulfilled,
					}},
					TotalAllocated:    3,
					RemainingQuantity: 1,
					AllocationSummary: services.AllocationSummary{TotalCandidates: 2, AllocatedOrdersCount: 1, FullyFulfilledOrdersCount: 1},
				},
			}, nil
		},
	}
	router := newTestRouter(NewInventoryHandlers(receipts, nil, nil).Routes)

	rr, body := serve(t, router, http.MethodPost, "/purchase-receipts",
		`{"receipt_id":" rcpt-1 ","sku":"SKU-1","store_id":"tokyo","quantity":4,"unit_price":"12.50","allocated_shipping_cost_cents":100}`)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, "rcpt-1", captured.ReceiptID)
	require.Equal(t, "tokyo", captured.StoreID)
	require.Equal(t, domain.Money(1250), captured.UnitPrice)
	require.Equal(t, domain.Money(100), captured.AllocatedShippingCost)
	require.Equal(t, domain.Actor{ID: "staff-1", Email: "staff@example.com", Kind: domain.ActorStaff}, captured.Actor)

	line := body["purchase_line"].(map[string]any)
	require.Equal(t, "12.50", line["unit_price_display"])
	require.EqualValues(t, 1250, line["unit_price_cents"])
	require.EqualValues(t, 1350, line["unit_landed_cost_cents"])
	require.EqualValues(t, 3, line["allocated_quantity"])
	require.Equal(t, "2024-05-01T09:00:00Z", line["received_at"])

	stock := body["stock_item"].(map[string]any)
	require.EqualValues(t, 1350, stock["average_cost_cents"])
	require.Equal(t, "13.50", stock["average_cost_display"])

	allocation := body["allocation"].(map[string]any)
	require.EqualValues(t, 3, allocation["total_allocated"])
	require.EqualValues(t, 1, allocation["remaining_quantity"])
	items := allocation["allocated_items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "fully_fulfilled", items[0].(map[string]any)["status"])
	summary := allocation["allocation_summary"].(map[string]any)
	require.EqualValues(t, 2, summary["total_candidates"])
}

func TestInventoryHandlers_ReceivePurchaseRejectsBadInput(t *testing.T) {
	receipts := &stubReceiptService{
		receiveFn: func(context.Context, services.ReceivePurchaseCommand) (services.ReceiptResult, error) {
			t.Fatal("service must not be called")
			return services.ReceiptResult{}, nil
		},
	}
	router := newTestRouter(NewInventoryHandlers(receipts, nil, nil).Routes)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{name: "missing unit price", body: `{"receipt_id":"r","sku":"S","quantity":1}`, field: "unit_price"},
		{name: "malformed display amount", body: `{"receipt_id":"r","sku":"S","quantity":1,"unit_price":"abc"}`, field: "unit_price"},
		{name: "forms disagree", body: `{"receipt_id":"r","sku":"S","quantity":1,"unit_price":"1.00","unit_price_cents":99}`, field: "unit_price"},
		{name: "unknown field", body: `{"receipt_id":"r","unit_cost":1}`},
		{name: "empty body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := serve(t, router, http.MethodPost, "/purchase-receipts", tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.Equal(t, "invalid_request", body["error"])
			if tc.field != "" {
				require.Equal(t, tc.field, body["field"])
			}
		})
	}
}

func TestInventoryHandlers_ReceivePurchaseServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "duplicate receipt",
			err:    &services.ValidationError{Field: "receipt_id", Reason: "has already been received for this sku", Err: services.ErrDuplicateReceipt},
			status: http.StatusBadRequest,
			code:   "duplicate_receipt",
		},
		{name: "no actor", err: &services.UnauthenticatedError{Operation: "receive purchase"}, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "store unavailable", err: services.ErrUnavailable, status: http.StatusServiceUnavailable, code: "service_unavailable"},
		{name: "conflict", err: services.ErrConflict, status: http.StatusConflict, code: "conflict"},
		{name: "unexpected", err: context.Canceled, status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			receipts := &stubReceiptService{
				receiveFn: func(context.Context, services.ReceivePurchaseCommand) (services.ReceiptResult, error) {
					return services.ReceiptResult{}, tc.err
				},
			}
			router := newTestRouter(NewInventoryHandlers(receipts, nil, nil).Routes)
			rr, body := serve(t, router, http.MethodPost, "/purchase-receipts", `{"receipt_id":"r","sku":"S","quantity":1,"unit_price_cents":100}`)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.code, body["error"])
		})
	}
}

func TestInventoryHandlers_Allocate(t *testing.T) {
	report := services.AllocationReport{PurchaseLineID: "pl_9", SKU: "SKU-1", RemainingQuantity: 5}

	t.Run("default filter uses the alias entry point", func(t *testing.T) {
		var gotID string
		allocator := &stubAllocator{
			defaultFn: func(_ context.Context, purchaseLineID string, actor services.Actor) (services.AllocationReport, error) {
				gotID = purchaseLineID
				require.Equal(t, "staff-1", actor.ID)
				return report, nil
			},
		}
		router := newTestRouter(NewInventoryHandlers(nil, allocator, nil).Routes)
		rr, body := serve(t, router, http.MethodPost, "/purchase-lines/pl_9/allocations", "")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.Equal(t, "pl_9", gotID)
		require.EqualValues(t, 5, body["remaining_quantity"])
		require.Empty(t, body["allocated_items"])
	})

	t.Run("store filter", func(t *testing.T) {
		var got services.AllocateCommand
		allocator := &stubAllocator{
			allocateFn: func(_ context.Context, cmd services.AllocateCommand) (services.AllocationReport, error) {
				got = cmd
				return report, nil
			},
		}
		router := newTestRouter(NewInventoryHandlers(nil, allocator, nil).Routes)
		rr, _ := serve(t, router, http.MethodPost, "/purchase-lines/pl_9/allocations", `{"store_id":"osaka"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "pl_9", got.PurchaseLineID)
		require.Equal(t, "osaka", got.Filter.StoreID)
	})

	t.Run("unknown purchase line", func(t *testing.T) {
		allocator := &stubAllocator{
			defaultFn: func(context.Context, string, services.Actor) (services.AllocationReport, error) {
				return services.AllocationReport{}, &services.NotFoundError{Entity: "purchase line", ID: "pl_x"}
			},
		}
		router := newTestRouter(NewInventoryHandlers(nil, allocator, nil).Routes)
		rr, body := serve(t, router, http.MethodPost, "/purchase-lines/pl_x/allocations", "")
		require.Equal(t, http.StatusNotFound, rr.Code)
		require.Equal(t, "purchase line", body["entity"])
		require.Equal(t, "pl_x", body["id"])
	})
}

func TestInventoryHandlers_GetStockItemLocalised(t *testing.T) {
	ledger := &stubCostLedger{
		getFn: func(_ context.Context, sku string) (services.StockItem, error) {
			if sku != "SKU-1" {
				return services.StockItem{}, &services.NotFoundError{Entity: "stock item", ID: sku}
			}
			return services.StockItem{SKU: sku, AverageCost: 123456, TotalPurchasedQuantity: 10, TotalCostAmount: 1234560}, nil
		},
	}
	router := newTestRouter(NewInventoryHandlers(nil, nil, ledger, WithInventoryLocalizer(NewLocalizer(language.English))).Routes)

	rr, body := serve(t, router, http.MethodGet, "/stock-items/SKU-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "1,234.56", body["average_cost_display"])
	require.Equal(t, "12,345.60", body["total_cost_amount_display"])

	rr, body = serve(t, router, http.MethodGet, "/stock-items/SKU-1", "", "Accept-Language", "de-DE,de;q=0.9")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEqual(t, "1,234.56", body["average_cost_display"])
	require.EqualValues(t, 123456, body["average_cost_cents"])

	rr, _ = serve(t, router, http.MethodGet, "/stock-items/SKU-404", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInventoryHandlers_NilServices(t *testing.T) {
	router := newTestRouter(NewInventoryHandlers(nil, nil, nil).Routes)
	rr, body := serve(t, router, http.MethodGet, "/stock-items/SKU-1", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "cost_ledger_unavailable", body["error"])
}
