package di

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/handlers"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Store: config.StoreConfig{Driver: config.StoreDriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "fulfillment.db")},
		Idempotency: config.IdempotencyConfig{
			Backend:          config.IdempotencyBackendMemory,
			Header:           "Idempotency-Key",
			TTL:              time.Hour,
			CleanupInterval:  time.Hour,
			CleanupBatchSize: 10,
		},
		Security:   config.SecurityConfig{Environment: "test"},
		Allocation: config.AllocationConfig{DefaultStoreID: "tokyo"},
		Locale:     config.LocaleConfig{Default: "en"},
		RateLimit:  config.RateLimitConfig{BatchTransitions: 5, Window: time.Minute},
	}
}

func staffOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := &auth.Identity{UID: "staff-1", Email: "staff@example.com", Roles: []string{auth.RoleStaff}}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func call(t *testing.T, h http.Handler, method, target, body, key string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded), rr.Body.String())
	}
	return rr.Code, decoded
}

func TestContainerServesFulfillmentFlow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	c, err := NewContainer(ctx, testConfig(t), zaptest.NewLogger(t),
		WithStaffAuthenticator(staffOnly),
		WithClock(func() time.Time { return now }),
		WithBuildInfo(handlers.BuildInfo{Version: "test", StartedAt: now}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close(context.Background())) })
	c.Start(ctx)

	reg := c.Repositories
	require.NoError(t, reg.Orders().Insert(ctx, domain.Order{
		ID:             "ord_1", StoreID: "tokyo", GrandTotal: 1000, PaymentStatus: domain.PaymentPending,
		ShippingStatus: domain.ShippingPending, FulfillmentPriority: domain.PriorityHigh, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, reg.LineItems().Insert(ctx, domain.OrderLineItem{
		ID:                "li_1", OrderID: "ord_1", StoreID: "tokyo", SKU: "SKU-1", Quantity: 2, IsBackorder: true,
		FulfillmentStatus: domain.FulfillmentPending, CreatedAt: now, UpdatedAt: now,
	}))

	receipt := `{"receipt_id":"rcpt-1","sku":"SKU-1","quantity":3,"unit_price_cents":500}`
	status, body := call(t, c.Router, http.MethodPost, "/api/v1/purchase-receipts", receipt, "key-1")
	require.Equal(t, http.StatusCreated, status, body)
	allocation := body["allocation"].(map[string]any)
	require.EqualValues(t, 2, allocation["total_allocated"])
	require.EqualValues(t, 1, allocation["remaining_quantity"])

	replayStatus, replay := call(t, c.Router, http.MethodPost, "/api/v1/purchase-receipts", receipt, "key-1")
	require.Equal(t, status, replayStatus)
	require.Equal(t, body, replay)

	status, body = call(t, c.Router, http.MethodGet, "/api/v1/stock-items/SKU-1", "", "")
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 3, body["total_purchased_quantity"])

	status, body = call(t, c.Router, http.MethodPost, "/api/v1/orders/ord_1/payments", `{"amount":"4.00","method":"cash"}`, "key-2")
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "partial", body["order"].(map[string]any)["payment_status"])

	status, body = call(t, c.Router, http.MethodGet, "/api/v1/orders/ord_1/history?status_type=payment", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["items"], 1)

	status, body = call(t, c.Router, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, status, body)
	require.Contains(t, body["checks"], config.StoreDriverSQLite)
}

func TestContainerInternalRoutesRequireServiceIdentity(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, testConfig(t), zaptest.NewLogger(t), WithStaffAuthenticator(staffOnly))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	status, body := call(t, c.Router, http.MethodPost, "/internal/purchase-receipts",
		`{"receipt_id":"rcpt-1","sku":"SKU-1","quantity":1,"unit_price_cents":100}`, "key-1")
	require.Equal(t, http.StatusUnauthorized, status, body)
}

func TestNewContainerRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"
	_, err := NewContainer(context.Background(), cfg, nil, WithStaffAuthenticator(staffOnly))
	require.ErrorContains(t, err, "unknown store driver")
}
