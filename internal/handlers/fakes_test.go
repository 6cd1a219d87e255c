package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/services"
)

var errStubNotImplemented = errors.New("not implemented")

type stubReceiptService struct {
	receiveFn func(context.Context, services.ReceivePurchaseCommand) (services.ReceiptResult, error)
}

func (s *stubReceiptService) ReceivePurchase(ctx context.Context, cmd services.ReceivePurchaseCommand) (services.ReceiptResult, error) {
	if s.receiveFn != nil {
		return s.receiveFn(ctx, cmd)
	}
	return services.ReceiptResult{}, errStubNotImplemented
}

type stubAllocator struct {
	allocateFn func(context.Context, services.AllocateCommand) (services.AllocationReport, error)
	defaultFn  func(context.Context, string, services.Actor) (services.AllocationReport, error)
}

func (s *stubAllocator) AllocateToBackorders(ctx context.Context, cmd services.AllocateCommand) (services.AllocationReport, error) {
	if s.allocateFn != nil {
		return s.allocateFn(ctx, cmd)
	}
	return services.AllocationReport{}, errStubNotImplemented
}

func (s *stubAllocator) AllocateBackorders(ctx context.Context, purchaseLineID string, actor services.Actor) (services.AllocationReport, error) {
	if s.defaultFn != nil {
		return s.defaultFn(ctx, purchaseLineID, actor)
	}
	return services.AllocationReport{}, errStubNotImplemented
}

type stubCostLedger struct {
	getFn func(context.Context, string) (services.StockItem, error)
}

func (s *stubCostLedger) ApplyPurchase(context.Context, services.ApplyPurchaseCommand) (services.StockItem, error) {
	return services.StockItem{}, errStubNotImplemented
}

func (s *stubCostLedger) GetStockItem(ctx context.Context, sku string) (services.StockItem, error) {
	if s.getFn != nil {
		return s.getFn(ctx, sku)
	}
	return services.StockItem{}, errStubNotImplemented
}

type stubPaymentLedger struct {
	addFn  func(context.Context, services.AddPaymentCommand) (services.PaymentResult, error)
	listFn func(context.Context, string) ([]services.PaymentRecord, error)
}

func (s *stubPaymentLedger) AddPartialPayment(ctx context.Context, cmd services.AddPaymentCommand) (services.PaymentResult, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.PaymentResult{}, errStubNotImplemented
}

func (s *stubPaymentLedger) ListPayments(ctx context.Context, orderID string) ([]services.PaymentRecord, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, errStubNotImplemented
}

type stubStatusService struct {
	transitionFn func(context.Context, services.TransitionCommand) (services.TransitionOutcome, error)
	batchFn      func(context.Context, services.BatchTransitionCommand) ([]services.TransitionOutcome, error)
	historyFn    func(context.Context, services.HistoryFilter) (domain.CursorPage[services.StatusHistoryEntry], error)
}

func (s *stubStatusService) RecordTransition(context.Context, services.RecordTransitionCommand) (services.StatusHistoryEntry, error) {
	return services.StatusHistoryEntry{}, errStubNotImplemented
}

func (s *stubStatusService) Transition(ctx context.Context, cmd services.TransitionCommand) (services.TransitionOutcome, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.TransitionOutcome{}, errStubNotImplemented
}

func (s *stubStatusService) BatchTransition(ctx context.Context, cmd services.BatchTransitionCommand) ([]services.TransitionOutcome, error) {
	if s.batchFn != nil {
		return s.batchFn(ctx, cmd)
	}
	return nil, errStubNotImplemented
}

func (s *stubStatusService) ListHistory(ctx context.Context, filter services.HistoryFilter) (domain.CursorPage[services.StatusHistoryEntry], error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, filter)
	}
	return domain.CursorPage[services.StatusHistoryEntry]{}, errStubNotImplemented
}

var testStaff = &auth.Identity{UID: "staff-1", Email: "staff@example.com", Roles: []string{auth.RoleStaff}}

// withStaff stands in for the Firebase middleware.
func withStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), testStaff)))
	})
}

func newTestRouter(register func(chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Use(withStaff)
	register(r)
	return r
}

func serve(t *testing.T, h http.Handler, method, target, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded), rr.Body.String())
	}
	return rr, decoded
}
