package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/pagination"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "fulfillment.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

var created = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, store *Store, id, storeID string, items ...domain.OrderLineItem) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Orders().Insert(ctx, domain.Order{
		ID:                  id,
		StoreID:             storeID,
		GrandTotal:          10000,
		PaymentStatus:       domain.PaymentPending,
		ShippingStatus:      domain.ShippingPending,
		FulfillmentPriority: domain.PriorityNormal,
		CreatedAt:           created,
		UpdatedAt:           created,
	}))
	for _, item := range items {
		item.OrderID = id
		item.StoreID = storeID
		item.CreatedAt, item.UpdatedAt = created, created
		if item.FulfillmentStatus == "" {
			item.FulfillmentStatus = domain.FulfillmentPending
		}
		require.NoError(t, store.LineItems().Insert(ctx, item))
	}
}

func TestStoreOrderRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedOrder(t, store, "ord_1", "tokyo")

	order, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	require.Equal(t, domain.Money(10000), order.GrandTotal)
	require.True(t, order.CreatedAt.Equal(created))
	require.Nil(t, order.PaidAt)

	paidAt := created.Add(time.Hour)
	order.PaidAmount = 10000
	order.PaymentStatus = domain.PaymentPaid
	order.PaidAt = &paidAt
	require.NoError(t, store.Orders().Update(ctx, order))

	reloaded, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentPaid, reloaded.PaymentStatus)
	require.NotNil(t, reloaded.PaidAt)
	require.True(t, reloaded.PaidAt.Equal(paidAt))

	_, err = store.Orders().FindByID(ctx, "ord_missing")
	require.True(t, repositories.IsNotFound(err))
	require.True(t, repositories.IsNotFound(store.Orders().Update(ctx, domain.Order{ID: "ord_missing"})))

	byID, err := store.Orders().FindByIDs(ctx, []string{"ord_1", "ord_missing"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
}

func TestStoreRejectsOverpaidOrders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedOrder(t, store, "ord_1", "")

	order, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	order.PaidAmount = order.GrandTotal + 1
	require.Error(t, store.Orders().Update(ctx, order))
}

func TestStoreBackorderCandidates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedOrder(t, store, "ord_a", "tokyo",
		domain.OrderLineItem{ID: "li_1", SKU: "SKU", Quantity: 3, IsBackorder: true},
		domain.OrderLineItem{ID: "li_2", SKU: "SKU", Quantity: 3},
		domain.OrderLineItem{ID: "li_3", SKU: "SKU", Quantity: 3, FulfilledQuantity: 3, IsBackorder: true, FulfillmentStatus: domain.FulfillmentFullyFulfilled},
		domain.OrderLineItem{ID: "li_4", SKU: "SKU", Quantity: 3, IsBackorder: true, FulfillmentStatus: domain.FulfillmentCancelled},
		domain.OrderLineItem{ID: "li_5", SKU: "OTHER", Quantity: 3, IsBackorder: true},
	)
	seedOrder(t, store, "ord_b", "osaka", domain.OrderLineItem{ID: "li_6", SKU: "SKU", Quantity: 1, IsBackorder: true})

	all, err := store.LineItems().ListBackorderCandidates(ctx, repositories.BackorderCandidateFilter{SKU: "SKU"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "li_1", all[0].ID)
	require.Equal(t, "li_6", all[1].ID)

	tokyo, err := store.LineItems().ListBackorderCandidates(ctx, repositories.BackorderCandidateFilter{SKU: "SKU", StoreID: "tokyo"})
	require.NoError(t, err)
	require.Len(t, tokyo, 1)
	require.Equal(t, "li_1", tokyo[0].ID)

	lines, err := store.LineItems().ListByOrder(ctx, "ord_a")
	require.NoError(t, err)
	require.Len(t, lines, 5)
}

func TestStoreFillsUnsetStatuses(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Orders().Insert(ctx, domain.Order{ID: "ord_bare", GrandTotal: 100, CreatedAt: created, UpdatedAt: created}))
	require.NoError(t, store.LineItems().Insert(ctx, domain.OrderLineItem{
		ID: "li_bare", OrderID: "ord_bare", SKU: "SKU", Quantity: 1, IsBackorder: true, CreatedAt: created, UpdatedAt: created,
	}))

	order, err := store.Orders().FindByID(ctx, "ord_bare")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentPending, order.PaymentStatus)
	require.Equal(t, domain.ShippingPending, order.ShippingStatus)
	require.Equal(t, domain.PriorityNormal, order.FulfillmentPriority)

	item, err := store.LineItems().FindByID(ctx, "li_bare")
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentPending, item.FulfillmentStatus)

	// Rows written before defaults were applied still read as pending.
	_, err = store.db.ExecContext(ctx, `UPDATE order_line_items SET fulfillment_status = '' WHERE id = 'li_bare'`)
	require.NoError(t, err)
	item, err = store.LineItems().FindByID(ctx, "li_bare")
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentPending, item.FulfillmentStatus)
}

func TestStorePurchaseLineConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	line := domain.PurchaseLine{ID: "pl_r1_SKU", ReceiptID: "r1", SKU: "SKU", Quantity: 5, UnitPrice: 100, ReceivedBy: "staff", ReceivedAt: created}
	require.NoError(t, store.PurchaseLines().Insert(ctx, line))
	require.True(t, repositories.IsConflict(store.PurchaseLines().Insert(ctx, line)))

	got, err := store.PurchaseLines().FindByID(ctx, line.ID)
	require.NoError(t, err)
	require.Equal(t, line.Quantity, got.Quantity)
	require.Equal(t, line.UnitPrice, got.UnitPrice)
	require.Zero(t, got.AllocatedQuantity)
}

func TestStorePurchaseLineAllocatedQuantityBounds(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	line := domain.PurchaseLine{ID: "pl_r2_SKU", ReceiptID: "r2", SKU: "SKU", Quantity: 5, UnitPrice: 100, ReceivedBy: "staff", ReceivedAt: created}
	require.NoError(t, store.PurchaseLines().Insert(ctx, line))

	line.AllocatedQuantity = 3
	require.NoError(t, store.PurchaseLines().UpdateAllocated(ctx, line))
	got, err := store.PurchaseLines().FindByID(ctx, line.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.AllocatedQuantity)
	require.EqualValues(t, 2, got.Unallocated())

	line.AllocatedQuantity = 6
	require.True(t, repositories.IsConflict(store.PurchaseLines().UpdateAllocated(ctx, line)))
	line.AllocatedQuantity = -1
	require.True(t, repositories.IsConflict(store.PurchaseLines().UpdateAllocated(ctx, line)))

	missing := domain.PurchaseLine{ID: "pl_missing", AllocatedQuantity: 1}
	require.True(t, repositories.IsNotFound(store.PurchaseLines().UpdateAllocated(ctx, missing)))
}

func TestStoreRunInTxRollsBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.StockItems().Save(ctx, domain.StockItem{SKU: "SKU", TotalPurchasedQuantity: 1, CreatedAt: created, UpdatedAt: created}))
		return store.RunInTx(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	_, err = store.StockItems().FindBySKU(ctx, "SKU")
	require.True(t, repositories.IsNotFound(err))
}

func TestStoreRunInTxSerialisesWriters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.StockItems().Save(ctx, domain.StockItem{SKU: "SKU", CreatedAt: created, UpdatedAt: created}))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.RunInTx(ctx, func(ctx context.Context) error {
				item, err := store.StockItems().FindBySKU(ctx, "SKU")
				if err != nil {
					return err
				}
				item.TotalPurchasedQuantity++
				return store.StockItems().Save(ctx, item)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	item, err := store.StockItems().FindBySKU(ctx, "SKU")
	require.NoError(t, err)
	require.EqualValues(t, 8, item.TotalPurchasedQuantity)
}

func TestStoreStatusHistoryPaging(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for i, to := range []string{"processing", "shipped", "delivered"} {
		require.NoError(t, store.StatusHistory().Append(ctx, domain.StatusHistoryEntry{
			ID:          "sh_" + to,
			SubjectID:   "ord_1",
			SubjectKind: domain.SubjectOrder,
			StatusType:  domain.StatusTypeShipping,
			ToStatus:    to,
			ActorID:     "staff",
			CreatedAt:   created.Add(time.Duration(i) * time.Minute),
		}))
	}

	first, err := store.StatusHistory().List(ctx, repositories.StatusHistoryFilter{SubjectID: "ord_1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.Equal(t, "processing", first.Items[0].ToStatus)
	require.NotEmpty(t, first.NextPageToken)

	second, err := store.StatusHistory().List(ctx, repositories.StatusHistoryFilter{SubjectID: "ord_1", PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Equal(t, "delivered", second.Items[0].ToStatus)
	require.Empty(t, second.NextPageToken)

	_, err = store.StatusHistory().List(ctx, repositories.StatusHistoryFilter{SubjectID: "ord_2", PageSize: 2, PageToken: first.NextPageToken})
	require.ErrorIs(t, err, pagination.ErrInvalidPageToken)

	payments, err := store.StatusHistory().List(ctx, repositories.StatusHistoryFilter{SubjectID: "ord_1", StatusType: "payment"})
	require.NoError(t, err)
	require.Empty(t, payments.Items)
}

func TestStorePaymentRecordsKeepInsertOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedOrder(t, store, "ord_1", "")
	for _, id := range []string{"pay_b", "pay_a"} {
		require.NoError(t, store.PaymentRecords().Insert(ctx, domain.PaymentRecord{
			ID: id, OrderID: "ord_1", Amount: 100, Method: domain.PaymentMethodCash, CreatedBy: "staff", CreatedAt: created,
		}))
	}
	records, err := store.PaymentRecords().ListByOrder(ctx, "ord_1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "pay_b", records[0].ID)
}

func TestStoreHealth(t *testing.T) {
	store := openTestStore(t)
	report, err := store.Health().Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
}
