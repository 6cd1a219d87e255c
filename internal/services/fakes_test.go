package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

type memTxKey struct{}

// memStore is an in-memory registry whose RunInTx restores a snapshot when fn fails.
type memStore struct {
	mu        sync.Mutex
	stock     map[string]StockItem
	orders    map[string]Order
	lineItems map[string]OrderLineItem
	purchases map[string]PurchaseLine
	payments  []PaymentRecord
	history   []StatusHistoryEntry

	commits int

	lineUpdateErr func(OrderLineItem) error
	historyErr    error
}

func newMemStore() *memStore {
	return &memStore{
		stock:     map[string]StockItem{},
		orders:    map[string]Order{},
		lineItems: map[string]OrderLineItem{},
		purchases: map[string]PurchaseLine{},
	}
}

type memSnapshot struct {
	stock     map[string]StockItem
	orders    map[string]Order
	lineItems map[string]OrderLineItem
	purchases map[string]PurchaseLine
	payments  []PaymentRecord
	history   []StatusHistoryEntry
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	snap := memSnapshot{
		stock:     maps.Clone(m.stock),
		orders:    maps.Clone(m.orders),
		lineItems: maps.Clone(m.lineItems),
		purchases: maps.Clone(m.purchases),
		payments:  slices.Clone(m.payments),
		history:   slices.Clone(m.history),
	}
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.stock, m.orders, m.lineItems, m.purchases = snap.stock, snap.orders, snap.lineItems, snap.purchases
		m.payments, m.history = snap.payments, snap.history
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.commits++
	m.mu.Unlock()
	return nil
}

func (m *memStore) StockItems() repositories.StockItemRepository         { return memStockRepo{m} }
func (m *memStore) Orders() repositories.OrderRepository                 { return memOrderRepo{m} }
func (m *memStore) LineItems() repositories.LineItemRepository           { return memLineItemRepo{m} }
func (m *memStore) PurchaseLines() repositories.PurchaseLineRepository   { return memPurchaseRepo{m} }
func (m *memStore) PaymentRecords() repositories.PaymentRecordRepository { return memPaymentRepo{m} }
func (m *memStore) StatusHistory() repositories.StatusHistoryRepository  { return memHistoryRepo{m} }

func (m *memStore) historyFor(subjectID string) []StatusHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusHistoryEntry
	for _, entry := range m.history {
		if entry.SubjectID == subjectID {
			out = append(out, entry)
		}
	}
	return out
}

func (m *memStore) order(id string) Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) lineItem(id string) OrderLineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lineItems[id]
}

func (m *memStore) putOrder(order Order, items ...OrderLineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	for _, item := range items {
		if item.OrderID == "" {
			item.OrderID = order.ID
		}
		if item.StoreID == "" {
			item.StoreID = order.StoreID
		}
		m.lineItems[item.ID] = item
	}
}

type memStockRepo struct{ m *memStore }

func (r memStockRepo) FindBySKU(_ context.Context, sku string) (domain.StockItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	item, ok := r.m.stock[sku]
	if !ok {
		return domain.StockItem{}, repositories.NewNotFound("stock_items.find", "stock item", sku)
	}
	return item, nil
}

func (r memStockRepo) Save(_ context.Context, item domain.StockItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.stock[item.SKU] = item
	return nil
}

type memOrderRepo struct{ m *memStore }

func (r memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[order.ID]; ok {
		return repositories.NewConflict("orders.insert", "order", order.ID, nil)
	}
	r.m.orders[order.ID] = order
	return nil
}

func (r memOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[order.ID]; !ok {
		return repositories.NewNotFound("orders.update", "order", order.ID)
	}
	r.m.orders[order.ID] = order
	return nil
}

func (r memOrderRepo) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	order, ok := r.m.orders[id]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.find", "order", id)
	}
	return order, nil
}

func (r memOrderRepo) FindByIDs(_ context.Context, ids []string) (map[string]domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]domain.Order, len(ids))
	for _, id := range ids {
		if order, ok := r.m.orders[id]; ok {
			out[id] = order
		}
	}
	return out, nil
}

type memLineItemRepo struct{ m *memStore }

func (r memLineItemRepo) Insert(_ context.Context, item domain.OrderLineItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.lineItems[item.ID] = item
	return nil
}

func (r memLineItemRepo) Update(_ context.Context, item domain.OrderLineItem) error {
	if r.m.lineUpdateErr != nil {
		if err := r.m.lineUpdateErr(item); err != nil {
			return err
		}
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.lineItems[item.ID]; !ok {
		return repositories.NewNotFound("line_items.update", "line item", item.ID)
	}
	r.m.lineItems[item.ID] = item
	return nil
}

func (r memLineItemRepo) FindByID(_ context.Context, id string) (domain.OrderLineItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	item, ok := r.m.lineItems[id]
	if !ok {
		return domain.OrderLineItem{}, repositories.NewNotFound("line_items.find", "line item", id)
	}
	return item, nil
}

func (r memLineItemRepo) ListByOrder(_ context.Context, orderID string) ([]domain.OrderLineItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.OrderLineItem
	for _, item := range r.m.lineItems {
		if item.OrderID == orderID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memLineItemRepo) ListBackorderCandidates(_ context.Context, filter repositories.BackorderCandidateFilter) ([]domain.OrderLineItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.OrderLineItem
	for _, item := range r.m.lineItems {
		if item.SKU != filter.SKU || !item.IsAllocationCandidate() {
			continue
		}
		if filter.StoreID != "" && item.StoreID != filter.StoreID {
			continue
		}
		out = append(out, item)
	}
	// Map iteration order is random; ranking must not depend on it.
	return out, nil
}

type memPurchaseRepo struct{ m *memStore }

func (r memPurchaseRepo) Insert(_ context.Context, line domain.PurchaseLine) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.purchases[line.ID]; ok {
		return repositories.NewConflict("purchase_lines.insert", "purchase line", line.ID, nil)
	}
	r.m.purchases[line.ID] = line
	return nil
}

func (r memPurchaseRepo) FindByID(_ context.Context, id string) (domain.PurchaseLine, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	line, ok := r.m.purchases[id]
	if !ok {
		return domain.PurchaseLine{}, repositories.NewNotFound("purchase_lines.find", "purchase line", id)
	}
	return line, nil
}

func (r memPurchaseRepo) UpdateAllocated(_ context.Context, line domain.PurchaseLine) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.purchases[line.ID]
	if !ok {
		return repositories.NewNotFound("purchase_lines.update_allocated", "purchase line", line.ID)
	}
	if line.AllocatedQuantity < 0 || line.AllocatedQuantity > stored.Quantity {
		return repositories.NewConflict("purchase_lines.update_allocated", "purchase line", line.ID, nil)
	}
	stored.AllocatedQuantity = line.AllocatedQuantity
	r.m.purchases[line.ID] = stored
	return nil
}

func (m *memStore) purchase(id string) PurchaseLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purchases[id]
}

type memPaymentRepo struct{ m *memStore }

func (r memPaymentRepo) Insert(_ context.Context, record domain.PaymentRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.payments = append(r.m.payments, record)
	return nil
}

func (r memPaymentRepo) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.PaymentRecord
	for _, record := range r.m.payments {
		if record.OrderID == orderID {
			out = append(out, record)
		}
	}
	return out, nil
}

type memHistoryRepo struct{ m *memStore }

func (r memHistoryRepo) Append(_ context.Context, entry domain.StatusHistoryEntry) error {
	if r.m.historyErr != nil {
		return r.m.historyErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.history = append(r.m.history, entry)
	return nil
}

func (r memHistoryRepo) List(_ context.Context, filter repositories.StatusHistoryFilter) (domain.CursorPage[domain.StatusHistoryEntry], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var items []domain.StatusHistoryEntry
	for _, entry := range r.m.history {
		if entry.SubjectID != filter.SubjectID {
			continue
		}
		if filter.StatusType != "" && string(entry.StatusType) != filter.StatusType {
			continue
		}
		items = append(items, entry)
	}
	return domain.CursorPage[domain.StatusHistoryEntry]{Items: items}, nil
}

type captureEvents struct {
	mu     sync.Mutex
	events []FulfillmentEvent
	err    error
}

func (c *captureEvents) PublishFulfillmentEvent(_ context.Context, event FulfillmentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

var testActor = Actor{ID: "staff_1", Email: "staff@example.com", Kind: domain.ActorStaff}

func fixedClock() func() time.Time {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%06d", n)
	}
}

type testServices struct {
	store       *memStore
	events      *captureEvents
	costLedger  CostLedger
	transitions StatusTransitionService
	payments    PaymentLedger
	allocator   BackorderAllocator
	receipts    PurchaseReceiptService
}

func newTestServices(tb interface{ Fatalf(string, ...any) }, verifier PaymentVerifier) testServices {
	store := newMemStore()
	events := &captureEvents{}
	clock := fixedClock()
	ids := sequentialIDs()

	costLedger, err := NewCostLedger(CostLedgerDeps{StockItems: store.StockItems(), UnitOfWork: store, Clock: clock})
	if err != nil {
		tb.Fatalf("cost ledger: %v", err)
	}
	transitions, err := NewStatusTransitionService(StatusTransitionServiceDeps{
		Orders:      store.Orders(),
		LineItems:   store.LineItems(),
		History:     store.StatusHistory(),
		UnitOfWork:  store,
		Events:      events,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		tb.Fatalf("transitions: %v", err)
	}
	payments, err := NewPaymentLedger(PaymentLedgerDeps{
		Orders:      store.Orders(),
		Payments:    store.PaymentRecords(),
		Transitions: transitions,
		UnitOfWork:  store,
		Verifier:    verifier,
		Events:      events,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		tb.Fatalf("payments: %v", err)
	}
	allocator, err := NewBackorderAllocator(BackorderAllocatorDeps{
		PurchaseLines: store.PurchaseLines(),
		LineItems:     store.LineItems(),
		Orders:        store.Orders(),
		StockItems:    store.StockItems(),
		Transitions:   transitions,
		UnitOfWork:    store,
		Events:        events,
		Clock:         clock,
	})
	if err != nil {
		tb.Fatalf("allocator: %v", err)
	}
	receipts, err := NewPurchaseReceiptService(PurchaseReceiptServiceDeps{
		PurchaseLines: store.PurchaseLines(),
		CostLedger:    costLedger,
		Allocator:     allocator,
		UnitOfWork:    store,
		Events:        events,
		Clock:         clock,
	})
	if err != nil {
		tb.Fatalf("receipts: %v", err)
	}
	return testServices{
		store:       store,
		events:      events,
		costLedger:  costLedger,
		transitions: transitions,
		payments:    payments,
		allocator:   allocator,
		receipts:    receipts,
	}
}
