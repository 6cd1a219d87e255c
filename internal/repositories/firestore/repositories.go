package firestore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/platform/pagination"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

type stockItemRepository struct{ docs collection[stockItemDocument] }

func (r stockItemRepository) FindBySKU(ctx context.Context, sku string) (domain.StockItem, error) {
	doc, err := r.docs.get(ctx, "stock_items.find", sku)
	if err != nil {
		return domain.StockItem{}, err
	}
	return doc.toDomain(), nil
}

func (r stockItemRepository) Save(ctx context.Context, item domain.StockItem) error {
	return r.docs.set(ctx, item.SKU, newStockItemDocument(item))
}

type orderRepository struct{ docs collection[orderDocument] }

var (
	errOverpaid      = errors.New("paid amount exceeds grand total")
	errOverallocated = errors.New("allocated quantity outside 0..quantity")
)

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if order.PaidAmount > order.GrandTotal {
		return repositories.NewConflict("orders.insert", "order", order.ID, errOverpaid)
	}
	return r.docs.create(ctx, "orders.insert", order.ID, newOrderDocument(order))
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	if order.PaidAmount > order.GrandTotal {
		return repositories.NewConflict("orders.update", "order", order.ID, errOverpaid)
	}
	return r.docs.update(ctx, "orders.update", order.ID, newOrderDocument(order))
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.docs.get(ctx, "orders.find", orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (r orderRepository) FindByIDs(ctx context.Context, orderIDs []string) (map[string]domain.Order, error) {
	docs, err := r.docs.getAll(ctx, "orders.find_many", orderIDs)
	if err != nil {
		return nil, err
	}
	orders := make(map[string]domain.Order, len(docs))
	for id, doc := range docs {
		orders[id] = doc.toDomain()
	}
	return orders, nil
}

type lineItemRepository struct{ docs collection[lineItemDocument] }

func lineItemID(doc lineItemDocument) string { return doc.ID }

func (r lineItemRepository) Insert(ctx context.Context, item domain.OrderLineItem) error {
	return r.docs.create(ctx, "line_items.insert", item.ID, newLineItemDocument(item))
}

func (r lineItemRepository) Update(ctx context.Context, item domain.OrderLineItem) error {
	return r.docs.update(ctx, "line_items.update", item.ID, newLineItemDocument(item))
}

func (r lineItemRepository) FindByID(ctx context.Context, lineItemID string) (domain.OrderLineItem, error) {
	doc, err := r.docs.get(ctx, "line_items.find", lineItemID)
	if err != nil {
		return domain.OrderLineItem{}, err
	}
	return doc.toDomain(), nil
}

func (r lineItemRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	coll, err := r.docs.ref(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := r.docs.query(ctx, "line_items.list_by_order", coll.Where("orderId", "==", orderID), lineItemID,
		func(doc lineItemDocument) bool { return doc.OrderID == orderID })
	if err != nil {
		return nil, err
	}
	return sortedLineItems(docs, nil), nil
}

// ListBackorderCandidates filters on indexed equality fields and applies the quantity and status
// checks in memory, since Firestore cannot compare two fields of one document.
func (r lineItemRepository) ListBackorderCandidates(ctx context.Context, filter repositories.BackorderCandidateFilter) ([]domain.OrderLineItem, error) {
	coll, err := r.docs.ref(ctx)
	if err != nil {
		return nil, err
	}
	q := coll.Where("sku", "==", filter.SKU).Where("isBackorder", "==", true)
	if filter.StoreID != "" {
		q = q.Where("storeId", "==", filter.StoreID)
	}
	docs, err := r.docs.query(ctx, "line_items.list_candidates", q, lineItemID, func(doc lineItemDocument) bool {
		return doc.SKU == filter.SKU && doc.IsBackorder && (filter.StoreID == "" || doc.StoreID == filter.StoreID)
	})
	if err != nil {
		return nil, err
	}
	return sortedLineItems(docs, domain.OrderLineItem.IsAllocationCandidate), nil
}

func sortedLineItems(docs []lineItemDocument, keep func(domain.OrderLineItem) bool) []domain.OrderLineItem {
	items := make([]domain.OrderLineItem, 0, len(docs))
	for _, doc := range docs {
		item := doc.toDomain()
		if keep == nil || keep(item) {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b domain.OrderLineItem) int { return cmp.Compare(a.ID, b.ID) })
	return items
}

type purchaseLineRepository struct{ docs collection[purchaseLineDocument] }

func (r purchaseLineRepository) Insert(ctx context.Context, line domain.PurchaseLine) error {
	return r.docs.create(ctx, "purchase_lines.insert", line.ID, newPurchaseLineDocument(line))
}

func (r purchaseLineRepository) FindByID(ctx context.Context, purchaseLineID string) (domain.PurchaseLine, error) {
	doc, err := r.docs.get(ctx, "purchase_lines.find", purchaseLineID)
	if err != nil {
		return domain.PurchaseLine{}, err
	}
	return doc.toDomain(), nil
}

// UpdateAllocated rereads the stored line so the bound is checked against the received quantity.
func (r purchaseLineRepository) UpdateAllocated(ctx context.Context, line domain.PurchaseLine) error {
	const op = "purchase_lines.update_allocated"
	return r.docs.provider.RunTransaction(ctx, func(ctx context.Context, _ *pfirestore.Session) error {
		doc, err := r.docs.get(ctx, op, line.ID)
		if err != nil {
			return err
		}
		if line.AllocatedQuantity < 0 || line.AllocatedQuantity > doc.Quantity {
			return repositories.NewConflict(op, "purchase line", line.ID, errOverallocated)
		}
		doc.AllocatedQuantity = line.AllocatedQuantity
		return r.docs.set(ctx, line.ID, doc)
	})
}

type paymentRecordRepository struct{ docs collection[paymentRecordDocument] }

func (r paymentRecordRepository) Insert(ctx context.Context, record domain.PaymentRecord) error {
	return r.docs.create(ctx, "payment_records.insert", record.ID, newPaymentRecordDocument(record))
}

func (r paymentRecordRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	coll, err := r.docs.ref(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := r.docs.query(ctx, "payment_records.list", coll.Where("orderId", "==", orderID),
		func(doc paymentRecordDocument) string { return doc.ID },
		func(doc paymentRecordDocument) bool { return doc.OrderID == orderID })
	if err != nil {
		return nil, err
	}
	records := make([]domain.PaymentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.toDomain())
	}
	slices.SortFunc(records, func(a, b domain.PaymentRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return records, nil
}

type statusHistoryRepository struct{ docs collection[statusHistoryDocument] }

func (r statusHistoryRepository) Append(ctx context.Context, entry domain.StatusHistoryEntry) error {
	return r.docs.create(ctx, "status_history.append", entry.ID, newStatusHistoryDocument(entry))
}

// List pages by (createdAt, id). The cursor carries both values of the last returned entry.
func (r statusHistoryRepository) List(ctx context.Context, filter repositories.StatusHistoryFilter) (domain.CursorPage[domain.StatusHistoryEntry], error) {
	const op = "status_history.list"
	var page domain.CursorPage[domain.StatusHistoryEntry]

	coll, err := r.docs.ref(ctx)
	if err != nil {
		return page, err
	}
	size := filter.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	q := coll.Where("subjectId", "==", filter.SubjectID)
	if filter.StatusType != "" {
		q = q.Where("statusType", "==", filter.StatusType)
	}
	q = q.OrderBy("createdAt", firestore.Asc).OrderBy("id", firestore.Asc)
	if filter.PageToken != "" {
		cursor, err := pagination.DecodeHistoryToken(filter.PageToken, filter.SubjectID, filter.StatusType)
		if err != nil {
			return page, repositories.Wrap(op, err)
		}
		if cursor.EntryID == "" {
			return page, repositories.Wrap(op, fmt.Errorf("%w: not a position cursor", pagination.ErrInvalidPageToken))
		}
		q = q.StartAfter(cursor.CreatedAt, cursor.EntryID)
	}
	q = q.Limit(size + 1)

	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, r.docs.classify(op, filter.SubjectID, err)
		}
		doc, err := r.docs.decode(op, snap)
		if err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, err
		}
		page.Items = append(page.Items, doc.toDomain())
	}

	if len(page.Items) > size {
		page.Items = page.Items[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeHistoryToken(pagination.HistoryCursor{
			SubjectID: filter.SubjectID, StatusType: filter.StatusType, CreatedAt: last.CreatedAt, EntryID: last.ID,
		})
		if err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, repositories.Wrap(op, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}
