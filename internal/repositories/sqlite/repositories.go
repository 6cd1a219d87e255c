package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/pagination"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type stockItemRepository struct{ s *Store }

func (r stockItemRepository) FindBySKU(ctx context.Context, sku string) (domain.StockItem, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx, `
SELECT sku, average_cost, total_purchased_quantity, total_cost_amount, created_at, updated_at
FROM stock_items WHERE sku = ?`, sku)

	var (
		item             domain.StockItem
		created, updated string
		avg, total       int64
	)
	if err := row.Scan(&item.SKU, &avg, &item.TotalPurchasedQuantity, &total, &created, &updated); err != nil {
		return domain.StockItem{}, classify("stock_items.find", "stock item", sku, err)
	}
	item.AverageCost, item.TotalCostAmount = domain.Money(avg), domain.Money(total)
	var err error
	if item.CreatedAt, err = parseTime(created); err != nil {
		return domain.StockItem{}, repositories.Wrap("stock_items.find", err)
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.StockItem{}, repositories.Wrap("stock_items.find", err)
	}
	return item, nil
}

func (r stockItemRepository) Save(ctx context.Context, item domain.StockItem) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `
INSERT INTO stock_items (sku, average_cost, total_purchased_quantity, total_cost_amount, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(sku) DO UPDATE SET
    average_cost = excluded.average_cost,
    total_purchased_quantity = excluded.total_purchased_quantity,
    total_cost_amount = excluded.total_cost_amount,
    updated_at = excluded.updated_at`,
		item.SKU, item.AverageCost.Int64(), item.TotalPurchasedQuantity, item.TotalCostAmount.Int64(),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt))
	return classify("stock_items.save", "stock item", item.SKU, err)
}

type orderRepository struct{ s *Store }

const orderColumns = `id, store_id, grand_total, paid_amount, payment_status, shipping_status,
fulfillment_priority, paid_at, created_at, updated_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                       domain.Order
		grandTotal, paidAmount      int64
		payment, shipping, priority string
		paidAt                      sql.NullString
		created, updated            string
	)
	if err := row.Scan(&order.ID, &order.StoreID, &grandTotal, &paidAmount, &payment, &shipping, &priority, &paidAt, &created, &updated); err != nil {
		return domain.Order{}, err
	}
	order.GrandTotal, order.PaidAmount = domain.Money(grandTotal), domain.Money(paidAmount)
	order.PaymentStatus = domain.PaymentStatus(payment)
	order.ShippingStatus = domain.ShippingStatus(shipping)
	order.FulfillmentPriority = domain.FulfillmentPriority(priority)
	var err error
	if paidAt.Valid {
		ts, err := parseTime(paidAt.String)
		if err != nil {
			return domain.Order{}, err
		}
		order.PaidAt = &ts
	}
	if order.CreatedAt, err = parseTime(created); err != nil {
		return domain.Order{}, err
	}
	if order.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Order{}, err
	}
	return order.WithDefaults(), nil
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	order = order.WithDefaults()
	_, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.StoreID, order.GrandTotal.Int64(), order.PaidAmount.Int64(), string(order.PaymentStatus),
		string(order.ShippingStatus), string(order.FulfillmentPriority), nullableTime(order.PaidAt),
		formatTime(order.CreatedAt), formatTime(order.UpdatedAt))
	return classify("orders.insert", "order", order.ID, err)
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	res, err := r.s.conn(ctx).ExecContext(ctx, `
UPDATE orders SET store_id = ?, grand_total = ?, paid_amount = ?, payment_status = ?, shipping_status = ?,
    fulfillment_priority = ?, paid_at = ?, updated_at = ?
WHERE id = ?`,
		order.StoreID, order.GrandTotal.Int64(), order.PaidAmount.Int64(), string(order.PaymentStatus),
		string(order.ShippingStatus), string(order.FulfillmentPriority), nullableTime(order.PaidAt),
		formatTime(order.UpdatedAt), order.ID)
	if err != nil {
		return classify("orders.update", "order", order.ID, err)
	}
	return requireRow(res, "orders.update", "order", order.ID)
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, classify("orders.find", "order", orderID, err)
	}
	return order, nil
}

func (r orderRepository) FindByIDs(ctx context.Context, orderIDs []string) (map[string]domain.Order, error) {
	result := make(map[string]domain.Order, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orderIDs)), ",")
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, classify("orders.find_many", "order", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, classify("orders.find_many", "order", "", err)
		}
		result[order.ID] = order
	}
	return result, classify("orders.find_many", "order", "", rows.Err())
}

type lineItemRepository struct{ s *Store }

const lineItemColumns = `id, order_id, store_id, sku, quantity, fulfilled_quantity, is_backorder,
fulfillment_status, linked_purchase_line_id, created_at, updated_at`

func scanLineItem(row rowScanner) (domain.OrderLineItem, error) {
	var (
		item             domain.OrderLineItem
		backorder        int
		status           string
		created, updated string
	)
	if err := row.Scan(&item.ID, &item.OrderID, &item.StoreID, &item.SKU, &item.Quantity, &item.FulfilledQuantity,
		&backorder, &status, &item.LinkedPurchaseLineID, &created, &updated); err != nil {
		return domain.OrderLineItem{}, err
	}
	item.IsBackorder = backorder != 0
	item.FulfillmentStatus = domain.FulfillmentStatus(status)
	var err error
	if item.CreatedAt, err = parseTime(created); err != nil {
		return domain.OrderLineItem{}, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.OrderLineItem{}, err
	}
	return item.WithDefaults(), nil
}

func (r lineItemRepository) Insert(ctx context.Context, item domain.OrderLineItem) error {
	item = item.WithDefaults()
	_, err := r.s.conn(ctx).ExecContext(ctx, `INSERT INTO order_line_items (`+lineItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OrderID, item.StoreID, item.SKU, item.Quantity, item.FulfilledQuantity, boolToInt(item.IsBackorder),
		string(item.FulfillmentStatus), item.LinkedPurchaseLineID, formatTime(item.CreatedAt), formatTime(item.UpdatedAt))
	return classify("line_items.insert", "line item", item.ID, err)
}

func (r lineItemRepository) Update(ctx context.Context, item domain.OrderLineItem) error {
	res, err := r.s.conn(ctx).ExecContext(ctx, `
UPDATE order_line_items SET fulfilled_quantity = ?, is_backorder = ?, fulfillment_status = ?,
    linked_purchase_line_id = ?, updated_at = ?
WHERE id = ?`,
		item.FulfilledQuantity, boolToInt(item.IsBackorder), string(item.FulfillmentStatus),
		item.LinkedPurchaseLineID, formatTime(item.UpdatedAt), item.ID)
	if err != nil {
		return classify("line_items.update", "line item", item.ID, err)
	}
	return requireRow(res, "line_items.update", "line item", item.ID)
}

func (r lineItemRepository) FindByID(ctx context.Context, lineItemID string) (domain.OrderLineItem, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx, `SELECT `+lineItemColumns+` FROM order_line_items WHERE id = ?`, lineItemID)
	item, err := scanLineItem(row)
	if err != nil {
		return domain.OrderLineItem{}, classify("line_items.find", "line item", lineItemID, err)
	}
	return item, nil
}

func (r lineItemRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	return r.list(ctx, "line_items.list_by_order",
		`SELECT `+lineItemColumns+` FROM order_line_items WHERE order_id = ? ORDER BY id`, orderID)
}

func (r lineItemRepository) ListBackorderCandidates(ctx context.Context, filter repositories.BackorderCandidateFilter) ([]domain.OrderLineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM order_line_items
WHERE sku = ? AND is_backorder = 1 AND fulfilled_quantity < quantity AND fulfillment_status != ?`
	args := []any{filter.SKU, string(domain.FulfillmentCancelled)}
	if filter.StoreID != "" {
		query += ` AND store_id = ?`
		args = append(args, filter.StoreID)
	}
	return r.list(ctx, "line_items.list_candidates", query+` ORDER BY id`, args...)
}

func (r lineItemRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.OrderLineItem, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, "line item", "", err)
	}
	defer rows.Close()
	var items []domain.OrderLineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, classify(op, "line item", "", err)
		}
		items = append(items, item)
	}
	return items, classify(op, "line item", "", rows.Err())
}

type purchaseLineRepository struct{ s *Store }

func (r purchaseLineRepository) Insert(ctx context.Context, line domain.PurchaseLine) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `
INSERT INTO purchase_lines (id, receipt_id, sku, store_id, supplier, quantity, allocated_quantity, unit_price,
    allocated_shipping_cost, received_by, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.ID, line.ReceiptID, line.SKU, line.StoreID, line.Supplier, line.Quantity, line.AllocatedQuantity,
		line.UnitPrice.Int64(), line.AllocatedShippingCost.Int64(), line.ReceivedBy, formatTime(line.ReceivedAt))
	return classify("purchase_lines.insert", "purchase line", line.ID, err)
}

func (r purchaseLineRepository) FindByID(ctx context.Context, purchaseLineID string) (domain.PurchaseLine, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx, `
SELECT id, receipt_id, sku, store_id, supplier, quantity, allocated_quantity, unit_price, allocated_shipping_cost,
    received_by, received_at
FROM purchase_lines WHERE id = ?`, purchaseLineID)
	var (
		line           domain.PurchaseLine
		unit, shipping int64
		received       string
	)
	if err := row.Scan(&line.ID, &line.ReceiptID, &line.SKU, &line.StoreID, &line.Supplier, &line.Quantity,
		&line.AllocatedQuantity, &unit, &shipping, &line.ReceivedBy, &received); err != nil {
		return domain.PurchaseLine{}, classify("purchase_lines.find", "purchase line", purchaseLineID, err)
	}
	line.UnitPrice, line.AllocatedShippingCost = domain.Money(unit), domain.Money(shipping)
	ts, err := parseTime(received)
	if err != nil {
		return domain.PurchaseLine{}, repositories.Wrap("purchase_lines.find", err)
	}
	line.ReceivedAt = ts
	return line, nil
}

// UpdateAllocated relies on the table CHECK to refuse more units than were received.
func (r purchaseLineRepository) UpdateAllocated(ctx context.Context, line domain.PurchaseLine) error {
	res, err := r.s.conn(ctx).ExecContext(ctx, `UPDATE purchase_lines SET allocated_quantity = ? WHERE id = ?`,
		line.AllocatedQuantity, line.ID)
	if err != nil {
		return classify("purchase_lines.update_allocated", "purchase line", line.ID, err)
	}
	return requireRow(res, "purchase_lines.update_allocated", "purchase line", line.ID)
}

type paymentRecordRepository struct{ s *Store }

func (r paymentRecordRepository) Insert(ctx context.Context, record domain.PaymentRecord) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `
INSERT INTO payment_records (id, order_id, amount, method, reference, note, created_by, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.OrderID, record.Amount.Int64(), string(record.Method), record.Reference, record.Note,
		record.CreatedBy, formatTime(record.CreatedAt))
	return classify("payment_records.insert", "payment record", record.ID, err)
}

func (r paymentRecordRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
SELECT id, order_id, amount, method, reference, note, created_by, created_at
FROM payment_records WHERE order_id = ? ORDER BY seq`, orderID)
	if err != nil {
		return nil, classify("payment_records.list", "payment record", orderID, err)
	}
	defer rows.Close()

	var records []domain.PaymentRecord
	for rows.Next() {
		var (
			record  domain.PaymentRecord
			amount  int64
			method  string
			created string
		)
		if err := rows.Scan(&record.ID, &record.OrderID, &amount, &method, &record.Reference, &record.Note, &record.CreatedBy, &created); err != nil {
			return nil, classify("payment_records.list", "payment record", orderID, err)
		}
		record.Amount = domain.Money(amount)
		record.Method = domain.PaymentMethod(method)
		if record.CreatedAt, err = parseTime(created); err != nil {
			return nil, repositories.Wrap("payment_records.list", err)
		}
		records = append(records, record)
	}
	return records, classify("payment_records.list", "payment record", orderID, rows.Err())
}

type statusHistoryRepository struct{ s *Store }

func (r statusHistoryRepository) Append(ctx context.Context, entry domain.StatusHistoryEntry) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `
INSERT INTO status_history (id, subject_id, subject_kind, status_type, from_status, to_status, actor_id, note, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SubjectID, string(entry.SubjectKind), string(entry.StatusType), entry.FromStatus,
		entry.ToStatus, entry.ActorID, entry.Note, formatTime(entry.CreatedAt))
	return classify("status_history.append", "status history", entry.ID, err)
}

func (r statusHistoryRepository) List(ctx context.Context, filter repositories.StatusHistoryFilter) (domain.CursorPage[domain.StatusHistoryEntry], error) {
	const op = "status_history.list"
	var after int64
	if filter.PageToken != "" {
		cursor, err := pagination.DecodeHistoryToken(filter.PageToken, filter.SubjectID, filter.StatusType)
		if err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, repositories.Wrap(op, err)
		}
		if !cursor.CreatedAt.IsZero() {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, repositories.Wrap(op, fmt.Errorf("%w: not a sequence cursor", pagination.ErrInvalidPageToken))
		}
		after = cursor.Seq
	}
	size := filter.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	query := `SELECT seq, id, subject_id, subject_kind, status_type, from_status, to_status, actor_id, note, created_at
FROM status_history WHERE subject_id = ? AND seq > ?`
	args := []any{filter.SubjectID, after}
	if filter.StatusType != "" {
		query += ` AND status_type = ?`
		args = append(args, filter.StatusType)
	}
	query += ` ORDER BY seq LIMIT ?`
	args = append(args, size+1)

	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.StatusHistoryEntry]{}, classify(op, "status history", filter.SubjectID, err)
	}
	defer rows.Close()

	var (
		entries []domain.StatusHistoryEntry
		seqs    []int64
	)
	for rows.Next() {
		var (
			entry     domain.StatusHistoryEntry
			seq       int64
			kind, typ string
			created   string
		)
		if err := rows.Scan(&seq, &entry.ID, &entry.SubjectID, &kind, &typ, &entry.FromStatus, &entry.ToStatus,
			&entry.ActorID, &entry.Note, &created); err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, classify(op, "status history", filter.SubjectID, err)
		}
		entry.SubjectKind = domain.SubjectKind(kind)
		entry.StatusType = domain.StatusType(typ)
		if entry.CreatedAt, err = parseTime(created); err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, repositories.Wrap(op, err)
		}
		entries = append(entries, entry)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.StatusHistoryEntry]{}, classify(op, "status history", filter.SubjectID, err)
	}

	page := domain.CursorPage[domain.StatusHistoryEntry]{Items: entries}
	if len(entries) > size {
		page.Items = entries[:size]
		token, err := pagination.EncodeHistoryToken(pagination.HistoryCursor{
			SubjectID: filter.SubjectID, StatusType: filter.StatusType, Seq: seqs[size-1],
		})
		if err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, repositories.Wrap(op, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

func requireRow(res sql.Result, op, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, entity, id, err)
	}
	if n == 0 {
		return repositories.NewNotFound(op, entity, id)
	}
	return nil
}
