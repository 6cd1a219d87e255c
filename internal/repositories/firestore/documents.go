package firestore

import (
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

type stockItemDocument struct {
	SKU                    string    `firestore:"sku"`
	AverageCost            int64     `firestore:"averageCost"`
	TotalPurchasedQuantity int64     `firestore:"totalPurchasedQuantity"`
	TotalCostAmount        int64     `firestore:"totalCostAmount"`
	CreatedAt              time.Time `firestore:"createdAt"`
	UpdatedAt              time.Time `firestore:"updatedAt"`
}

func newStockItemDocument(item domain.StockItem) stockItemDocument {
	return stockItemDocument{
		SKU:                    item.SKU,
		AverageCost:            item.AverageCost.Int64(),
		TotalPurchasedQuantity: item.TotalPurchasedQuantity,
		TotalCostAmount:        item.TotalCostAmount.Int64(),
		CreatedAt:              item.CreatedAt.UTC(),
		UpdatedAt:              item.UpdatedAt.UTC(),
	}
}

func (d stockItemDocument) toDomain() domain.StockItem {
	return domain.StockItem{
		SKU:                    d.SKU,
		AverageCost:            domain.Money(d.AverageCost),
		TotalPurchasedQuantity: d.TotalPurchasedQuantity,
		TotalCostAmount:        domain.Money(d.TotalCostAmount),
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

type orderDocument struct {
	ID                  string     `firestore:"id"`
	StoreID             string     `firestore:"storeId"`
	GrandTotal          int64      `firestore:"grandTotal"`
	PaidAmount          int64      `firestore:"paidAmount"`
	PaymentStatus       string     `firestore:"paymentStatus"`
	ShippingStatus      string     `firestore:"shippingStatus"`
	FulfillmentPriority string     `firestore:"fulfillmentPriority"`
	PaidAt              *time.Time `firestore:"paidAt,omitempty"`
	CreatedAt           time.Time  `firestore:"createdAt"`
	UpdatedAt           time.Time  `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	order = order.WithDefaults()
	doc := orderDocument{
		ID:                  order.ID,
		StoreID:             order.StoreID,
		GrandTotal:          order.GrandTotal.Int64(),
		PaidAmount:          order.PaidAmount.Int64(),
		PaymentStatus:       string(order.PaymentStatus),
		ShippingStatus:      string(order.ShippingStatus),
		FulfillmentPriority: string(order.FulfillmentPriority),
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	return doc
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		ID:                  d.ID,
		StoreID:             d.StoreID,
		GrandTotal:          domain.Money(d.GrandTotal),
		PaidAmount:          domain.Money(d.PaidAmount),
		PaymentStatus:       domain.PaymentStatus(d.PaymentStatus),
		ShippingStatus:      domain.ShippingStatus(d.ShippingStatus),
		FulfillmentPriority: domain.FulfillmentPriority(d.FulfillmentPriority),
		PaidAt:              d.PaidAt,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	return order.WithDefaults()
}

type lineItemDocument struct {
	ID                   string    `firestore:"id"`
	OrderID              string    `firestore:"orderId"`
	StoreID              string    `firestore:"storeId"`
	SKU                  string    `firestore:"sku"`
	Quantity             int64     `firestore:"quantity"`
	FulfilledQuantity    int64     `firestore:"fulfilledQuantity"`
	IsBackorder          bool      `firestore:"isBackorder"`
	FulfillmentStatus    string    `firestore:"fulfillmentStatus"`
	LinkedPurchaseLineID string    `firestore:"linkedPurchaseLineId,omitempty"`
	CreatedAt            time.Time `firestore:"createdAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

func newLineItemDocument(item domain.OrderLineItem) lineItemDocument {
	item = item.WithDefaults()
	return lineItemDocument{
		ID:                   item.ID,
		OrderID:              item.OrderID,
		StoreID:              item.StoreID,
		SKU:                  item.SKU,
		Quantity:             item.Quantity,
		FulfilledQuantity:    item.FulfilledQuantity,
		IsBackorder:          item.IsBackorder,
		FulfillmentStatus:    string(item.FulfillmentStatus),
		LinkedPurchaseLineID: item.LinkedPurchaseLineID,
		CreatedAt:            item.CreatedAt.UTC(),
		UpdatedAt:            item.UpdatedAt.UTC(),
	}
}

func (d lineItemDocument) toDomain() domain.OrderLineItem {
	item := domain.OrderLineItem{
		ID:                   d.ID,
		OrderID:              d.OrderID,
		StoreID:              d.StoreID,
		SKU:                  d.SKU,
		Quantity:             d.Quantity,
		FulfilledQuantity:    d.FulfilledQuantity,
		IsBackorder:          d.IsBackorder,
		FulfillmentStatus:    domain.FulfillmentStatus(d.FulfillmentStatus),
		LinkedPurchaseLineID: d.LinkedPurchaseLineID,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	return item.WithDefaults()
}

type purchaseLineDocument struct {
	ID                    string    `firestore:"id"`
	ReceiptID             string    `firestore:"receiptId"`
	SKU                   string    `firestore:"sku"`
	StoreID               string    `firestore:"storeId"`
	Supplier              string    `firestore:"supplier,omitempty"`
	Quantity              int64     `firestore:"quantity"`
	AllocatedQuantity     int64     `firestore:"allocatedQuantity"`
	UnitPrice             int64     `firestore:"unitPrice"`
	AllocatedShippingCost int64     `firestore:"allocatedShippingCost"`
	ReceivedBy            string    `firestore:"receivedBy"`
	ReceivedAt            time.Time `firestore:"receivedAt"`
}

func newPurchaseLineDocument(line domain.PurchaseLine) purchaseLineDocument {
	return purchaseLineDocument{
		ID:                    line.ID,
		ReceiptID:             line.ReceiptID,
		SKU:                   line.SKU,
		StoreID:               line.StoreID,
		Supplier:              line.Supplier,
		Quantity:              line.Quantity,
		AllocatedQuantity:     line.AllocatedQuantity,
		UnitPrice:             line.UnitPrice.Int64(),
		AllocatedShippingCost: line.AllocatedShippingCost.Int64(),
		ReceivedBy:            line.ReceivedBy,
		ReceivedAt:            line.ReceivedAt.UTC(),
	}
}

func (d purchaseLineDocument) toDomain() domain.PurchaseLine {
	return domain.PurchaseLine{
		ID:                    d.ID,
		ReceiptID:             d.ReceiptID,
		SKU:                   d.SKU,
		StoreID:               d.StoreID,
		Supplier:              d.Supplier,
		Quantity:              d.Quantity,
		AllocatedQuantity:     d.AllocatedQuantity,
		UnitPrice:             domain.Money(d.UnitPrice),
		AllocatedShippingCost: domain.Money(d.AllocatedShippingCost),
		ReceivedBy:            d.ReceivedBy,
		ReceivedAt:            d.ReceivedAt,
	}
}

type paymentRecordDocument struct {
	ID        string    `firestore:"id"`
	OrderID   string    `firestore:"orderId"`
	Amount    int64     `firestore:"amount"`
	Method    string    `firestore:"method"`
	Reference string    `firestore:"reference,omitempty"`
	Note      string    `firestore:"note,omitempty"`
	CreatedBy string    `firestore:"createdBy"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newPaymentRecordDocument(record domain.PaymentRecord) paymentRecordDocument {
	return paymentRecordDocument{
		ID:        record.ID,
		OrderID:   record.OrderID,
		Amount:    record.Amount.Int64(),
		Method:    string(record.Method),
		Reference: record.Reference,
		Note:      record.Note,
		CreatedBy: record.CreatedBy,
		CreatedAt: record.CreatedAt.UTC(),
	}
}

func (d paymentRecordDocument) toDomain() domain.PaymentRecord {
	return domain.PaymentRecord{
		ID:        d.ID,
		OrderID:   d.OrderID,
		Amount:    domain.Money(d.Amount),
		Method:    domain.PaymentMethod(d.Method),
		Reference: d.Reference,
		Note:      d.Note,
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt,
	}
}

type statusHistoryDocument struct {
	ID          string    `firestore:"id"`
	SubjectID   string    `firestore:"subjectId"`
	SubjectKind string    `firestore:"subjectKind"`
	StatusType  string    `firestore:"statusType"`
	FromStatus  string    `firestore:"fromStatus"`
	ToStatus    string    `firestore:"toStatus"`
	ActorID     string    `firestore:"actorId"`
	Note        string    `firestore:"note,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func newStatusHistoryDocument(entry domain.StatusHistoryEntry) statusHistoryDocument {
	return statusHistoryDocument{
		ID:          entry.ID,
		SubjectID:   entry.SubjectID,
		SubjectKind: string(entry.SubjectKind),
		StatusType:  string(entry.StatusType),
		FromStatus:  entry.FromStatus,
		ToStatus:    entry.ToStatus,
		ActorID:     entry.ActorID,
		Note:        entry.Note,
		CreatedAt:   entry.CreatedAt.UTC(),
	}
}

func (d statusHistoryDocument) toDomain() domain.StatusHistoryEntry {
	return domain.StatusHistoryEntry{
		ID:          d.ID,
		SubjectID:   d.SubjectID,
		SubjectKind: domain.SubjectKind(d.SubjectKind),
		StatusType:  domain.StatusType(d.StatusType),
		FromStatus:  d.FromStatus,
		ToStatus:    d.ToStatus,
		ActorID:     d.ActorID,
		Note:        d.Note,
		CreatedAt:   d.CreatedAt,
	}
}
