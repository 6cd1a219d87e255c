package domain

import (
	"strings"
	"time"
)

// ActorKind distinguishes human staff from service principals.
type ActorKind string

const (
	ActorStaff   ActorKind = "staff"
	ActorService ActorKind = "service"
)

// Actor is the authenticated identity performing a mutation. It is always passed explicitly.
type Actor struct {
	ID    string
	Email string
	Kind  ActorKind
}

// IsZero reports whether the actor carries no identity.
func (a Actor) IsZero() bool {
	return strings.TrimSpace(a.ID) == ""
}

// StockItem carries the weighted-average cost basis of a SKU.
type StockItem struct {
	SKU                    string
	AverageCost            Money
	TotalPurchasedQuantity int64
	TotalCostAmount        Money
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// PurchaseLine is one unit of incoming supply. Only AllocatedQuantity changes after it is stored.
type PurchaseLine struct {
	ID                    string
	ReceiptID             string
	SKU                   string
	StoreID               string
	Supplier              string
	Quantity              int64
	AllocatedQuantity     int64
	UnitPrice             Money
	AllocatedShippingCost Money
	ReceivedBy            string
	ReceivedAt            time.Time
}

// Unallocated returns the units not yet granted to any line item.
func (p PurchaseLine) Unallocated() int64 {
	if p.AllocatedQuantity >= p.Quantity {
		return 0
	}
	return p.Quantity - max(p.AllocatedQuantity, 0)
}

// UnitLandedCost is the unit price plus the per-unit shipping share.
func (p PurchaseLine) UnitLandedCost() Money {
	return p.UnitPrice + p.AllocatedShippingCost
}

// Order is the payment and shipping aggregate that owns line items.
type Order struct {
	ID                  string
	StoreID             string
	GrandTotal          Money
	PaidAmount          Money
	PaymentStatus       PaymentStatus
	ShippingStatus      ShippingStatus
	FulfillmentPriority FulfillmentPriority
	PaidAt              *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// WithDefaults returns o with unset statuses and priority at their initial values.
// Stores apply it on write and read so an empty status never reaches a state machine.
func (o Order) WithDefaults() Order {
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	if o.ShippingStatus == "" {
		o.ShippingStatus = ShippingPending
	}
	if o.FulfillmentPriority == "" {
		o.FulfillmentPriority = PriorityNormal
	}
	return o
}

// Remaining returns the unpaid balance.
func (o Order) Remaining() Money {
	return o.GrandTotal - o.PaidAmount
}

// OrderLineItem is a single requested SKU on an order. An empty SKU marks a custom, non-stocked item.
type OrderLineItem struct {
	ID                   string
	OrderID              string
	StoreID              string
	SKU                  string
	Quantity             int64
	FulfilledQuantity    int64
	IsBackorder          bool
	FulfillmentStatus    FulfillmentStatus
	LinkedPurchaseLineID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// WithDefaults returns l with an unset fulfillment status read as pending.
func (l OrderLineItem) WithDefaults() OrderLineItem {
	if l.FulfillmentStatus == "" {
		l.FulfillmentStatus = FulfillmentPending
	}
	return l
}

// Outstanding returns the quantity still waiting for stock.
func (l OrderLineItem) Outstanding() int64 {
	if l.FulfilledQuantity >= l.Quantity {
		return 0
	}
	return l.Quantity - l.FulfilledQuantity
}

// IsAllocationCandidate reports whether the line still waits on backordered stock.
func (l OrderLineItem) IsAllocationCandidate() bool {
	return l.IsBackorder && l.SKU != "" && l.FulfilledQuantity < l.Quantity &&
		l.FulfillmentStatus != FulfillmentCancelled
}

// PaymentRecord is an append-only payment applied to an order.
type PaymentRecord struct {
	ID        string
	OrderID   string
	Amount    Money
	Method    PaymentMethod
	Reference string
	Note      string
	CreatedBy string
	CreatedAt time.Time
}

// StatusHistoryEntry records one accepted transition. FromStatus is empty when there was no prior status.
type StatusHistoryEntry struct {
	ID          string
	SubjectID   string
	SubjectKind SubjectKind
	StatusType  StatusType
	FromStatus  string
	ToStatus    string
	ActorID     string
	Note        string
	CreatedAt   time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
