package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Actor              = domain.Actor
	Money              = domain.Money
	StockItem          = domain.StockItem
	PurchaseLine       = domain.PurchaseLine
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	PaymentRecord      = domain.PaymentRecord
	StatusHistoryEntry = domain.StatusHistoryEntry
)

// CostLedger maintains the weighted-average cost basis of each SKU.
type CostLedger interface {
	ApplyPurchase(ctx context.Context, cmd ApplyPurchaseCommand) (StockItem, error)
	GetStockItem(ctx context.Context, sku string) (StockItem, error)
}

// StatusTransitionService validates and records status changes for orders and line items.
type StatusTransitionService interface {
	TransitionRecorder
	Transition(ctx context.Context, cmd TransitionCommand) (TransitionOutcome, error)
	BatchTransition(ctx context.Context, cmd BatchTransitionCommand) ([]TransitionOutcome, error)
	ListHistory(ctx context.Context, filter HistoryFilter) (domain.CursorPage[StatusHistoryEntry], error)
}

// TransitionRecorder appends history entries. Callers skip no-op transitions before calling it.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, cmd RecordTransitionCommand) (StatusHistoryEntry, error)
}

// PaymentLedger applies partial payments to orders.
type PaymentLedger interface {
	AddPartialPayment(ctx context.Context, cmd AddPaymentCommand) (PaymentResult, error)
	ListPayments(ctx context.Context, orderID string) ([]PaymentRecord, error)
}

// BackorderAllocator hands newly received stock to waiting backordered lines.
type BackorderAllocator interface {
	AllocateToBackorders(ctx context.Context, cmd AllocateCommand) (AllocationReport, error)
	// AllocateBackorders is AllocateToBackorders with the default filter.
	AllocateBackorders(ctx context.Context, purchaseLineID string, actor Actor) (AllocationReport, error)
}

// PurchaseReceiptService records incoming supply, updates cost and allocates it in one transaction.
type PurchaseReceiptService interface {
	ReceivePurchase(ctx context.Context, cmd ReceivePurchaseCommand) (ReceiptResult, error)
}

// PaymentVerifier confirms externally processed payments before they are recorded.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, req PaymentVerification) error
}

// EventPublisher emits domain events once the originating transaction has committed.
type EventPublisher interface {
	PublishFulfillmentEvent(ctx context.Context, event FulfillmentEvent) error
}

// AllocationMetrics records allocation throughput.
type AllocationMetrics interface {
	RecordAllocation(ctx context.Context, sku string, units int64, fullyFulfilled int)
}

// ApplyPurchaseCommand feeds one purchase into the cost ledger.
type ApplyPurchaseCommand struct {
	SKU                   string
	Quantity              int64
	UnitPrice             Money
	AllocatedShippingCost Money
	Actor                 Actor
}

// TransitionCommand moves a single subject to a new status.
type TransitionCommand struct {
	SubjectID  string
	StatusType domain.StatusType
	To         string
	Actor      Actor
	Note       string
}

// BatchTransitionCommand moves many subjects of one status type to the same target.
// ExpectedFrom is optional; when set, subjects in any other status are skipped.
type BatchTransitionCommand struct {
	SubjectIDs   []string
	StatusType   domain.StatusType
	ExpectedFrom string
	To           string
	Actor        Actor
	Note         string
}

// OutcomeStatus classifies a per-subject transition result.
type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "applied"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

const (
	ReasonUnchangedStatus  = "unchanged status"
	ReasonUnexpectedStatus = "unexpected status"
	ReasonNotFound         = "not found"
	ReasonInvalidStatus    = "invalid transition"
)

// TransitionOutcome reports what happened to one subject.
type TransitionOutcome struct {
	SubjectID string
	Status    OutcomeStatus
	Reason    string
	From      string
	To        string
	Entry     *StatusHistoryEntry
	Err       error
}

// RecordTransitionCommand describes a history entry to append.
type RecordTransitionCommand struct {
	SubjectID   string
	SubjectKind domain.SubjectKind
	StatusType  domain.StatusType
	From        string
	To          string
	Actor       Actor
	Note        string
}

// HistoryFilter pages through the history of one subject.
type HistoryFilter struct {
	SubjectID  string
	StatusType domain.StatusType
	PageSize   int
	PageToken  string
}

// AddPaymentCommand applies one partial payment.
type AddPaymentCommand struct {
	OrderID   string
	Amount    Money
	Method    domain.PaymentMethod
	Reference string
	Note      string
	Actor     Actor
}

// PaymentResult is the order after a payment plus ledger bookkeeping.
type PaymentResult struct {
	Order          Order
	Record         PaymentRecord
	PaymentCount   int
	PreviousStatus domain.PaymentStatus
}

// PaymentVerification is what a PSP verifier checks.
type PaymentVerification struct {
	OrderID   string
	Method    domain.PaymentMethod
	Reference string
	Amount    Money
}

// AllocationFilter narrows the candidate set. The zero value matches every store.
type AllocationFilter struct {
	StoreID string
}

// AllocateCommand allocates an existing purchase line to backorders.
type AllocateCommand struct {
	PurchaseLineID string
	Filter         AllocationFilter
	Actor          Actor
}

// AllocatedItem is one grant made during an allocation run.
type AllocatedItem struct {
	LineItemID        string
	OrderID           string
	Priority          domain.FulfillmentPriority
	Granted           int64
	FulfilledQuantity int64
	Quantity          int64
	PreviousStatus    domain.FulfillmentStatus
	Status            domain.FulfillmentStatus
}

// AllocationSummary counts candidates and the orders touched by a run.
type AllocationSummary struct {
	TotalCandidates           int
	AllocatedOrdersCount      int
	FullyFulfilledOrdersCount int
}

// AllocationReport is returned to whatever triggered the purchase receipt.
type AllocationReport struct {
	PurchaseLineID    string
	SKU               string
	AllocatedItems    []AllocatedItem
	TotalAllocated    int64
	RemainingQuantity int64
	AllocationSummary AllocationSummary
}

// ReceivePurchaseCommand describes one received purchase line.
type ReceivePurchaseCommand struct {
	ReceiptID             string
	SKU                   string
	StoreID               string
	Supplier              string
	Quantity              int64
	UnitPrice             Money
	AllocatedShippingCost Money
	Actor                 Actor
}

// ReceiptResult bundles the stored purchase line, the updated cost basis and the allocation report.
type ReceiptResult struct {
	PurchaseLine PurchaseLine
	StockItem    StockItem
	Allocation   AllocationReport
}

// FulfillmentEvent is the payload handed to EventPublisher.
type FulfillmentEvent struct {
	Type       string
	SubjectID  string
	OrderID    string
	SKU        string
	ActorID    string
	OccurredAt time.Time
	Attributes map[string]any
}

const (
	EventPurchaseReceived    = "purchase.received"
	EventBackordersAllocated = "backorders.allocated"
	EventPaymentRecorded     = "payment.recorded"
	EventOrderPaid           = "order.paid"
	EventStatusTransitioned  = "status.transitioned"
)
