package repositories

import (
	"context"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	StockItems() StockItemRepository
	Orders() OrderRepository
	LineItems() LineItemRepository
	PurchaseLines() PurchaseLineRepository
	PaymentRecords() PaymentRecordRepository
	StatusHistory() StatusHistoryRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary.
// A call made with a context that already carries a transaction joins it.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StockItemRepository persists the per-SKU cost basis.
type StockItemRepository interface {
	// FindBySKU returns a RepositoryError with IsNotFound when the SKU has never been purchased.
	// Inside a transaction the read locks the SKU so concurrent allocations serialise.
	FindBySKU(ctx context.Context, sku string) (domain.StockItem, error)
	Save(ctx context.Context, item domain.StockItem) error
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByIDs(ctx context.Context, orderIDs []string) (map[string]domain.Order, error)
}

// LineItemRepository persists order line items.
type LineItemRepository interface {
	Insert(ctx context.Context, item domain.OrderLineItem) error
	Update(ctx context.Context, item domain.OrderLineItem) error
	FindByID(ctx context.Context, lineItemID string) (domain.OrderLineItem, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLineItem, error)
	// ListBackorderCandidates returns backordered lines for the SKU that still need stock.
	ListBackorderCandidates(ctx context.Context, filter BackorderCandidateFilter) ([]domain.OrderLineItem, error)
}

// PurchaseLineRepository persists purchase lines.
type PurchaseLineRepository interface {
	// Insert fails with a conflict RepositoryError when the ID already exists.
	Insert(ctx context.Context, line domain.PurchaseLine) error
	FindByID(ctx context.Context, purchaseLineID string) (domain.PurchaseLine, error)
	// UpdateAllocated stores line.AllocatedQuantity. Every other field is left as inserted.
	UpdateAllocated(ctx context.Context, line domain.PurchaseLine) error
}

// PaymentRecordRepository persists the append-only payment ledger.
type PaymentRecordRepository interface {
	Insert(ctx context.Context, record domain.PaymentRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error)
}

// StatusHistoryRepository persists the append-only transition audit trail.
type StatusHistoryRepository interface {
	Append(ctx context.Context, entry domain.StatusHistoryEntry) error
	List(ctx context.Context, filter StatusHistoryFilter) (domain.CursorPage[domain.StatusHistoryEntry], error)
}

// HealthRepository reports readiness of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// BackorderCandidateFilter scopes the allocation candidate query.
type BackorderCandidateFilter struct {
	SKU     string
	StoreID string
}

// StatusHistoryFilter narrows history listings. Entries are returned oldest first.
type StatusHistoryFilter struct {
	SubjectID  string
	StatusType string
	PageSize   int
	PageToken  string
}
