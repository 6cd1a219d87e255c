// Package firestore implements the repository registry on Cloud Firestore.
//
// Every write inside RunInTx is buffered in a pfirestore.Session and applied when the transaction
// function returns, which lets services freely interleave reads and writes. Reads of stock items
// inside a transaction register the document in the read set, so two allocations for one SKU
// conflict and one of them is retried by Firestore.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	stockItemsCollection     = "stockItems"
	ordersCollection         = "orders"
	lineItemsCollection      = "orderLineItems"
	purchaseLinesCollection  = "purchaseLines"
	paymentRecordsCollection = "paymentRecords"
	statusHistoryCollection  = "statusHistory"
)

// HealthCollection is the collection a readiness ping reads to prove the store is reachable.
const HealthCollection = stockItemsCollection

// Store implements repositories.Registry.
type Store struct {
	provider *pfirestore.Provider
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// StoreOption customises the Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	checks []repositories.DependencyCheck
}

// WithHealthChecks adds readiness checks reported alongside Firestore, e.g. the event broker.
func WithHealthChecks(checks ...repositories.DependencyCheck) StoreOption {
	return func(o *storeOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// NewStore wires the repositories to the provider.
func NewStore(provider *pfirestore.Provider, opts ...StoreOption) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store: provider is required")
	}
	var options storeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, options.checks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Store{provider: provider, health: health}, nil
}

// Close releases the Firestore client.
func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

// RunInTx runs fn in a Firestore transaction. Firestore may call fn more than once on contention.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.provider.RunTransaction(ctx, func(ctx context.Context, _ *pfirestore.Session) error {
		return fn(ctx)
	})
}

func (s *Store) StockItems() repositories.StockItemRepository {
	return stockItemRepository{docs: newCollection[stockItemDocument](s.provider, stockItemsCollection, "stock item")}
}

func (s *Store) Orders() repositories.OrderRepository {
	return orderRepository{docs: newCollection[orderDocument](s.provider, ordersCollection, "order")}
}

func (s *Store) LineItems() repositories.LineItemRepository {
	return lineItemRepository{docs: newCollection[lineItemDocument](s.provider, lineItemsCollection, "line item")}
}

func (s *Store) PurchaseLines() repositories.PurchaseLineRepository {
	return purchaseLineRepository{docs: newCollection[purchaseLineDocument](s.provider, purchaseLinesCollection, "purchase line")}
}

func (s *Store) PaymentRecords() repositories.PaymentRecordRepository {
	return paymentRecordRepository{docs: newCollection[paymentRecordDocument](s.provider, paymentRecordsCollection, "payment record")}
}

func (s *Store) StatusHistory() repositories.StatusHistoryRepository {
	return statusHistoryRepository{docs: newCollection[statusHistoryDocument](s.provider, statusHistoryCollection, "status history")}
}

func (s *Store) Health() repositories.HealthRepository {
	return s.health
}
