package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

// BackorderAllocatorDeps bundles the collaborators required to construct the allocator.
type BackorderAllocatorDeps struct {
	PurchaseLines repositories.PurchaseLineRepository
	LineItems     repositories.LineItemRepository
	Orders        repositories.OrderRepository
	StockItems    repositories.StockItemRepository
	Transitions   TransitionRecorder
	UnitOfWork    repositories.UnitOfWork
	Events        EventPublisher
	Metrics       AllocationMetrics
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type backorderAllocator struct {
	purchaseLines repositories.PurchaseLineRepository
	lineItems     repositories.LineItemRepository
	orders        repositories.OrderRepository
	stock         repositories.StockItemRepository
	transitions   TransitionRecorder
	uow           repositories.UnitOfWork
	events        EventPublisher
	metrics       AllocationMetrics
	clock         func() time.Time
	logger        eventLogger
}

// NewBackorderAllocator wires dependencies into a BackorderAllocator.
func NewBackorderAllocator(deps BackorderAllocatorDeps) (BackorderAllocator, error) {
	if deps.PurchaseLines == nil {
		return nil, errors.New("backorder allocator: purchase line repository is required")
	}
	if deps.LineItems == nil {
		return nil, errors.New("backorder allocator: line item repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("backorder allocator: order repository is required")
	}
	if deps.Transitions == nil {
		return nil, errors.New("backorder allocator: transition recorder is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &backorderAllocator{
		purchaseLines: deps.PurchaseLines,
		lineItems:     deps.LineItems,
		orders:        deps.Orders,
		stock:         deps.StockItems,
		transitions:   deps.Transitions,
		uow:           deps.UnitOfWork,
		events:        deps.Events,
		metrics:       deps.Metrics,
		clock:         func() time.Time { return clock().UTC() },
		logger:        logger,
	}, nil
}

func (a *backorderAllocator) AllocateBackorders(ctx context.Context, purchaseLineID string, actor Actor) (AllocationReport, error) {
	return a.AllocateToBackorders(ctx, AllocateCommand{PurchaseLineID: purchaseLineID, Actor: actor})
}

func (a *backorderAllocator) AllocateToBackorders(ctx context.Context, cmd AllocateCommand) (AllocationReport, error) {
	if err := requireActor("allocate to backorders", cmd.Actor); err != nil {
		return AllocationReport{}, err
	}
	purchaseLineID := strings.TrimSpace(cmd.PurchaseLineID)
	if purchaseLineID == "" {
		return AllocationReport{}, invalidInput("purchase_line_id", "is required")
	}

	var report AllocationReport
	err := runInTx(ctx, a.uow, func(txCtx context.Context) error {
		line, err := a.purchaseLines.FindByID(txCtx, purchaseLineID)
		if err != nil {
			return mapRepositoryError("purchase line", purchaseLineID, err)
		}
		report, err = a.allocate(txCtx, line, cmd.Filter, cmd.Actor)
		return err
	})
	if err != nil {
		return AllocationReport{}, err
	}
	return report, nil
}

type rankedCandidate struct {
	item  OrderLineItem
	order Order
}

// allocate runs the grant loop for an already loaded purchase line. It must run inside a transaction.
func (a *backorderAllocator) allocate(ctx context.Context, line PurchaseLine, filter AllocationFilter, actor Actor) (AllocationReport, error) {
	report := AllocationReport{
		PurchaseLineID:    line.ID,
		SKU:               line.SKU,
		AllocatedItems:    []AllocatedItem{},
		RemainingQuantity: line.Unallocated(),
	}
	if report.RemainingQuantity <= 0 || line.SKU == "" {
		return report, nil
	}

	// Reading the stock row inside the transaction serialises allocations of the same SKU.
	if a.stock != nil {
		if _, err := a.stock.FindBySKU(ctx, line.SKU); err != nil && !repositories.IsNotFound(err) {
			return AllocationReport{}, mapRepositoryError("stock item", line.SKU, err)
		}
	}

	candidates, err := a.rankCandidates(ctx, line.SKU, strings.TrimSpace(filter.StoreID))
	if err != nil {
		return AllocationReport{}, err
	}
	report.AllocationSummary.TotalCandidates = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	now := a.clock()
	remaining := report.RemainingQuantity
	allocatedOrders := make(map[string]struct{})
	var completedOrders []string
	fullyFulfilledLines := 0

	for _, candidate := range candidates {
		if remaining == 0 {
			break
		}
		item := candidate.item.WithDefaults()
		need := item.Quantity - item.FulfilledQuantity
		if need <= 0 {
			continue
		}
		grant := min(need, remaining)
		previousFulfilled := item.FulfilledQuantity
		previous := item.FulfillmentStatus

		item.FulfilledQuantity += grant
		remaining -= grant
		next := domain.FulfillmentPartiallyFulfilled
		if item.FulfilledQuantity == item.Quantity {
			next = domain.FulfillmentFullyFulfilled
			if previousFulfilled == 0 {
				item.LinkedPurchaseLineID = line.ID
			}
		}
		if next != previous {
			if err := ValidateTransition(domain.StatusTypeLineItem, previous, next, domain.FulfillmentTransitions); err != nil {
				return AllocationReport{}, err
			}
		}
		item.FulfillmentStatus = next
		item.UpdatedAt = now

		if err := a.lineItems.Update(ctx, item); err != nil {
			return AllocationReport{}, mapRepositoryError("line item", item.ID, err)
		}
		if next != previous {
			if _, err := a.transitions.RecordTransition(ctx, RecordTransitionCommand{
				SubjectID:   item.ID,
				SubjectKind: domain.SubjectLineItem,
				StatusType:  domain.StatusTypeLineItem,
				From:        string(previous),
				To:          string(next),
				Actor:       actor,
				Note:        fmt.Sprintf("allocated %d from purchase line %s", grant, line.ID),
			}); err != nil {
				return AllocationReport{}, err
			}
		}

		report.AllocatedItems = append(report.AllocatedItems, AllocatedItem{
			LineItemID:        item.ID,
			OrderID:           item.OrderID,
			Priority:          candidate.order.FulfillmentPriority,
			Granted:           grant,
			FulfilledQuantity: item.FulfilledQuantity,
			Quantity:          item.Quantity,
			PreviousStatus:    previous,
			Status:            next,
		})
		report.TotalAllocated += grant
		allocatedOrders[item.OrderID] = struct{}{}
		if next == domain.FulfillmentFullyFulfilled {
			if !slices.Contains(completedOrders, item.OrderID) {
				completedOrders = append(completedOrders, item.OrderID)
			}
			fullyFulfilledLines++
		}
	}

	fullyFulfilledOrders, err := a.countFullyFulfilledOrders(ctx, completedOrders)
	if err != nil {
		return AllocationReport{}, err
	}

	report.RemainingQuantity = remaining
	report.AllocationSummary.AllocatedOrdersCount = len(allocatedOrders)
	report.AllocationSummary.FullyFulfilledOrdersCount = fullyFulfilledOrders

	if report.TotalAllocated > 0 {
		line.AllocatedQuantity += report.TotalAllocated
		if err := a.purchaseLines.UpdateAllocated(ctx, line); err != nil {
			return AllocationReport{}, mapRepositoryError("purchase line", line.ID, err)
		}
		publishAfterCommit(ctx, a.events, a.logger, FulfillmentEvent{
			Type:       EventBackordersAllocated,
			SubjectID:  line.ID,
			SKU:        line.SKU,
			ActorID:    actor.ID,
			OccurredAt: now,
			Attributes: map[string]any{
				"totalAllocated":            report.TotalAllocated,
				"remainingQuantity":         report.RemainingQuantity,
				"allocatedOrdersCount":      report.AllocationSummary.AllocatedOrdersCount,
				"fullyFulfilledOrdersCount": report.AllocationSummary.FullyFulfilledOrdersCount,
			},
		})
		if a.metrics != nil {
			sku, units := line.SKU, report.TotalAllocated
			afterCommit(ctx, func(ctx context.Context) {
				a.metrics.RecordAllocation(ctx, sku, units, fullyFulfilledLines)
			})
		}
	}
	return report, nil
}

// countFullyFulfilledOrders counts the orders, among those that had a line completed in this run,
// that no longer wait on any backordered stock.
func (a *backorderAllocator) countFullyFulfilledOrders(ctx context.Context, orderIDs []string) (int, error) {
	count := 0
	for _, orderID := range orderIDs {
		items, err := a.lineItems.ListByOrder(ctx, orderID)
		if err != nil {
			return 0, mapRepositoryError("line item", orderID, err)
		}
		if !slices.ContainsFunc(items, OrderLineItem.IsAllocationCandidate) {
			count++
		}
	}
	return count, nil
}

// rankCandidates loads eligible lines and orders them by priority weight, order age,
// order ID and line ID.
func (a *backorderAllocator) rankCandidates(ctx context.Context, sku, storeID string) ([]rankedCandidate, error) {
	items, err := a.lineItems.ListBackorderCandidates(ctx, repositories.BackorderCandidateFilter{SKU: sku, StoreID: storeID})
	if err != nil {
		return nil, mapRepositoryError("line item", sku, err)
	}

	eligible := make([]OrderLineItem, 0, len(items))
	orderIDs := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if !item.IsAllocationCandidate() || item.SKU != sku {
			continue
		}
		if storeID != "" && item.StoreID != storeID {
			continue
		}
		eligible = append(eligible, item)
		if _, ok := seen[item.OrderID]; !ok {
			seen[item.OrderID] = struct{}{}
			orderIDs = append(orderIDs, item.OrderID)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	orders, err := a.orders.FindByIDs(ctx, orderIDs)
	if err != nil {
		return nil, mapRepositoryError("order", sku, err)
	}

	ranked := make([]rankedCandidate, 0, len(eligible))
	for _, item := range eligible {
		order, ok := orders[item.OrderID]
		if !ok {
			a.logger(ctx, "allocation.candidate.orphaned", map[string]any{
				"lineItemID": item.ID,
				"orderID":    item.OrderID,
			})
			continue
		}
		ranked = append(ranked, rankedCandidate{item: item, order: order.WithDefaults()})
	}

	slices.SortStableFunc(ranked, func(x, y rankedCandidate) int {
		if c := cmp.Compare(y.order.FulfillmentPriority.Weight(), x.order.FulfillmentPriority.Weight()); c != 0 {
			return c
		}
		if c := x.order.CreatedAt.Compare(y.order.CreatedAt); c != 0 {
			return c
		}
		if c := strings.Compare(x.order.ID, y.order.ID); c != 0 {
			return c
		}
		return strings.Compare(x.item.ID, y.item.ID)
	})
	return ranked, nil
}
