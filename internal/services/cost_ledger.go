package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

// CostLedgerDeps bundles the collaborators required to construct a cost ledger.
type CostLedgerDeps struct {
	StockItems repositories.StockItemRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type costLedger struct {
	stock  repositories.StockItemRepository
	uow    repositories.UnitOfWork
	clock  func() time.Time
	logger eventLogger
}

// NewCostLedger wires dependencies into a CostLedger.
func NewCostLedger(deps CostLedgerDeps) (CostLedger, error) {
	if deps.StockItems == nil {
		return nil, errors.New("cost ledger: stock item repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &costLedger{
		stock:  deps.StockItems,
		uow:    deps.UnitOfWork,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (l *costLedger) ApplyPurchase(ctx context.Context, cmd ApplyPurchaseCommand) (StockItem, error) {
	if err := requireActor("apply purchase", cmd.Actor); err != nil {
		return StockItem{}, err
	}
	sku := strings.TrimSpace(cmd.SKU)
	switch {
	case sku == "":
		return StockItem{}, invalidInput("sku", "is required")
	case cmd.Quantity < 0:
		return StockItem{}, invalidInput("quantity", "must not be negative")
	case cmd.UnitPrice < 0:
		return StockItem{}, invalidInput("unit_price", "must not be negative")
	case cmd.AllocatedShippingCost < 0:
		return StockItem{}, invalidInput("allocated_shipping_cost", "must not be negative")
	}

	var result StockItem
	err := runInTx(ctx, l.uow, func(txCtx context.Context) error {
		item, err := l.stock.FindBySKU(txCtx, sku)
		switch {
		case repositories.IsNotFound(err):
			item = StockItem{SKU: sku}
		case err != nil:
			return mapRepositoryError("stock item", sku, err)
		}

		if cmd.Quantity == 0 {
			result = item
			return nil
		}

		now := l.clock()
		unitCost, ok := domain.AddChecked(cmd.UnitPrice.Int64(), cmd.AllocatedShippingCost.Int64())
		if !ok {
			return invalidInput("unit_price", "plus allocated_shipping_cost overflows")
		}
		lineCost, ok := domain.MulQuantity(Money(unitCost), cmd.Quantity)
		if !ok {
			return invalidInput("quantity", "times landed unit cost overflows")
		}
		totalCost, ok := domain.AddChecked(item.TotalCostAmount.Int64(), lineCost.Int64())
		if !ok {
			return invalidInput("quantity", "pushes total cost amount past the supported range")
		}
		totalQuantity, ok := domain.AddChecked(item.TotalPurchasedQuantity, cmd.Quantity)
		if !ok {
			return invalidInput("quantity", "pushes total purchased quantity past the supported range")
		}
		item.TotalCostAmount = Money(totalCost)
		item.TotalPurchasedQuantity = totalQuantity
		item.AverageCost = averageCost(item.TotalCostAmount, item.TotalPurchasedQuantity)
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now

		if err := l.stock.Save(txCtx, item); err != nil {
			return mapRepositoryError("stock item", sku, err)
		}
		result = item
		return nil
	})
	if err != nil {
		return StockItem{}, err
	}

	if cmd.Quantity > 0 {
		l.logger(ctx, "cost_ledger.purchase.applied", map[string]any{
			"sku":          sku,
			"quantity":     cmd.Quantity,
			"average_cost": result.AverageCost.Int64(),
		})
	}
	return result, nil
}

func (l *costLedger) GetStockItem(ctx context.Context, sku string) (StockItem, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return StockItem{}, invalidInput("sku", "is required")
	}
	item, err := l.stock.FindBySKU(ctx, sku)
	if err != nil {
		return StockItem{}, mapRepositoryError("stock item", sku, err)
	}
	return item, nil
}

func averageCost(total Money, quantity int64) Money {
	if quantity <= 0 {
		return 0
	}
	return Money(domain.DivRoundHalfUp(total.Int64(), quantity))
}
