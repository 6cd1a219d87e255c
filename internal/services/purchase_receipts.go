package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

const purchaseLineIDPrefix = "pl_"

var purchaseLineNamespace = uuid.MustParse("5b0d7c4e-2f8a-4c61-9e3b-7a1f0c9d2e64")

// PurchaseReceiptServiceDeps bundles the collaborators required to construct the receipt service.
type PurchaseReceiptServiceDeps struct {
	PurchaseLines  repositories.PurchaseLineRepository
	CostLedger     CostLedger
	Allocator      BackorderAllocator
	UnitOfWork     repositories.UnitOfWork
	Events         EventPublisher
	DefaultStoreID string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type purchaseReceiptService struct {
	purchaseLines  repositories.PurchaseLineRepository
	costLedger     CostLedger
	allocator      BackorderAllocator
	uow            repositories.UnitOfWork
	events         EventPublisher
	defaultStoreID string
	clock          func() time.Time
	logger         eventLogger
}

// NewPurchaseReceiptService wires dependencies into a PurchaseReceiptService.
func NewPurchaseReceiptService(deps PurchaseReceiptServiceDeps) (PurchaseReceiptService, error) {
	if deps.PurchaseLines == nil {
		return nil, errors.New("purchase receipt service: purchase line repository is required")
	}
	if deps.CostLedger == nil {
		return nil, errors.New("purchase receipt service: cost ledger is required")
	}
	if deps.Allocator == nil {
		return nil, errors.New("purchase receipt service: allocator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &purchaseReceiptService{
		purchaseLines:  deps.PurchaseLines,
		costLedger:     deps.CostLedger,
		allocator:      deps.Allocator,
		uow:            deps.UnitOfWork,
		events:         deps.Events,
		defaultStoreID: strings.TrimSpace(deps.DefaultStoreID),
		clock:          func() time.Time { return clock().UTC() },
		logger:         logger,
	}, nil
}

func (s *purchaseReceiptService) ReceivePurchase(ctx context.Context, cmd ReceivePurchaseCommand) (ReceiptResult, error) {
	if err := requireActor("receive purchase", cmd.Actor); err != nil {
		return ReceiptResult{}, err
	}
	receiptID := strings.TrimSpace(cmd.ReceiptID)
	sku := strings.TrimSpace(cmd.SKU)
	switch {
	case receiptID == "":
		return ReceiptResult{}, invalidInput("receipt_id", "is required")
	case sku == "":
		return ReceiptResult{}, invalidInput("sku", "is required")
	case cmd.Quantity <= 0:
		return ReceiptResult{}, invalidInput("quantity", "must be positive")
	case cmd.UnitPrice < 0:
		return ReceiptResult{}, invalidInput("unit_price", "must not be negative")
	case cmd.AllocatedShippingCost < 0:
		return ReceiptResult{}, invalidInput("allocated_shipping_cost", "must not be negative")
	}
	storeID := strings.TrimSpace(cmd.StoreID)
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	line := PurchaseLine{
		ID:                    PurchaseLineID(receiptID, sku),
		ReceiptID:             receiptID,
		SKU:                   sku,
		StoreID:               storeID,
		Supplier:              strings.TrimSpace(cmd.Supplier),
		Quantity:              cmd.Quantity,
		UnitPrice:             cmd.UnitPrice,
		AllocatedShippingCost: cmd.AllocatedShippingCost,
		ReceivedBy:            cmd.Actor.ID,
		ReceivedAt:            s.clock(),
	}

	var result ReceiptResult
	err := runInTx(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.purchaseLines.Insert(txCtx, line); err != nil {
			if repositories.IsConflict(err) {
				return &ValidationError{Field: "receipt_id", Reason: "has already been received for this sku", Err: ErrDuplicateReceipt}
			}
			return mapRepositoryError("purchase line", line.ID, err)
		}

		stock, err := s.costLedger.ApplyPurchase(txCtx, ApplyPurchaseCommand{
			SKU:                   sku,
			Quantity:              line.Quantity,
			UnitPrice:             line.UnitPrice,
			AllocatedShippingCost: line.AllocatedShippingCost,
			Actor:                 cmd.Actor,
		})
		if err != nil {
			return err
		}

		report, err := s.allocator.AllocateToBackorders(txCtx, AllocateCommand{
			PurchaseLineID: line.ID,
			Filter:         AllocationFilter{StoreID: storeID},
			Actor:          cmd.Actor,
		})
		if err != nil {
			return err
		}

		received := line
		received.AllocatedQuantity = report.TotalAllocated
		result = ReceiptResult{PurchaseLine: received, StockItem: stock, Allocation: report}
		publishAfterCommit(txCtx, s.events, s.logger, FulfillmentEvent{
			Type:       EventPurchaseReceived,
			SubjectID:  line.ID,
			SKU:        sku,
			ActorID:    cmd.Actor.ID,
			OccurredAt: line.ReceivedAt,
			Attributes: map[string]any{
				"receiptID":      receiptID,
				"storeID":        storeID,
				"quantity":       line.Quantity,
				"averageCost":    stock.AverageCost.Int64(),
				"totalAllocated": report.TotalAllocated,
			},
		})
		return nil
	})
	if err != nil {
		return ReceiptResult{}, err
	}

	s.logger(ctx, "purchase.received", map[string]any{
		"purchaseLineID": line.ID,
		"sku":            sku,
		"quantity":       line.Quantity,
		"totalAllocated": result.Allocation.TotalAllocated,
		"remaining":      result.Allocation.RemainingQuantity,
	})
	return result, nil
}

// PurchaseLineID derives the stable identifier of a receipt line so redelivered receipts collide.
// Distinct (receipt, sku) pairs map to distinct IDs whatever characters they contain.
func PurchaseLineID(receiptID, sku string) string {
	name := strings.TrimSpace(receiptID) + "\x00" + strings.TrimSpace(sku)
	return purchaseLineIDPrefix + uuid.NewSHA1(purchaseLineNamespace, []byte(name)).String()
}
