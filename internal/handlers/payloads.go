package handlers

import (
	"time"

	"golang.org/x/text/language"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/services"
)

type stockItemPayload struct {
	SKU                    string `json:"sku"`
	AverageCostCents       int64  `json:"average_cost_cents"`
	AverageCostDisplay     string `json:"average_cost_display"`
	TotalPurchasedQuantity int64  `json:"total_purchased_quantity"`
	TotalCostAmountCents   int64  `json:"total_cost_amount_cents"`
	TotalCostAmountDisplay string `json:"total_cost_amount_display"`
	UpdatedAt              string `json:"updated_at,omitempty"`
}

type purchaseLinePayload struct {
	ID                           string `json:"id"`
	ReceiptID                    string `json:"receipt_id"`
	SKU                          string `json:"sku"`
	StoreID                      string `json:"store_id,omitempty"`
	Supplier                     string `json:"supplier,omitempty"`
	Quantity                     int64  `json:"quantity"`
	AllocatedQuantity            int64  `json:"allocated_quantity"`
	UnitPriceCents               int64  `json:"unit_price_cents"`
	UnitPriceDisplay             string `json:"unit_price_display"`
	AllocatedShippingCostCents   int64  `json:"allocated_shipping_cost_cents"`
	AllocatedShippingCostDisplay string `json:"allocated_shipping_cost_display"`
	UnitLandedCostCents          int64  `json:"unit_landed_cost_cents"`
	UnitLandedCostDisplay        string `json:"unit_landed_cost_display"`
	ReceivedBy                   string `json:"received_by"`
	ReceivedAt                   string `json:"received_at"`
}

type allocatedItemPayload struct {
	LineItemID        string `json:"line_item_id"`
	OrderID           string `json:"order_id"`
	Priority          string `json:"priority"`
	Granted           int64  `json:"granted"`
	FulfilledQuantity int64  `json:"fulfilled_quantity"`
	Quantity          int64  `json:"quantity"`
	PreviousStatus    string `json:"previous_status"`
	Status            string `json:"status"`
}

type allocationSummaryPayload struct {
	TotalCandidates           int `json:"total_candidates"`
	AllocatedOrdersCount      int `json:"allocated_orders_count"`
	FullyFulfilledOrdersCount int `json:"fully_fulfilled_orders_count"`
}

type allocationReportPayload struct {
	PurchaseLineID    string                   `json:"purchase_line_id"`
	SKU               string                   `json:"sku"`
	AllocatedItems    []allocatedItemPayload   `json:"allocated_items"`
	TotalAllocated    int64                    `json:"total_allocated"`
	RemainingQuantity int64                    `json:"remaining_quantity"`
	AllocationSummary allocationSummaryPayload `json:"allocation_summary"`
}

type receiptResponse struct {
	PurchaseLine purchaseLinePayload     `json:"purchase_line"`
	StockItem    stockItemPayload        `json:"stock_item"`
	Allocation   allocationReportPayload `json:"allocation"`
}

type orderPayload struct {
	ID                  string `json:"id"`
	StoreID             string `json:"store_id,omitempty"`
	GrandTotalCents     int64  `json:"grand_total_cents"`
	GrandTotalDisplay   string `json:"grand_total_display"`
	PaidAmountCents     int64  `json:"paid_amount_cents"`
	PaidAmountDisplay   string `json:"paid_amount_display"`
	RemainingCents      int64  `json:"remaining_cents"`
	RemainingDisplay    string `json:"remaining_display"`
	PaymentStatus       string `json:"payment_status"`
	ShippingStatus      string `json:"shipping_status"`
	FulfillmentPriority string `json:"fulfillment_priority"`
	PaidAt              string `json:"paid_at,omitempty"`
}

type paymentRecordPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	AmountCents   int64  `json:"amount_cents"`
	AmountDisplay string `json:"amount_display"`
	Method        string `json:"method"`
	Reference     string `json:"reference,omitempty"`
	Note          string `json:"note,omitempty"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

type paymentResponse struct {
	Order          orderPayload         `json:"order"`
	Payment        paymentRecordPayload `json:"payment"`
	PaymentCount   int                  `json:"payment_count"`
	PreviousStatus string               `json:"previous_status"`
}

type paymentListResponse struct {
	Items []paymentRecordPayload `json:"items"`
}

type historyEntryPayload struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subject_id"`
	SubjectKind string `json:"subject_kind"`
	StatusType  string `json:"status_type"`
	FromStatus  string `json:"from_status,omitempty"`
	ToStatus    string `json:"to_status"`
	ActorID     string `json:"actor_id"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type historyListResponse struct {
	Items         []historyEntryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type transitionOutcomePayload struct {
	SubjectID string               `json:"subject_id"`
	Status    string               `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	From      string               `json:"from,omitempty"`
	To        string               `json:"to"`
	Entry     *historyEntryPayload `json:"entry,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type batchTransitionResponse struct {
	Outcomes []transitionOutcomePayload `json:"outcomes"`
	Applied  int                        `json:"applied"`
	Skipped  int                        `json:"skipped"`
	Failed   int                        `json:"failed"`
}

func buildStockItemPayload(item domain.StockItem, tag language.Tag) stockItemPayload {
	return stockItemPayload{
		SKU:                    item.SKU,
		AverageCostCents:       item.AverageCost.Int64(),
		AverageCostDisplay:     domain.FormatDisplay(item.AverageCost, tag),
		TotalPurchasedQuantity: item.TotalPurchasedQuantity,
		TotalCostAmountCents:   item.TotalCostAmount.Int64(),
		TotalCostAmountDisplay: domain.FormatDisplay(item.TotalCostAmount, tag),
		UpdatedAt:              formatTime(item.UpdatedAt),
	}
}

func buildPurchaseLinePayload(line domain.PurchaseLine, tag language.Tag) purchaseLinePayload {
	return purchaseLinePayload{
		ID:                           line.ID,
		ReceiptID:                    line.ReceiptID,
		SKU:                          line.SKU,
		StoreID:                      line.StoreID,
		Supplier:                     line.Supplier,
		Quantity:                     line.Quantity,
		AllocatedQuantity:            line.AllocatedQuantity,
		UnitPriceCents:               line.UnitPrice.Int64(),
		UnitPriceDisplay:             domain.FormatDisplay(line.UnitPrice, tag),
		AllocatedShippingCostCents:   line.AllocatedShippingCost.Int64(),
		AllocatedShippingCostDisplay: domain.FormatDisplay(line.AllocatedShippingCost, tag),
		UnitLandedCostCents:          line.UnitLandedCost().Int64(),
		UnitLandedCostDisplay:        domain.FormatDisplay(line.UnitLandedCost(), tag),
		ReceivedBy:                   line.ReceivedBy,
		ReceivedAt:                   formatTime(line.ReceivedAt),
	}
}

func buildAllocationReportPayload(report services.AllocationReport) allocationReportPayload {
	items := make([]allocatedItemPayload, 0, len(report.AllocatedItems))
	for _, item := range report.AllocatedItems {
		items = append(items, allocatedItemPayload{
			LineItemID:        item.LineItemID,
			OrderID:           item.OrderID,
			Priority:          string(item.Priority),
			Granted:           item.Granted,
			FulfilledQuantity: item.FulfilledQuantity,
			Quantity:          item.Quantity,
			PreviousStatus:    string(item.PreviousStatus),
			Status:            string(item.Status),
		})
	}
	return allocationReportPayload{
		PurchaseLineID:    report.PurchaseLineID,
		SKU:               report.SKU,
		AllocatedItems:    items,
		TotalAllocated:    report.TotalAllocated,
		RemainingQuantity: report.RemainingQuantity,
		AllocationSummary: allocationSummaryPayload{
			TotalCandidates:           report.AllocationSummary.TotalCandidates,
			AllocatedOrdersCount:      report.AllocationSummary.AllocatedOrdersCount,
			FullyFulfilledOrdersCount: report.AllocationSummary.FullyFulfilledOrdersCount,
		},
	}
}

func buildOrderPayload(order domain.Order, tag language.Tag) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		StoreID:             order.StoreID,
		GrandTotalCents:     order.GrandTotal.Int64(),
		GrandTotalDisplay:   domain.FormatDisplay(order.GrandTotal, tag),
		PaidAmountCents:     order.PaidAmount.Int64(),
		PaidAmountDisplay:   domain.FormatDisplay(order.PaidAmount, tag),
		RemainingCents:      order.Remaining().Int64(),
		RemainingDisplay:    domain.FormatDisplay(order.Remaining(), tag),
		PaymentStatus:       string(order.PaymentStatus),
		ShippingStatus:      string(order.ShippingStatus),
		FulfillmentPriority: string(order.FulfillmentPriority),
	}
	if order.PaidAt != nil {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	return payload
}

func buildPaymentRecordPayload(record domain.PaymentRecord, tag language.Tag) paymentRecordPayload {
	return paymentRecordPayload{
		ID:            record.ID,
		OrderID:       record.OrderID,
		AmountCents:   record.Amount.Int64(),
		AmountDisplay: domain.FormatDisplay(record.Amount, tag),
		Method:        string(record.Method),
		Reference:     record.Reference,
		Note:          record.Note,
		CreatedBy:     record.CreatedBy,
		CreatedAt:     formatTime(record.CreatedAt),
	}
}

func buildHistoryEntryPayload(entry domain.StatusHistoryEntry) historyEntryPayload {
	return historyEntryPayload{
		ID:          entry.ID,
		SubjectID:   entry.SubjectID,
		SubjectKind: string(entry.SubjectKind),
		StatusType:  string(entry.StatusType),
		FromStatus:  entry.FromStatus,
		ToStatus:    entry.ToStatus,
		ActorID:     entry.ActorID,
		Note:        entry.Note,
		CreatedAt:   formatTime(entry.CreatedAt),
	}
}

func buildTransitionOutcomePayload(outcome services.TransitionOutcome) transitionOutcomePayload {
	payload := transitionOutcomePayload{
		SubjectID: outcome.SubjectID,
		Status:    string(outcome.Status),
		Reason:    outcome.Reason,
		From:      outcome.From,
		To:        outcome.To,
	}
	if outcome.Entry != nil {
		entry := buildHistoryEntryPayload(*outcome.Entry)
		payload.Entry = &entry
	}
	if outcome.Err != nil {
		payload.Error = outcome.Err.Error()
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
