package domain

import "slices"

// StatusType discriminates which state machine a history entry belongs to.
type StatusType string

const (
	StatusTypeShipping StatusType = "shipping"
	StatusTypePayment  StatusType = "payment"
	StatusTypeLineItem StatusType = "line_item"
)

// SubjectKind identifies the entity a status transition applies to.
type SubjectKind string

const (
	SubjectOrder    SubjectKind = "order"
	SubjectLineItem SubjectKind = "line_item"
)

// SubjectKind returns the entity kind carrying this status dimension.
func (t StatusType) SubjectKind() SubjectKind {
	if t == StatusTypeLineItem {
		return SubjectLineItem
	}
	return SubjectOrder
}

// Valid reports whether t is one of the declared status dimensions.
func (t StatusType) Valid() bool {
	switch t {
	case StatusTypeShipping, StatusTypePayment, StatusTypeLineItem:
		return true
	default:
		return false
	}
}

// ShippingStatus tracks physical fulfilment of an order.
type ShippingStatus string

const (
	ShippingPending    ShippingStatus = "pending"
	ShippingProcessing ShippingStatus = "processing"
	ShippingShipped    ShippingStatus = "shipped"
	ShippingDelivered  ShippingStatus = "delivered"
	ShippingCancelled  ShippingStatus = "cancelled"
	ShippingReturned   ShippingStatus = "returned"
)

// PaymentStatus tracks how much of an order has been paid.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// FulfillmentStatus tracks how much of a line item has been allocated stock.
type FulfillmentStatus string

const (
	FulfillmentPending            FulfillmentStatus = "pending"
	FulfillmentPartiallyFulfilled FulfillmentStatus = "partially_fulfilled"
	FulfillmentFullyFulfilled     FulfillmentStatus = "fully_fulfilled"
	FulfillmentCancelled          FulfillmentStatus = "cancelled"
)

// Transitions is an adjacency table: each known state maps to the states it may move to.
// A state missing from the table has no outgoing transitions.
type Transitions[S ~string] map[S][]S

// Known reports whether from is declared in the table.
func (t Transitions[S]) Known(from S) bool {
	_, ok := t[from]
	return ok
}

// Allowed returns a copy of the successors declared for from.
func (t Transitions[S]) Allowed(from S) []S {
	return slices.Clone(t[from])
}

// Permits reports whether from -> to is declared. Unknown source states never permit anything.
func (t Transitions[S]) Permits(from, to S) bool {
	next, ok := t[from]
	if !ok {
		return false
	}
	return slices.Contains(next, to)
}

var (
	ShippingTransitions = Transitions[ShippingStatus]{
		ShippingPending:    {ShippingProcessing, ShippingCancelled},
		ShippingProcessing: {ShippingShipped, ShippingCancelled},
		ShippingShipped:    {ShippingDelivered, ShippingReturned},
		ShippingDelivered:  {ShippingReturned},
		ShippingCancelled:  {},
		ShippingReturned:   {},
	}

	// PaymentTransitions only move forward; refunds are handled outside this machine.
	PaymentTransitions = Transitions[PaymentStatus]{
		PaymentPending: {PaymentPartial, PaymentPaid},
		PaymentPartial: {PaymentPaid},
		PaymentPaid:    {},
	}

	FulfillmentTransitions = Transitions[FulfillmentStatus]{
		FulfillmentPending:            {FulfillmentPartiallyFulfilled, FulfillmentFullyFulfilled, FulfillmentCancelled},
		FulfillmentPartiallyFulfilled: {FulfillmentFullyFulfilled, FulfillmentCancelled},
		FulfillmentFullyFulfilled:     {},
		FulfillmentCancelled:          {},
	}
)

// FulfillmentPriority ranks backordered lines competing for the same stock.
type FulfillmentPriority string

const (
	PriorityLow    FulfillmentPriority = "low"
	PriorityNormal FulfillmentPriority = "normal"
	PriorityHigh   FulfillmentPriority = "high"
	PriorityUrgent FulfillmentPriority = "urgent"
)

// Weight orders priorities urgent > high > normal > low. Unknown values sort below low.
func (p FulfillmentPriority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a declared priority.
func (p FulfillmentPriority) Valid() bool { return p.Weight() > 0 }

// PaymentMethod enumerates the accepted ways of settling an order balance.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCardTerminal PaymentMethod = "card_terminal"
	PaymentMethodStripe       PaymentMethod = "stripe"
)

// Valid reports whether m is a declared payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCardTerminal, PaymentMethodStripe:
		return true
	default:
		return false
	}
}

// PaymentStatusFor derives the payment status from the paid and total amounts.
func PaymentStatusFor(paid, total Money) PaymentStatus {
	switch {
	case paid <= 0:
		return PaymentPending
	case paid < total:
		return PaymentPartial
	default:
		return PaymentPaid
	}
}
