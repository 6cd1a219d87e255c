package services

import (
	"context"
	"errors"
	"slices"
	"testing"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

func TestValidateTransitionCarriesAllowedSet(t *testing.T) {
	err := ValidateTransition(domain.StatusTypeShipping, domain.ShippingPending, domain.ShippingDelivered, domain.ShippingTransitions)
	var invalid *InvalidStateTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
	if invalid.From != "pending" || invalid.To != "delivered" {
		t.Fatalf("unexpected edge %s -> %s", invalid.From, invalid.To)
	}
	if !slices.Equal(invalid.Allowed, []string{"processing", "cancelled"}) {
		t.Fatalf("unexpected allowed set %v", invalid.Allowed)
	}

	err = ValidateTransition(domain.StatusTypeShipping, domain.ShippingStatus("lost"), domain.ShippingPending, domain.ShippingTransitions)
	if !errors.As(err, &invalid) || len(invalid.Allowed) != 0 {
		t.Fatalf("expected unknown source to fail closed with empty allowed set, got %v", err)
	}
	if !IsValidTransition(domain.PaymentPending, domain.PaymentPaid, domain.PaymentTransitions) {
		t.Fatalf("expected pending -> paid to be valid")
	}
	if IsValidTransition(domain.PaymentPaid, domain.PaymentPartial, domain.PaymentTransitions) {
		t.Fatalf("expected paid -> partial to be invalid")
	}
}

func TestStatusTransitionServiceTransitionRecordsHistory(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_1", ShippingStatus: domain.ShippingPending})

	outcome, err := svc.transitions.Transition(context.Background(), TransitionCommand{
		SubjectID:  "ord_1",
		StatusType: domain.StatusTypeShipping,
		To:         "processing",
		Actor:      testActor,
		Note:       "<i>picked</i>",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if outcome.Status != OutcomeApplied || outcome.From != "pending" || outcome.To != "processing" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if got := svc.store.order("ord_1").ShippingStatus; got != domain.ShippingProcessing {
		t.Fatalf("expected order processing, got %s", got)
	}
	history := svc.store.historyFor("ord_1")
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	entry := history[0]
	if entry.ActorID != testActor.ID || entry.Note != "picked" || entry.SubjectKind != domain.SubjectOrder {
		t.Fatalf("unexpected history entry %+v", entry)
	}
	if !slices.Equal(svc.events.types(), []string{EventStatusTransitioned}) {
		t.Fatalf("unexpected events %v", svc.events.types())
	}
}

func TestStatusTransitionServiceRejectsInvalidTransition(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_1", ShippingStatus: domain.ShippingDelivered})

	_, err := svc.transitions.Transition(context.Background(), TransitionCommand{
		SubjectID:  "ord_1",
		StatusType: domain.StatusTypeShipping,
		To:         "processing",
		Actor:      testActor,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got := svc.store.order("ord_1").ShippingStatus; got != domain.ShippingDelivered {
		t.Fatalf("expected status unchanged, got %s", got)
	}
	if len(svc.store.historyFor("ord_1")) != 0 {
		t.Fatalf("expected no history")
	}
	if len(svc.events.types()) != 0 {
		t.Fatalf("expected no events, got %v", svc.events.types())
	}
}

func TestStatusTransitionServiceManualTargets(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_1", PaymentStatus: domain.PaymentPending},
		OrderLineItem{ID: "li_1", SKU: "S", Quantity: 2, IsBackorder: true, FulfillmentStatus: domain.FulfillmentPending})
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  TransitionCommand
		want error
	}{
		{name: "payment driven by ledger", cmd: TransitionCommand{SubjectID: "ord_1", StatusType: domain.StatusTypePayment, To: "paid", Actor: testActor}, want: ErrValidation},
		{name: "line item fulfil by hand", cmd: TransitionCommand{SubjectID: "li_1", StatusType: domain.StatusTypeLineItem, To: "fully_fulfilled", Actor: testActor}, want: ErrValidation},
		{name: "unknown status type", cmd: TransitionCommand{SubjectID: "ord_1", StatusType: "billing", To: "x", Actor: testActor}, want: ErrValidation},
		{name: "missing actor", cmd: TransitionCommand{SubjectID: "ord_1", StatusType: domain.StatusTypeShipping, To: "processing"}, want: ErrUnauthenticated},
		{name: "missing order", cmd: TransitionCommand{SubjectID: "ord_missing", StatusType: domain.StatusTypeShipping, To: "processing", Actor: testActor}, want: ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.transitions.Transition(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}

	outcome, err := svc.transitions.Transition(ctx, TransitionCommand{SubjectID: "li_1", StatusType: domain.StatusTypeLineItem, To: "cancelled", Actor: testActor})
	if err != nil {
		t.Fatalf("cancel line: %v", err)
	}
	if outcome.Status != OutcomeApplied || svc.store.lineItem("li_1").FulfillmentStatus != domain.FulfillmentCancelled {
		t.Fatalf("expected line cancelled, got %+v", outcome)
	}
	if entries := svc.store.historyFor("li_1"); len(entries) != 1 || entries[0].SubjectKind != domain.SubjectLineItem {
		t.Fatalf("expected line item history, got %+v", entries)
	}
}

func TestStatusTransitionServiceReadsUnsetStatusAsPending(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_legacy"},
		OrderLineItem{ID: "li_legacy", SKU: "S", Quantity: 2, IsBackorder: true})
	ctx := context.Background()

	cancelled, err := svc.transitions.Transition(ctx, TransitionCommand{SubjectID: "li_legacy", StatusType: domain.StatusTypeLineItem, To: "cancelled", Actor: testActor})
	if err != nil {
		t.Fatalf("cancel line with unset status: %v", err)
	}
	if cancelled.From != string(domain.FulfillmentPending) || svc.store.lineItem("li_legacy").FulfillmentStatus != domain.FulfillmentCancelled {
		t.Fatalf("unexpected cancel outcome %+v", cancelled)
	}

	shipped, err := svc.transitions.Transition(ctx, TransitionCommand{SubjectID: "ord_legacy", StatusType: domain.StatusTypeShipping, To: "processing", Actor: testActor})
	if err != nil {
		t.Fatalf("ship order with unset status: %v", err)
	}
	if shipped.From != string(domain.ShippingPending) || svc.store.order("ord_legacy").ShippingStatus != domain.ShippingProcessing {
		t.Fatalf("unexpected shipping outcome %+v", shipped)
	}
	if entries := svc.store.historyFor("li_legacy"); len(entries) != 1 || entries[0].FromStatus != string(domain.FulfillmentPending) {
		t.Fatalf("expected history from pending, got %+v", entries)
	}
}

func TestStatusTransitionServiceBatchTransition(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_a", ShippingStatus: domain.ShippingProcessing})
	svc.store.putOrder(Order{ID: "ord_b", ShippingStatus: domain.ShippingShipped})
	svc.store.putOrder(Order{ID: "ord_c", ShippingStatus: domain.ShippingPending})
	svc.store.putOrder(Order{ID: "ord_d", ShippingStatus: domain.ShippingCancelled})

	outcomes, err := svc.transitions.BatchTransition(context.Background(), BatchTransitionCommand{
		SubjectIDs: []string{"ord_b", "ord_missing", "ord_a", "ord_d", "ord_c"},
		StatusType: domain.StatusTypeShipping,
		To:         "shipped",
		Actor:      testActor,
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	want := []struct {
		id     string
		status OutcomeStatus
		reason string
	}{
		{"ord_b", OutcomeSkipped, ReasonUnchangedStatus},
		{"ord_missing", OutcomeFailed, ReasonNotFound},
		{"ord_a", OutcomeApplied, ""},
		{"ord_d", OutcomeFailed, ReasonInvalidStatus},
		{"ord_c", OutcomeFailed, ReasonInvalidStatus},
	}
	if len(outcomes) != len(want) {
		t.Fatalf("expected %d outcomes got %d", len(want), len(outcomes))
	}
	for i, w := range want {
		got := outcomes[i]
		if got.SubjectID != w.id || got.Status != w.status || got.Reason != w.reason {
			t.Fatalf("outcome %d: expected %s/%s/%q got %s/%s/%q", i, w.id, w.status, w.reason, got.SubjectID, got.Status, got.Reason)
		}
	}
	if !errors.Is(outcomes[1].Err, ErrNotFound) || !errors.Is(outcomes[3].Err, ErrInvalidTransition) {
		t.Fatalf("expected typed errors on failures, got %v / %v", outcomes[1].Err, outcomes[3].Err)
	}
	if outcomes[2].From != "processing" || outcomes[2].Entry == nil {
		t.Fatalf("expected applied outcome with prior status and entry, got %+v", outcomes[2])
	}

	if len(svc.store.historyFor("ord_b")) != 0 {
		t.Fatalf("skipped subject must not gain history")
	}
	if len(svc.store.historyFor("ord_a")) != 1 {
		t.Fatalf("applied subject must gain one history entry")
	}
	if got := svc.store.order("ord_c").ShippingStatus; got != domain.ShippingPending {
		t.Fatalf("invalid subject must stay pending, got %s", got)
	}
}

func TestStatusTransitionServiceBatchExpectedFrom(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_a", ShippingStatus: domain.ShippingPending})
	svc.store.putOrder(Order{ID: "ord_b", ShippingStatus: domain.ShippingProcessing})

	outcomes, err := svc.transitions.BatchTransition(context.Background(), BatchTransitionCommand{
		SubjectIDs:   []string{"ord_a", "ord_b"},
		StatusType:   domain.StatusTypeShipping,
		ExpectedFrom: "pending",
		To:           "cancelled",
		Actor:        testActor,
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if outcomes[0].Status != OutcomeApplied {
		t.Fatalf("expected ord_a applied, got %+v", outcomes[0])
	}
	if outcomes[1].Status != OutcomeSkipped || outcomes[1].Reason != ReasonUnexpectedStatus {
		t.Fatalf("expected ord_b skipped as unexpected, got %+v", outcomes[1])
	}
	if got := svc.store.order("ord_b").ShippingStatus; got != domain.ShippingProcessing {
		t.Fatalf("expected ord_b untouched, got %s", got)
	}
}

func TestStatusTransitionServiceBatchAbortsOnPersistenceFault(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_a", ShippingStatus: domain.ShippingPending})
	svc.store.putOrder(Order{ID: "ord_b", ShippingStatus: domain.ShippingPending})
	svc.store.historyErr = errors.New("disk full")

	_, err := svc.transitions.BatchTransition(context.Background(), BatchTransitionCommand{
		SubjectIDs: []string{"ord_a", "ord_b"},
		StatusType: domain.StatusTypeShipping,
		To:         "processing",
		Actor:      testActor,
	})
	if err == nil {
		t.Fatalf("expected persistence fault to abort batch")
	}
	if svc.store.order("ord_a").ShippingStatus != domain.ShippingPending {
		t.Fatalf("expected rollback of ord_a")
	}
	if len(svc.events.types()) != 0 {
		t.Fatalf("expected no events after rollback, got %v", svc.events.types())
	}
}

func TestStatusTransitionServiceListHistory(t *testing.T) {
	svc := newTestServices(t, nil)
	svc.store.putOrder(Order{ID: "ord_1", ShippingStatus: domain.ShippingPending})
	ctx := context.Background()
	for _, to := range []string{"processing", "shipped"} {
		if _, err := svc.transitions.Transition(ctx, TransitionCommand{SubjectID: "ord_1", StatusType: domain.StatusTypeShipping, To: to, Actor: testActor}); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	page, err := svc.transitions.ListHistory(ctx, HistoryFilter{SubjectID: "ord_1"})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ToStatus != "processing" || page.Items[1].ToStatus != "shipped" {
		t.Fatalf("unexpected history %+v", page.Items)
	}
	if _, err := svc.transitions.ListHistory(ctx, HistoryFilter{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing subject, got %v", err)
	}
}

func TestRecordTransitionAlwaysAppends(t *testing.T) {
	svc := newTestServices(t, nil)
	ctx := context.Background()
	cmd := RecordTransitionCommand{SubjectID: "ord_1", StatusType: domain.StatusTypeShipping, From: "pending", To: "pending", Actor: testActor}
	for range 2 {
		if _, err := svc.transitions.RecordTransition(ctx, cmd); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if n := len(svc.store.historyFor("ord_1")); n != 2 {
		t.Fatalf("expected two entries, got %d", n)
	}
	if _, err := svc.transitions.RecordTransition(ctx, RecordTransitionCommand{SubjectID: "ord_1", StatusType: domain.StatusTypeShipping}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}
