package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/textutil"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const paymentIDPrefix = "pay_"

// PaymentLedgerDeps bundles the collaborators required to construct a payment ledger.
type PaymentLedgerDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRecordRepository
	Transitions TransitionRecorder
	UnitOfWork  repositories.UnitOfWork
	Verifier    PaymentVerifier
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentLedger struct {
	orders      repositories.OrderRepository
	payments    repositories.PaymentRecordRepository
	transitions TransitionRecorder
	uow         repositories.UnitOfWork
	verifier    PaymentVerifier
	events      EventPublisher
	clock       func() time.Time
	newID       func() string
	logger      eventLogger
}

// NewPaymentLedger wires dependencies into a PaymentLedger.
func NewPaymentLedger(deps PaymentLedgerDeps) (PaymentLedger, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment ledger: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment ledger: payment record repository is required")
	}
	if deps.Transitions == nil {
		return nil, errors.New("payment ledger: transition recorder is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &paymentLedger{
		orders:      deps.Orders,
		payments:    deps.Payments,
		transitions: deps.Transitions,
		uow:         deps.UnitOfWork,
		verifier:    deps.Verifier,
		events:      deps.Events,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
	}, nil
}

func (l *paymentLedger) AddPartialPayment(ctx context.Context, cmd AddPaymentCommand) (PaymentResult, error) {
	if err := requireActor("add partial payment", cmd.Actor); err != nil {
		return PaymentResult{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	reference := strings.TrimSpace(cmd.Reference)
	switch {
	case orderID == "":
		return PaymentResult{}, invalidInput("order_id", "is required")
	case cmd.Amount <= 0:
		return PaymentResult{}, invalidInput("amount", "must be positive")
	case !cmd.Method.Valid():
		return PaymentResult{}, invalidInput("method", "is not supported")
	case cmd.Method == domain.PaymentMethodStripe && reference == "":
		return PaymentResult{}, invalidInput("reference", "is required for stripe payments")
	}

	if l.verifier != nil && reference != "" {
		if err := l.verifier.VerifyPayment(ctx, PaymentVerification{
			OrderID:   orderID,
			Method:    cmd.Method,
			Reference: reference,
			Amount:    cmd.Amount,
		}); err != nil {
			return PaymentResult{}, err
		}
	}

	var result PaymentResult
	err := runInTx(ctx, l.uow, func(txCtx context.Context) error {
		order, err := l.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError("order", orderID, err)
		}
		order = order.WithDefaults()

		remaining := order.Remaining()
		if cmd.Amount > remaining {
			return &OverpaymentError{OrderID: orderID, Amount: cmd.Amount, Remaining: remaining}
		}

		existing, err := l.payments.ListByOrder(txCtx, orderID)
		if err != nil {
			return mapRepositoryError("payment record", orderID, err)
		}
		if reference != "" {
			for _, prior := range existing {
				if prior.Method == cmd.Method && prior.Reference == reference {
					return invalidInput("reference", "has already been recorded for this order")
				}
			}
		}

		now := l.clock()
		record := PaymentRecord{
			ID:        paymentIDPrefix + l.newID(),
			OrderID:   orderID,
			Amount:    cmd.Amount,
			Method:    cmd.Method,
			Reference: reference,
			Note:      textutil.SanitizeNote(cmd.Note),
			CreatedBy: cmd.Actor.ID,
			CreatedAt: now,
		}

		previous := order.PaymentStatus
		order.PaidAmount += cmd.Amount
		next := domain.PaymentStatusFor(order.PaidAmount, order.GrandTotal)
		if next != previous {
			if err := ValidateTransition(domain.StatusTypePayment, previous, next, domain.PaymentTransitions); err != nil {
				return err
			}
			order.PaymentStatus = next
			if next == domain.PaymentPaid && order.PaidAt == nil {
				paidAt := now
				order.PaidAt = &paidAt
			}
		}
		order.UpdatedAt = now

		if err := l.payments.Insert(txCtx, record); err != nil {
			return mapRepositoryError("payment record", record.ID, err)
		}
		if err := l.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError("order", orderID, err)
		}
		if next != previous {
			if _, err := l.transitions.RecordTransition(txCtx, RecordTransitionCommand{
				SubjectID:   orderID,
				SubjectKind: domain.SubjectOrder,
				StatusType:  domain.StatusTypePayment,
				From:        string(previous),
				To:          string(next),
				Actor:       cmd.Actor,
				Note:        cmd.Note,
			}); err != nil {
				return err
			}
		}

		result = PaymentResult{
			Order:          order,
			Record:         record,
			PaymentCount:   len(existing) + 1,
			PreviousStatus: previous,
		}

		publishAfterCommit(txCtx, l.events, l.logger, FulfillmentEvent{
			Type:       EventPaymentRecorded,
			SubjectID:  record.ID,
			OrderID:    orderID,
			ActorID:    cmd.Actor.ID,
			OccurredAt: now,
			Attributes: map[string]any{
				"amount":        record.Amount.Int64(),
				"method":        string(record.Method),
				"paidAmount":    order.PaidAmount.Int64(),
				"paymentStatus": string(order.PaymentStatus),
			},
		})
		if next == domain.PaymentPaid && previous != domain.PaymentPaid {
			publishAfterCommit(txCtx, l.events, l.logger, FulfillmentEvent{
				Type:       EventOrderPaid,
				SubjectID:  orderID,
				OrderID:    orderID,
				ActorID:    cmd.Actor.ID,
				OccurredAt: now,
				Attributes: map[string]any{"grandTotal": order.GrandTotal.Int64()},
			})
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	l.logger(ctx, "payment.recorded", map[string]any{
		"orderID":       orderID,
		"amount":        cmd.Amount.Int64(),
		"paymentStatus": string(result.Order.PaymentStatus),
	})
	return result, nil
}

func (l *paymentLedger) ListPayments(ctx context.Context, orderID string) ([]PaymentRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, invalidInput("order_id", "is required")
	}
	if _, err := l.orders.FindByID(ctx, orderID); err != nil {
		return nil, mapRepositoryError("order", orderID, err)
	}
	records, err := l.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError("payment record", orderID, err)
	}
	return records, nil
}
