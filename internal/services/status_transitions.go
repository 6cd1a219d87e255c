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

const (
	historyIDPrefix = "sh_"

	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
	maxBatchSubjects       = 500
)

// IsValidTransition reports whether the table declares from -> to. Unknown sources fail closed.
func IsValidTransition[S ~string](from, to S, allowed domain.Transitions[S]) bool {
	return allowed.Permits(from, to)
}

// ValidateTransition returns an InvalidStateTransitionError when from -> to is not declared.
func ValidateTransition[S ~string](statusType domain.StatusType, from, to S, allowed domain.Transitions[S]) error {
	if allowed.Permits(from, to) {
		return nil
	}
	next := allowed.Allowed(from)
	names := make([]string, 0, len(next))
	for _, state := range next {
		names = append(names, string(state))
	}
	return &InvalidStateTransitionError{
		StatusType: string(statusType),
		From:       string(from),
		To:         string(to),
		Allowed:    names,
	}
}

// StatusTransitionServiceDeps bundles the collaborators required to construct the transition service.
type StatusTransitionServiceDeps struct {
	Orders      repositories.OrderRepository
	LineItems   repositories.LineItemRepository
	History     repositories.StatusHistoryRepository
	UnitOfWork  repositories.UnitOfWork
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type statusTransitionService struct {
	orders    repositories.OrderRepository
	lineItems repositories.LineItemRepository
	history   repositories.StatusHistoryRepository
	uow       repositories.UnitOfWork
	events    EventPublisher
	clock     func() time.Time
	newID     func() string
	logger    eventLogger
}

// NewStatusTransitionService wires dependencies into a StatusTransitionService.
func NewStatusTransitionService(deps StatusTransitionServiceDeps) (StatusTransitionService, error) {
	if deps.Orders == nil {
		return nil, errors.New("status transition service: order repository is required")
	}
	if deps.LineItems == nil {
		return nil, errors.New("status transition service: line item repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("status transition service: status history repository is required")
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

	return &statusTransitionService{
		orders:    deps.Orders,
		lineItems: deps.LineItems,
		history:   deps.History,
		uow:       deps.UnitOfWork,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *statusTransitionService) RecordTransition(ctx context.Context, cmd RecordTransitionCommand) (StatusHistoryEntry, error) {
	if err := requireActor("record transition", cmd.Actor); err != nil {
		return StatusHistoryEntry{}, err
	}
	subjectID := strings.TrimSpace(cmd.SubjectID)
	if subjectID == "" {
		return StatusHistoryEntry{}, invalidInput("subject_id", "is required")
	}
	if !cmd.StatusType.Valid() {
		return StatusHistoryEntry{}, invalidInput("status_type", "is not supported")
	}
	kind := cmd.SubjectKind
	if kind == "" {
		kind = cmd.StatusType.SubjectKind()
	}

	entry := StatusHistoryEntry{
		ID:          historyIDPrefix + s.newID(),
		SubjectID:   subjectID,
		SubjectKind: kind,
		StatusType:  cmd.StatusType,
		FromStatus:  cmd.From,
		ToStatus:    cmd.To,
		ActorID:     cmd.Actor.ID,
		Note:        textutil.SanitizeNote(cmd.Note),
		CreatedAt:   s.clock(),
	}

	err := runInTx(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.history.Append(txCtx, entry); err != nil {
			return mapRepositoryError("status history", entry.ID, err)
		}
		publishAfterCommit(txCtx, s.events, s.logger, FulfillmentEvent{
			Type:       EventStatusTransitioned,
			SubjectID:  entry.SubjectID,
			ActorID:    entry.ActorID,
			OccurredAt: entry.CreatedAt,
			Attributes: map[string]any{
				"statusType": string(entry.StatusType),
				"from":       entry.FromStatus,
				"to":         entry.ToStatus,
			},
		})
		return nil
	})
	if err != nil {
		return StatusHistoryEntry{}, err
	}
	return entry, nil
}

func (s *statusTransitionService) Transition(ctx context.Context, cmd TransitionCommand) (TransitionOutcome, error) {
	if err := requireActor("transition", cmd.Actor); err != nil {
		return TransitionOutcome{}, err
	}
	subjectID := strings.TrimSpace(cmd.SubjectID)
	if subjectID == "" {
		return TransitionOutcome{}, invalidInput("subject_id", "is required")
	}
	if err := validateManualTarget(cmd.StatusType, cmd.To); err != nil {
		return TransitionOutcome{}, err
	}

	var outcome TransitionOutcome
	err := runInTx(ctx, s.uow, func(txCtx context.Context) error {
		var err error
		outcome, err = s.transitionSubject(txCtx, cmd.StatusType, subjectID, "", strings.TrimSpace(cmd.To), cmd.Actor, cmd.Note)
		return err
	})
	if err != nil {
		return TransitionOutcome{}, err
	}
	return outcome, nil
}

func (s *statusTransitionService) BatchTransition(ctx context.Context, cmd BatchTransitionCommand) ([]TransitionOutcome, error) {
	if err := requireActor("batch transition", cmd.Actor); err != nil {
		return nil, err
	}
	if len(cmd.SubjectIDs) == 0 {
		return nil, invalidInput("subject_ids", "must not be empty")
	}
	if len(cmd.SubjectIDs) > maxBatchSubjects {
		return nil, invalidInput("subject_ids", "exceeds batch limit")
	}
	if err := validateManualTarget(cmd.StatusType, cmd.To); err != nil {
		return nil, err
	}
	to := strings.TrimSpace(cmd.To)
	expected := strings.TrimSpace(cmd.ExpectedFrom)

	var outcomes []TransitionOutcome
	err := runInTx(ctx, s.uow, func(txCtx context.Context) error {
		outcomes = make([]TransitionOutcome, 0, len(cmd.SubjectIDs))
		for _, raw := range cmd.SubjectIDs {
			subjectID := strings.TrimSpace(raw)
			if subjectID == "" {
				outcomes = append(outcomes, TransitionOutcome{
					SubjectID: raw,
					Status:    OutcomeFailed,
					Reason:    ReasonNotFound,
					To:        to,
					Err:       invalidInput("subject_id", "is required"),
				})
				continue
			}
			outcome, err := s.transitionSubject(txCtx, cmd.StatusType, subjectID, expected, to, cmd.Actor, cmd.Note)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotFound):
				outcome = TransitionOutcome{SubjectID: subjectID, Status: OutcomeFailed, Reason: ReasonNotFound, To: to, Err: err}
			case errors.Is(err, ErrInvalidTransition):
				outcome.Status = OutcomeFailed
				outcome.Reason = ReasonInvalidStatus
				outcome.Err = err
			default:
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx, "status.batch.completed", map[string]any{
		"statusType": string(cmd.StatusType),
		"to":         to,
		"subjects":   len(outcomes),
	})
	return outcomes, nil
}

func (s *statusTransitionService) ListHistory(ctx context.Context, filter HistoryFilter) (domain.CursorPage[StatusHistoryEntry], error) {
	subjectID := strings.TrimSpace(filter.SubjectID)
	if subjectID == "" {
		return domain.CursorPage[StatusHistoryEntry]{}, invalidInput("subject_id", "is required")
	}
	if filter.StatusType != "" && !filter.StatusType.Valid() {
		return domain.CursorPage[StatusHistoryEntry]{}, invalidInput("status_type", "is not supported")
	}
	size := filter.PageSize
	switch {
	case size <= 0:
		size = defaultHistoryPageSize
	case size > maxHistoryPageSize:
		size = maxHistoryPageSize
	}

	page, err := s.history.List(ctx, repositories.StatusHistoryFilter{
		SubjectID:  subjectID,
		StatusType: string(filter.StatusType),
		PageSize:   size,
		PageToken:  strings.TrimSpace(filter.PageToken),
	})
	if err != nil {
		return domain.CursorPage[StatusHistoryEntry]{}, mapRepositoryError("status history", subjectID, err)
	}
	return page, nil
}

// transitionSubject loads the subject, applies the guarded change and records it.
// No-op and unexpected-source cases are reported as skipped outcomes, not errors.
func (s *statusTransitionService) transitionSubject(ctx context.Context, statusType domain.StatusType, subjectID, expectedFrom, to string, actor Actor, note string) (TransitionOutcome, error) {
	outcome := TransitionOutcome{SubjectID: subjectID, To: to}

	var (
		from  string
		apply func(now time.Time) error
	)
	switch statusType {
	case domain.StatusTypeShipping:
		order, err := s.orders.FindByID(ctx, subjectID)
		if err != nil {
			return outcome, mapRepositoryError("order", subjectID, err)
		}
		order = order.WithDefaults()
		from = string(order.ShippingStatus)
		apply = func(now time.Time) error {
			if err := ValidateTransition(statusType, order.ShippingStatus, domain.ShippingStatus(to), domain.ShippingTransitions); err != nil {
				return err
			}
			order.ShippingStatus = domain.ShippingStatus(to)
			order.UpdatedAt = now
			return mapRepositoryError("order", subjectID, s.orders.Update(ctx, order))
		}
	case domain.StatusTypeLineItem:
		item, err := s.lineItems.FindByID(ctx, subjectID)
		if err != nil {
			return outcome, mapRepositoryError("line item", subjectID, err)
		}
		item = item.WithDefaults()
		from = string(item.FulfillmentStatus)
		apply = func(now time.Time) error {
			if err := ValidateTransition(statusType, item.FulfillmentStatus, domain.FulfillmentStatus(to), domain.FulfillmentTransitions); err != nil {
				return err
			}
			item.FulfillmentStatus = domain.FulfillmentStatus(to)
			item.UpdatedAt = now
			return mapRepositoryError("line item", subjectID, s.lineItems.Update(ctx, item))
		}
	default:
		return outcome, invalidInput("status_type", "is not supported")
	}

	outcome.From = from
	if from == to {
		outcome.Status = OutcomeSkipped
		outcome.Reason = ReasonUnchangedStatus
		return outcome, nil
	}
	if expectedFrom != "" && from != expectedFrom {
		outcome.Status = OutcomeSkipped
		outcome.Reason = ReasonUnexpectedStatus
		return outcome, nil
	}

	if err := apply(s.clock()); err != nil {
		return outcome, err
	}
	entry, err := s.RecordTransition(ctx, RecordTransitionCommand{
		SubjectID:  subjectID,
		StatusType: statusType,
		From:       from,
		To:         to,
		Actor:      actor,
		Note:       note,
	})
	if err != nil {
		return outcome, err
	}
	outcome.Status = OutcomeApplied
	outcome.Entry = &entry
	return outcome, nil
}

// validateManualTarget limits what staff may set by hand. Payment status follows the
// payment ledger and line items only move to cancelled outside allocation.
func validateManualTarget(statusType domain.StatusType, to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return invalidInput("to", "is required")
	}
	switch statusType {
	case domain.StatusTypeShipping:
		return nil
	case domain.StatusTypePayment:
		return invalidInput("status_type", "payment status is driven by recorded payments")
	case domain.StatusTypeLineItem:
		if domain.FulfillmentStatus(to) != domain.FulfillmentCancelled {
			return invalidInput("to", "line items may only be cancelled manually")
		}
		return nil
	default:
		return invalidInput("status_type", "is not supported")
	}
}
