package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

var (
	// ErrValidation signals malformed or out-of-range input.
	ErrValidation = errors.New("fulfillment: invalid input")
	// ErrNotFound signals a referenced SKU, order, line item or purchase line does not exist.
	ErrNotFound = errors.New("fulfillment: not found")
	// ErrInvalidTransition signals a status change that the adjacency table does not declare.
	ErrInvalidTransition = errors.New("fulfillment: invalid status transition")
	// ErrOverpayment signals a payment larger than the remaining balance.
	ErrOverpayment = errors.New("fulfillment: overpayment")
	// ErrUnauthenticated signals a mutation attempted without an actor.
	ErrUnauthenticated = errors.New("fulfillment: unauthenticated")
	// ErrConflict signals a concurrent or duplicate write.
	ErrConflict = errors.New("fulfillment: conflict")
	// ErrUnavailable signals a transient backend failure.
	ErrUnavailable = errors.New("fulfillment: repository unavailable")
	// ErrDuplicateReceipt accompanies the ValidationError for a replayed receipt ID.
	ErrDuplicateReceipt = errors.New("fulfillment: duplicate purchase receipt")
)

// ValidationError reports which field was rejected.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrNotFound, e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// InvalidStateTransitionError carries the rejected edge and what the source state permits.
// Allowed is empty when From is not a declared state.
type InvalidStateTransitionError struct {
	StatusType string
	From       string
	To         string
	Allowed    []string
}

func (e *InvalidStateTransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf("%s: %s %q -> %q (allowed: %s)", ErrInvalidTransition, e.StatusType, e.From, e.To, allowed)
}

func (e *InvalidStateTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// OverpaymentError carries the balance that was still open when the payment was rejected.
type OverpaymentError struct {
	OrderID   string
	Amount    Money
	Remaining Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s: order %q amount %s exceeds remaining %s", ErrOverpayment, e.OrderID, e.Amount, e.Remaining)
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }

// UnauthenticatedError names the operation that required an actor.
type UnauthenticatedError struct {
	Operation string
}

func (e *UnauthenticatedError) Error() string {
	return fmt.Sprintf("%s: %s requires an actor", ErrUnauthenticated, e.Operation)
}

func (e *UnauthenticatedError) Is(target error) bool { return target == ErrUnauthenticated }

func invalidInput(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func requireActor(operation string, actor Actor) error {
	if actor.IsZero() {
		return &UnauthenticatedError{Operation: operation}
	}
	return nil
}

// mapRepositoryError translates storage failures into the service taxonomy.
func mapRepositoryError(entity, id string, err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return &NotFoundError{Entity: entity, ID: id, Err: err}
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	return err
}
