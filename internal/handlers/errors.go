package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/platform/pagination"
	"github.com/hanko-field/fulfillment/internal/services"
)

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		httpErr      httpx.Error
		validation   *services.ValidationError
		notFound     *services.NotFoundError
		transition   *services.InvalidStateTransitionError
		overpayment  *services.OverpaymentError
		unauthorised *services.UnauthenticatedError
	)
	switch {
	case errors.As(err, &httpErr):
		httpx.WriteError(ctx, w, httpErr)
	case errors.As(err, &validation):
		code := "invalid_request"
		if errors.Is(err, services.ErrDuplicateReceipt) {
			code = "duplicate_receipt"
		}
		e := httpx.NewError(code, err.Error(), http.StatusBadRequest)
		if validation.Field != "" {
			e = e.WithDetails(map[string]any{"field": validation.Field})
		}
		httpx.WriteError(ctx, w, e)
	case errors.Is(err, pagination.ErrInvalidPageToken), errors.Is(err, pagination.ErrInvalidPageSize):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.As(err, &unauthorised):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.As(err, &notFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound).
			WithDetails(map[string]any{"entity": notFound.Entity, "id": notFound.ID}))
	case errors.As(err, &transition):
		allowed := transition.Allowed
		if allowed == nil {
			allowed = []string{}
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"status_type": transition.StatusType,
				"from":        transition.From,
				"to":          transition.To,
				"allowed":     allowed,
			}))
	case errors.As(err, &overpayment):
		httpx.WriteError(ctx, w, httpx.NewError("overpayment", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"order_id":        overpayment.OrderID,
				"amount_cents":    overpayment.Amount.Int64(),
				"remaining_cents": overpayment.Remaining.Int64(),
			}))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "the resource was modified concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "backing store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
