package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/platform/pagination"
	"github.com/hanko-field/fulfillment/internal/services"
)

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
)

type transitionRequest struct {
	StatusType string `json:"status_type"`
	To         string `json:"to"`
	Note       string `json:"note"`
}

type batchTransitionRequest struct {
	StatusType   string   `json:"status_type"`
	SubjectIDs   []string `json:"subject_ids"`
	ExpectedFrom string   `json:"expected_from"`
	To           string   `json:"to"`
	Note         string   `json:"note"`
}

// StatusHandlers exposes guarded status transitions and the status history audit trail.
type StatusHandlers struct {
	transitions services.StatusTransitionService
	batchLimit  *fixedWindowLimiter
}

// StatusOption customises StatusHandlers.
type StatusOption func(*StatusHandlers)

// WithBatchRateLimit caps batch transitions per actor. A zero limit disables the cap.
func WithBatchRateLimit(limit int, window time.Duration, clock func() time.Time) StatusOption {
	return func(h *StatusHandlers) {
		h.batchLimit = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewStatusHandlers constructs StatusHandlers.
func NewStatusHandlers(transitions services.StatusTransitionService, opts ...StatusOption) *StatusHandlers {
	h := &StatusHandlers{transitions: transitions}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers transition and history endpoints.
func (h *StatusHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/status-transitions", h.transitionOrder)
	r.Post("/line-items/{lineItemID}/status-transitions", h.transitionLineItem)
	r.With(h.batchLimit.perActor).Post("/status-transitions/batch", h.batchTransition)
	r.Get("/orders/{orderID}/history", h.orderHistory)
	r.Get("/line-items/{lineItemID}/history", h.lineItemHistory)
}

func (h *StatusHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, chi.URLParam(r, "orderID"), domain.StatusTypeShipping)
}

func (h *StatusHandlers) transitionLineItem(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, chi.URLParam(r, "lineItemID"), domain.StatusTypeLineItem)
}

func (h *StatusHandlers) transition(w http.ResponseWriter, r *http.Request, subjectID string, fallback domain.StatusType) {
	ctx := r.Context()
	if h.transitions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("status_service_unavailable", "status transition service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	statusType := parseStatusType(req.StatusType, fallback)
	if statusType.SubjectKind() != fallback.SubjectKind() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status_type does not apply to this subject", http.StatusBadRequest).
			WithDetails(map[string]any{"field": "status_type"}))
		return
	}

	actor, _ := auth.ActorFromContext(ctx)
	outcome, err := h.transitions.Transition(ctx, services.TransitionCommand{
		SubjectID:  strings.TrimSpace(subjectID),
		StatusType: statusType,
		To:         strings.TrimSpace(req.To),
		Actor:      actor,
		Note:       req.Note,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == services.OutcomeApplied {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, buildTransitionOutcomePayload(outcome))
}

func (h *StatusHandlers) batchTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transitions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("status_service_unavailable", "status transition service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req batchTransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.StatusType) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status_type is required", http.StatusBadRequest).
			WithDetails(map[string]any{"field": "status_type"}))
		return
	}

	actor, _ := auth.ActorFromContext(ctx)
	outcomes, err := h.transitions.BatchTransition(ctx, services.BatchTransitionCommand{
		SubjectIDs:   req.SubjectIDs,
		StatusType:   parseStatusType(req.StatusType, ""),
		ExpectedFrom: strings.TrimSpace(req.ExpectedFrom),
		To:           strings.TrimSpace(req.To),
		Actor:        actor,
		Note:         req.Note,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := batchTransitionResponse{Outcomes: make([]transitionOutcomePayload, 0, len(outcomes))}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case services.OutcomeApplied:
			resp.Applied++
		case services.OutcomeSkipped:
			resp.Skipped++
		case services.OutcomeFailed:
			resp.Failed++
		}
		resp.Outcomes = append(resp.Outcomes, buildTransitionOutcomePayload(outcome))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *StatusHandlers) orderHistory(w http.ResponseWriter, r *http.Request) {
	statusType := domain.StatusType("")
	if raw := strings.TrimSpace(r.URL.Query().Get("status_type")); raw != "" {
		statusType = parseStatusType(raw, "")
	}
	h.history(w, r, chi.URLParam(r, "orderID"), statusType)
}

func (h *StatusHandlers) lineItemHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, chi.URLParam(r, "lineItemID"), domain.StatusTypeLineItem)
}

func (h *StatusHandlers) history(w http.ResponseWriter, r *http.Request, subjectID string, statusType domain.StatusType) {
	ctx := r.Context()
	if h.transitions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("status_service_unavailable", "status transition service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultHistoryPageSize,
		MaxPageSize:     maxHistoryPageSize,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	page, err := h.transitions.ListHistory(ctx, services.HistoryFilter{
		SubjectID:  strings.TrimSpace(subjectID),
		StatusType: statusType,
		PageSize:   params.PageSize,
		PageToken:  params.PageToken,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := historyListResponse{
		Items:         make([]historyEntryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, entry := range page.Items {
		resp.Items = append(resp.Items, buildHistoryEntryPayload(entry))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func parseStatusType(raw string, fallback domain.StatusType) domain.StatusType {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return fallback
	}
	return domain.StatusType(strings.ReplaceAll(raw, "-", "_"))
}
