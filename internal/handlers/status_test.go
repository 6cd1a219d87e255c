package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/pagination"
	"github.com/hanko-field/fulfillment/internal/services"
)

func TestStatusHandlers_TransitionOrder(t *testing.T) {
	created := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	var captured services.TransitionCommand
	svc := &stubStatusService{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.TransitionOutcome, error) {
			captured = cmd
			entry := services.StatusHistoryEntry{
				ID:         "sh_1", SubjectID: cmd.SubjectID, SubjectKind: domain.SubjectOrder, StatusType: cmd.StatusType,
				FromStatus: "pending", ToStatus: cmd.To, ActorID: cmd.Actor.ID, CreatedAt: created,
			}
			return services.TransitionOutcome{
				SubjectID: cmd.SubjectID, Status: services.OutcomeApplied, From: "pending", To: cmd.To, Entry: &entry,
			}, nil
		},
	}
	router := newTestRouter(NewStatusHandlers(svc).Routes)

	rr, body := serve(t, router, http.MethodPost, "/orders/ord_1/status-transitions", `{"to":"processing","note":"picked"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, domain.StatusTypeShipping, captured.StatusType)
	require.Equal(t, "ord_1", captured.SubjectID)
	require.Equal(t, "picked", captured.Note)
	require.Equal(t, "applied", body["status"])
	entry := body["entry"].(map[string]any)
	require.Equal(t, "sh_1", entry["id"])
	require.Equal(t, "staff-1", entry["actor_id"])
}

func TestStatusHandlers_TransitionSkippedAndRejected(t *testing.T) {
	svc := &stubStatusService{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.TransitionOutcome, error) {
			switch cmd.To {
			case "shipped":
				return services.TransitionOutcome{SubjectID: cmd.SubjectID, Status: services.OutcomeSkipped, Reason: services.ReasonUnchangedStatus, From: "shipped", To: "shipped"}, nil
			default:
				return services.TransitionOutcome{}, &services.InvalidStateTransitionError{
					StatusType: "shipping", From: "shipped", To: cmd.To, Allowed: []string{"delivered", "returned"},
				}
			}
		},
	}
	router := newTestRouter(NewStatusHandlers(svc).Routes)

	rr, body := serve(t, router, http.MethodPost, "/orders/ord_1/status-transitions", `{"to":"shipped"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "skipped", body["status"])
	require.Equal(t, "unchanged status", body["reason"])
	require.Nil(t, body["entry"])

	rr, body = serve(t, router, http.MethodPost, "/orders/ord_1/status-transitions", `{"to":"pending"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, []any{"delivered", "returned"}, body["allowed"])
}

func TestStatusHandlers_TransitionLineItem(t *testing.T) {
	var captured services.TransitionCommand
	svc := &stubStatusService{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.TransitionOutcome, error) {
			captured = cmd
			return services.TransitionOutcome{SubjectID: cmd.SubjectID, Status: services.OutcomeApplied, From: "pending", To: cmd.To}, nil
		},
	}
	router := newTestRouter(NewStatusHandlers(svc).Routes)

	rr, _ := serve(t, router, http.MethodPost, "/line-items/li_1/status-transitions", `{"to":"cancelled"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, domain.StatusTypeLineItem, captured.StatusType)

	rr, body := serve(t, router, http.MethodPost, "/line-items/li_1/status-transitions", `{"status_type":"shipping","to":"shipped"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "status_type", body["field"])
}

func TestStatusHandlers_BatchTransition(t *testing.T) {
	var captured services.BatchTransitionCommand
	svc := &stubStatusService{
		batchFn: func(_ context.Context, cmd services.BatchTransitionCommand) ([]services.TransitionOutcome, error) {
			captured = cmd
			return []services.TransitionOutcome{
				{SubjectID: "ord_1", Status: services.OutcomeApplied, From: "processing", To: "shipped"},
				{SubjectID: "ord_2", Status: services.OutcomeSkipped, Reason: services.ReasonUnchangedStatus, From: "shipped", To: "shipped"},
				{SubjectID: "ord_3", Status: services.OutcomeFailed, Reason: services.ReasonNotFound, To: "shipped", Err: &services.NotFoundError{Entity: "order", ID: "ord_3"}},
			}, nil
		},
	}
	router := newTestRouter(NewStatusHandlers(svc).Routes)

	rr, body := serve(t, router, http.MethodPost, "/status-transitions/batch",
		`{"status_type":"Shipping","subject_ids":["ord_1","ord_2","ord_3"],"expected_from":"processing","to":"shipped"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, domain.StatusTypeShipping, captured.StatusType)
	require.Equal(t, "processing", captured.ExpectedFrom)
	require.Equal(t, "staff-1", captured.Actor.ID)

	require.EqualValues(t, 1, body["applied"])
	require.EqualValues(t, 1, body["skipped"])
	require.EqualValues(t, 1, body["failed"])
	outcomes := body["outcomes"].([]any)
	require.Len(t, outcomes, 3)
	require.Equal(t, "ord_1", outcomes[0].(map[string]any)["subject_id"])
	failed := outcomes[2].(map[string]any)
	require.Equal(t, "not found", failed["reason"])
	require.Contains(t, failed["error"], "ord_3")
}

func TestStatusHandlers_BatchTransitionRequiresStatusType(t *testing.T) {
	router := newTestRouter(NewStatusHandlers(&stubStatusService{}).Routes)
	rr, body := serve(t, router, http.MethodPost, "/status-transitions/batch", `{"subject_ids":["ord_1"],"to":"shipped"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "status_type", body["field"])
}

func TestStatusHandlers_BatchRateLimit(t *testing.T) {
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	svc := &stubStatusService{
		batchFn: func(context.Context, services.BatchTransitionCommand) ([]services.TransitionOutcome, error) {
			return nil, nil
		},
	}
	router := newTestRouter(NewStatusHandlers(svc, WithBatchRateLimit(2, time.Minute, func() time.Time { return now })).Routes)

	payload := `{"status_type":"shipping","subject_ids":["ord_1"],"to":"shipped"}`
	for range 2 {
		rr, _ := serve(t, router, http.MethodPost, "/status-transitions/batch", payload)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr, body := serve(t, router, http.MethodPost, "/status-transitions/batch", payload)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "rate_limited", body["error"])
	require.Equal(t, "60", rr.Header().Get("Retry-After"))

	now = now.Add(time.Minute)
	rr, _ = serve(t, router, http.MethodPost, "/status-transitions/batch", payload)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusHandlers_History(t *testing.T) {
	created := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	token, err := pagination.EncodeToken(pagination.Cursor{After: []string{"12"}})
	require.NoError(t, err)

	var filters []services.HistoryFilter
	svc := &stubStatusService{
		historyFn: func(_ context.Context, filter services.HistoryFilter) (domain.CursorPage[services.StatusHistoryEntry], error) {
			filters = append(filters, filter)
			return domain.CursorPage[services.StatusHistoryEntry]{
				Items: []services.StatusHistoryEntry{{
					ID:         "sh_1", SubjectID: filter.SubjectID, SubjectKind: domain.SubjectOrder, StatusType: domain.StatusTypePayment,
					FromStatus: "pending", ToStatus: "partial", ActorID: "staff-1", CreatedAt: created,
				}},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newTestRouter(NewStatusHandlers(svc).Routes)

	rr, body := serve(t, router, http.MethodGet, "/orders/ord_1/history?status_type=payment&pageSize=5&pageToken="+token, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "next", body["next_page_token"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "partial", items[0].(map[string]any)["to_status"])

	rr, _ = serve(t, router, http.MethodGet, "/line-items/li_1/history", "")
	require.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, filters, 2)
	require.Equal(t, services.HistoryFilter{SubjectID: "ord_1", StatusType: domain.StatusTypePayment, PageSize: 5, PageToken: token}, filters[0])
	require.Equal(t, services.HistoryFilter{SubjectID: "li_1", StatusType: domain.StatusTypeLineItem, PageSize: defaultHistoryPageSize}, filters[1])
}

func TestStatusHandlers_HistoryRejectsBadPaging(t *testing.T) {
	svc := &stubStatusService{
		historyFn: func(context.Context, services.HistoryFilter) (domain.CursorPage[services.StatusHistoryEntry], error) {
			t.Fatal("service must not be called")
			return domain.CursorPage[services.StatusHistoryEntry]{}, nil
		},
	}
	router := newTestRouter(NewStatusHandlers(svc).Routes)

	for _, query := range []string{"pageSize=abc", "pageSize=-1", "pageToken=%25%25"} {
		rr, body := serve(t, router, http.MethodGet, "/orders/ord_1/history?"+query, "")
		require.Equal(t, http.StatusBadRequest, rr.Code, query)
		require.Equal(t, "invalid_request", body["error"])
	}
}
