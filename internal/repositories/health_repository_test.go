package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

func TestDependencyHealthRepositoryRejectsIncompleteChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty check set")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "sqlite"}}); err == nil {
		t.Fatalf("expected error for missing check function")
	}
}

func TestDependencyHealthRepositoryAggregatesStatuses(t *testing.T) {
	now := time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		checks []DependencyCheck
		want   domain.HealthStatus
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "sqlite", Check: func(context.Context) error { return nil }},
				{Name: "amqp", Check: func(context.Context) error { return nil }},
			},
			want: domain.HealthStatusOK,
		},
		{
			name: "one degraded",
			checks: []DependencyCheck{
				{Name: "sqlite", Check: func(context.Context) error { return nil }},
				{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "timeout wins",
			checks: []DependencyCheck{
				{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "firestore", Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				}},
			},
			want: domain.HealthStatusError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if len(report.Checks) != len(tc.checks) {
				t.Fatalf("expected %d checks, got %d", len(tc.checks), len(report.Checks))
			}
			if !report.GeneratedAt.Equal(now) {
				t.Fatalf("unexpected generatedAt %s", report.GeneratedAt)
			}
		})
	}
}

func TestDependencyHealthRepositoryTimeoutDetail(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name:    "amqp",
		Timeout: 5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if check := report.Checks["amqp"]; check.Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", check.Detail)
	}
}

func TestStoreErrorClassification(t *testing.T) {
	notFound := NewNotFound("orders.find", "order", "ord_1")
	if !IsNotFound(notFound) || IsConflict(notFound) {
		t.Fatalf("unexpected classification for %v", notFound)
	}
	wrapped := Wrap("allocate", notFound)
	if !errors.Is(wrapped, notFound) {
		t.Fatalf("Wrap must keep repository errors intact")
	}
	plain := Wrap("allocate", errors.New("disk full"))
	if IsNotFound(plain) || IsConflict(plain) {
		t.Fatalf("plain errors must classify as unknown")
	}
	if got := notFound.Error(); got != `orders.find: order store_not_found "ord_1"` {
		t.Fatalf("unexpected message %q", got)
	}
}
