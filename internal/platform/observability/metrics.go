package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/fulfillment"

// AllocationMetrics counts units handed to backorders and lines completed by allocation.
type AllocationMetrics struct {
	units     metric.Int64Counter
	fulfilled metric.Int64Counter
}

// NewAllocationMetrics registers the counters on meter, or the global meter when nil.
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	units, err := meter.Int64Counter("fulfillment.allocation.units",
		metric.WithDescription("Units allocated from purchase lines to backordered line items"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}
	fulfilled, err := meter.Int64Counter("fulfillment.allocation.lines_fulfilled",
		metric.WithDescription("Line items that became fully fulfilled through allocation"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return nil, err
	}
	return &AllocationMetrics{units: units, fulfilled: fulfilled}, nil
}

func (m *AllocationMetrics) RecordAllocation(ctx context.Context, sku string, units int64, fullyFulfilled int) {
	attrs := metric.WithAttributes(attribute.String("sku", sku))
	m.units.Add(ctx, units, attrs)
	m.fulfilled.Add(ctx, int64(fullyFulfilled), attrs)
}

// VerificationMetrics records auth verification outcomes.
type VerificationMetrics struct {
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewVerificationMetrics(meter metric.Meter) (*VerificationMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	outcomes, err := meter.Int64Counter("fulfillment.auth.verifications",
		metric.WithDescription("Token verification attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("fulfillment.auth.verification_latency",
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &VerificationMetrics{outcomes: outcomes, latency: latency}, nil
}

func (m *VerificationMetrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}
