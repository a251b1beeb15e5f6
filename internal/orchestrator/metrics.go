package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics wires the otel metric API the way the teacher's
// core/pkg/observability.Provider does (RecordRequest/RecordDuration), but
// stops at a bare in-process MeterProvider with no reader — the spec
// carries no collector endpoint, so per DESIGN.md these measurements are
// recorded against a provider that neither exports them over OTLP nor
// exposes them for reading in-process; slog carries the human-readable
// trail instead.
type Metrics struct {
	meter          metric.Meter
	ordersTotal    metric.Int64Counter
	stepDuration   metric.Float64Histogram
	startedAt      time.Time
}

// NewMetrics builds the sportrank_orders_processed_total counter and a
// per-step duration histogram, swallowing instrument-creation errors the
// way the teacher's initREDMetrics does not need to (bare provider,
// cannot fail the way an OTLP exporter dial can).
func NewMetrics() *Metrics {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("sportrank.orchestrator")

	ordersTotal, _ := meter.Int64Counter("sportrank_orders_processed_total",
		metric.WithDescription("Orders processed by the pipeline orchestrator, partitioned by terminal status"),
		metric.WithUnit("{order}"),
	)
	stepDuration, _ := meter.Float64Histogram("sportrank_step_duration_seconds",
		metric.WithDescription("Duration of each S0-S4 pipeline step"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)

	return &Metrics{meter: meter, ordersTotal: ordersTotal, stepDuration: stepDuration, startedAt: time.Now()}
}

// RecordOrder records the terminal status counter and every step's
// duration histogram for one PipelineResult.
func (m *Metrics) RecordOrder(ctx context.Context, result *PipelineResult) {
	if m == nil {
		return
	}

	status := "success"
	if !result.Success {
		status = "failed"
	}
	if m.ordersTotal != nil {
		m.ordersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}

	if m.stepDuration == nil {
		return
	}
	for _, step := range result.Steps {
		m.stepDuration.Record(ctx, step.Duration.Seconds(),
			metric.WithAttributes(
				attribute.String("step", step.Name),
				attribute.String("status", string(step.Status)),
			),
		)
	}
}
