package events

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsEmitter counts decisions on an OpenTelemetry meter, labeled by
// component, mode, outcome and reason code.
type MetricsEmitter struct {
	decisions metric.Int64Counter
	blocked   metric.Int64Counter
}

// NewMetricsEmitter registers the decision counters on the given meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	decisions, err := meter.Int64Counter("warden.decisions",
		metric.WithDescription("Governed operation decisions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("events: register decision counter: %w", err)
	}
	blocked, err := meter.Int64Counter("warden.decisions.blocked",
		metric.WithDescription("Blocked governed operations by reason code"),
	)
	if err != nil {
		return nil, fmt.Errorf("events: register blocked counter: %w", err)
	}
	return &MetricsEmitter{decisions: decisions, blocked: blocked}, nil
}

// Emit implements Emitter.
func (m *MetricsEmitter) Emit(ctx context.Context, ev DecisionEvent) {
	attrs := metric.WithAttributes(
		attribute.String("component", ev.Component),
		attribute.String("mode", string(ev.Mode)),
		attribute.String("operation_class", string(ev.OperationClass)),
		attribute.String("reason_code", string(ev.Reason)),
		attribute.Bool("allowed", ev.Allowed),
	)
	m.decisions.Add(ctx, 1, attrs)
	if !ev.Allowed {
		m.blocked.Add(ctx, 1, attrs)
	}
}
