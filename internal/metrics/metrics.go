// Package metrics holds the OpenTelemetry instruments of the reminder engine.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "remindme/engine"

type Metrics struct {
	fires            metric.Int64Counter
	dispatchFailures metric.Int64Counter
	actions          metric.Int64Counter
	recovered        metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
}

// New creates the instruments on the global meter provider.
func New() (*Metrics, error) {
	return newMetrics(otel.GetMeterProvider().Meter(meterName))
}

// NewNoop returns instruments that record nothing.
func NewNoop() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.fires, err = meter.Int64Counter("reminder.fires",
		metric.WithDescription("Triggers handled, by outcome")); err != nil {
		return nil, fmt.Errorf("create fires counter: %w", err)
	}
	if m.dispatchFailures, err = meter.Int64Counter("reminder.dispatch.failures",
		metric.WithDescription("Notifications that could not be delivered")); err != nil {
		return nil, fmt.Errorf("create dispatch failures counter: %w", err)
	}
	if m.actions, err = meter.Int64Counter("reminder.actions",
		metric.WithDescription("User actions, by kind and outcome")); err != nil {
		return nil, fmt.Errorf("create actions counter: %w", err)
	}
	if m.recovered, err = meter.Int64Counter("reminder.recovery",
		metric.WithDescription("Reminders handled during startup recovery, by outcome")); err != nil {
		return nil, fmt.Errorf("create recovery counter: %w", err)
	}
	if m.dispatchLatency, err = meter.Float64Histogram("reminder.dispatch.duration",
		metric.WithDescription("Time spent delivering a notification"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create dispatch histogram: %w", err)
	}
	return &m, nil
}

func (m *Metrics) Fired(ctx context.Context, outcome string) {
	m.fires.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Dispatched(ctx context.Context, seconds float64, err error) {
	m.dispatchLatency.Record(ctx, seconds)
	if err != nil {
		m.dispatchFailures.Add(ctx, 1)
	}
}

func (m *Metrics) Action(ctx context.Context, kind, outcome string) {
	m.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) Recovered(ctx context.Context, outcome string, n int) {
	if n == 0 {
		return
	}
	m.recovered.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}
