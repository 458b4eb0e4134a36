package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics agrupa os instrumentos OpenTelemetry do serviço
type Metrics struct {
	salesCommitted metric.Int64Counter
	salesRejected  metric.Int64Counter
	compensations  metric.Int64Counter
	changeEvents   metric.Int64Counter
	subscribers    metric.Int64UpDownCounter
}

// NewMetrics registra os instrumentos no meter informado
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.salesCommitted, err = meter.Int64Counter("pos.sales.committed",
		metric.WithDescription("Sales persisted by the processor")); err != nil {
		return nil, fmt.Errorf("sales committed counter: %w", err)
	}
	if m.salesRejected, err = meter.Int64Counter("pos.sales.rejected",
		metric.WithDescription("Sales rejected, by reason")); err != nil {
		return nil, fmt.Errorf("sales rejected counter: %w", err)
	}
	if m.compensations, err = meter.Int64Counter("pos.stock.compensations",
		metric.WithDescription("Stock decrements reverted after a failed sale")); err != nil {
		return nil, fmt.Errorf("compensations counter: %w", err)
	}
	if m.changeEvents, err = meter.Int64Counter("pos.change_events",
		metric.WithDescription("Change events emitted by the watchers")); err != nil {
		return nil, fmt.Errorf("change events counter: %w", err)
	}
	if m.subscribers, err = meter.Int64UpDownCounter("pos.hub.subscribers",
		metric.WithDescription("Subscribers currently attached to the broadcast hub")); err != nil {
		return nil, fmt.Errorf("subscribers gauge: %w", err)
	}

	return &m, nil
}

func (m *Metrics) SaleCommitted(ctx context.Context) {
	m.salesCommitted.Add(ctx, 1)
}

func (m *Metrics) SaleRejected(ctx context.Context, reason string) {
	m.salesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) StockCompensated(ctx context.Context, lines int) {
	m.compensations.Add(ctx, int64(lines))
}

func (m *Metrics) ChangeEmitted(ctx context.Context, eventType EventType) {
	m.changeEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(eventType))))
}

func (m *Metrics) SubscribersChanged(ctx context.Context, delta int64) {
	m.subscribers.Add(ctx, delta)
}
