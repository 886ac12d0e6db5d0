package cartsync

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "finitefield.org/storefront-cartsync/internal/cartsync"

// Stats are running totals of the controller's recovery paths.
type Stats struct {
	PollSkips  int64
	StaleDrops int64
	Rollbacks  int64
	Fallbacks  int64
}

type metrics struct {
	pollSkips  metric.Int64Counter
	staleDrops metric.Int64Counter
	rollbacks  metric.Int64Counter
	fallbacks  metric.Int64Counter

	totals struct {
		pollSkips, staleDrops, rollbacks, fallbacks atomic.Int64
	}
}

func newMetrics(provider metric.MeterProvider) *metrics {
	meter := provider.Meter(meterName)
	return &metrics{
		pollSkips:  counter(meter, "cartsync.poll.skipped", "Poll ticks skipped because a fetch was in flight."),
		staleDrops: counter(meter, "cartsync.response.stale", "Responses discarded because a newer one was applied."),
		rollbacks:  counter(meter, "cartsync.badge.rollbacks", "Optimistic badge increments reverted after a failed add."),
		fallbacks:  counter(meter, "cartsync.fallbacks", "Navigations to the full cart page after a failed fetch."),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (m *metrics) pollSkipped(ctx context.Context, reason string) {
	m.totals.pollSkips.Add(1)
	m.pollSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) staleDropped(ctx context.Context, kind string) {
	m.totals.staleDrops.Add(1)
	m.staleDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *metrics) rolledBack(ctx context.Context) {
	m.totals.rollbacks.Add(1)
	m.rollbacks.Add(ctx, 1)
}

func (m *metrics) fellBack(ctx context.Context, cause string) {
	m.totals.fallbacks.Add(1)
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func (m *metrics) snapshot() Stats {
	return Stats{
		PollSkips:  m.totals.pollSkips.Load(),
		StaleDrops: m.totals.staleDrops.Load(),
		Rollbacks:  m.totals.rollbacks.Load(),
		Fallbacks:  m.totals.fallbacks.Load(),
	}
}
