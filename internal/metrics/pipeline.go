package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "serialnotify"

// Outcome labels.
const (
	FetchOK        = "ok"
	FetchNotFound  = "not_found"
	FetchExhausted = "exhausted"

	DeliveryDone        = "done"
	DeliveryPermanent   = "permanent"
	DeliveryRateLimited = "rate_limited"
	DeliveryExhausted   = "rate_limit_exhausted"
	DeliveryTransient   = "transient"

	CycleOK     = "ok"
	CycleFailed = "failed"
)

// Pipeline records scan, queue and delivery counters. A nil *Pipeline is a
// valid no-op recorder.
type Pipeline struct {
	fetches    metric.Int64Counter
	detected   metric.Int64Counter
	enqueued   metric.Int64Counter
	deliveries metric.Int64Counter
	cycles     metric.Int64Counter
	sendTime   metric.Float64Histogram
}

func NewPipeline(mp metric.MeterProvider) (*Pipeline, error) {
	meter := mp.Meter(namespace)
	p := &Pipeline{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&p.fetches, "fetch_total", "Source fetches by outcome"},
		{&p.detected, "events_detected_total", "New update events found by the change detector"},
		{&p.enqueued, "messages_enqueued_total", "Outbound messages written by fan-out"},
		{&p.deliveries, "deliveries_total", "Delivery attempts by outcome"},
		{&p.cycles, "scan_cycles_total", "Scan cycles by result"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(namespace+"_"+c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}

	p.sendTime, err = meter.Float64Histogram(namespace+"_send_seconds",
		metric.WithDescription("Provider send latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create send histogram: %w", err)
	}
	return p, nil
}

func (p *Pipeline) Fetch(ctx context.Context, outcome string) {
	if p == nil {
		return
	}
	p.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (p *Pipeline) EventsDetected(ctx context.Context, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.detected.Add(ctx, int64(n))
}

func (p *Pipeline) MessagesEnqueued(ctx context.Context, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.enqueued.Add(ctx, int64(n))
}

func (p *Pipeline) Delivery(ctx context.Context, outcome string, took time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	p.deliveries.Add(ctx, 1, attrs)
	p.sendTime.Record(ctx, took.Seconds(), attrs)
}

func (p *Pipeline) ScanCycle(ctx context.Context, result string) {
	if p == nil {
		return
	}
	p.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
