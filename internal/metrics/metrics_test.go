package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPipelineExportsCounters(t *testing.T) {
	p, err := NewProvider()
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	pl, err := NewPipeline(p.MeterProvider())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	ctx := context.Background()
	pl.Fetch(ctx, FetchOK)
	pl.EventsDetected(ctx, 3)
	pl.MessagesEnqueued(ctx, 5)
	pl.Delivery(ctx, DeliveryDone, 20*time.Millisecond)
	pl.ScanCycle(ctx, CycleOK)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"serialnotify_fetch_total",
		"serialnotify_events_detected_total",
		"serialnotify_messages_enqueued_total",
		"serialnotify_deliveries_total",
		"serialnotify_scan_cycles_total",
		"serialnotify_send_seconds",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output lacks %s", want)
		}
	}
}

func TestNilPipelineIsNoop(t *testing.T) {
	t.Parallel()

	var pl *Pipeline
	ctx := context.Background()
	pl.Fetch(ctx, FetchOK)
	pl.EventsDetected(ctx, 1)
	pl.MessagesEnqueued(ctx, 1)
	pl.Delivery(ctx, DeliveryTransient, time.Second)
	pl.ScanCycle(ctx, CycleFailed)
}
