package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "serialnotify/pkg/logx"
)

func newClient(shots int, maxConc int64) *Client {
	return New(Config{MaxConcurrent: maxConc, Shots: shots, RetryDelay: time.Millisecond, UserAgent: "test-agent"}, logx.Nop())
}

func TestFetchSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("user agent=%q", r.Header.Get("User-Agent"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, ok := newClient(5, 10).Fetch(context.Background(), srv.URL)
	if !ok || string(body) != "ok" {
		t.Fatalf("body=%q ok=%v", body, ok)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestFetchGivesUpAfterShots(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, ok := newClient(5, 10).Fetch(context.Background(), srv.URL); ok {
		t.Fatalf("expected failure")
	}
	if calls.Load() != 5 {
		t.Fatalf("calls=%d, want exactly 5", calls.Load())
	}
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, ok := newClient(5, 10).Fetch(context.Background(), srv.URL); ok {
		t.Fatalf("expected absent")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestFetchAdmissionGate(t *testing.T) {
	t.Parallel()

	var (
		inFlight, peak atomic.Int32
		release        = make(chan struct{})
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := newClient(1, 2)
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Fetch(context.Background(), srv.URL)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if peak.Load() > 2 {
		t.Fatalf("peak concurrency=%d, gate is 2", peak.Load())
	}
}

func TestFetchCancelledWhileWaitingForGate(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(1, 1)
	go c.Fetch(context.Background(), srv.URL)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := c.Fetch(ctx, srv.URL); ok {
		t.Fatalf("expected cancellation")
	}
}

func TestFetchWaitsRetryDelayBetweenShots(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{MaxConcurrent: 1, Shots: 3, RetryDelay: 50 * time.Millisecond}, logx.Nop())
	start := time.Now()
	if _, ok := c.Fetch(context.Background(), srv.URL); ok {
		t.Fatalf("expected failure")
	}
	if took := time.Since(start); took < 100*time.Millisecond {
		t.Fatalf("3 shots took %v, want at least two 50ms delays", took)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestFetchStopsRetryingWhenCancelled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{MaxConcurrent: 1, Shots: 5, RetryDelay: time.Hour}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, ok := c.Fetch(ctx, srv.URL); ok {
		t.Fatalf("expected failure")
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Fatalf("Fetch ignored cancellation for %v", took)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1 before the retry delay", calls.Load())
	}
}
