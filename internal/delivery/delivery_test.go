package delivery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"go.uber.org/goleak"

	"serialnotify/internal/domain"
	"serialnotify/internal/mocks"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Path:     filepath.Join(t.TempDir(), "queue.db"),
		FeedPoll: 20 * time.Millisecond,
	}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// scriptedSender returns the scripted errors per recipient in order; once a
// script runs out it keeps returning the last entry.
type scriptedSender struct {
	mu      sync.Mutex
	scripts map[int64][]error
	calls   map[int64]int
}

func newScriptedSender(scripts map[int64][]error) *scriptedSender {
	return &scriptedSender{scripts: scripts, calls: map[int64]int{}}
}

func (s *scriptedSender) Send(_ context.Context, recipient int64, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[recipient]
	s.calls[recipient]++
	script := s.scripts[recipient]
	if len(script) == 0 {
		if body == "" {
			return ErrEmptyBody
		}
		return nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n]
}

func (s *scriptedSender) Calls(recipient int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[recipient]
}

func testConfig() Config {
	return Config{
		Workers:             3,
		RatePerSec:          1000,
		SendTimeout:         time.Second,
		Lease:               time.Minute,
		MaxRateLimitRetries: 3,
		MaxRateLimitWait:    time.Minute,
	}
}

func noSleep(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }

func startWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("worker did not stop")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(t *testing.T, st storage.Store, id string) domain.Message {
	t.Helper()
	m, err := st.Messages().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return m
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		class  Class
		reason string
	}{
		{nil, ClassDelivered, ""},
		{fmt.Errorf("send: %w", ErrBlocked), ClassPermanent, ReasonBlocked},
		{ErrChatNotFound, ClassPermanent, ReasonChatNotFound},
		{ErrDeactivated, ClassPermanent, ReasonDeactivated},
		{ErrEmptyBody, ClassPermanent, ReasonEmptyBody},
		{&RateLimitError{RetryAfter: 3 * time.Second}, ClassRateLimited, ""},
		{errors.New("connection reset"), ClassTransient, ""},
		{context.DeadlineExceeded, ClassTransient, ""},
	}
	for _, tc := range cases {
		class, reason, _ := Classify(tc.err)
		if class != tc.class || reason != tc.reason {
			t.Fatalf("%v: got %v %q", tc.err, class, reason)
		}
	}
	if _, _, d := Classify(&RateLimitError{}); d != minRetryAfter {
		t.Fatalf("zero retry_after became %v", d)
	}
}

func TestWorkerStateMachine(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	rl := &RateLimitError{RetryAfter: time.Second}
	sender := newScriptedSender(map[int64][]error{
		2: {ErrBlocked},
		3: {ErrChatNotFound},
		4: {ErrDeactivated},
		6: {errors.New("connection reset")},
		7: {rl, rl, nil},
		8: {rl},
	})

	bodies := map[int64]string{1: "ok", 2: "x", 3: "x", 4: "x", 5: "", 6: "x", 7: "x", 8: "x"}
	ids := map[int64]string{}
	for r, body := range bodies {
		m, err := st.Messages().Enqueue(ctx, domain.Message{Recipient: r, Body: body})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids[r] = m.ID
	}

	w := NewWorker(testConfig(), st.Messages(), sender, logx.Nop())
	w.sleep = noSleep
	stop := startWorker(t, w)

	want := map[int64]struct {
		status domain.Status
		reason string
	}{
		1: {domain.StatusDone, ""},
		2: {domain.StatusError, ReasonBlocked},
		3: {domain.StatusError, ReasonChatNotFound},
		4: {domain.StatusError, ReasonDeactivated},
		5: {domain.StatusError, ReasonEmptyBody},
		7: {domain.StatusDone, ""},
		8: {domain.StatusError, ReasonRateLimitExhausted},
	}
	waitFor(t, "terminal statuses", func() bool {
		for r, w := range want {
			if statusOf(t, st, ids[r]).Status != w.status {
				return false
			}
		}
		return sender.Calls(6) >= 1
	})
	stop()

	for r, w := range want {
		m := statusOf(t, st, ids[r])
		if m.Status != w.status || m.Error != w.reason {
			t.Fatalf("recipient %d: %s %q, want %s %q", r, m.Status, m.Error, w.status, w.reason)
		}
	}
	if m := statusOf(t, st, ids[6]); m.Status != domain.StatusReady || m.Error != "" {
		t.Fatalf("transient failure changed the row: %+v", m)
	}
	// Three retries allowed: the exhausted message is sent four times.
	if sender.Calls(7) != 3 || sender.Calls(8) != 4 {
		t.Fatalf("rate limit attempts: 7=%d 8=%d", sender.Calls(7), sender.Calls(8))
	}
	if sender.Calls(1) != 1 {
		t.Fatalf("delivered message sent %d times", sender.Calls(1))
	}

	// The transient failure released its lease.
	ok, err := st.Messages().Claim(ctx, ids[6], "other-worker", time.Now(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("released message not claimable: %v %v", ok, err)
	}
}

func TestRateLimitedMessageWaitsRetryAfterWhileReady(t *testing.T) {
	rl := &RateLimitError{RetryAfter: 7 * time.Second}
	cases := []struct {
		name   string
		script []error
		sleeps int
		sends  int
		status domain.Status
		reason string
	}{
		{"delivered after waits", []error{rl, rl, nil}, 2, 3, domain.StatusDone, ""},
		{"retries exhausted", []error{rl}, 3, 4, domain.StatusError, ReasonRateLimitExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := openStore(t)
			m, err := st.Messages().Enqueue(context.Background(), domain.Message{Recipient: 1, Body: "x"})
			if err != nil {
				t.Fatalf("Enqueue: %v", err)
			}

			sender := newScriptedSender(map[int64][]error{1: tc.script})
			w := NewWorker(testConfig(), st.Messages(), sender, logx.Nop())

			var (
				mu     sync.Mutex
				sleeps []time.Duration
			)
			w.sleep = func(ctx context.Context, d time.Duration) bool {
				cur, err := st.Messages().Get(context.Background(), m.ID)
				if err != nil {
					t.Errorf("Get: %v", err)
				} else if cur.Status != domain.StatusReady || cur.Error != "" {
					t.Errorf("row changed while waiting: %s %q", cur.Status, cur.Error)
				}
				mu.Lock()
				sleeps = append(sleeps, d)
				mu.Unlock()
				return ctx.Err() == nil
			}
			stop := startWorker(t, w)
			waitFor(t, "terminal status", func() bool { return statusOf(t, st, m.ID).Status == tc.status })
			stop()

			mu.Lock()
			defer mu.Unlock()
			if len(sleeps) != tc.sleeps {
				t.Fatalf("sleeps=%v, want %d", sleeps, tc.sleeps)
			}
			for _, d := range sleeps {
				if d != rl.RetryAfter {
					t.Fatalf("slept %v, provider asked for %v", d, rl.RetryAfter)
				}
			}
			if got := sender.Calls(1); got != tc.sends {
				t.Fatalf("sends=%d, want %d", got, tc.sends)
			}
			if got := statusOf(t, st, m.ID).Error; got != tc.reason {
				t.Fatalf("reason=%q", got)
			}
		})
	}
}

func TestLeaseCoversLongestDelivery(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Workers:             4,
		RatePerSec:          2,
		SendTimeout:         30 * time.Second,
		Lease:               time.Minute,
		MaxRateLimitRetries: 5,
		MaxRateLimitWait:    5 * time.Minute,
	}
	cfg.applyDefaults()
	// 6 attempts, each up to 2s behind the limiter plus a 30s send, then 5m of waits.
	want := 5*time.Minute + 6*(30*time.Second+2*time.Second)
	if cfg.Lease != want {
		t.Fatalf("lease=%v, want %v", cfg.Lease, want)
	}
}

func TestRateLimitWaitCeiling(t *testing.T) {
	st := openStore(t)
	m, _ := st.Messages().Enqueue(context.Background(), domain.Message{Recipient: 1, Body: "x"})

	sender := newScriptedSender(map[int64][]error{1: {&RateLimitError{RetryAfter: 10 * time.Minute}}})
	cfg := testConfig()
	cfg.MaxRateLimitWait = time.Minute
	w := NewWorker(cfg, st.Messages(), sender, logx.Nop())
	w.sleep = func(context.Context, time.Duration) bool {
		t.Errorf("slept past the ceiling")
		return false
	}
	stop := startWorker(t, w)
	waitFor(t, "exhaustion", func() bool { return statusOf(t, st, m.ID).Status == domain.StatusError })
	stop()

	if got := statusOf(t, st, m.ID).Error; got != ReasonRateLimitExhausted {
		t.Fatalf("reason=%q", got)
	}
}

func TestRefresherReoffersReadyMessages(t *testing.T) {
	st := openStore(t)
	m, _ := st.Messages().Enqueue(context.Background(), domain.Message{Recipient: 1, Body: "x"})

	sender := newScriptedSender(map[int64][]error{1: {errors.New("timeout"), nil}})
	w := NewWorker(testConfig(), st.Messages(), sender, logx.Nop())
	stop := startWorker(t, w)

	waitFor(t, "first attempt", func() bool { return sender.Calls(1) == 1 })
	// Let the release land before touching.
	waitFor(t, "release", func() bool {
		ok, _ := st.Messages().Claim(context.Background(), m.ID, "other-worker", time.Now(), time.Minute)
		return ok
	})
	if err := st.Messages().Release(context.Background(), m.ID, "other-worker"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	r := NewRefresher(st.Messages(), time.Hour, logx.Nop())
	if n := r.Tick(context.Background()); n != 1 {
		t.Fatalf("touched=%d", n)
	}
	waitFor(t, "redelivery", func() bool { return statusOf(t, st, m.ID).Status == domain.StatusDone })
	stop()
}

func TestRefresherRunLeavesTerminalRows(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	done, _ := st.Messages().Enqueue(ctx, domain.Message{Recipient: 1, Body: "x"})
	if _, err := st.Messages().Transition(ctx, done.ID, domain.StatusDone, "", time.Now()); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	before := statusOf(t, st, done.ID)

	r := NewRefresher(st.Messages(), 10*time.Millisecond, logx.Nop())
	rctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- r.Run(rctx) }()
	time.Sleep(60 * time.Millisecond)
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	after := statusOf(t, st, done.ID)
	if after.Status != before.Status || !after.LastUpdate.Equal(before.LastUpdate) {
		t.Fatalf("terminal row touched: %+v -> %+v", before, after)
	}
}

// blockingSender holds every send until released.
type blockingSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSender) Send(ctx context.Context, _ int64, _ string) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestShutdownDrainsInFlightSend(t *testing.T) {
	st := openStore(t)
	m, _ := st.Messages().Enqueue(context.Background(), domain.Message{Recipient: 1, Body: "x"})

	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	w := NewWorker(testConfig(), st.Messages(), sender, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-sender.started
	cancel()
	select {
	case <-done:
		t.Fatalf("Run returned with a send in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(sender.release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := statusOf(t, st, m.ID).Status; got != domain.StatusDone {
		t.Fatalf("status=%s, in-flight outcome lost", got)
	}
}

func TestTwoWorkersDeliverOnce(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	var ids []string
	for i := int64(1); i <= 20; i++ {
		m, _ := st.Messages().Enqueue(ctx, domain.Message{Recipient: i, Body: "x"})
		ids = append(ids, m.ID)
	}

	sender := newScriptedSender(nil)
	cfgA, cfgB := testConfig(), testConfig()
	cfgA.Owner, cfgB.Owner = "a", "b"
	stopA := startWorker(t, NewWorker(cfgA, st.Messages(), sender, logx.Nop()))
	stopB := startWorker(t, NewWorker(cfgB, st.Messages(), sender, logx.Nop()))

	waitFor(t, "all delivered", func() bool {
		stats, err := st.Messages().Stats(ctx)
		return err == nil && stats.Counts[domain.StatusDone] == 20
	})
	stopA()
	stopB()

	for i := int64(1); i <= 20; i++ {
		if c := sender.Calls(i); c != 1 {
			t.Fatalf("recipient %d got %d sends", i, c)
		}
	}
}

func TestPermanentFailureSendsOnce(t *testing.T) {
	st := openStore(t)
	m, _ := st.Messages().Enqueue(context.Background(), domain.Message{Recipient: 42, Body: "hello"})

	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), int64(42), "hello").Times(1).Return(ErrBlocked)

	stop := startWorker(t, NewWorker(testConfig(), st.Messages(), sender, logx.Nop()))
	waitFor(t, "error status", func() bool { return statusOf(t, st, m.ID).Status == domain.StatusError })
	stop()
}
