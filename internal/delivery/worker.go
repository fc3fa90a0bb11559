package delivery

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"serialnotify/internal/domain"
	"serialnotify/internal/metrics"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

type Config struct {
	Workers             int
	RatePerSec          float64
	SendTimeout         time.Duration
	Lease               time.Duration
	MaxRateLimitRetries int
	MaxRateLimitWait    time.Duration
	// Owner names this worker in lease columns; empty gets host plus uuid.
	Owner string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.MaxRateLimitRetries <= 0 {
		c.MaxRateLimitRetries = 5
	}
	if c.MaxRateLimitWait <= 0 {
		c.MaxRateLimitWait = 5 * time.Minute
	}
	// A lease must outlive the longest delivery: every attempt queued behind
	// the other workers on the limiter, sent, then all rate-limit waits.
	attempts := time.Duration(c.MaxRateLimitRetries + 1)
	pace := time.Duration(float64(c.Workers) / c.RatePerSec * float64(time.Second))
	longest := c.MaxRateLimitWait + attempts*(c.SendTimeout+pace)
	if c.Lease < longest {
		c.Lease = longest
	}
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = host + "/" + uuid.NewString()
	}
}

// Worker consumes READY changes from the queue change feed and delivers
// each message at most once at a time across all workers sharing the store.
type Worker struct {
	cfg      Config
	messages storage.MessageRepo
	sender   Sender
	limiter  *rate.Limiter
	log      logx.Logger
	metrics  *metrics.Pipeline

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*Worker)

func WithMetrics(m *metrics.Pipeline) Option { return func(w *Worker) { w.metrics = m } }

func NewWorker(cfg Config, messages storage.MessageRepo, sender Sender, log logx.Logger, opts ...Option) *Worker {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Worker{
		cfg:      cfg,
		messages: messages,
		sender:   sender,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:      log.With(logx.String("comp", "delivery"), logx.String("owner", cfg.Owner)),
		now:      time.Now,
		sleep:    sleepCtx,
		inFlight: map[string]struct{}{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

var errFeedClosed = errors.New("change feed closed")

// Run blocks until ctx ends. Deliveries already started finish and record
// their outcome before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	changes, err := w.messages.Watch(ctx, storage.MessageFilter{Status: domain.StatusReady})
	if err != nil {
		return err
	}

	pool := workerpool.New(w.cfg.Workers)
	defer pool.StopWait()

	// Rows written while no worker was watching.
	backlog, err := w.messages.List(ctx, storage.MessageQuery{Status: domain.StatusReady})
	if err != nil {
		w.log.Warn("backlog scan failed, waiting for refresher", logx.Err(err))
	}
	for _, m := range backlog {
		w.offer(ctx, pool, m)
	}
	w.log.Info("delivery worker started", logx.Int("workers", w.cfg.Workers), logx.Int("backlog", len(backlog)))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("delivery worker stopping")
			return nil
		case c, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errFeedClosed
			}
			w.offer(ctx, pool, *c.New)
		}
	}
}

func (w *Worker) offer(ctx context.Context, pool *workerpool.WorkerPool, m domain.Message) {
	if m.Status != domain.StatusReady {
		return
	}
	w.mu.Lock()
	if _, busy := w.inFlight[m.ID]; busy {
		w.mu.Unlock()
		return
	}
	w.inFlight[m.ID] = struct{}{}
	w.mu.Unlock()

	pool.Submit(func() {
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, m.ID)
			w.mu.Unlock()
		}()
		w.deliver(ctx, m)
	})
}

// deliver claims m and sends it. ctx is the worker's lifetime: once the claim
// succeeds, store writes and the send itself run detached from it.
func (w *Worker) deliver(ctx context.Context, m domain.Message) {
	if ctx.Err() != nil {
		return
	}
	log := w.log.With(logx.String("message", m.ID), logx.Int64("recipient", m.Recipient))

	claimed, err := w.messages.Claim(ctx, m.ID, w.cfg.Owner, w.now(), w.cfg.Lease)
	if err != nil {
		log.Warn("claim failed", logx.Err(err))
		return
	}
	if !claimed {
		log.Trace("message taken or finished elsewhere")
		return
	}

	dctx := context.WithoutCancel(ctx)
	var (
		retries int
		waited  time.Duration
	)
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			w.release(dctx, m.ID, log)
			return
		}

		start := time.Now()
		sctx, cancel := context.WithTimeout(dctx, w.cfg.SendTimeout)
		err := w.sender.Send(sctx, m.Recipient, m.Body)
		cancel()
		took := time.Since(start)

		class, reason, retryAfter := Classify(err)
		switch class {
		case ClassDelivered:
			w.finish(dctx, m.ID, domain.StatusDone, "", log)
			w.metrics.Delivery(dctx, metrics.DeliveryDone, took)
			return

		case ClassPermanent:
			log.Info("delivery failed permanently", logx.String("reason", reason))
			w.finish(dctx, m.ID, domain.StatusError, reason, log)
			w.metrics.Delivery(dctx, metrics.DeliveryPermanent, took)
			return

		case ClassRateLimited:
			retries++
			if retries > w.cfg.MaxRateLimitRetries || waited+retryAfter > w.cfg.MaxRateLimitWait {
				log.Warn("rate limit retries exhausted",
					logx.Int("attempts", retries), logx.Duration("waited", waited))
				w.finish(dctx, m.ID, domain.StatusError, ReasonRateLimitExhausted, log)
				w.metrics.Delivery(dctx, metrics.DeliveryExhausted, took)
				return
			}
			w.metrics.Delivery(dctx, metrics.DeliveryRateLimited, took)
			log.Debug("rate limited", logx.Duration("retry_after", retryAfter), logx.Int("attempt", retries))
			if !w.sleep(ctx, retryAfter) {
				w.release(dctx, m.ID, log)
				return
			}
			waited += retryAfter

		default:
			log.Warn("delivery failed, message stays READY", logx.Err(err))
			w.release(dctx, m.ID, log)
			w.metrics.Delivery(dctx, metrics.DeliveryTransient, took)
			return
		}
	}
}

func (w *Worker) finish(ctx context.Context, id string, to domain.Status, reason string, log logx.Logger) {
	ok, err := w.messages.Transition(ctx, id, to, reason, w.now())
	if err != nil {
		// The lease expires and the message is offered again.
		log.Error("record delivery outcome failed", logx.String("status", string(to)), logx.Err(err))
		return
	}
	if !ok {
		log.Warn("message left READY before its outcome was recorded", logx.String("status", string(to)))
	}
}

func (w *Worker) release(ctx context.Context, id string, log logx.Logger) {
	if err := w.messages.Release(ctx, id, w.cfg.Owner); err != nil {
		log.Warn("release lease failed", logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
