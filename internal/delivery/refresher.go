package delivery

import (
	"context"
	"time"

	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

// Refresher periodically touches last_update on every READY message. Each
// touch is a change, so watching workers see stuck messages again, and
// QueueStats.OldestReady doubles as a refresher heartbeat.
type Refresher struct {
	messages storage.MessageRepo
	interval time.Duration
	log      logx.Logger
	now      func() time.Time
}

func NewRefresher(messages storage.MessageRepo, interval time.Duration, log logx.Logger) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Refresher{
		messages: messages,
		interval: interval,
		log:      log.With(logx.String("comp", "refresher")),
		now:      time.Now,
	}
}

func (r *Refresher) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one refresh. Store errors are logged; the next tick retries.
func (r *Refresher) Tick(ctx context.Context) int64 {
	n, err := r.messages.TouchReady(ctx, r.now())
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("refresh failed", logx.Err(err))
		}
		return 0
	}
	if n > 0 {
		r.log.Trace("ready messages refreshed", logx.Int64("count", n))
	}
	return n
}
