// Package detect turns the newest-first updates listing into an ordered
// stream of events that were not seen before, using a persisted watermark.
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serialnotify/internal/domain"
	"serialnotify/internal/metrics"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

// Bootstrap modes for a cycle that finds no watermark.
const (
	BootstrapNotify = "notify"
	BootstrapSeed   = "seed"
)

type Scanner interface {
	ScanLatest(ctx context.Context) []domain.UpdateEvent
}

type FanOuter interface {
	FanOut(ctx context.Context, ev domain.UpdateEvent) (int, error)
}

// Catalogue imports a serial the first time it shows up in the listing.
type Catalogue interface {
	EnsureSerial(ctx context.Context, id int64, url string) error
}

// Index returns the position of hash in scanned, or -1.
func Index(scanned []domain.UpdateEvent, hash string) int {
	for i, ev := range scanned {
		if ev.Fingerprint() == hash {
			return i
		}
	}
	return -1
}

// DetectNew returns the events newer than wm, oldest first.
//
// When wm is absent, or not present in the listing (it fell off the page),
// every scanned event is returned. The second case can repeat events and
// miss those that scrolled off between scans.
func DetectNew(scanned []domain.UpdateEvent, wm domain.Watermark) []domain.UpdateEvent {
	head := scanned
	if wm.Present() {
		if k := Index(scanned, wm.Hash); k >= 0 {
			head = scanned[:k]
		}
	}
	out := make([]domain.UpdateEvent, len(head))
	for i, ev := range head {
		out[len(head)-1-i] = ev
	}
	return out
}

type CycleResult struct {
	Scanned   int
	New       int
	FannedOut int
	Enqueued  int
	// Seeded is set when a seed-mode bootstrap recorded the watermark
	// without fanning anything out.
	Seeded bool
	// Overlap is false when a watermark existed but was not in the listing.
	Overlap bool
	Took    time.Duration
}

type Config struct {
	Bootstrap string
}

type Detector struct {
	cfg        Config
	scanner    Scanner
	watermarks storage.WatermarkRepo
	fanout     FanOuter
	catalogue  Catalogue
	log        logx.Logger
	metrics    *metrics.Pipeline
}

type Option func(*Detector)

func WithCatalogue(c Catalogue) Option { return func(d *Detector) { d.catalogue = c } }

func WithMetrics(m *metrics.Pipeline) Option { return func(d *Detector) { d.metrics = m } }

func New(cfg Config, sc Scanner, wm storage.WatermarkRepo, fo FanOuter, log logx.Logger, opts ...Option) *Detector {
	if cfg.Bootstrap == "" {
		cfg.Bootstrap = BootstrapNotify
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Detector{
		cfg:        cfg,
		scanner:    sc,
		watermarks: wm,
		fanout:     fo,
		log:        log.With(logx.String("comp", "detect")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

var ErrCycleAborted = errors.New("scan cycle aborted")

// RunCycle scans once and fans out every new event, oldest first. The
// watermark moves to an event only after its messages are committed, so an
// aborted cycle resumes from the last committed event.
func (d *Detector) RunCycle(ctx context.Context) (res CycleResult, err error) {
	start := time.Now()
	defer func() {
		res.Took = time.Since(start)
		outcome := metrics.CycleOK
		if err != nil {
			outcome = metrics.CycleFailed
		}
		d.metrics.ScanCycle(ctx, outcome)
	}()

	scanned := d.scanner.ScanLatest(ctx)
	res.Scanned = len(scanned)
	res.Overlap = true
	if len(scanned) == 0 {
		d.log.Debug("scan returned nothing")
		return res, nil
	}

	wm, err := d.watermarks.Get(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrCycleAborted, err)
	}

	if !wm.Present() && d.cfg.Bootstrap == BootstrapSeed {
		if err := d.watermarks.Set(ctx, scanned[0].Fingerprint()); err != nil {
			return res, fmt.Errorf("%w: seed watermark: %w", ErrCycleAborted, err)
		}
		res.Seeded = true
		d.log.Info("watermark seeded", logx.String("hash", scanned[0].Fingerprint()))
		return res, nil
	}

	if wm.Present() && Index(scanned, wm.Hash) < 0 {
		res.Overlap = false
		d.log.Warn("watermark not in listing, treating every entry as new",
			logx.String("watermark", wm.Hash), logx.Int("scanned", len(scanned)))
	}

	fresh := DetectNew(scanned, wm)
	res.New = len(fresh)
	d.metrics.EventsDetected(ctx, len(fresh))

	for _, ev := range fresh {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if d.catalogue != nil {
			if err := d.catalogue.EnsureSerial(ctx, ev.SerialID, ev.URL); err != nil {
				d.log.Debug("catalogue lookup failed", logx.Int64("serial_id", ev.SerialID), logx.Err(err))
			}
		}
		n, err := d.fanout.FanOut(ctx, ev)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrCycleAborted, err)
		}
		if err := d.watermarks.Set(ctx, ev.Fingerprint()); err != nil {
			return res, fmt.Errorf("%w: advance watermark: %w", ErrCycleAborted, err)
		}
		res.FannedOut++
		res.Enqueued += n
	}

	if res.New > 0 {
		d.log.Info("scan cycle done",
			logx.Int("scanned", res.Scanned),
			logx.Int("new", res.New),
			logx.Int("enqueued", res.Enqueued))
	}
	return res, nil
}
