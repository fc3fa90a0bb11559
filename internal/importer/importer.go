// Package importer keeps the serial catalogue in sync with the source site.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"serialnotify/internal/fetch"
	"serialnotify/internal/source"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

var ErrUnavailable = errors.New("serial page unavailable")

type Config struct {
	// MaxPages stops the walk early; 0 walks until an empty or missing page.
	MaxPages    int
	Concurrency int
}

type Stats struct {
	Pages    int
	Listed   int
	Imported int
	Failed   int
	Took     time.Duration
}

type Importer struct {
	cfg     Config
	site    source.Site
	fetch   fetch.Fetcher
	serials storage.SerialRepo
	log     logx.Logger
}

func New(cfg Config, site source.Site, f fetch.Fetcher, serials storage.SerialRepo, log logx.Logger) *Importer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Importer{cfg: cfg, site: site, fetch: f, serials: serials, log: log.With(logx.String("comp", "importer"))}
}

// Run walks the catalogue pages and upserts every listed serial. A serial
// that cannot be fetched or parsed is skipped.
func (im *Importer) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var imported, failed atomic.Int64
	st := Stats{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Concurrency)

	for page := 1; im.cfg.MaxPages <= 0 || page <= im.cfg.MaxPages; page++ {
		if gctx.Err() != nil {
			break
		}
		body, ok := im.fetch.Fetch(gctx, im.site.CatalogueURL(page))
		if !ok {
			break
		}
		links, err := source.ParseCatalogue(bytes.NewReader(body), im.site.BaseURL)
		if err != nil || len(links) == 0 {
			break
		}
		st.Pages++
		st.Listed += len(links)

		for _, link := range links {
			g.Go(func() error {
				if err := im.importOne(gctx, link); err != nil {
					failed.Add(1)
					im.log.Debug("serial skipped", logx.String("url", link), logx.Err(err))
					return nil
				}
				imported.Add(1)
				return nil
			})
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	st.Imported = int(imported.Load())
	st.Failed = int(failed.Load())
	st.Took = time.Since(start)
	im.log.Info("catalogue import finished",
		logx.Int("pages", st.Pages),
		logx.Int("listed", st.Listed),
		logx.Int("imported", st.Imported),
		logx.Int("failed", st.Failed),
		logx.Duration("took", st.Took))
	return st, err
}

func (im *Importer) importOne(ctx context.Context, url string) error {
	body, ok := im.fetch.Fetch(ctx, url)
	if !ok {
		return ErrUnavailable
	}
	s, err := source.ParseSerial(bytes.NewReader(body), url)
	if err != nil {
		return err
	}
	s.Updated = time.Now()
	return im.serials.Upsert(ctx, s)
}

// EnsureSerial imports one serial unless the catalogue already has it.
func (im *Importer) EnsureSerial(ctx context.Context, id int64, url string) error {
	ok, err := im.serials.Exists(ctx, id)
	if err != nil || ok {
		return err
	}
	if url == "" {
		return fmt.Errorf("serial %d: %w", id, ErrUnavailable)
	}
	if err := im.importOne(ctx, url); err != nil {
		return fmt.Errorf("serial %d: %w", id, err)
	}
	im.log.Info("serial added to catalogue", logx.Int64("serial_id", id))
	return nil
}
