package source

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"serialnotify/internal/domain"
	"serialnotify/internal/fetch"
	logx "serialnotify/pkg/logx"
)

// Site builds the urls of one content site.
type Site struct {
	BaseURL string
}

func (s Site) base() string { return strings.TrimRight(s.BaseURL, "/") }

func (s Site) UpdatesURL() string { return s.base() + "/" }

// CatalogueURL returns page n (1-based) of the series catalogue.
func (s Site) CatalogueURL(page int) string {
	if page <= 1 {
		return s.base() + "/series/"
	}
	return s.base() + "/series/page/" + strconv.Itoa(page) + "/"
}

type Scanner struct {
	site  Site
	fetch fetch.Fetcher
	log   logx.Logger
}

func NewScanner(site Site, f fetch.Fetcher, log logx.Logger) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{site: site, fetch: f, log: log.With(logx.String("comp", "scanner"))}
}

// ScanLatest returns the current updates listing, newest first. An
// unreachable or unparsable page yields an empty slice.
func (s *Scanner) ScanLatest(ctx context.Context) []domain.UpdateEvent {
	body, ok := s.fetch.Fetch(ctx, s.site.UpdatesURL())
	if !ok {
		return nil
	}
	events, skipped, err := ParseUpdates(bytes.NewReader(body), s.site.BaseURL)
	if err != nil {
		s.log.Warn("updates page unreadable", logx.Err(err))
		return nil
	}
	if skipped > 0 {
		s.log.Debug("updates entries skipped", logx.Int("skipped", skipped), logx.Int("parsed", len(events)))
	}
	return events
}
