// Package source reads the content site: the "latest updates" listing, the
// catalogue pages and the per-serial detail pages.
package source

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"serialnotify/internal/domain"
)

var ErrBadID = errors.New("no serial id in url")

// SerialID extracts the id from a serial url: the digits before the first
// "-" of the last path segment, as in /series/drama/646-doctor-who-2005.html.
func SerialID(rawURL string) (int64, error) {
	seg := lastSegment(rawURL)
	head, _, _ := strings.Cut(seg, "-")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadID, rawURL)
	}
	return id, nil
}

// SerialYear reads the year suffix of a detail url ("...-2005.html").
// Unknown or implausible years return 0.
func SerialYear(rawURL string) int {
	seg := strings.TrimSuffix(lastSegment(rawURL), path.Ext(lastSegment(rawURL)))
	i := strings.LastIndex(seg, "-")
	if i < 0 {
		return 0
	}
	y, err := strconv.Atoi(seg[i+1:])
	if err != nil || y < 1900 {
		return 0
	}
	return y
}

func lastSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ParseUpdates extracts the updates listing in document order (newest
// first). Entries that cannot be parsed are skipped and counted. Links are
// resolved against base.
func ParseUpdates(r io.Reader, base string) (events []domain.UpdateEvent, skipped int, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("parse updates page: %w", err)
	}
	baseURL, _ := url.Parse(base)
	doc.Find("ul.b-seriesupdate__block_list li").Each(func(_ int, li *goquery.Selection) {
		ev, ok := parseUpdateItem(li, baseURL)
		if !ok {
			skipped++
			return
		}
		events = append(events, ev)
	})
	return events, skipped, nil
}

func parseUpdateItem(li *goquery.Selection, base *url.URL) (domain.UpdateEvent, bool) {
	a := li.Find("a").First()
	href, ok := a.Attr("href")
	if !ok {
		return domain.UpdateEvent{}, false
	}
	href = resolve(base, href)
	id, err := SerialID(href)
	if err != nil {
		return domain.UpdateEvent{}, false
	}

	season := strings.TrimSpace(li.Find("span").First().Text())
	season = strings.TrimPrefix(season, "(")
	season = strings.TrimSuffix(season, ")")
	season = strings.TrimSpace(strings.TrimSuffix(season, "сезон"))

	episode, voice := splitEpisode(li.Find("span.cell-2").First().Text())

	ev := domain.UpdateEvent{
		SerialID: id,
		Name:     strings.TrimSpace(a.Text()),
		Season:   season,
		Episode:  episode,
		Voice:    voice,
		URL:      href,
	}
	if ev.Validate() != nil {
		return domain.UpdateEvent{}, false
	}
	return ev, true
}

// splitEpisode turns "5 серия (LostFilm)" into "5", "LostFilm". The voice is
// the last parenthesised group and may itself contain spaces.
func splitEpisode(s string) (episode, voice string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, " ("); i >= 0 {
		voice = strings.TrimSuffix(strings.TrimSpace(s[i+2:]), ")")
		s = s[:i]
	}
	episode = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "серия"))
	return episode, strings.TrimSpace(voice)
}

// ParseCatalogue returns the serial links of one catalogue page, resolved
// against base.
func ParseCatalogue(r io.Reader, base string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse catalogue page: %w", err)
	}
	baseURL, _ := url.Parse(base)
	var links []string
	doc.Find("div.b-content__inline_item-link > a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		links = append(links, resolve(baseURL, href))
	})
	return links, nil
}

// ParseSerial builds a catalogue record from a detail page.
func ParseSerial(r io.Reader, pageURL string) (domain.Serial, error) {
	id, err := SerialID(pageURL)
	if err != nil {
		return domain.Serial{}, err
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return domain.Serial{}, fmt.Errorf("parse serial %d: %w", id, err)
	}

	s := domain.Serial{
		ID:          id,
		URL:         pageURL,
		Year:        SerialYear(pageURL),
		Title:       strings.TrimSpace(doc.Find(`h1[itemprop="name"]`).First().Text()),
		OriginTitle: strings.TrimSpace(doc.Find("div.b-post__origtitle").First().Text()),
		Finished:    doc.Find("div.b-post__infolast").Length() > 0,
	}
	doc.Find("li.b-translator__item").Each(func(_ int, li *goquery.Selection) {
		if v := strings.TrimSpace(li.Text()); v != "" && !s.HasVoice(v) {
			s.Voices = append(s.Voices, v)
		}
	})
	if err := s.Validate(); err != nil {
		return domain.Serial{}, err
	}
	return s, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
