package source

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"serialnotify/internal/domain"
	logx "serialnotify/pkg/logx"
)

func openFixture(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestParseUpdates(t *testing.T) {
	t.Parallel()

	events, skipped, err := ParseUpdates(openFixture(t, "updates.html"), "http://hdrezka.test")
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped=%d", skipped)
	}
	want := []domain.UpdateEvent{
		{SerialID: 646, Name: "Доктор Кто", Season: "13", Episode: "5", Voice: "LostFilm",
			URL: "http://hdrezka.test/series/fiction/646-doktor-kto-2005.html"},
		{SerialID: 1000, Name: "Любовь", Season: "2", Episode: "10",
			URL: "http://hdrezka.test/series/drama/1000-lyubov-2019.html"},
		{SerialID: 777, Name: "Офис", Season: "9", Episode: "23", Voice: "Кубик в Кубе",
			URL: "http://hdrezka.test/series/comedy/777-ofis-2005.html"},
	}
	if len(events) != len(want) {
		t.Fatalf("events=%+v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestSplitEpisode(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, ep, voice string }{
		{"5 серия (LostFilm)", "5", "LostFilm"},
		{"10 серия", "10", ""},
		{"1-2 серия (Кубик в Кубе)", "1-2", "Кубик в Кубе"},
		{"  3 серия  ", "3", ""},
	}
	for _, tc := range cases {
		ep, v := splitEpisode(tc.in)
		if ep != tc.ep || v != tc.voice {
			t.Fatalf("%q: got %q %q", tc.in, ep, v)
		}
	}
}

func TestSerialIDAndYear(t *testing.T) {
	t.Parallel()

	id, err := SerialID("http://hdrezka.ag/series/drama/646-doctor-who-2005.html")
	if err != nil || id != 646 {
		t.Fatalf("id=%d err=%v", id, err)
	}
	if _, err := SerialID("/series/drama/"); !errors.Is(err, ErrBadID) {
		t.Fatalf("err=%v", err)
	}
	if y := SerialYear("/series/drama/646-doctor-who-2005.html"); y != 2005 {
		t.Fatalf("year=%d", y)
	}
	if y := SerialYear("/series/drama/646-doctor-who.html"); y != 0 {
		t.Fatalf("year=%d", y)
	}
	if y := SerialYear("/series/drama/646-show-1800.html"); y != 0 {
		t.Fatalf("year before 1900 kept: %d", y)
	}
}

func TestParseCatalogue(t *testing.T) {
	t.Parallel()

	links, err := ParseCatalogue(openFixture(t, "catalogue.html"), "http://hdrezka.test")
	if err != nil {
		t.Fatalf("ParseCatalogue: %v", err)
	}
	if len(links) != 2 || links[1] != "http://hdrezka.test/series/comedy/777-ofis-2005.html" {
		t.Fatalf("links=%v", links)
	}
}

func TestParseSerial(t *testing.T) {
	t.Parallel()

	s, err := ParseSerial(openFixture(t, "serial.html"), "http://hdrezka.test/series/fiction/646-doktor-kto-2005.html")
	if err != nil {
		t.Fatalf("ParseSerial: %v", err)
	}
	if s.ID != 646 || s.Year != 2005 || s.Title != "Доктор Кто" || s.OriginTitle != "Doctor Who" || !s.Finished {
		t.Fatalf("serial=%+v", s)
	}
	if len(s.Voices) != 2 || !s.HasVoice("Кубик в Кубе") {
		t.Fatalf("voices=%v", s.Voices)
	}
	if _, err := ParseSerial(strings.NewReader("<html></html>"), "/series/x/5-a.html"); !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("missing title err=%v", err)
	}
}

type fakeFetcher map[string]string

func (f fakeFetcher) Fetch(_ context.Context, url string) ([]byte, bool) {
	body, ok := f[url]
	return []byte(body), ok
}

func TestScanLatest(t *testing.T) {
	t.Parallel()

	raw, err := os.ReadFile("testdata/updates.html")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	site := Site{BaseURL: "http://hdrezka.test/"}
	sc := NewScanner(site, fakeFetcher{"http://hdrezka.test/": string(raw)}, logx.Nop())
	if got := sc.ScanLatest(context.Background()); len(got) != 3 || got[0].SerialID != 646 {
		t.Fatalf("events=%+v", got)
	}

	down := NewScanner(site, fakeFetcher{}, logx.Nop())
	if got := down.ScanLatest(context.Background()); len(got) != 0 {
		t.Fatalf("unreachable source returned %+v", got)
	}
}

func TestSiteURLs(t *testing.T) {
	t.Parallel()

	s := Site{BaseURL: "http://hdrezka.test/"}
	if s.UpdatesURL() != "http://hdrezka.test/" || s.CatalogueURL(1) != "http://hdrezka.test/series/" ||
		s.CatalogueURL(3) != "http://hdrezka.test/series/page/3/" {
		t.Fatalf("urls: %s %s %s", s.UpdatesURL(), s.CatalogueURL(1), s.CatalogueURL(3))
	}
}
