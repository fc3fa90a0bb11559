package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()

	d, err := Data("search", "page", "3")
	if err != nil || d != "search:page:3" {
		t.Fatalf("d=%q err=%v", d, err)
	}
	scope, action, payload, err := ParseData("a:b:c:d")
	if err != nil || scope != "a" || action != "b" || payload != "c:d" {
		t.Fatalf("got %q %q %q %v", scope, action, payload, err)
	}
	if _, _, _, err := ParseData("nocolon"); !errors.Is(err, ErrBadCallbackData) {
		t.Fatalf("err=%v", err)
	}
	if _, err := Data("s", "a", strings.Repeat("x", 64)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err=%v", err)
	}
}

func TestEscapingAndJoin(t *testing.T) {
	t.Parallel()

	got := Join(" ", B("Tom & Jerry"), Esc(""), Esc("(<1940>)"))
	if got != "<b>Tom &amp; Jerry</b> (&lt;1940&gt;)" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	if got := TruncRunes("Доктор Кто", 6); got != "Доктор…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("abc", 3); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestPager(t *testing.T) {
	t.Parallel()

	data := func(p int) string { d, _ := Data("search", "page", string(rune('0'+p))); return d }
	if m := Pager(1, false, data).Markup(); m != nil {
		t.Fatalf("single page should have no keyboard")
	}
	m := Pager(2, true, data).Markup()
	if m == nil || len(m.InlineKeyboard) != 2 || len(m.InlineKeyboard[1]) != 2 {
		t.Fatalf("markup=%+v", m)
	}
	if m.InlineKeyboard[1][1].Data != "search:page:3" {
		t.Fatalf("next data=%q", m.InlineKeyboard[1][1].Data)
	}
}
