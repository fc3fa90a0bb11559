package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"serialnotify/internal/domain"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

func newBot(t *testing.T) (*Bot, storage.Store) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(Config{Timeout: 5 * time.Second}, st.Users(), st.Serials(), logx.Nop()), st
}

func seedSerials(t *testing.T, st storage.Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		s := domain.Serial{
			ID:          int64(i),
			Title:       fmt.Sprintf("Доктор %d", i),
			OriginTitle: "Doctor",
			Year:        2000 + i,
			Voices:      []string{"LostFilm"},
			Finished:    true,
		}
		if err := st.Serials().Upsert(context.Background(), s); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
}

func send(t *testing.T, b *Bot, req Request) Reply {
	t.Helper()
	if req.UserID == 0 {
		req.UserID = 42
	}
	rep, err := b.Handle(context.Background(), &req)
	if err != nil {
		t.Fatalf("Handle(%q %q): %v", req.Text, req.Data, err)
	}
	return rep
}

func TestStartRegistersUser(t *testing.T) {
	b, st := newBot(t)
	rep := send(t, b, Request{Text: "/start", Username: "neo"})
	if rep.Markup == nil || !strings.Contains(rep.Text, "Привет") {
		t.Fatalf("reply=%+v", rep)
	}
	u, err := st.Users().Get(context.Background(), 42)
	if err != nil || !u.Active || u.Username != "neo" {
		t.Fatalf("user=%+v err=%v", u, err)
	}
}

func TestSearchPaginates(t *testing.T) {
	b, st := newBot(t)
	// Finished serials from before 2017 are hidden: 9 of 25 remain.
	seedSerials(t, st, 25)

	if rep := send(t, b, Request{Text: "д"}); !strings.Contains(rep.Text, "мало символов") {
		t.Fatalf("short query reply=%q", rep.Text)
	}

	rep := send(t, b, Request{Text: "доктор"})
	if strings.Count(rep.Text, "/serial_") != 9 || rep.Markup != nil {
		t.Fatalf("reply=%q markup=%v", rep.Text, rep.Markup)
	}
	if !strings.HasPrefix(rep.Text, "<b>Доктор 25</b> (Doctor) 2025") {
		t.Fatalf("newest first expected, got %q", rep.Text)
	}

	seedSerials(t, st, 30)
	rep = send(t, b, Request{Text: "доктор"})
	if strings.Count(rep.Text, "/serial_") != PageSize || rep.Markup == nil {
		t.Fatalf("first page=%q", rep.Text)
	}
	rep = send(t, b, Request{Data: "search:page:2"})
	if !rep.Edit || strings.Count(rep.Text, "/serial_") != 4 {
		t.Fatalf("second page=%+v", rep)
	}
	rep = send(t, b, Request{Data: "search:page:3"})
	if rep.Notice != "Последняя страница" || rep.Text != "" {
		t.Fatalf("third page=%+v", rep)
	}

	rep = send(t, b, Request{UserID: 7, Data: "search:page:2"})
	if rep.Notice == "" {
		t.Fatalf("callback without a query should be answered with a notice")
	}
}

func TestSubscribeListDelete(t *testing.T) {
	b, st := newBot(t)
	seedSerials(t, st, 20)

	if rep := send(t, b, Request{Text: "/serial_20"}); !strings.Contains(rep.Text, "Теперь ты будешь") {
		t.Fatalf("subscribe reply=%q", rep.Text)
	}
	if rep := send(t, b, Request{Text: "/serial_20"}); !strings.Contains(rep.Text, "уже подписан") {
		t.Fatalf("repeat reply=%q", rep.Text)
	}
	if rep := send(t, b, Request{Text: "/serial_999"}); !strings.Contains(rep.Text, "не найден") {
		t.Fatalf("missing reply=%q", rep.Text)
	}

	rep := send(t, b, Request{Text: "/list"})
	if !strings.Contains(rep.Text, "Доктор 20") || !strings.Contains(rep.Text, "/delete_20") {
		t.Fatalf("list=%q", rep.Text)
	}

	if rep := send(t, b, Request{Text: "/delete_20"}); !strings.Contains(rep.Text, "не будешь") {
		t.Fatalf("delete reply=%q", rep.Text)
	}
	if rep := send(t, b, Request{Text: "Список сериалов"}); !strings.Contains(rep.Text, "нет сериалов") {
		t.Fatalf("empty list=%q", rep.Text)
	}
}

func TestExcludeToggles(t *testing.T) {
	b, st := newBot(t)
	seedSerials(t, st, 20)
	send(t, b, Request{Text: "/serial_19"})

	if rep := send(t, b, Request{Text: "/exclude_19_Кубик в Кубе"}); !strings.Contains(rep.Text, "отключена") {
		t.Fatalf("exclude reply=%q", rep.Text)
	}
	subs, err := st.Users().Subscriptions(context.Background(), 42)
	if err != nil || len(subs) != 1 || !subs[0].Excludes("Кубик в Кубе") {
		t.Fatalf("subs=%+v err=%v", subs, err)
	}
	if rep := send(t, b, Request{Text: "/exclude_19_Кубик в Кубе"}); !strings.Contains(rep.Text, "снова включена") {
		t.Fatalf("toggle back reply=%q", rep.Text)
	}
	if rep := send(t, b, Request{Text: "/exclude_5_LostFilm"}); !strings.Contains(rep.Text, "нет") {
		t.Fatalf("unsubscribed exclude reply=%q", rep.Text)
	}
}

func TestParseExclude(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		id    int64
		voice string
		ok    bool
	}{
		{"646_LostFilm", 646, "LostFilm", true},
		{"646_Hi_Fi Studio", 646, "Hi_Fi Studio", true},
		{"646_", 0, "", false},
		{"abc_LostFilm", 0, "", false},
		{"646", 0, "", false},
	}
	for _, tc := range cases {
		id, voice, err := ParseExclude(tc.in)
		if (err == nil) != tc.ok || id != tc.id || voice != tc.voice {
			t.Fatalf("%q: got %d %q %v", tc.in, id, voice, err)
		}
	}
}

func TestUnknownCommandShowsHelp(t *testing.T) {
	b, _ := newBot(t)
	if rep := send(t, b, Request{Text: "/nope"}); !strings.Contains(rep.Text, "/list") {
		t.Fatalf("reply=%q", rep.Text)
	}
}
