package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

func newServer(t *testing.T, cfg Config) (*Server, storage.Store) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "admin.db")}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	deps := Deps{
		Messages: st.Messages(),
		Ping:     st.Ping,
		Health:   func() any { return []string{"worker"} },
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
	}
	return New(cfg, deps, logx.Nop()), st
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestEnqueueListStats(t *testing.T) {
	srv, _ := newServer(t, Config{})
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/messages", `{"recipient": 42, "body": "hello"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue status=%d body=%s", w.Code, w.Body)
	}
	var created MessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "READY" || created.ID == "" || created.Recipient != 42 {
		t.Fatalf("created=%+v", created)
	}

	w = do(t, h, http.MethodGet, "/api/v1/messages/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/messages?status=ready&limit=10", "")
	var list ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list.Data) != 1 {
		t.Fatalf("list=%s err=%v", w.Body, err)
	}

	w = do(t, h, http.MethodGet, "/api/v1/queue/stats", "")
	var stats StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Counts["READY"] != 1 || stats.Counts["DONE"] != 0 || stats.OldestReady == nil {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestRequestErrors(t *testing.T) {
	srv, _ := newServer(t, Config{})
	h := srv.Handler()

	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/v1/messages", `{"recipient":`, http.StatusBadRequest},
		{"blank body", http.MethodPost, "/api/v1/messages", `{"recipient": 1, "body": "   "}`, http.StatusUnprocessableEntity},
		{"no recipient", http.MethodPost, "/api/v1/messages", `{"body": "x"}`, http.StatusUnprocessableEntity},
		{"too long", http.MethodPost, "/api/v1/messages", `{"recipient": 1, "body": "` + strings.Repeat("я", MaxBodyLen+1) + `"}`, http.StatusUnprocessableEntity},
		{"bad status", http.MethodGet, "/api/v1/messages?status=LOST", "", http.StatusUnprocessableEntity},
		{"bad limit", http.MethodGet, "/api/v1/messages?limit=0", "", http.StatusUnprocessableEntity},
		{"unknown id", http.MethodGet, "/api/v1/messages/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(t, h, tc.method, tc.target, tc.body); w.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestTokenAuth(t *testing.T) {
	srv, _ := newServer(t, Config{Token: "s3cret", Pprof: true})
	h := srv.Handler()

	if w := do(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz should stay open, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/queue/stats", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/metrics", "", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/metrics", "", "Authorization", "Bearer s3cret"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Fatalf("metrics status=%d body=%s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodGet, "/debug/pprof/cmdline?token=s3cret", ""); w.Code != http.StatusOK {
		t.Fatalf("pprof status=%d", w.Code)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	srv, st := newServer(t, Config{})
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"worker"`) {
		t.Fatalf("healthz=%d %s", w.Code, w.Body)
	}
	_ = st.Close()
	if w := do(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed db healthz=%d", w.Code)
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	srv := New(Config{Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	if err := srv.Run(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := New(Config{Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v", addr, got)
		}
	}
}
