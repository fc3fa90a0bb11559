package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	p := writeFile(t, "config.yaml", `
source:
  base_url: "https://example.test/"
fetch:
  shots: 3
scanner:
  bootstrap: SEED
delivery:
  refresh_interval: 2s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.BaseURL != "https://example.test" {
		t.Fatalf("base_url=%q", cfg.Source.BaseURL)
	}
	if cfg.Fetch.Shots != 3 || cfg.Fetch.MaxConcurrent != 100 {
		t.Fatalf("fetch=%+v", cfg.Fetch)
	}
	if cfg.FetchRetryDelay() != 500*time.Millisecond {
		t.Fatalf("retry delay=%v", cfg.FetchRetryDelay())
	}
	if cfg.Scanner.Bootstrap != BootstrapSeed {
		t.Fatalf("bootstrap=%q", cfg.Scanner.Bootstrap)
	}
	if cfg.RefreshInterval() != 2*time.Second {
		t.Fatalf("refresh=%v", cfg.RefreshInterval())
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver=%q", cfg.Storage.Driver)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"scanner":{"schedul":"@every 1s"}}`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "schedul") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scanner.Schedule != "@every 10s" || cfg.Importer.Schedule != "@every 20m" {
		t.Fatalf("schedules=%q %q", cfg.Scanner.Schedule, cfg.Importer.Schedule)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SERIALNOTIFY_BOT_TOKEN", "123:abc")
	t.Setenv("SERIALNOTIFY_STORAGE_DRIVER", "postgres")
	t.Setenv("SERIALNOTIFY_STORAGE_DSN", "postgres://u:p@localhost/db?sslmode=disable")

	p := writeFile(t, "config.yaml", "bot:\n  token: from-file\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Token != "123:abc" {
		t.Fatalf("token=%q", cfg.Bot.Token)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("driver=%q", cfg.Storage.Driver)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Scanner.Bootstrap = "maybe"
	cfg.Fetch.RetryDelay = "soon"
	cfg.Storage.Driver = "mongo"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v", err)
	}
	for _, want := range []string{"scanner.bootstrap", "fetch.retry_delay", "storage.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Second, false},
		{"0s", time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"later", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, time.Second)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("%q: got %v err=%v", tc.raw, got, err)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	changed, restart := Diff(a, b)
	if len(changed) != 1 || changed[0] != "logging" || restart {
		t.Fatalf("changed=%v restart=%v", changed, restart)
	}

	b.Delivery.Workers = 9
	if _, restart := Diff(a, b); !restart {
		t.Fatalf("delivery change should require restart")
	}
}
