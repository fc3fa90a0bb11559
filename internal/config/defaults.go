package config

import "strings"

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{Logging: LoggingConfig{Level: "info", Console: true}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values. Durations stay strings; callers resolve
// them through the typed accessors in resolved.go.
func (c *Config) ApplyDefaults() {
	setStr := func(p *string, def string) {
		if strings.TrimSpace(*p) == "" {
			*p = def
		}
	}
	setInt := func(p *int, def int) {
		if *p <= 0 {
			*p = def
		}
	}

	setStr(&c.Bot.PollTimeout, "10s")

	setStr(&c.Source.BaseURL, "http://hdrezka.ag")
	c.Source.BaseURL = strings.TrimRight(c.Source.BaseURL, "/")
	setStr(&c.Source.UserAgent, "serialnotify/1.0")
	setStr(&c.Source.RequestTimeout, "15s")

	setInt(&c.Fetch.MaxConcurrent, 100)
	setInt(&c.Fetch.Shots, 5)
	setStr(&c.Fetch.RetryDelay, "500ms")

	setStr(&c.Scanner.Schedule, "@every 10s")
	setStr(&c.Scanner.Bootstrap, BootstrapNotify)
	c.Scanner.Bootstrap = strings.ToLower(strings.TrimSpace(c.Scanner.Bootstrap))

	setStr(&c.Importer.Schedule, "@every 20m")
	setInt(&c.Importer.Concurrency, 16)

	setInt(&c.Delivery.Workers, 4)
	if c.Delivery.RatePerSec <= 0 {
		c.Delivery.RatePerSec = 25
	}
	setStr(&c.Delivery.SendTimeout, "30s")
	setStr(&c.Delivery.Lease, "2m")
	setInt(&c.Delivery.MaxRateLimitRetries, 5)
	setStr(&c.Delivery.MaxRateLimitWait, "5m")
	setStr(&c.Delivery.RefreshInterval, "5s")

	setStr(&c.Storage.Driver, "sqlite")
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	setStr(&c.Storage.Path, "./data/serialnotify.db")
	setStr(&c.Storage.BusyTimeout, "5s")
	setStr(&c.Storage.FeedPoll, "1s")
	setStr(&c.Storage.FeedRetention, "24h")

	setStr(&c.Admin.Addr, "127.0.0.1:8080")

	setStr(&c.Logging.Level, "info")
	setStr(&c.Logging.File.Path, "./serialnotify.log")
	setStr(&c.Logging.Alerts.MinLevel, "warn")
	setInt(&c.Logging.Alerts.RatePerSec, 1)
}
