package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks the config after defaults and env overrides were applied.
// All problems are reported together.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	durations := []struct{ path, raw string }{
		{"bot.poll_timeout", c.Bot.PollTimeout},
		{"source.request_timeout", c.Source.RequestTimeout},
		{"fetch.retry_delay", c.Fetch.RetryDelay},
		{"delivery.send_timeout", c.Delivery.SendTimeout},
		{"delivery.lease", c.Delivery.Lease},
		{"delivery.max_rate_limit_wait", c.Delivery.MaxRateLimitWait},
		{"delivery.refresh_interval", c.Delivery.RefreshInterval},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"storage.feed_poll", c.Storage.FeedPoll},
		{"storage.feed_retention", c.Storage.FeedRetention},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			add("%v", err)
		}
	}

	if u, err := url.Parse(c.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("source.base_url: %q is not an absolute URL", c.Source.BaseURL)
	}
	switch c.Scanner.Bootstrap {
	case BootstrapNotify, BootstrapSeed:
	default:
		add("scanner.bootstrap: %q (want notify or seed)", c.Scanner.Bootstrap)
	}
	switch c.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn is required for postgres")
		}
	default:
		add("storage.driver: %q (want sqlite or postgres)", c.Storage.Driver)
	}
	if c.Delivery.Template != "" {
		if _, err := template.New("body").Parse(c.Delivery.Template); err != nil {
			add("delivery.template: %v", err)
		}
	}
	if c.Logging.Alerts.Enabled && c.Bot.LogChatID == 0 {
		add("logging.alerts requires bot.log_chat_id")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// RequireBotToken is checked only by roles that talk to Telegram.
func (c *Config) RequireBotToken() error {
	if strings.TrimSpace(c.Bot.Token) == "" {
		return fmt.Errorf("%w: bot.token is required (or SERIALNOTIFY_BOT_TOKEN)", ErrInvalid)
	}
	return nil
}
