// Package fetch is the bounded, retrying HTTP GET shared by the feed scanner
// and the catalogue importer.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"golang.org/x/sync/semaphore"

	"serialnotify/internal/metrics"
	logx "serialnotify/pkg/logx"
)

type Config struct {
	// MaxConcurrent is the admission gate weight shared by every caller of
	// one Client.
	MaxConcurrent int64
	Shots         int
	RetryDelay    time.Duration
	// Timeout bounds a single attempt.
	Timeout   time.Duration
	UserAgent string
}

// Fetcher is what the scanner and importer depend on.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, bool)
}

type Client struct {
	cfg     Config
	hc      *http.Client
	gate    *semaphore.Weighted
	clock   clock.Clock
	log     logx.Logger
	metrics *metrics.Pipeline
}

type Option func(*Client)

// WithHTTPClient replaces the default client; tests pass httptest clients.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

func WithMetrics(m *metrics.Pipeline) Option { return func(c *Client) { c.metrics = m } }

// WithClock replaces the wall clock that paces retries.
func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.Shots <= 0 {
		cfg.Shots = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:   cfg,
		gate:  semaphore.NewWeighted(cfg.MaxConcurrent),
		clock: clock.WallClock,
		log:   log.With(logx.String("comp", "fetch")),
	}
	for _, o := range opts {
		o(c)
	}
	if c.hc == nil {
		c.hc = newHTTPClient(cfg.MaxConcurrent)
	}
	return c
}

func newHTTPClient(perHost int64) *http.Client {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          int(perHost),
		MaxIdleConnsPerHost:   int(perHost),
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}
}

var errNotFound = errors.New("not found")

// Fetch returns the body of url. ok is false when the resource does not
// exist (404, no retry), when every shot failed, or when ctx ended. Failures
// are logged here and never returned.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, bool) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	defer c.gate.Release(1)

	var body []byte
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			b, err := c.get(ctx, url)
			body = b
			return err
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, errNotFound) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			c.log.Debug("fetch attempt failed",
				logx.String("url", url), logx.Int("shot", attempt), logx.Err(err))
		},
		Attempts: c.cfg.Shots,
		Delay:    c.cfg.RetryDelay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
		c.metrics.Fetch(ctx, metrics.FetchOK)
		return body, true
	case errors.Is(err, errNotFound):
		c.log.Debug("fetch: not found", logx.String("url", url))
		c.metrics.Fetch(ctx, metrics.FetchNotFound)
	case retry.IsAttemptsExceeded(err):
		c.log.Warn("fetch failed", logx.String("url", url), logx.Int("shots", c.cfg.Shots), logx.Err(retry.LastError(err)))
		c.metrics.Fetch(ctx, metrics.FetchExhausted)
	}
	return nil, false
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
