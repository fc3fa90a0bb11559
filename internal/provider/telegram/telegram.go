// Package telegram is the Telegram Bot API provider: it delivers queue
// messages, forwards log alerts and owns the bot used by the front-end.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"serialnotify/internal/delivery"
	logx "serialnotify/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	SendTimeout time.Duration
	// URL overrides the API endpoint; tests point it at httptest.
	URL string
	// Offline skips the getMe handshake.
	Offline bool
}

type Client struct {
	bot *tele.Bot
	// sender carries outbound messages. Its HTTP client is bounded by
	// SendTimeout alone, so a hung request cannot outlive a delivery lease.
	sender *tele.Bot
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"))

	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  &http.Client{Timeout: cfg.SendTimeout + cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("bot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	sender, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.SendTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram sender: %w", err)
	}
	return &Client{bot: b, sender: sender, log: log}, nil
}

// Bot exposes the underlying bot for handler registration and polling.
func (c *Client) Bot() *tele.Bot { return c.bot }

// Send implements delivery.Sender. The recipient id doubles as the private
// chat id.
func (c *Client) Send(ctx context.Context, recipient int64, body string) error {
	if strings.TrimSpace(body) == "" {
		return delivery.ErrEmptyBody
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.sender.Send(&tele.Chat{ID: recipient}, body, &tele.SendOptions{DisableWebPagePreview: true})
	return MapError(err)
}

// SendAlert implements logx.AlertSender.
func (c *Client) SendAlert(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.sender.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true, DisableNotification: true})
	return err
}

// MapError converts Bot API errors into delivery outcomes.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &delivery.RateLimitError{RetryAfter: time.Duration(fe.RetryAfter) * time.Second}
	}
	var pfe *tele.FloodError
	if errors.As(err, &pfe) && pfe != nil {
		return &delivery.RateLimitError{RetryAfter: time.Duration(pfe.RetryAfter) * time.Second}
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser):
		return fmt.Errorf("%w: %v", delivery.ErrBlocked, err)
	case errors.Is(err, tele.ErrChatNotFound):
		return fmt.Errorf("%w: %v", delivery.ErrChatNotFound, err)
	case errors.Is(err, tele.ErrUserIsDeactivated):
		return fmt.Errorf("%w: %v", delivery.ErrDeactivated, err)
	case errors.Is(err, tele.ErrEmptyMessage), errors.Is(err, tele.ErrEmptyText):
		return fmt.Errorf("%w: %v", delivery.ErrEmptyBody, err)
	}
	return err
}
