// Package fanout turns one update event into one outbound message per
// subscribed recipient.
package fanout

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"serialnotify/internal/domain"
	"serialnotify/internal/metrics"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

// DefaultTemplate renders the classic notification wording.
const DefaultTemplate = `Вышла новая серия сериала "{{.Event.Name}}" {{.Event.Season}} сезон {{.Event.Episode}} серия {{.Event.Voice}}`

// BodyData is what a body template sees.
type BodyData struct {
	Event domain.UpdateEvent
	// Title is the recipient's subscription title, which may differ from the
	// listing name.
	Title string
}

// ParseTemplate compiles a body template; an empty text selects the default.
func ParseTemplate(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	t, err := template.New("body").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return t, nil
}

type Service struct {
	users    storage.UserRepo
	messages storage.MessageRepo
	tmpl     *template.Template
	log      logx.Logger
	metrics  *metrics.Pipeline
	now      func() time.Time
}

func New(st storage.Store, tmpl *template.Template, log logx.Logger, m *metrics.Pipeline) *Service {
	if tmpl == nil {
		tmpl, _ = ParseTemplate("")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		users:    st.Users(),
		messages: st.Messages(),
		tmpl:     tmpl,
		log:      log.With(logx.String("comp", "fanout")),
		metrics:  m,
		now:      time.Now,
	}
}

// FanOut enqueues one READY message per subscriber that does not exclude the
// event's voice. All messages commit in one transaction; zero recipients is
// a successful no-op.
func (s *Service) FanOut(ctx context.Context, ev domain.UpdateEvent) (int, error) {
	subs, err := s.users.Subscribers(ctx, ev.SerialID)
	if err != nil {
		return 0, fmt.Errorf("fan out %s: %w", ev.Fingerprint(), err)
	}

	now := s.now()
	msgs := make([]domain.Message, 0, len(subs))
	excluded := 0
	for _, sub := range subs {
		if sub.Subscription.Excludes(ev.Voice) {
			excluded++
			continue
		}
		body, err := s.render(ev, sub.Subscription)
		if err != nil {
			return 0, fmt.Errorf("fan out %s: %w", ev.Fingerprint(), err)
		}
		m := domain.Message{Recipient: sub.UserID, Body: body}
		m.ApplyDefaults(now)
		msgs = append(msgs, m)
	}

	if err := s.messages.EnqueueBatch(ctx, msgs); err != nil {
		return 0, fmt.Errorf("fan out %s: %w", ev.Fingerprint(), err)
	}
	s.metrics.MessagesEnqueued(ctx, len(msgs))
	s.log.Debug("event fanned out",
		logx.String("event", ev.Fingerprint()),
		logx.Int("subscribers", len(subs)),
		logx.Int("excluded", excluded),
		logx.Int("enqueued", len(msgs)))
	return len(msgs), nil
}

func (s *Service) render(ev domain.UpdateEvent, sub domain.Subscription) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, BodyData{Event: ev, Title: sub.Title}); err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
