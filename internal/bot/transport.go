package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"

	logx "serialnotify/pkg/logx"
)

// Attach registers the text and callback handlers on tb. ctx scopes every
// handler call.
func (b *Bot) Attach(ctx context.Context, tb *tele.Bot) {
	tb.Handle(tele.OnText, func(c tele.Context) error {
		req := requestFrom(c)
		rep, err := b.Handle(ctx, req)
		if err != nil {
			return c.Send("Что-то пошло не так, попробуй позже")
		}
		return c.Send(rep.Text, sendOptions(rep))
	})

	tb.Handle(tele.OnCallback, func(c tele.Context) error {
		req := requestFrom(c)
		req.Text = ""
		req.Data = c.Callback().Data
		rep, err := b.Handle(ctx, req)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Что-то пошло не так"})
		}
		if rep.Text != "" {
			send := c.Send
			if rep.Edit {
				send = c.Edit
			}
			if err := send(rep.Text, sendOptions(rep)); err != nil {
				b.log.Warn("callback reply failed", logx.Int64("user_id", req.UserID), logx.Err(err))
			}
		}
		return c.Respond(&tele.CallbackResponse{Text: rep.Notice})
	})
}

// Run polls for updates until ctx ends.
func (b *Bot) Run(ctx context.Context, tb *tele.Bot) error {
	b.Attach(ctx, tb)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tb.Start()
	}()
	if tb.Me != nil {
		b.log.Info("bot polling started", logx.String("username", tb.Me.Username))
	}

	select {
	case <-ctx.Done():
		tb.Stop()
		<-done
	case <-done:
	}
	b.log.Info("bot polling stopped")
	return nil
}

func requestFrom(c tele.Context) *Request {
	req := &Request{Text: c.Text()}
	if u := c.Sender(); u != nil {
		req.UserID = u.ID
		req.Username = u.Username
		req.FirstName = u.FirstName
	}
	return req
}

func sendOptions(rep Reply) *tele.SendOptions {
	opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if rep.Markup != nil {
		opt.ReplyMarkup = rep.Markup
	}
	return opt
}
