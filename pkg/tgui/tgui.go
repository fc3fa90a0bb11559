// Package tgui holds the small Telegram UI helpers used by the bot: inline
// keyboards, callback data and HTML-safe text.
package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row; empty rows are dropped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Empty() bool { return len(i.rows) == 0 }

// Markup returns the keyboard, or nil when no row was added.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if i.Empty() {
		return nil
	}
	return i.rm
}

// Btn is a callback button carrying raw data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Keyboard is a resized reply keyboard with one row per slice.
func Keyboard(rows ...[]string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]tele.Btn, 0, len(r))
		for _, t := range r {
			btns = append(btns, tele.Btn{Text: t})
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}

// Pager renders "В начало" plus "<" and ">" buttons. page is 1-based; data
// builds the callback data for a target page.
func Pager(page int, hasNext bool, data func(page int) string) *Inline {
	kb := NewInline()
	if page > 1 {
		kb.Row(Btn("В начало", data(1)))
	}
	var nav []tele.Btn
	if page > 1 {
		nav = append(nav, Btn("<", data(page-1)))
	}
	if hasNext {
		nav = append(nav, Btn(">", data(page+1)))
	}
	return kb.Row(nav...)
}
