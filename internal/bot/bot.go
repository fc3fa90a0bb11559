// Package bot is the Telegram front-end: users search the catalogue,
// subscribe, list and drop subscriptions, and mute voice tracks.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"serialnotify/internal/domain"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
	"serialnotify/pkg/tgui"
)

const (
	PageSize       = 10
	minQueryRunes  = 2
	searchScope    = "search"
	searchPage     = "page"
	btnAddSerial   = "Добавить сериал"
	btnListSerials = "Список сериалов"
)

// Request is one incoming text message or callback press.
type Request struct {
	UserID    int64
	Username  string
	FirstName string
	Text      string
	// Data is set for callback presses.
	Data string
}

func (r *Request) command() string {
	if r.Data != "" {
		return r.Data
	}
	if strings.HasPrefix(r.Text, "/") {
		cmd, _, _ := strings.Cut(r.Text, " ")
		return cmd
	}
	return "text"
}

// Reply is what the transport sends back. Edit replaces the message the
// callback came from; Notice is shown as the callback answer.
type Reply struct {
	Text   string
	Markup *tele.ReplyMarkup
	Edit   bool
	Notice string
}

type Config struct {
	// Timeout bounds one handler call; 0 disables it.
	Timeout time.Duration
}

type Bot struct {
	users   storage.UserRepo
	serials storage.SerialRepo
	log     logx.Logger
	handle  HandlerFunc

	mu      sync.Mutex
	queries map[int64]string // last search per user
}

func New(cfg Config, users storage.UserRepo, serials storage.SerialRepo, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		users:   users,
		serials: serials,
		log:     log.With(logx.String("comp", "bot")),
		queries: map[int64]string{},
	}
	b.handle = Chain(b.route,
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
		MWTimeout(cfg.Timeout),
	)
	return b
}

// Handle routes one request through the middleware chain.
func (b *Bot) Handle(ctx context.Context, req *Request) (Reply, error) {
	return b.handle(ctx, req)
}

func (b *Bot) route(ctx context.Context, req *Request) (Reply, error) {
	if req.Data != "" {
		return b.onCallback(ctx, req)
	}
	text := strings.TrimSpace(req.Text)
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")

	switch {
	case cmd == "/start":
		return b.start(ctx, req)
	case cmd == "/help":
		return Reply{Text: helpText}, nil
	case cmd == "/list" || text == btnListSerials:
		return b.list(ctx, req)
	case text == btnAddSerial:
		return Reply{Text: "Введи название:"}, nil
	case strings.HasPrefix(cmd, "/serial_"):
		return b.subscribe(ctx, req, strings.TrimPrefix(cmd, "/serial_"))
	case strings.HasPrefix(cmd, "/delete_"):
		return b.unsubscribe(ctx, req, strings.TrimPrefix(cmd, "/delete_"))
	case strings.HasPrefix(cmd, "/exclude_"):
		return b.exclude(ctx, req, strings.TrimPrefix(text, "/exclude_"))
	case strings.HasPrefix(cmd, "/"):
		return Reply{Text: "Неизвестная команда\n\n" + helpText}, nil
	default:
		return b.search(ctx, req, text)
	}
}

const helpText = `Напиши название сериала, чтобы найти его.
/serial_<id> подписаться
/list мои подписки
/delete_<id> отписаться
/exclude_<id>_<озвучка> не присылать серии в этой озвучке (повтор включает обратно)`

var errBadArgument = errors.New("bad command argument")

func (b *Bot) start(ctx context.Context, req *Request) (Reply, error) {
	u := domain.User{
		ID:        req.UserID,
		Username:  req.Username,
		FirstName: req.FirstName,
		Active:    true,
		Created:   time.Now(),
	}
	if err := b.users.Upsert(ctx, u); err != nil {
		return Reply{}, fmt.Errorf("register user %d: %w", req.UserID, err)
	}
	return Reply{
		Text:   "Привет! Давай поищем твои любимые сериалы!\nВведи название:",
		Markup: tgui.Keyboard([]string{btnAddSerial, btnListSerials}),
	}, nil
}

func (b *Bot) search(ctx context.Context, req *Request, query string) (Reply, error) {
	if len([]rune(query)) < minQueryRunes {
		return Reply{Text: "Слишком мало символов\nПопробуй ввести что-то другое:"}, nil
	}
	b.mu.Lock()
	b.queries[req.UserID] = query
	b.mu.Unlock()

	rep, found, err := b.searchPage(ctx, query, 1)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{Text: "Прости, ничего не нашёл\nПопробуй ввести что-то другое:"}, nil
	}
	return rep, nil
}

func (b *Bot) onCallback(ctx context.Context, req *Request) (Reply, error) {
	scope, action, payload, err := tgui.ParseData(req.Data)
	if err != nil || scope != searchScope || action != searchPage {
		return Reply{Notice: "Кнопка устарела"}, nil
	}
	page, err := strconv.Atoi(payload)
	if err != nil || page < 1 {
		return Reply{Notice: "Кнопка устарела"}, nil
	}
	b.mu.Lock()
	query, ok := b.queries[req.UserID]
	b.mu.Unlock()
	if !ok {
		return Reply{Notice: "Повтори поиск"}, nil
	}

	rep, found, err := b.searchPage(ctx, query, page)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{Notice: "Последняя страница"}, nil
	}
	rep.Edit = true
	return rep, nil
}

func (b *Bot) searchPage(ctx context.Context, query string, page int) (Reply, bool, error) {
	serials, err := b.serials.Search(ctx, query, page, PageSize)
	if err != nil {
		return Reply{}, false, fmt.Errorf("search %q: %w", query, err)
	}
	if len(serials) == 0 {
		return Reply{}, false, nil
	}
	blocks := make([]tgui.H, 0, len(serials))
	for _, s := range serials {
		blocks = append(blocks, SerialCard(s)+tgui.H(fmt.Sprintf("\n/serial_%d\n", s.ID)))
	}
	kb := tgui.Pager(page, len(serials) == PageSize, pageData)
	return Reply{Text: string(tgui.Join("\n", blocks...)), Markup: kb.Markup()}, true, nil
}

func pageData(page int) string {
	d, _ := tgui.Data(searchScope, searchPage, strconv.Itoa(page))
	return d
}

const maxOriginRunes = 60

// SerialCard renders the title line used by search results and replies.
func SerialCard(s domain.Serial) tgui.H {
	parts := []tgui.H{tgui.B(s.Title)}
	if s.OriginTitle != "" {
		parts = append(parts, tgui.Esc("("+tgui.TruncRunes(s.OriginTitle, maxOriginRunes)+")"))
	}
	if s.Year > 0 {
		parts = append(parts, tgui.Esc(strconv.Itoa(s.Year)))
	}
	card := tgui.Join(" ", parts...)
	if s.Finished {
		card += "\n" + tgui.B("Завершён")
	}
	return card
}

func (b *Bot) subscribe(ctx context.Context, req *Request, arg string) (Reply, error) {
	id, err := parseID(arg)
	if err != nil {
		return Reply{Text: "Что-то пошло не так"}, nil
	}
	s, err := b.serials.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Reply{Text: "Упс! Сериал не найден"}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	if _, err := b.users.Get(ctx, req.UserID); errors.Is(err, storage.ErrNotFound) {
		if err := b.users.Upsert(ctx, domain.User{ID: req.UserID, Username: req.Username, FirstName: req.FirstName, Active: true}); err != nil {
			return Reply{}, fmt.Errorf("register user %d: %w", req.UserID, err)
		}
	} else if err != nil {
		return Reply{}, err
	}
	added, err := b.users.Subscribe(ctx, req.UserID, domain.Subscription{SerialID: s.ID, Title: s.Title})
	if err != nil {
		return Reply{}, fmt.Errorf("subscribe %d to %d: %w", req.UserID, s.ID, err)
	}
	if !added {
		return Reply{Text: string("Ты уже подписан на\n" + SerialCard(s))}, nil
	}
	b.log.Info("subscribed", logx.Int64("user_id", req.UserID), logx.Int64("serial_id", s.ID))
	return Reply{Text: string("Теперь ты будешь получать уведомления о выходе новых серий сериала:\n\n" + SerialCard(s))}, nil
}

func (b *Bot) unsubscribe(ctx context.Context, req *Request, arg string) (Reply, error) {
	id, err := parseID(arg)
	if err != nil {
		return Reply{Text: "Что-то пошло не так"}, nil
	}
	removed, err := b.users.Unsubscribe(ctx, req.UserID, id)
	if err != nil {
		return Reply{}, fmt.Errorf("unsubscribe %d from %d: %w", req.UserID, id, err)
	}
	if !removed {
		return Reply{Text: "Такой подписки нет"}, nil
	}
	return Reply{Text: "Теперь ты не будешь получать уведомления о выходе новых серий сериала"}, nil
}

func (b *Bot) list(ctx context.Context, req *Request) (Reply, error) {
	subs, err := b.users.Subscriptions(ctx, req.UserID)
	if err != nil {
		return Reply{}, err
	}
	if len(subs) == 0 {
		return Reply{Text: "У тебя пока нет сериалов"}, nil
	}
	return Reply{Text: string(FormatSubscriptions(subs))}, nil
}

// FormatSubscriptions lists subscriptions with their delete commands.
func FormatSubscriptions(subs []domain.Subscription) tgui.H {
	blocks := []tgui.H{tgui.B("Сериалы:") + "\n"}
	for _, s := range subs {
		block := tgui.B(s.Title)
		if len(s.ExcludedVoices) > 0 {
			block += "\n" + tgui.I("без озвучки: "+strings.Join(s.ExcludedVoices, ", "))
		}
		block += tgui.H(fmt.Sprintf("\nУдалить: /delete_%d\n", s.SerialID))
		blocks = append(blocks, block)
	}
	return tgui.Join("\n", blocks...)
}

func (b *Bot) exclude(ctx context.Context, req *Request, arg string) (Reply, error) {
	id, voice, err := ParseExclude(arg)
	if err != nil {
		return Reply{Text: "Формат: /exclude_<id>_<озвучка>"}, nil
	}
	subs, err := b.users.Subscriptions(ctx, req.UserID)
	if err != nil {
		return Reply{}, err
	}
	var sub *domain.Subscription
	for i := range subs {
		if subs[i].SerialID == id {
			sub = &subs[i]
			break
		}
	}
	if sub == nil {
		return Reply{Text: "Такой подписки нет"}, nil
	}

	exclude := !sub.Excludes(voice)
	if err := b.users.SetVoiceExcluded(ctx, req.UserID, id, voice, exclude); err != nil {
		return Reply{}, fmt.Errorf("exclude voice for %d on %d: %w", req.UserID, id, err)
	}
	if exclude {
		return Reply{Text: string(tgui.Esc("Озвучка ") + tgui.B(voice) + tgui.Esc(" отключена для ") + tgui.B(sub.Title))}, nil
	}
	return Reply{Text: string(tgui.Esc("Озвучка ") + tgui.B(voice) + tgui.Esc(" снова включена для ") + tgui.B(sub.Title))}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadArgument
	}
	return id, nil
}

// ParseExclude splits "<id>_<voice>". The voice may contain underscores and
// spaces.
func ParseExclude(arg string) (int64, string, error) {
	head, voice, ok := strings.Cut(strings.TrimSpace(arg), "_")
	if !ok {
		return 0, "", errBadArgument
	}
	id, err := parseID(head)
	if err != nil {
		return 0, "", err
	}
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return 0, "", errBadArgument
	}
	return id, voice, nil
}
