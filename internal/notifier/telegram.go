package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"tubewatch/internal/feed"
	logx "tubewatch/pkg/logx"
)

// TelegramConfig configures a bot that posts into one chat (and optionally
// one forum topic).
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	Timeout  time.Duration
	// APIURL overrides the Bot API endpoint (tests).
	APIURL string
}

// TelegramSender posts HTML messages through the Bot API.
type TelegramSender struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
	log      logx.Logger
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline skips the getMe round trip; the bot only sends.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSender{
		bot:      b,
		chat:     &tele.Chat{ID: cfg.ChatID},
		threadID: cfg.ThreadID,
		log:      log.With(logx.String("comp", "notifier.telegram"), logx.Int64("chat_id", cfg.ChatID)),
	}, nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, p Payload) error {
	return t.send(ctx, formatTelegram(p), false)
}

func (t *TelegramSender) SendText(ctx context.Context, text string) error {
	return t.send(ctx, html.EscapeString(text), true)
}

func (t *TelegramSender) send(ctx context.Context, text string, noPreview bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: noPreview,
		ThreadID:              t.threadID,
	})
	if err != nil {
		return classifyTelegram(err, t.bot.Token)
	}
	t.log.Debug("telegram message posted", logx.Int("message_id", msg.ID))
	return nil
}

// telegramError is a failed Bot API call. Code is the API error_code, or 0
// when the request never got an answer.
type telegramError struct {
	Code int
	msg  string
	err  error
}

func (e *telegramError) Error() string { return "telegram send: " + e.msg }

func (e *telegramError) Unwrap() error { return e.err }

// IsRetryable is false for client errors such as "chat not found" or a
// blocked bot, except throttling.
func (e *telegramError) IsRetryable() bool {
	return e.Code == 0 || e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// classifyTelegram attaches the API error code to err and strips the bot
// token, which telebot puts in every request URL.
func classifyTelegram(err error, token string) error {
	scrub := func(s string) string {
		if token == "" {
			return s
		}
		return strings.ReplaceAll(s, token, "<token>")
	}
	te := &telegramError{msg: scrub(err.Error()), err: err}

	var (
		flood  tele.FloodError
		group  tele.GroupError
		apiErr *tele.Error
		ue     *url.Error
	)
	switch {
	case errors.As(err, &flood):
		te.Code = http.StatusTooManyRequests
	case errors.As(err, &group):
		te.Code = http.StatusBadRequest
	case errors.As(err, &apiErr):
		te.Code = apiErr.Code
	case errors.As(err, &ue):
		ue.URL = scrub(ue.URL)
		te.err = ue
	default:
		te.Code = telegramCode(err.Error())
	}
	return te
}

// telegramCode reads the code telebot appends to API errors it has no
// named value for: "telegram: <description> (<code>)".
func telegramCode(msg string) int {
	if !strings.HasPrefix(msg, "telegram: ") || !strings.HasSuffix(msg, ")") {
		return 0
	}
	i := strings.LastIndexByte(msg, '(')
	if i < 0 {
		return 0
	}
	code, err := strconv.Atoi(msg[i+1 : len(msg)-1])
	if err != nil {
		return 0
	}
	return code
}

func formatTelegram(p Payload) string {
	var b strings.Builder
	name := html.EscapeString(p.SourceName)
	if p.Kind == feed.KindGitHub {
		fmt.Fprintf(&b, "📦 <b>%s</b> published a new release\n\n", name)
	} else {
		fmt.Fprintf(&b, "🎬 <b>%s</b> uploaded a new video!\n\n", name)
	}
	fmt.Fprintf(&b, "<a href=\"%s\">%s</a>", html.EscapeString(p.URL), html.EscapeString(p.Title))
	if p.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(p.Description))
	}
	if !p.PublishedAt.IsZero() {
		b.WriteString("\n\n📅 ")
		b.WriteString(p.PublishedAt.UTC().Format("2006-01-02"))
	}
	return b.String()
}
