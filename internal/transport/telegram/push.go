// Package telegram delivers push notifications to Telegram chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"bizflow/internal/domain"
	"bizflow/internal/transport"
	logx "bizflow/pkg/logx"
)

// Config selects the bot and the chats that receive push notifications.
type Config struct {
	Token    string
	ChatIDs  []int64
	ThreadID int
	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Offline skips the getMe call at startup.
	Offline bool
	Timeout time.Duration
	// BaseURL is prefixed to relative notification links.
	BaseURL string
}

type Push struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Push, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, errors.New("telegram push needs at least one chat id")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Push{cfg: cfg, bot: b, log: log.With(logx.String("comp", "transport.telegram"))}, nil
}

func (p *Push) Name() string { return transport.ChannelPush }

// Deliver sends n to every configured chat. The first failing chat aborts.
func (p *Push) Deliver(ctx context.Context, n domain.Notification) error {
	text := Format(n, p.cfg.BaseURL)
	opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true, ThreadID: p.cfg.ThreadID}
	for _, id := range p.cfg.ChatIDs {
		for _, chunk := range Split(text, textLimit) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := p.bot.Send(&tele.Chat{ID: id}, chunk, opt); err != nil {
				if errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrBlockedByUser) {
					return transport.Permanent(fmt.Errorf("chat %d: %w", id, err))
				}
				return fmt.Errorf("chat %d: %w", id, err)
			}
		}
	}
	p.log.Debug("push sent", logx.String("type", n.Type), logx.Int("chats", len(p.cfg.ChatIDs)))
	return nil
}

// Format renders n as Telegram HTML.
func Format(n domain.Notification, baseURL string) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(n.Title))
	b.WriteString("</b>")
	if n.Message != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(n.Message))
	}
	if n.Link != "" {
		link := n.Link
		if strings.HasPrefix(link, "/") && baseURL != "" {
			link = strings.TrimRight(baseURL, "/") + link
		}
		b.WriteString("\n")
		b.WriteString(html.EscapeString(link))
	}
	return b.String()
}

const textLimit = 4000

// Split cuts s into chunks of at most limit runes, preferring newlines and
// never cutting inside an HTML tag.
func Split(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start {
				end = open
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
