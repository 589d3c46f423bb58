// Package telegram forwards operator alerts to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4000

type Config struct {
	Token  string
	ChatID int64
	APIURL string // empty means the public Bot API
}

// Alerter implements logx.AlertSender. It never polls for updates.
type Alerter struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func New(cfg Config) (*Alerter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(cfg.APIURL),
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Alerter{bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

func (a *Alerter) SendAlert(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(a.chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring to break
// after a newline in the last two thirds of a window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
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
