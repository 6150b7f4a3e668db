package notify

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4000

// TelegramConfig points a TelegramSender at one chat (and optional forum thread).
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL string
}

// TelegramSender posts notifications through the Bot API. It never polls for
// updates.
type TelegramSender struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func NewTelegram(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

func (t *TelegramSender) SendText(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := t.bot.Send(t.chat, chunk, &tele.SendOptions{
			ThreadID:              t.threadID,
			DisableWebPagePreview: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that do not leave tiny chunks.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
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
