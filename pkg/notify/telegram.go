package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Telegram struct {
	chatID int64
	bot    *tgbotapi.BotAPI
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint)
}

// NewTelegramWithEndpoint checks the token with getMe against endpoint, a
// format string taking the token and the method name.
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram-init: %w", err)
	}
	return &Telegram{chatID: chatID, bot: bot}, nil
}

// Send ignores ctx; the bot api client has no context support.
func (t *Telegram) Send(_ context.Context, title, msg string) error {
	text := msg
	if title != "" {
		text = title + "\n" + msg
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("telegram-send: %w", err)
	}
	return nil
}
