// Package notify sends operator notifications when background tasks finish.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Sender is the part of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot    Sender
	chatID int64
	logger *slog.Logger
}

// NewTelegram connects to the bot API with token and sends to chatID.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Info("telegram notifier ready", "bot", bot.Self.UserName)
	return NewTelegramWithSender(bot, chatID, logger), nil
}

func NewTelegramWithSender(bot Sender, chatID int64, logger *slog.Logger) *Telegram {
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger.With("component", "telegram"),
	}
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("failed to send notification", "error", err)
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
