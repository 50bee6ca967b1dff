package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"warehouse-miniapp/internal/domain/ports/adapter"
	"warehouse-miniapp/internal/infra/metrics"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

func (r *Launcher) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start": r.tracked("start", r.handleStartCommand),
		"app":   r.tracked("app", r.handleStartCommand),
		"help":  r.tracked("help", r.handleHelpCommand),
	}
}

func (r *Launcher) tracked(name string, next commandHandler) commandHandler {
	return func(ctx context.Context, message *tgbotapi.Message) error {
		metrics.IncTelegramCommand("/" + name)
		return next(ctx, message)
	}
}

// handleStartCommand answers with the button that opens the Mini App.
func (r *Launcher) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	name := ""
	if message.From != nil {
		name = message.From.FirstName
	}
	text := "Warehouse dashboard: stock remains, orders and moved products."
	if name != "" {
		text = fmt.Sprintf("Hi, %s! %s", name, text)
	}
	rows := [][]adapter.InlineButton{
		{{Text: "Open dashboard", URL: r.appURL}},
	}
	return r.send.SendButtons(ctx, message.Chat.ID, text, rows)
}

func (r *Launcher) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.send.SendMessage(ctx, message.Chat.ID, "Available commands:\n/start open the dashboard\n/help show this message")
}
