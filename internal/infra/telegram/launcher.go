package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"warehouse-miniapp/internal/config"
	"warehouse-miniapp/internal/domain/ports/adapter"
	red "warehouse-miniapp/internal/infra/redis"
)

var _ adapter.TelegramBotAdapter = (*Launcher)(nil)

// CommandLimiter caps commands per user; *redis.RateLimiter satisfies it.
type CommandLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

const (
	defaultCommandLimit  = 20
	defaultCommandWindow = time.Minute
)

// Launcher is the polling bot that hands users the Mini App button.
type Launcher struct {
	bot     *tgbotapi.BotAPI
	send    adapter.TelegramBotAdapter
	limiter CommandLimiter
	limit   int
	window  time.Duration
	appURL  string
	log     *zerolog.Logger

	// updateWorkers is how many goroutines will concurrently process updates.
	updateWorkers int
	cancelPolling context.CancelFunc
}

// NewLauncher connects to the Bot API. limiter may be nil.
func NewLauncher(cfg *config.BotConfig, limiter CommandLimiter, logger *zerolog.Logger) (*Launcher, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	if strings.TrimSpace(cfg.MiniAppURL) == "" {
		return nil, errors.New("mini app url is empty")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}

	l := logger.With().Str("component", "Launcher").Logger()
	r := &Launcher{
		bot:           bot,
		limiter:       limiter,
		limit:         cfg.CommandLimit,
		window:        cfg.CommandWindow,
		appURL:        cfg.MiniAppURL,
		log:           &l,
		updateWorkers: workers,
	}
	r.send = r
	return r, nil
}

func (r *Launcher) commandLimit() (int, time.Duration) {
	limit, window := r.limit, r.window
	if limit <= 0 {
		limit = defaultCommandLimit
	}
	if window <= 0 {
		window = defaultCommandWindow
	}
	return limit, window
}

// StartPolling begins polling Telegram for updates concurrently.
// It runs until ctx is canceled.
func (r *Launcher) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.bot.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	r.cancelPolling = cancel

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < r.updateWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case update, ok := <-updateChan:
					if !ok {
						return
					}
					if err := r.handleUpdate(ctx, update); err != nil {
						r.log.Error().Err(err).Int("worker", workerID).Msg("error handling update")
					}
				case <-ctx.Done():
					return
				}
			}
		}(i + 1)
	}

	// Dispatcher goroutine: feed updates into updateChan
	go func() {
		defer close(updateChan)
		for {
			select {
			case update := <-updates:
				select {
				case updateChan <- update:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	r.log.Info().Int("workers", r.updateWorkers).Msg("launcher polling started")
	<-ctx.Done()
	r.bot.StopReceivingUpdates()
	wg.Wait()
	return nil
}

// StopPolling stops the polling loop gracefully.
func (r *Launcher) StopPolling() {
	if r.cancelPolling != nil {
		r.cancelPolling()
	}
}

func (r *Launcher) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (r *Launcher) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		kr := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, kr)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kbRows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	}
	_, err := r.bot.Send(msg)
	return err
}

func (r *Launcher) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	if !msg.IsCommand() {
		return r.send.SendMessage(ctx, msg.Chat.ID, "Send /start to open the warehouse dashboard.")
	}
	if msg.From != nil && r.limiter != nil {
		limit, window := r.commandLimit()
		allowed, err := r.limiter.Allow(ctx, red.CommandKey(msg.From.ID, msg.Command()), limit, window)
		if err != nil {
			r.log.Warn().Err(err).Msg("rate limit check failed")
		} else if !allowed {
			return r.send.SendMessage(ctx, msg.Chat.ID, "Too many requests. Please try again later.")
		}
	}
	handler, ok := r.commandRoutes()[msg.Command()]
	if !ok {
		return r.handleHelpCommand(ctx, msg)
	}
	return handler(ctx, msg)
}
