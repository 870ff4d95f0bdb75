package telegram

import (
	"context"
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/config"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.Notifier = (*BotNotifier)(nil)
	_ adapter.Notifier = (*NoopNotifier)(nil)
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// BotNotifier sends run summaries to a single operator chat.
type BotNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger
}

// NewBotNotifier validates the token against the Bot API before returning.
func NewBotNotifier(cfg config.NotifyConfig, logger *zerolog.Logger) (*BotNotifier, error) {
	return newBotNotifier(cfg, tgbotapi.APIEndpoint, http.DefaultClient, logger)
}

func newBotNotifier(cfg config.NotifyConfig, endpoint string, client *http.Client, logger *zerolog.Logger) (*BotNotifier, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.TelegramChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramToken, endpoint, client)
	if err != nil {
		return nil, err
	}
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &BotNotifier{bot: bot, chatID: cfg.TelegramChatID, log: &l}, nil
}

func (n *BotNotifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen-3] + "..."
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return err
	}
	n.log.Debug().Int64("chat_id", n.chatID).Msg("summary sent")
	return nil
}

// NoopNotifier logs instead of sending, for runs without a bot configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	return &NoopNotifier{log: logger}
}

func (n *NoopNotifier) Notify(_ context.Context, text string) error {
	n.log.Debug().Str("text", text).Msg("notification (noop)")
	return nil
}

// New returns a bot notifier when a token is configured, else the noop one.
func New(cfg config.NotifyConfig, logger *zerolog.Logger) (adapter.Notifier, error) {
	if cfg.TelegramToken == "" {
		return NewNoopNotifier(logger), nil
	}
	return NewBotNotifier(cfg, logger)
}
