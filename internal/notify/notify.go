// Package notify pushes operator alerts to a Telegram chat. It is send-only:
// the worker never reads updates, it just reports jobs that ran out of
// retries. A nil *Notifier is valid and silently drops everything, so callers
// do not guard every alert with a config check.
package notify

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the slice of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	sender Sender
	chatID int64
	logger zerolog.Logger
}

// New connects the bot. An empty token disables notifications and returns a
// nil notifier without error.
func New(botToken string, chatID int64, logger *zerolog.Logger) (*Notifier, error) {
	if botToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return NewWithSender(bot, chatID, logger), nil
}

// NewWithSender wires an existing sender, used by tests.
func NewWithSender(sender Sender, chatID int64, logger *zerolog.Logger) *Notifier {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "notify").Logger()
	}
	return &Notifier{sender: sender, chatID: chatID, logger: base}
}

// JobFailed reports a job that exhausted its retry budget. Send errors are
// logged, never returned: an unreachable Telegram must not affect the worker.
func (n *Notifier) JobFailed(brand, jobID string, attempts int, jobErr error) {
	if n == nil {
		return
	}
	text := fmt.Sprintf(
		"❌ Sync failed permanently\nBrand: %s\nJob: %s\nAttempts: %d\nError: %v\nTime: %s",
		brand, jobID, attempts, jobErr, time.Now().Format(time.RFC3339),
	)
	n.send(text)
}

// QueuesStopped reports an operator stop-all action.
func (n *Notifier) QueuesStopped(count int) {
	if n == nil {
		return
	}
	n.send(fmt.Sprintf("🛑 All sync queues stopped (%d queues drained)", count))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("send telegram notification")
	}
}
