package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asiabot/asiabot/internal/notification"
)

// Notifier delivers core notifications to their owner's Telegram chat.
type Notifier struct {
	api API
}

// NewNotifier builds the production notification sink.
func NewNotifier(api API) *Notifier {
	return &Notifier{api: api}
}

// Send pushes the message body to the destination chat.
func (n *Notifier) Send(_ context.Context, message notification.Message) error {
	if _, err := n.api.Send(tgbotapi.NewMessage(message.Destination, message.Body)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
