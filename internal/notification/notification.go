package notification

import (
	"context"
	"log/slog"
)

const (
	// KindSessionExpired asks the user to re-authenticate an account.
	KindSessionExpired = "session_expired"
	// KindBalanceChange reports an observed balance movement.
	KindBalanceChange = "balance_change"
)

// Message describes a notification payload. Destination is the
// Telegram chat id of the account owner.
type Message struct {
	Kind        string
	Destination int64
	Body        string
}

// Notifier delivers notifications to downstream systems. Delivery is
// best effort everywhere it is used; failures must never abort the
// caller's processing of other accounts.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to
// the logger. The production implementation lives in the bot package.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
