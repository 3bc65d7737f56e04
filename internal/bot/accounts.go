package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/asiabot/asiabot/internal/account"
)

func (b *Bot) handleAccounts(ctx context.Context, chatID int64) {
	accounts, err := b.accounts.GetUserAccounts(ctx, chatID)
	if err != nil {
		b.logger.Error("list accounts", "chat", chatID, "error", err)
		b.reply(chatID, "Could not load your accounts right now.")
		return
	}
	if len(accounts) == 0 {
		b.reply(chatID, "You have no accounts yet. Use /add_account to attach one.")
		return
	}

	sub, err := b.accounts.UserSubscription(ctx, chatID)
	if err != nil {
		b.logger.Warn("load subscription", "chat", chatID, "error", err)
		sub = account.FreeSubscription()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Your accounts (%d/%d, plan %s):\n", len(accounts), sub.MaxAccounts, sub.Name)
	for _, acc := range accounts {
		marker := ""
		if acc.IsPrimaryReceiver {
			marker = " [receiver]"
		}
		fmt.Fprintf(&sb, "• %s%s — balance %.2f\n", acc.PhoneNumber, marker, acc.CurrentBalance)
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, phone string) {
	if phone == "" {
		b.reply(chatID, "Usage: /remove <phone>")
		return
	}

	removed, err := b.accounts.DeleteAccount(ctx, phone, chatID)
	if err != nil {
		b.logger.Error("remove account", "chat", chatID, "phone", phone, "error", err)
		b.reply(chatID, "Could not remove the account right now.")
		return
	}
	if !removed {
		b.reply(chatID, fmt.Sprintf("No account %s is attached to you.", phone))
		return
	}
	b.reply(chatID, fmt.Sprintf("Account %s removed.", phone))
}

func (b *Bot) handleSetReceiver(ctx context.Context, chatID int64, phone string) {
	if phone == "" {
		b.reply(chatID, "Usage: /set_receiver <phone>")
		return
	}

	err := b.accounts.SetPrimaryReceiver(ctx, chatID, phone)
	if errors.Is(err, account.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("No account %s is attached to you.", phone))
		return
	}
	if err != nil {
		b.logger.Error("set receiver", "chat", chatID, "phone", phone, "error", err)
		b.reply(chatID, "Could not set the receiver right now.")
		return
	}
	b.reply(chatID, fmt.Sprintf("%s is now your recharge receiver.", phone))
}
