package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asiabot/asiabot/internal/ocr"
	"github.com/asiabot/asiabot/internal/voucher"
)

func (b *Bot) handleRechargeCommand(ctx context.Context, chatID int64, args string) {
	if args != "" {
		code, err := voucher.Extract(args)
		if err != nil {
			b.reply(chatID, "No 14 or 15 digit voucher code in that. Check the number and try again.")
			return
		}
		b.runRecharge(ctx, chatID, code)
		return
	}

	b.states.set(chatID, stateAwaitingVoucher, "")
	b.reply(chatID, "Send the voucher code, or a photo of the scratch card. /cancel to abort.")
}

func (b *Bot) handleVoucherInput(ctx context.Context, chatID int64, text string) {
	code, err := voucher.Extract(text)
	if err != nil {
		b.reply(chatID, "No 14 or 15 digit voucher code in that. Send the code again, or /cancel.")
		return
	}
	b.states.clear(chatID)
	b.runRecharge(ctx, chatID, code)
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if b.states.get(chatID).State != stateAwaitingVoucher {
		b.reply(chatID, "Use /recharge first, then send the card photo.")
		return
	}

	// Telegram orders photo sizes ascending; the last is the sharpest.
	photo := msg.Photo[len(msg.Photo)-1]

	image, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		b.logger.Error("download card photo", "chat", chatID, "error", err)
		b.reply(chatID, "Could not download the photo. Send it again, or type the code instead.")
		return
	}

	text, err := b.ocr.ExtractText(ctx, image)
	if errors.Is(err, ocr.ErrDisabled) {
		b.reply(chatID, "Photo reading is not enabled here. Type the voucher code instead.")
		return
	}
	if err != nil {
		b.logger.Error("ocr card photo", "chat", chatID, "error", err)
		b.reply(chatID, "Could not read the photo. Send a sharper one, or type the code instead.")
		return
	}

	code, err := voucher.Extract(text)
	if err != nil {
		b.reply(chatID, "No voucher code was readable on that photo. Send a sharper one, or type the code instead.")
		return
	}

	b.states.clear(chatID)
	b.reply(chatID, fmt.Sprintf("Read voucher %s from the photo.", code))
	b.runRecharge(ctx, chatID, code)
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	resp, err := b.files.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch file: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// runRecharge executes the rotation in the background so a settle delay
// never blocks the update loop.
func (b *Bot) runRecharge(ctx context.Context, chatID int64, code string) {
	if !b.limiter.Allow(ctx, chatID, "recharge") {
		b.reply(chatID, "Too many recharge attempts. Wait a minute and try again.")
		return
	}

	b.reply(chatID, "Working on it. I will verify the receiver balance before confirming.")

	b.jobs.Add(1)
	go func() {
		defer b.jobs.Done()
		result, err := b.recharge.ProcessSmartRecharge(ctx, chatID, code)
		if err != nil {
			b.logger.Error("smart recharge", "chat", chatID, "error", err)
			b.reply(chatID, "The recharge hit an internal error. Nothing was confirmed; check /accounts before retrying.")
			return
		}
		b.reply(chatID, result.Message())
	}()
}
