// Package bot is the Telegram command surface. It translates chat
// messages into calls on the core services and renders their results;
// it owns no business rules of its own.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/login"
	"github.com/asiabot/asiabot/internal/ocr"
	"github.com/asiabot/asiabot/internal/recharge"
)

// API is the slice of the Telegram client the handlers need. Kept
// narrow so tests can substitute a recorder.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Deps are the collaborators the bot dispatches into.
type Deps struct {
	Login    *login.Service
	Recharge *recharge.Service
	Accounts account.Repository
	OCR      ocr.TextExtractor
	Limiter  RateLimiter
	AdminID  int64
	Logger   *slog.Logger
}

// Bot routes Telegram updates to handlers.
type Bot struct {
	api      API
	login    *login.Service
	recharge *recharge.Service
	accounts account.Repository
	ocr      ocr.TextExtractor
	limiter  RateLimiter
	adminID  int64
	logger   *slog.Logger
	states   *stateStore
	files    *resty.Client
	jobs     sync.WaitGroup
}

// New wires the bot against a Telegram client.
func New(api API, deps Deps) *Bot {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NoRateLimit{}
	}
	return &Bot{
		api:      api,
		login:    deps.Login,
		recharge: deps.Recharge,
		accounts: deps.Accounts,
		ocr:      deps.OCR,
		limiter:  limiter,
		adminID:  deps.AdminID,
		logger:   deps.Logger,
		states:   newStateStore(),
		files:    resty.New().SetTimeout(30 * time.Second),
	}
}

// Run consumes updates until the context is cancelled, then waits for
// in-flight recharge jobs to finish.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.jobs.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// Wait blocks until all background jobs spawned by handlers are done.
func (b *Bot) Wait() {
	b.jobs.Wait()
}

// HandleUpdate dispatches one update. Errors are rendered to the chat
// and logged; they never propagate to the poll loop.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	if msg.Text != "" {
		b.handleText(ctx, msg)
		return
	}

	b.reply(chatID, "Send a command, /help lists what I understand.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.reply(chatID, helpText(chatID == b.adminID))
	case "add_account":
		b.states.set(chatID, stateAwaitingPhone, "")
		b.reply(chatID, "Send the phone number of the account to add (07XXXXXXXXX).")
	case "cancel":
		b.handleCancel(ctx, chatID)
	case "accounts":
		b.handleAccounts(ctx, chatID)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case "set_receiver":
		b.handleSetReceiver(ctx, chatID, args)
	case "recharge":
		b.handleRechargeCommand(ctx, chatID, args)
	case "admin":
		b.handleAdmin(ctx, chatID)
	case "plans":
		b.handlePlans(ctx, chatID)
	case "add_plan":
		b.handleAddPlan(ctx, chatID, args)
	case "del_plan":
		b.handleDelPlan(ctx, chatID, args)
	case "grant":
		b.handleGrant(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. /help lists what I understand.")
	}
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	switch b.states.get(chatID).State {
	case stateAwaitingPhone:
		b.handlePhoneInput(ctx, chatID, text)
	case stateAwaitingOTP:
		b.handleOTPInput(ctx, chatID, text)
	case stateAwaitingVoucher:
		b.handleVoucherInput(ctx, chatID, text)
	default:
		b.reply(chatID, "Send a command, /help lists what I understand.")
	}
}

var phonePattern = regexp.MustCompile(`^07\d{9}$`)

func (b *Bot) handlePhoneInput(ctx context.Context, chatID int64, phone string) {
	if !phonePattern.MatchString(phone) {
		b.reply(chatID, "That does not look like a valid number. Use the 07XXXXXXXXX format, or /cancel.")
		return
	}

	if !b.limiter.Allow(ctx, chatID, "login") {
		b.reply(chatID, "Too many login attempts. Wait a minute and try again.")
		return
	}

	if err := b.login.Begin(ctx, chatID, phone); err != nil {
		b.states.clear(chatID)
		b.reply(chatID, loginErrorText(err))
		b.logger.Warn("login begin failed", "chat", chatID, "phone", phone, "error", err)
		return
	}

	b.states.set(chatID, stateAwaitingOTP, phone)
	b.reply(chatID, fmt.Sprintf("A code was sent by SMS to %s. Reply with it here, or /cancel.", phone))
}

func (b *Bot) handleOTPInput(ctx context.Context, chatID int64, code string) {
	acc, err := b.login.Complete(ctx, chatID, code)
	if err != nil {
		var rejected *login.AuthenticationRejected
		if errors.As(err, &rejected) {
			// The handshake session is still alive; the user can retry.
			b.reply(chatID, fmt.Sprintf("Login failed: %s. Send the code again, or /cancel.", rejected.Error()))
			return
		}
		b.states.clear(chatID)
		b.reply(chatID, loginErrorText(err))
		b.logger.Warn("login complete failed", "chat", chatID, "error", err)
		return
	}

	b.states.clear(chatID)
	b.reply(chatID, fmt.Sprintf("Account %s added. Use /set_receiver %s to make it the recharge target.", acc.PhoneNumber, acc.PhoneNumber))
}

func (b *Bot) handleCancel(ctx context.Context, chatID int64) {
	if err := b.login.Cancel(ctx, chatID); err != nil {
		b.logger.Warn("cancel login session", "chat", chatID, "error", err)
	}
	b.states.clear(chatID)
	b.reply(chatID, "Cancelled.")
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if err := b.accounts.EnsureUser(ctx, chatID); err != nil {
		b.logger.Error("ensure user", "chat", chatID, "error", err)
	} else if msg.From != nil {
		if err := b.accounts.UpdateUserProfile(ctx, chatID, msg.From.UserName, msg.From.FirstName); err != nil {
			b.logger.Warn("update user profile", "chat", chatID, "error", err)
		}
	}
	b.reply(chatID, "Welcome. I manage your Asiacell accounts: login, balance watch and voucher recharges.\n\n"+helpText(chatID == b.adminID))
}

func loginErrorText(err error) string {
	var challenge *login.ChallengeExtractionError
	switch {
	case errors.Is(err, login.ErrAccountLimit):
		return "Your plan does not allow another account. Remove one first or ask for an upgrade."
	case errors.Is(err, login.ErrCookieUnavailable):
		return "The carrier did not open a login session. Try again in a minute."
	case errors.Is(err, login.ErrNoActiveSession):
		return "No login in progress, or it expired. Start over with /add_account."
	case errors.As(err, &challenge):
		return "The carrier login flow changed and the code challenge could not be located. Try again later."
	default:
		return "Login failed. Try again later."
	}
}

func helpText(admin bool) string {
	var sb strings.Builder
	sb.WriteString("/add_account - attach a carrier account\n")
	sb.WriteString("/accounts - list your accounts and balances\n")
	sb.WriteString("/set_receiver <phone> - choose the recharge target\n")
	sb.WriteString("/remove <phone> - detach an account\n")
	sb.WriteString("/recharge [code] - spend a voucher (text or card photo)\n")
	sb.WriteString("/cancel - abort the current operation")
	if admin {
		sb.WriteString("\n\nAdmin:\n")
		sb.WriteString("/admin - usage overview\n")
		sb.WriteString("/plans - list plans\n")
		sb.WriteString("/add_plan name|price|max_accounts|days|description\n")
		sb.WriteString("/del_plan <id>\n")
		sb.WriteString("/grant <telegram_id> <plan_id> [days]")
	}
	return sb.String()
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("send message", "chat", chatID, "error", err)
	}
}
