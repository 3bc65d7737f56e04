package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/asiabot/asiabot/internal/account"
)

func (b *Bot) requireAdmin(chatID int64) bool {
	if chatID != b.adminID || b.adminID == 0 {
		b.reply(chatID, "Unknown command. /help lists what I understand.")
		return false
	}
	return true
}

func (b *Bot) handleAdmin(ctx context.Context, chatID int64) {
	if !b.requireAdmin(chatID) {
		return
	}

	overview, err := b.accounts.ListUsersWithAccounts(ctx)
	if err != nil {
		b.logger.Error("admin overview", "error", err)
		b.reply(chatID, "Could not load the overview right now.")
		return
	}
	if len(overview) == 0 {
		b.reply(chatID, "No users with accounts yet.")
		return
	}

	totalAccounts := 0
	var sb strings.Builder
	for _, entry := range overview {
		totalAccounts += len(entry.Accounts)
		name := entry.User.Username
		if name == "" {
			name = entry.User.FirstName
		}
		fmt.Fprintf(&sb, "• %d (%s): %d account(s)\n", entry.User.TelegramID, name, len(entry.Accounts))
		for _, acc := range entry.Accounts {
			marker := ""
			if acc.IsPrimaryReceiver {
				marker = " [receiver]"
			}
			fmt.Fprintf(&sb, "    %s%s — %.2f\n", acc.PhoneNumber, marker, acc.CurrentBalance)
		}
	}

	b.reply(chatID, fmt.Sprintf("%d users, %d accounts\n\n%s", len(overview), totalAccounts, sb.String()))
}

func (b *Bot) handlePlans(ctx context.Context, chatID int64) {
	if !b.requireAdmin(chatID) {
		return
	}

	plans, err := b.accounts.ListPlans(ctx)
	if err != nil {
		b.logger.Error("list plans", "error", err)
		b.reply(chatID, "Could not load plans right now.")
		return
	}
	if len(plans) == 0 {
		b.reply(chatID, "No plans defined. Use /add_plan name|price|max_accounts|days|description")
		return
	}

	var sb strings.Builder
	for _, p := range plans {
		fmt.Fprintf(&sb, "#%d %s — %.2f, up to %d accounts, %d days\n", p.ID, p.Name, p.Price, p.MaxAccounts, p.DurationDays)
		if p.Description != "" {
			fmt.Fprintf(&sb, "    %s\n", p.Description)
		}
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleAddPlan(ctx context.Context, chatID int64, args string) {
	if !b.requireAdmin(chatID) {
		return
	}

	plan, err := parsePlan(args)
	if err != nil {
		b.reply(chatID, "Usage: /add_plan name|price|max_accounts|days|description")
		return
	}

	id, err := b.accounts.AddPlan(ctx, plan)
	if err != nil {
		b.logger.Error("add plan", "error", err)
		b.reply(chatID, "Could not create the plan right now.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Plan #%d %q created.", id, plan.Name))
}

func parsePlan(args string) (account.Plan, error) {
	parts := strings.SplitN(args, "|", 5)
	if len(parts) < 4 {
		return account.Plan{}, fmt.Errorf("expected at least 4 fields, got %d", len(parts))
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return account.Plan{}, fmt.Errorf("price: %w", err)
	}
	maxAccounts, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || maxAccounts < 1 {
		return account.Plan{}, fmt.Errorf("max_accounts: %v", err)
	}
	days, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil || days < 1 {
		return account.Plan{}, fmt.Errorf("days: %v", err)
	}

	plan := account.Plan{
		Name:         strings.TrimSpace(parts[0]),
		Price:        price,
		MaxAccounts:  maxAccounts,
		DurationDays: days,
	}
	if plan.Name == "" {
		return account.Plan{}, fmt.Errorf("empty name")
	}
	if len(parts) == 5 {
		plan.Description = strings.TrimSpace(parts[4])
	}
	return plan, nil
}

func (b *Bot) handleDelPlan(ctx context.Context, chatID int64, args string) {
	if !b.requireAdmin(chatID) {
		return
	}

	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /del_plan <id>")
		return
	}
	if err := b.accounts.DeletePlan(ctx, id); err != nil {
		b.logger.Error("delete plan", "plan", id, "error", err)
		b.reply(chatID, "Could not delete the plan right now.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Plan #%d deleted.", id))
}

func (b *Bot) handleGrant(ctx context.Context, chatID int64, args string) {
	if !b.requireAdmin(chatID) {
		return
	}

	fields := strings.Fields(args)
	if len(fields) < 2 {
		b.reply(chatID, "Usage: /grant <telegram_id> <plan_id> [days]")
		return
	}

	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /grant <telegram_id> <plan_id> [days]")
		return
	}
	planID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /grant <telegram_id> <plan_id> [days]")
		return
	}

	days := 0
	if len(fields) > 2 {
		days, err = strconv.Atoi(fields[2])
		if err != nil || days < 1 {
			b.reply(chatID, "Days must be a positive number.")
			return
		}
	} else {
		// Fall back to the plan's own duration.
		plans, err := b.accounts.ListPlans(ctx)
		if err != nil {
			b.logger.Error("list plans", "error", err)
			b.reply(chatID, "Could not load plans right now.")
			return
		}
		for _, p := range plans {
			if p.ID == planID {
				days = p.DurationDays
				break
			}
		}
		if days == 0 {
			b.reply(chatID, fmt.Sprintf("No plan #%d exists.", planID))
			return
		}
	}

	if err := b.accounts.GrantPlan(ctx, userID, planID, days); err != nil {
		b.logger.Error("grant plan", "user", userID, "plan", planID, "error", err)
		b.reply(chatID, "Could not grant the plan right now.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Granted plan #%d to %d.", planID, userID))
}
