package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/asiabot/asiabot/internal/account"
)

type planRequest struct {
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	MaxAccounts  int     `json:"max_accounts"`
	DurationDays int     `json:"duration_days"`
	Description  string  `json:"description"`
}

type grantRequest struct {
	TelegramID int64 `json:"telegram_id"`
	PlanID     int64 `json:"plan_id"`
	Days       int   `json:"days"`
}

// RegisterAdminRoutes wires the operator endpoints: a usage overview
// plus plan management. All of them sit behind the admin token guard.
func RegisterAdminRoutes(r fiber.Router, accounts account.Repository, logger *slog.Logger) {
	r.Get("/users", func(c *fiber.Ctx) error {
		overview, err := accounts.ListUsersWithAccounts(c.UserContext())
		if err != nil {
			logger.Error("admin users overview", "error", err)
			return fiber.NewError(http.StatusInternalServerError, "overview unavailable")
		}

		out := make([]fiber.Map, 0, len(overview))
		for _, entry := range overview {
			accs := make([]fiber.Map, 0, len(entry.Accounts))
			for _, acc := range entry.Accounts {
				accs = append(accs, fiber.Map{
					"phone_number":        acc.PhoneNumber,
					"balance":             acc.CurrentBalance,
					"is_primary_receiver": acc.IsPrimaryReceiver,
					"token_updated_at":    acc.TokenUpdatedAt,
					"created_at":          acc.CreatedAt,
				})
			}
			out = append(out, fiber.Map{
				"telegram_id": entry.User.TelegramID,
				"username":    entry.User.Username,
				"first_name":  entry.User.FirstName,
				"accounts":    accs,
			})
		}
		return c.JSON(fiber.Map{
			"users":     out,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	r.Get("/plans", func(c *fiber.Ctx) error {
		plans, err := accounts.ListPlans(c.UserContext())
		if err != nil {
			logger.Error("admin list plans", "error", err)
			return fiber.NewError(http.StatusInternalServerError, "plans unavailable")
		}
		return c.JSON(fiber.Map{"plans": plans})
	})

	r.Post("/plans", func(c *fiber.Ctx) error {
		var req planRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid body")
		}
		if req.Name == "" || req.MaxAccounts < 1 || req.DurationDays < 1 {
			return fiber.NewError(http.StatusBadRequest, "name, max_accounts and duration_days are required")
		}

		id, err := accounts.AddPlan(c.UserContext(), account.Plan{
			Name:         req.Name,
			Price:        req.Price,
			MaxAccounts:  req.MaxAccounts,
			DurationDays: req.DurationDays,
			Description:  req.Description,
		})
		if err != nil {
			logger.Error("admin add plan", "error", err)
			return fiber.NewError(http.StatusInternalServerError, "plan not created")
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{"id": id})
	})

	r.Delete("/plans/:id", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid plan id")
		}
		if err := accounts.DeletePlan(c.UserContext(), id); err != nil {
			logger.Error("admin delete plan", "plan", id, "error", err)
			return fiber.NewError(http.StatusInternalServerError, "plan not deleted")
		}
		return c.SendStatus(http.StatusNoContent)
	})

	r.Post("/grants", func(c *fiber.Ctx) error {
		var req grantRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid body")
		}
		if req.TelegramID == 0 || req.PlanID == 0 || req.Days < 1 {
			return fiber.NewError(http.StatusBadRequest, "telegram_id, plan_id and days are required")
		}

		err := accounts.GrantPlan(c.UserContext(), req.TelegramID, req.PlanID, req.Days)
		if errors.Is(err, account.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		if err != nil {
			logger.Error("admin grant plan", "user", req.TelegramID, "plan", req.PlanID, "error", err)
			return fiber.NewError(http.StatusInternalServerError, "plan not granted")
		}
		return c.SendStatus(http.StatusNoContent)
	})
}
