package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/config"
	"github.com/asiabot/asiabot/internal/logging"
)

func newTestApp(t *testing.T, adminToken string) (*fiber.App, account.Repository) {
	t.Helper()
	repo := account.NewMemoryRepository()
	app := fiber.New()
	deps := Deps{
		Cfg:      config.Config{AppName: "test", AdminToken: adminToken},
		Accounts: repo,
		Logger:   logging.Discard(),
	}
	if err := Setup(app, deps); err != nil {
		t.Fatalf("setup routes: %v", err)
	}
	return app, repo
}

func TestAdminRoutesRejectBadToken(t *testing.T) {
	app, _ := newTestApp(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	app, _ := newTestApp(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("admin surface must be hidden when no token is configured, got %d", resp.StatusCode)
	}
}

func TestAdminUsersOverview(t *testing.T) {
	app, repo := newTestApp(t, "secret")
	ctx := context.Background()

	if err := repo.EnsureUser(ctx, 7); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	err := repo.AddAccount(ctx, account.Account{PhoneNumber: "07701234567", UserID: 7})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Users []struct {
			TelegramID int64 `json:"telegram_id"`
			Accounts   []struct {
				PhoneNumber string `json:"phone_number"`
			} `json:"accounts"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Users) != 1 || body.Users[0].TelegramID != 7 {
		t.Fatalf("unexpected overview: %+v", body)
	}
	if len(body.Users[0].Accounts) != 1 || body.Users[0].Accounts[0].PhoneNumber != "07701234567" {
		t.Fatalf("unexpected accounts: %+v", body.Users[0])
	}
}

func TestAdminPlanLifecycle(t *testing.T) {
	app, repo := newTestApp(t, "secret")
	ctx := context.Background()

	payload := `{"name":"Gold","price":5,"max_accounts":5,"duration_days":30}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/plans", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	plans, err := repo.ListPlans(ctx)
	if err != nil || len(plans) != 1 {
		t.Fatalf("plan not stored: %v %d", err, len(plans))
	}

	if err := repo.EnsureUser(ctx, 7); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	grant := `{"telegram_id":7,"plan_id":1,"days":30}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/grants", strings.NewReader(grant))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	sub, err := repo.UserSubscription(ctx, 7)
	if err != nil || sub.MaxAccounts != 5 {
		t.Fatalf("grant not applied: %v %+v", err, sub)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/admin/plans/1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}
