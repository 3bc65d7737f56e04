package login

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/carrier"
	"github.com/asiabot/asiabot/internal/logging"
)

type fakeGateway struct {
	cookieHeader string
	nextURL      string
	loginBody    string
	pair         carrier.TokenPair
	otpSeen      string
	deviceSeen   string
	cookieSeen   string
	pidSeen      string
}

func (f *fakeGateway) LoginScreen(context.Context) (*carrier.Response, error) {
	h := http.Header{}
	if f.cookieHeader != "" {
		h.Set("Set-Cookie", f.cookieHeader)
	}
	return &carrier.Response{Status: http.StatusOK, Headers: h}, nil
}

func (f *fakeGateway) SendLoginCode(_ context.Context, deviceID, cookie, _ string) (carrier.LoginResponse, *carrier.Response, error) {
	f.deviceSeen = deviceID
	f.cookieSeen = cookie
	body := f.loginBody
	if body == "" {
		body = `{"nextUrl":"` + f.nextURL + `"}`
	}
	return carrier.LoginResponse{NextURL: f.nextURL}, &carrier.Response{Status: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeGateway) ValidateSMSCode(_ context.Context, cookie, deviceID, challengeID, otpCode string) (carrier.TokenPair, error) {
	if cookie != f.cookieSeen || deviceID != f.deviceSeen {
		return carrier.TokenPair{}, errors.New("session continuity broken")
	}
	f.pidSeen = challengeID
	f.otpSeen = otpCode
	return f.pair, nil
}

func newTestService(gw Gateway) (*Service, account.Repository, SessionStore) {
	repo := account.NewMemoryRepository()
	sessions := NewMemorySessionStore()
	svc := NewService(gw, repo, sessions, logging.Discard())
	return svc, repo, sessions
}

func TestHandshakeHappyPath(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		cookieHeader: "JSESSIONID=abc; Path=/",
		nextURL:      "https://x/confirm?PID=pid-1",
		pair:         carrier.TokenPair{AccessToken: "at", RefreshToken: "rt"},
	}
	svc, repo, sessions := newTestService(gw)

	if err := svc.Begin(ctx, 10, "07701234567"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	session, err := sessions.Get(ctx, 10)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.State != StateCodeSent {
		t.Fatalf("expected code-sent state, got %s", session.State)
	}
	if session.ChallengeID != "pid-1" {
		t.Fatalf("unexpected challenge id: %s", session.ChallengeID)
	}
	if session.SessionCookie != "JSESSIONID=abc" {
		t.Fatalf("unexpected cookie: %s", session.SessionCookie)
	}
	if session.DeviceID == "" {
		t.Fatal("device id missing")
	}

	acc, err := svc.Complete(ctx, 10, "1234")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gw.otpSeen != "1234" || gw.pidSeen != "pid-1" {
		t.Fatalf("otp exchange saw (%q, %q)", gw.otpSeen, gw.pidSeen)
	}
	if acc.AccessToken != "at" || acc.RefreshToken != "rt" {
		t.Fatalf("unexpected tokens: %+v", acc)
	}
	if acc.DeviceID != session.DeviceID {
		t.Fatal("device id must stay stable across the session")
	}

	stored, err := repo.GetAccount(ctx, "07701234567", 10)
	if err != nil {
		t.Fatalf("stored account: %v", err)
	}
	if stored.AccessToken != "at" {
		t.Fatalf("account not persisted: %+v", stored)
	}

	if _, err := sessions.Get(ctx, 10); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("session should be discarded, got %v", err)
	}
}

func TestHandshakeCookieUnavailable(t *testing.T) {
	svc, _, _ := newTestService(&fakeGateway{nextURL: "https://x?PID=p"})

	err := svc.Begin(context.Background(), 10, "07701234567")
	if !errors.Is(err, ErrCookieUnavailable) {
		t.Fatalf("expected ErrCookieUnavailable, got %v", err)
	}
}

func TestHandshakeChallengeExtractionFailure(t *testing.T) {
	gw := &fakeGateway{
		cookieHeader: "sid=1",
		nextURL:      "https://x/no-pid",
		loginBody:    `{"nextUrl":"https://x/no-pid","message":"odd shape"}`,
	}
	svc, _, sessions := newTestService(gw)

	err := svc.Begin(context.Background(), 10, "07701234567")
	var cee *ChallengeExtractionError
	if !errors.As(err, &cee) {
		t.Fatalf("expected ChallengeExtractionError, got %v", err)
	}
	if cee.NextURL != "https://x/no-pid" || cee.RawBody == "" {
		t.Fatalf("diagnostics not carried: %+v", cee)
	}

	if _, err := sessions.Get(context.Background(), 10); !errors.Is(err, ErrNoActiveSession) {
		t.Fatal("failed begin must not leave a session behind")
	}
}

func TestHandshakeRejectedOTP(t *testing.T) {
	gw := &fakeGateway{
		cookieHeader: "sid=1",
		nextURL:      "https://x?PID=p",
		pair:         carrier.TokenPair{Message: "wrong passcode"},
	}
	svc, repo, _ := newTestService(gw)
	ctx := context.Background()

	if err := svc.Begin(ctx, 10, "07701234567"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := svc.Complete(ctx, 10, "0000")
	var rejected *AuthenticationRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected AuthenticationRejected, got %v", err)
	}
	if rejected.Message != "wrong passcode" {
		t.Fatalf("upstream message not carried verbatim: %q", rejected.Message)
	}

	if _, err := repo.GetAccount(ctx, "07701234567", 10); !errors.Is(err, account.ErrNotFound) {
		t.Fatal("rejected login must not create an account")
	}
}

func TestCompleteWithoutSession(t *testing.T) {
	svc, _, _ := newTestService(&fakeGateway{})

	_, err := svc.Complete(context.Background(), 99, "1234")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestBeginEnforcesPlanLimit(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{cookieHeader: "sid=1", nextURL: "https://x?PID=p"}
	svc, repo, _ := newTestService(gw)

	// Free plan allows a single account.
	if err := repo.AddAccount(ctx, account.Account{PhoneNumber: "07701111111", UserID: 10}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	err := svc.Begin(ctx, 10, "07702222222")
	if !errors.Is(err, ErrAccountLimit) {
		t.Fatalf("expected ErrAccountLimit, got %v", err)
	}

	// Re-login of the existing number stays allowed.
	if err := svc.Begin(ctx, 10, "07701111111"); err != nil {
		t.Fatalf("re-login should pass the limit check: %v", err)
	}
}
