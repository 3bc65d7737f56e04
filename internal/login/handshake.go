package login

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/carrier"
)

// Gateway is the slice of the carrier client the handshake needs.
type Gateway interface {
	LoginScreen(ctx context.Context) (*carrier.Response, error)
	SendLoginCode(ctx context.Context, deviceID, cookie, phoneNumber string) (carrier.LoginResponse, *carrier.Response, error)
	ValidateSMSCode(ctx context.Context, cookie, deviceID, challengeID, otpCode string) (carrier.TokenPair, error)
}

// Service drives the 3-step login handshake against the carrier. Each
// conversation's state is held as a typed Session in the session
// store, never as ambient mutable fields.
type Service struct {
	gateway  Gateway
	accounts account.Repository
	sessions SessionStore
	logger   *slog.Logger
}

// NewService builds the handshake service.
func NewService(gateway Gateway, accounts account.Repository, sessions SessionStore, logger *slog.Logger) *Service {
	return &Service{gateway: gateway, accounts: accounts, sessions: sessions, logger: logger}
}

// Begin runs the first two handshake steps for a fresh conversation:
// fetch the anonymous session cookie, then submit the phone number and
// extract the challenge id from the returned nextUrl. On success the
// conversation is left in the code-sent state awaiting the OTP.
func (s *Service) Begin(ctx context.Context, userID int64, phoneNumber string) error {
	if err := s.checkAccountLimit(ctx, userID, phoneNumber); err != nil {
		return err
	}

	resp, err := s.gateway.LoginScreen(ctx)
	if err != nil {
		return fmt.Errorf("login screen: %w", err)
	}

	cookie := resp.SessionCookie()
	if cookie == "" {
		return ErrCookieUnavailable
	}

	// The device id is minted once here and must stay stable for the
	// rest of this session, including the OTP exchange.
	deviceID := carrier.NewDeviceID()

	loginResp, raw, err := s.gateway.SendLoginCode(ctx, deviceID, cookie, phoneNumber)
	if err != nil {
		return fmt.Errorf("send login code: %w", err)
	}

	challengeID, ok := extractChallengeID(loginResp.NextURL)
	if !ok {
		return &ChallengeExtractionError{NextURL: loginResp.NextURL, RawBody: raw.Text()}
	}

	session := Session{
		UserID:        userID,
		PhoneNumber:   phoneNumber,
		DeviceID:      deviceID,
		SessionCookie: cookie,
		ChallengeID:   challengeID,
		State:         StateCodeSent,
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return fmt.Errorf("store login session: %w", err)
	}

	s.logger.Info("login code sent", "user_id", userID, "phone", phoneNumber)
	return nil
}

// Complete finishes the handshake with the user-supplied OTP. On
// success the account is upserted with the session's device id and
// cookie plus the fresh token pair, and the conversation is discarded.
func (s *Service) Complete(ctx context.Context, userID int64, otpCode string) (account.Account, error) {
	session, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return account.Account{}, err
	}
	if session.State != StateCodeSent {
		return account.Account{}, ErrNoActiveSession
	}

	pair, err := s.gateway.ValidateSMSCode(ctx, session.SessionCookie, session.DeviceID, session.ChallengeID, otpCode)
	if err != nil {
		return account.Account{}, fmt.Errorf("validate otp: %w", err)
	}
	if !pair.Valid() {
		return account.Account{}, &AuthenticationRejected{Message: pair.Message}
	}

	acc := account.Account{
		PhoneNumber:   session.PhoneNumber,
		UserID:        userID,
		DeviceID:      session.DeviceID,
		SessionCookie: session.SessionCookie,
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
	}
	if err := s.accounts.AddAccount(ctx, acc); err != nil {
		return account.Account{}, fmt.Errorf("store account: %w", err)
	}

	if err := s.sessions.Delete(ctx, userID); err != nil {
		s.logger.Warn("discard login session", "user_id", userID, "error", err)
	}

	s.logger.Info("account authenticated", "user_id", userID, "phone", session.PhoneNumber)
	return acc, nil
}

// Cancel discards any in-flight conversation for the user.
func (s *Service) Cancel(ctx context.Context, userID int64) error {
	return s.sessions.Delete(ctx, userID)
}

// checkAccountLimit rejects a new number when the user's plan is full.
// Re-login of an already attached number is always allowed.
func (s *Service) checkAccountLimit(ctx context.Context, userID int64, phoneNumber string) error {
	accounts, err := s.accounts.GetUserAccounts(ctx, userID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acc := range accounts {
		if acc.PhoneNumber == phoneNumber {
			return nil
		}
	}

	sub, err := s.accounts.UserSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve subscription: %w", err)
	}
	if len(accounts) >= sub.MaxAccounts {
		return ErrAccountLimit
	}
	return nil
}
