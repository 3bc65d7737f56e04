package recharge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/carrier"
)

// Gateway is the slice of the carrier client the orchestrator needs.
type Gateway interface {
	Balance(ctx context.Context, creds carrier.Credentials) (float64, error)
	SubmitRecharge(ctx context.Context, creds carrier.Credentials, voucherCode, targetNumber string) (string, error)
	RefreshTokens(ctx context.Context, refreshToken string) (carrier.TokenPair, error)
}

// Status is the terminal state of one recharge invocation.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusBusy                Status = "busy"
	StatusNoAccounts          Status = "no_accounts"
	StatusNoReceiver          Status = "no_receiver"
	StatusReceiverUnreachable Status = "receiver_unreachable"
	StatusVoucherInvalid      Status = "voucher_invalid"
	StatusUnconfirmed         Status = "unconfirmed"
	StatusExhausted           Status = "exhausted"
)

// Result is the domain outcome of a smart recharge run.
type Result struct {
	Status          Status
	Receiver        string
	Sender          string
	VoucherCode     string
	PreviousBalance float64
	NewBalance      float64
	Delta           float64
	TriedSenders    []string
	UpstreamMessage string
}

// Message renders the result for the end user. Internal diagnostics
// stay in logs; this is plain language only.
func (r Result) Message() string {
	switch r.Status {
	case StatusSuccess:
		return fmt.Sprintf("Recharged %s with +%.2f (balance %.2f → %.2f) using sender %s, voucher %s.",
			r.Receiver, r.Delta, r.PreviousBalance, r.NewBalance, r.Sender, r.VoucherCode)
	case StatusBusy:
		return "A recharge is already in progress for your accounts. Please wait for it to finish."
	case StatusNoAccounts:
		return "You have no accounts yet. Add one first."
	case StatusNoReceiver:
		return "No primary receiver is configured. Set one before recharging."
	case StatusReceiverUnreachable:
		return "Could not read the receiver's balance, so the recharge was not attempted."
	case StatusVoucherInvalid:
		return "The voucher is invalid or already used."
	case StatusUnconfirmed:
		return fmt.Sprintf("The recharge via %s could not be confirmed: the receiver balance did not move. The voucher may already be consumed; please verify manually before retrying.", r.Sender)
	case StatusExhausted:
		return fmt.Sprintf("Recharge failed with every available sender: %s.", strings.Join(r.TriedSenders, ", "))
	default:
		return "Recharge finished with an unknown result."
	}
}

// Service orchestrates the sender-rotation recharge flow. The observed
// receiver balance delta is the authoritative success signal; no single
// upstream response field is trusted.
type Service struct {
	accounts    account.Repository
	gateway     Gateway
	locks       Locker
	logger      *slog.Logger
	settleDelay time.Duration
}

// NewService builds the orchestrator. settleDelay is how long upstream
// balance propagation is given before verification.
func NewService(accounts account.Repository, gateway Gateway, locks Locker, settleDelay time.Duration, logger *slog.Logger) *Service {
	return &Service{
		accounts:    accounts,
		gateway:     gateway,
		locks:       locks,
		logger:      logger,
		settleDelay: settleDelay,
	}
}

// ProcessSmartRecharge spends the voucher into the user's primary
// receiver, rotating through sender accounts until one attempt shows a
// positive balance delta. Sequential by design: each attempt's outcome
// decides whether the next is tried at all.
func (s *Service) ProcessSmartRecharge(ctx context.Context, userID int64, voucherCode string) (Result, error) {
	ok, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("acquire recharge lock: %w", err)
	}
	if !ok {
		return Result{Status: StatusBusy}, nil
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), userID); err != nil {
			s.logger.Warn("release recharge lock", "user_id", userID, "error", err)
		}
	}()

	accounts, err := s.accounts.GetUserAccounts(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return Result{Status: StatusNoAccounts}, nil
	}

	var receiver *account.Account
	var senders []account.Account
	for i := range accounts {
		if accounts[i].IsPrimaryReceiver {
			receiver = &accounts[i]
		} else {
			senders = append(senders, accounts[i])
		}
	}
	if receiver == nil {
		return Result{Status: StatusNoReceiver}, nil
	}
	if len(senders) == 0 {
		// Sole account: the receiver recharges itself.
		senders = []account.Account{*receiver}
	}

	initialBalance, err := s.receiverBalance(ctx, receiver)
	if err != nil {
		s.logger.Warn("receiver balance unavailable", "receiver", receiver.PhoneNumber, "error", err)
		return Result{Status: StatusReceiverUnreachable, Receiver: receiver.PhoneNumber, VoucherCode: voucherCode}, nil
	}

	base := Result{
		Receiver:        receiver.PhoneNumber,
		VoucherCode:     voucherCode,
		PreviousBalance: initialBalance,
	}

	var tried []string
	for _, sender := range senders {
		tried = append(tried, sender.PhoneNumber)
		base.TriedSenders = tried
		base.Sender = sender.PhoneNumber

		s.logger.Info("trying sender", "sender", sender.PhoneNumber, "receiver", receiver.PhoneNumber)

		result, next := s.attemptSender(ctx, sender, receiver, voucherCode, base)
		if !next {
			return result, nil
		}
	}

	base.Sender = ""
	base.Status = StatusExhausted
	return base, nil
}

// attemptSender runs one sender's submit-classify-verify cycle. The
// second return value is true when the rotation should continue with
// the next sender.
func (s *Service) attemptSender(ctx context.Context, sender account.Account, receiver *account.Account, voucherCode string, base Result) (Result, bool) {
	body, retried, err := s.submitWithAuthRetry(ctx, &sender, voucherCode, receiver.PhoneNumber)
	if err != nil {
		outcome := classifyError(err)
		switch outcome {
		case OutcomeVoucherInvalid:
			base.Status = StatusVoucherInvalid
			base.UpstreamMessage = err.Error()
			return base, false
		case OutcomeRateLimited:
			s.logger.Warn("sender rate limited", "sender", sender.PhoneNumber)
			return Result{}, true
		default:
			s.logger.Error("sender failed", "sender", sender.PhoneNumber, "error", err)
			return Result{}, true
		}
	}

	switch outcome := Classify(body); outcome {
	case OutcomeVoucherInvalid:
		base.Status = StatusVoucherInvalid
		base.UpstreamMessage = body
		return base, false
	case OutcomeRateLimited:
		s.logger.Warn("sender blocked or limited", "sender", sender.PhoneNumber)
		return Result{}, true
	default:
		// Success markers and ambiguous acks both go through delta
		// verification: the balance is the ground truth either way.
	}

	if err := s.settle(ctx); err != nil {
		// Cancelled mid-wait: abandon without rollback, the voucher
		// may already be spent.
		base.Status = StatusUnconfirmed
		return base, false
	}

	newBalance, err := s.gateway.Balance(ctx, creds(*receiver))
	if err != nil {
		s.logger.Warn("verification balance fetch failed", "receiver", receiver.PhoneNumber, "error", err)
		if retried {
			return Result{}, true
		}
		base.Status = StatusUnconfirmed
		return base, false
	}

	diff := newBalance - base.PreviousBalance
	if diff > 0 {
		if err := s.accounts.UpdateBalance(ctx, receiver.PhoneNumber, newBalance); err != nil {
			s.logger.Warn("persist receiver balance", "receiver", receiver.PhoneNumber, "error", err)
		}
		base.Status = StatusSuccess
		base.NewBalance = newBalance
		base.Delta = diff
		return base, false
	}

	// A flat balance right after a reactive auth refresh counts as this
	// sender failing; without a refresh it is a terminal unconfirmed
	// outcome because the voucher may already be consumed.
	if retried {
		s.logger.Warn("no balance movement after auth retry", "sender", sender.PhoneNumber)
		return Result{}, true
	}
	base.Status = StatusUnconfirmed
	base.NewBalance = newBalance
	base.Delta = diff
	return base, false
}

// submitWithAuthRetry submits the voucher, refreshing the sender's
// token and retrying exactly once on a 401/403. The refreshed pair is
// persisted before the retry; the retry's own failure never triggers a
// second refresh.
func (s *Service) submitWithAuthRetry(ctx context.Context, sender *account.Account, voucherCode, targetNumber string) (string, bool, error) {
	body, err := s.gateway.SubmitRecharge(ctx, creds(*sender), voucherCode, targetNumber)
	if err == nil || !carrier.IsAuthError(err) {
		return body, false, err
	}

	s.logger.Info("reactive token refresh", "sender", sender.PhoneNumber)
	pair, refreshErr := s.gateway.RefreshTokens(ctx, sender.RefreshToken)
	if refreshErr != nil || !pair.Valid() {
		s.logger.Warn("reactive refresh failed", "sender", sender.PhoneNumber, "error", refreshErr)
		return "", true, err
	}

	if err := s.accounts.UpdateTokens(ctx, sender.PhoneNumber, pair.AccessToken, pair.RefreshToken); err != nil {
		s.logger.Warn("persist refreshed tokens", "sender", sender.PhoneNumber, "error", err)
	}
	sender.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		sender.RefreshToken = pair.RefreshToken
	}

	body, err = s.gateway.SubmitRecharge(ctx, creds(*sender), voucherCode, targetNumber)
	return body, true, err
}

// receiverBalance reads the receiver balance, trying one reactive
// token refresh before giving up. Nothing is spent while the receiver
// is unreadable: success could never be verified.
func (s *Service) receiverBalance(ctx context.Context, receiver *account.Account) (float64, error) {
	balance, err := s.gateway.Balance(ctx, creds(*receiver))
	if err == nil {
		return balance, nil
	}

	pair, refreshErr := s.gateway.RefreshTokens(ctx, receiver.RefreshToken)
	if refreshErr != nil || !pair.Valid() {
		return 0, err
	}
	if persistErr := s.accounts.UpdateTokens(ctx, receiver.PhoneNumber, pair.AccessToken, pair.RefreshToken); persistErr != nil {
		s.logger.Warn("persist refreshed tokens", "receiver", receiver.PhoneNumber, "error", persistErr)
	}
	receiver.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		receiver.RefreshToken = pair.RefreshToken
	}

	return s.gateway.Balance(ctx, creds(*receiver))
}

func (s *Service) settle(ctx context.Context) error {
	if s.settleDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settleDelay):
		return nil
	}
}

func creds(acc account.Account) carrier.Credentials {
	return carrier.Credentials{
		AccessToken: acc.AccessToken,
		DeviceID:    acc.DeviceID,
		Cookie:      acc.SessionCookie,
	}
}
