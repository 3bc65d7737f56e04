package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/carrier"
	"github.com/asiabot/asiabot/internal/notification"
)

// Gateway is the slice of the carrier client the scheduler needs.
type Gateway interface {
	RefreshTokens(ctx context.Context, refreshToken string) (carrier.TokenPair, error)
	Balance(ctx context.Context, creds carrier.Credentials) (float64, error)
}

// Scheduler periodically refreshes every stored account's token pair
// and optionally watches balances. It runs independently of any
// conversation and communicates only through the account store and
// the notifier.
type Scheduler struct {
	accounts account.Repository
	gateway  Gateway
	notifier notification.Notifier
	logger   *slog.Logger

	refreshInterval time.Duration
	balanceInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds the scheduler. A zero balanceInterval disables
// the balance watch job.
func NewScheduler(accounts account.Repository, gateway Gateway, notifier notification.Notifier,
	refreshInterval, balanceInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		accounts:        accounts,
		gateway:         gateway,
		notifier:        notifier,
		logger:          logger,
		refreshInterval: refreshInterval,
		balanceInterval: balanceInterval,
	}
}

// Start launches the background jobs. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()

	s.logger.Info("scheduler started",
		"refresh_interval", s.refreshInterval.String(),
		"balance_interval", s.balanceInterval.String())
}

// Stop halts the background jobs and waits for the current pass to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	refreshTicker := time.NewTicker(s.refreshInterval)
	defer refreshTicker.Stop()

	var balanceCh <-chan time.Time
	if s.balanceInterval > 0 {
		balanceTicker := time.NewTicker(s.balanceInterval)
		defer balanceTicker.Stop()
		balanceCh = balanceTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			s.RefreshAllTokens(ctx)
		case <-balanceCh:
			s.CheckBalances(ctx)
		}
	}
}

// RefreshAllTokens exchanges every account's refresh token for a new
// pair. A failure for one account never aborts the others; affected
// owners get a best-effort re-login notification instead.
func (s *Scheduler) RefreshAllTokens(ctx context.Context) {
	accounts, err := s.accounts.GetAllAccounts(ctx)
	if err != nil {
		s.logger.Error("list accounts for refresh", "error", err)
		return
	}

	s.logger.Info("token refresh pass", "accounts", len(accounts))

	for _, acc := range accounts {
		if ctx.Err() != nil {
			return
		}
		if err := s.refreshOne(ctx, acc); err != nil {
			s.logger.Warn("token refresh failed", "phone", acc.PhoneNumber, "error", err)
			s.notifySessionExpired(ctx, acc)
		}
	}
}

func (s *Scheduler) refreshOne(ctx context.Context, acc account.Account) error {
	pair, err := s.gateway.RefreshTokens(ctx, acc.RefreshToken)
	if err != nil {
		return err
	}
	if !pair.Valid() {
		if pair.Message != "" {
			return fmt.Errorf("refresh rejected: %s", pair.Message)
		}
		return fmt.Errorf("refresh rejected")
	}

	if err := s.accounts.UpdateTokens(ctx, acc.PhoneNumber, pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	s.logger.Info("tokens refreshed", "phone", acc.PhoneNumber)
	return nil
}

func (s *Scheduler) notifySessionExpired(ctx context.Context, acc account.Account) {
	err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindSessionExpired,
		Destination: acc.UserID,
		Body:        fmt.Sprintf("Session expired for %s. Please login again.", acc.PhoneNumber),
	})
	if err != nil {
		// Delivery failure is isolated; remaining accounts still run.
		s.logger.Warn("notify session expired", "phone", acc.PhoneNumber, "error", err)
	}
}

// CheckBalances polls every account's balance and notifies owners of
// movements since the last observation.
func (s *Scheduler) CheckBalances(ctx context.Context) {
	accounts, err := s.accounts.GetAllAccounts(ctx)
	if err != nil {
		s.logger.Error("list accounts for balance watch", "error", err)
		return
	}

	for _, acc := range accounts {
		if ctx.Err() != nil {
			return
		}

		balance, err := s.gateway.Balance(ctx, carrier.Credentials{
			AccessToken: acc.AccessToken,
			DeviceID:    acc.DeviceID,
			Cookie:      acc.SessionCookie,
		})
		if err != nil {
			s.logger.Warn("balance check failed", "phone", acc.PhoneNumber, "error", err)
			continue
		}

		if balance == acc.CurrentBalance {
			continue
		}

		diff := balance - acc.CurrentBalance
		body := fmt.Sprintf("Balance added for %s: +%.2f", acc.PhoneNumber, diff)
		if diff < 0 {
			body = fmt.Sprintf("Balance deducted for %s: %.2f", acc.PhoneNumber, diff)
		}
		if err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindBalanceChange,
			Destination: acc.UserID,
			Body:        body,
		}); err != nil {
			s.logger.Warn("notify balance change", "phone", acc.PhoneNumber, "error", err)
		}

		if err := s.accounts.UpdateBalance(ctx, acc.PhoneNumber, balance); err != nil {
			s.logger.Warn("persist balance", "phone", acc.PhoneNumber, "error", err)
		}
	}
}
