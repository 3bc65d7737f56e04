package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/carrier"
	"github.com/asiabot/asiabot/internal/logging"
	"github.com/asiabot/asiabot/internal/notification"
)

type fakeGateway struct {
	pairs    map[string]carrier.TokenPair
	errs     map[string]error
	balances map[string]float64
}

func (f *fakeGateway) RefreshTokens(_ context.Context, refreshToken string) (carrier.TokenPair, error) {
	if err, ok := f.errs[refreshToken]; ok {
		return carrier.TokenPair{}, err
	}
	return f.pairs[refreshToken], nil
}

func (f *fakeGateway) Balance(_ context.Context, creds carrier.Credentials) (float64, error) {
	bal, ok := f.balances[creds.AccessToken]
	if !ok {
		return 0, errors.New("unknown account")
	}
	return bal, nil
}

type recordingNotifier struct {
	messages []notification.Message
	fail     bool
}

func (n *recordingNotifier) Send(_ context.Context, message notification.Message) error {
	n.messages = append(n.messages, message)
	if n.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func seed(t *testing.T, repo account.Repository, userID int64, phone, access, refreshTok string) {
	t.Helper()
	err := repo.AddAccount(context.Background(), account.Account{
		PhoneNumber:  phone,
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refreshTok,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", phone, err)
	}
}

func TestRefreshAllTokensPersistsNewPairs(t *testing.T) {
	ctx := context.Background()
	repo := account.NewMemoryRepository()
	seed(t, repo, 1, "07701111111", "a1", "r1")
	seed(t, repo, 2, "07702222222", "a2", "r2")

	gw := &fakeGateway{pairs: map[string]carrier.TokenPair{
		"r1": {AccessToken: "a1-new", RefreshToken: "r1-new"},
		"r2": {AccessToken: "a2-new"}, // refresh token omitted by upstream
	}}
	notifier := &recordingNotifier{}
	s := NewScheduler(repo, gw, notifier, time.Hour, 0, logging.Discard())

	s.RefreshAllTokens(ctx)

	acc1, _ := repo.GetAccount(ctx, "07701111111", 1)
	if acc1.AccessToken != "a1-new" || acc1.RefreshToken != "r1-new" {
		t.Fatalf("pair not rotated: %+v", acc1)
	}

	acc2, _ := repo.GetAccount(ctx, "07702222222", 2)
	if acc2.AccessToken != "a2-new" {
		t.Fatalf("access not updated: %+v", acc2)
	}
	if acc2.RefreshToken != "r2" {
		t.Fatalf("omitted refresh token must retain previous value, got %q", acc2.RefreshToken)
	}

	if len(notifier.messages) != 0 {
		t.Fatalf("no notifications expected on success, got %v", notifier.messages)
	}
}

func TestRefreshFailureIsolatedPerAccount(t *testing.T) {
	ctx := context.Background()
	repo := account.NewMemoryRepository()
	seed(t, repo, 1, "07701111111", "a1", "r1")
	seed(t, repo, 2, "07702222222", "a2", "r2")
	seed(t, repo, 3, "07703333333", "a3", "r3")

	gw := &fakeGateway{
		pairs: map[string]carrier.TokenPair{
			"r1": {Message: "refresh token expired"},
			"r3": {AccessToken: "a3-new", RefreshToken: "r3-new"},
		},
		errs: map[string]error{
			"r2": errors.New("connection reset"),
		},
	}
	// Delivery failures must not stop the pass either.
	notifier := &recordingNotifier{fail: true}
	s := NewScheduler(repo, gw, notifier, time.Hour, 0, logging.Discard())

	s.RefreshAllTokens(ctx)

	acc3, _ := repo.GetAccount(ctx, "07703333333", 3)
	if acc3.AccessToken != "a3-new" {
		t.Fatalf("later account must still refresh: %+v", acc3)
	}

	if len(notifier.messages) != 2 {
		t.Fatalf("expected 2 session-expired notifications, got %d", len(notifier.messages))
	}
	for _, m := range notifier.messages {
		if m.Kind != notification.KindSessionExpired {
			t.Fatalf("unexpected kind: %s", m.Kind)
		}
	}

	// Failed accounts keep their rows; only a user can delete them.
	if _, err := repo.GetAccount(ctx, "07701111111", 1); err != nil {
		t.Fatalf("failed account must not be removed: %v", err)
	}
}

func TestCheckBalancesNotifiesOnMovement(t *testing.T) {
	ctx := context.Background()
	repo := account.NewMemoryRepository()
	seed(t, repo, 1, "07701111111", "a1", "r1")
	seed(t, repo, 2, "07702222222", "a2", "r2")
	if err := repo.UpdateBalance(ctx, "07701111111", 1000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	gw := &fakeGateway{balances: map[string]float64{
		"a1": 1250, // moved
		"a2": 0,    // unchanged
	}}
	notifier := &recordingNotifier{}
	s := NewScheduler(repo, gw, notifier, time.Hour, time.Hour, logging.Discard())

	s.CheckBalances(ctx)

	if len(notifier.messages) != 1 {
		t.Fatalf("expected one balance notification, got %d", len(notifier.messages))
	}
	if notifier.messages[0].Kind != notification.KindBalanceChange || notifier.messages[0].Destination != 1 {
		t.Fatalf("unexpected notification: %+v", notifier.messages[0])
	}

	acc, _ := repo.GetAccount(ctx, "07701111111", 1)
	if acc.CurrentBalance != 1250 {
		t.Fatalf("balance not persisted: %v", acc.CurrentBalance)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	repo := account.NewMemoryRepository()
	gw := &fakeGateway{}
	s := NewScheduler(repo, gw, &recordingNotifier{}, time.Hour, 0, logging.Discard())

	s.Start()
	s.Start() // no-op
	s.Stop()
	s.Stop() // no-op

	// Restart works after a stop.
	s.Start()
	s.Stop()
}
