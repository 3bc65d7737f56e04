package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	users    map[int64]User
	accounts map[string]Account
	plans    map[int64]Plan
	seq      int64
	inserted int64
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:    make(map[int64]User),
		accounts: make(map[string]Account),
		plans:    make(map[int64]Plan),
	}
}

func (r *memoryRepository) EnsureUser(_ context.Context, telegramID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[telegramID]; !ok {
		r.users[telegramID] = User{TelegramID: telegramID}
	}
	return nil
}

func (r *memoryRepository) UpdateUserProfile(_ context.Context, telegramID int64, username, firstName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[telegramID]
	if !ok {
		return ErrNotFound
	}
	u.Username = username
	u.FirstName = firstName
	r.users[telegramID] = u
	return nil
}

func (r *memoryRepository) GetAccount(_ context.Context, phoneNumber string, userID int64) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[phoneNumber]
	if !ok || acc.UserID != userID {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (r *memoryRepository) GetUserAccounts(_ context.Context, userID int64) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Account
	for _, acc := range r.accounts {
		if acc.UserID == userID {
			out = append(out, acc)
		}
	}
	sortByInsertion(out)
	return out, nil
}

func (r *memoryRepository) GetAllAccounts(_ context.Context) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}
	sortByInsertion(out)
	return out, nil
}

func (r *memoryRepository) AddAccount(_ context.Context, acc Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[acc.UserID]; !ok {
		r.users[acc.UserID] = User{TelegramID: acc.UserID}
	}
	acc.TokenUpdatedAt = time.Now().UTC()
	if existing, ok := r.accounts[acc.PhoneNumber]; ok {
		// Upsert keeps insertion order and flags of the original row.
		acc.CreatedAt = existing.CreatedAt
		acc.IsPrimaryReceiver = existing.IsPrimaryReceiver
		acc.CurrentBalance = existing.CurrentBalance
	} else {
		r.inserted++
		acc.CreatedAt = time.Unix(r.inserted, 0).UTC()
	}
	r.accounts[acc.PhoneNumber] = acc
	return nil
}

func (r *memoryRepository) UpdateTokens(_ context.Context, phoneNumber, accessToken, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[phoneNumber]
	if !ok {
		return ErrNotFound
	}
	acc.AccessToken = accessToken
	if refreshToken != "" {
		acc.RefreshToken = refreshToken
	}
	acc.TokenUpdatedAt = time.Now().UTC()
	r.accounts[phoneNumber] = acc
	return nil
}

func (r *memoryRepository) UpdateBalance(_ context.Context, phoneNumber string, balance float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[phoneNumber]
	if !ok {
		return ErrNotFound
	}
	acc.CurrentBalance = balance
	acc.LastBalanceUpdate = time.Now().UTC()
	r.accounts[phoneNumber] = acc
	return nil
}

func (r *memoryRepository) SetPrimaryReceiver(_ context.Context, userID int64, phoneNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.accounts[phoneNumber]
	if !ok || target.UserID != userID {
		return ErrNotFound
	}
	for phone, acc := range r.accounts {
		if acc.UserID == userID && acc.IsPrimaryReceiver {
			acc.IsPrimaryReceiver = false
			r.accounts[phone] = acc
		}
	}
	target.IsPrimaryReceiver = true
	r.accounts[phoneNumber] = target
	return nil
}

func (r *memoryRepository) DeleteAccount(_ context.Context, phoneNumber string, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[phoneNumber]
	if !ok || acc.UserID != userID {
		return false, nil
	}
	delete(r.accounts, phoneNumber)
	return true, nil
}

func (r *memoryRepository) AddPlan(_ context.Context, plan Plan) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	plan.ID = r.seq
	r.plans[plan.ID] = plan
	return plan.ID, nil
}

func (r *memoryRepository) ListPlans(_ context.Context) ([]Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) DeletePlan(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plans, id)
	return nil
}

func (r *memoryRepository) GrantPlan(_ context.Context, telegramID, planID int64, durationDays int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[telegramID]
	if !ok {
		return ErrNotFound
	}
	expiry := time.Now().UTC().AddDate(0, 0, durationDays)
	u.PlanID = &planID
	u.PlanExpiry = &expiry
	r.users[telegramID] = u
	return nil
}

func (r *memoryRepository) UserSubscription(_ context.Context, telegramID int64) (Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[telegramID]
	if !ok || u.PlanID == nil {
		return FreeSubscription(), nil
	}
	if u.PlanExpiry != nil && u.PlanExpiry.Before(time.Now()) {
		return FreeSubscription(), nil
	}
	plan, ok := r.plans[*u.PlanID]
	if !ok {
		return FreeSubscription(), nil
	}
	return Subscription{PlanID: u.PlanID, Name: plan.Name, MaxAccounts: plan.MaxAccounts, Expiry: u.PlanExpiry}, nil
}

func (r *memoryRepository) ListUsersWithAccounts(ctx context.Context) ([]UserAccounts, error) {
	r.mu.RLock()
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].TelegramID < users[j].TelegramID })

	out := make([]UserAccounts, 0, len(users))
	for _, u := range users {
		accounts, err := r.GetUserAccounts(ctx, u.TelegramID)
		if err != nil {
			return nil, err
		}
		out = append(out, UserAccounts{User: u, Accounts: accounts})
	}
	return out, nil
}

func sortByInsertion(accounts []Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}
