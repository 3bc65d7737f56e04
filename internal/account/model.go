package account

import "time"

// Account is one carrier subscriber identity managed on behalf of a
// Telegram user, keyed by phone number.
type Account struct {
	PhoneNumber       string
	UserID            int64
	DeviceID          string
	SessionCookie     string
	AccessToken       string
	RefreshToken      string
	TokenUpdatedAt    time.Time
	CurrentBalance    float64
	IsPrimaryReceiver bool
	LastBalanceUpdate time.Time
	CreatedAt         time.Time
}

// User is a Telegram user known to the system. Users are created
// lazily on first successful account addition.
type User struct {
	TelegramID int64
	Username   string
	FirstName  string
	PlanID     *int64
	PlanExpiry *time.Time
}

// Plan is a subscription tier limiting how many carrier accounts a
// user may attach.
type Plan struct {
	ID           int64
	Name         string
	Price        float64
	MaxAccounts  int
	Description  string
	DurationDays int
}

// Subscription is the resolved plan for a user: the granted plan while
// unexpired, otherwise the free tier.
type Subscription struct {
	PlanID      *int64
	Name        string
	MaxAccounts int
	Expiry      *time.Time
}

// FreeSubscription is the fallback when a user holds no active plan.
func FreeSubscription() Subscription {
	return Subscription{Name: "Free", MaxAccounts: 1}
}

// UserAccounts pairs a user with their attached accounts for the
// admin overview.
type UserAccounts struct {
	User     User
	Accounts []Account
}
