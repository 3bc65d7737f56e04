package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested account or user does not exist.
var ErrNotFound = errors.New("account not found")

// Repository persists accounts, users and plans. All operations are
// atomic per call; concurrent updates to the same account are
// last-write-wins.
type Repository interface {
	EnsureUser(ctx context.Context, telegramID int64) error
	UpdateUserProfile(ctx context.Context, telegramID int64, username, firstName string) error

	GetAccount(ctx context.Context, phoneNumber string, userID int64) (Account, error)
	GetUserAccounts(ctx context.Context, userID int64) ([]Account, error)
	GetAllAccounts(ctx context.Context) ([]Account, error)
	AddAccount(ctx context.Context, acc Account) error
	UpdateTokens(ctx context.Context, phoneNumber, accessToken, refreshToken string) error
	UpdateBalance(ctx context.Context, phoneNumber string, balance float64) error
	SetPrimaryReceiver(ctx context.Context, userID int64, phoneNumber string) error
	DeleteAccount(ctx context.Context, phoneNumber string, userID int64) (bool, error)

	AddPlan(ctx context.Context, plan Plan) (int64, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	DeletePlan(ctx context.Context, id int64) error
	GrantPlan(ctx context.Context, telegramID, planID int64, durationDays int) error
	UserSubscription(ctx context.Context, telegramID int64) (Subscription, error)
	ListUsersWithAccounts(ctx context.Context) ([]UserAccounts, error)
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `phone_number, user_id, device_id, session_cookie, access_token,
        refresh_token, token_updated_at, COALESCE(current_balance, 0), is_primary_receiver,
        last_balance_update, created_at`

// EnsureUser creates the user row when it does not exist yet.
func (r *PostgresRepository) EnsureUser(ctx context.Context, telegramID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO users (telegram_id) VALUES ($1)
        ON CONFLICT (telegram_id) DO NOTHING`, telegramID)
	return err
}

// UpdateUserProfile records display metadata for a known user.
func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, telegramID int64, username, firstName string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET username = $2, first_name = $3
        WHERE telegram_id = $1`, telegramID, username, firstName)
	return err
}

// GetAccount fetches a specific account owned by the given user.
func (r *PostgresRepository) GetAccount(ctx context.Context, phoneNumber string, userID int64) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
        WHERE phone_number = $1 AND user_id = $2`, phoneNumber, userID)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return acc, err
}

// GetUserAccounts returns a user's accounts in insertion order.
func (r *PostgresRepository) GetUserAccounts(ctx context.Context, userID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts
        WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// GetAllAccounts returns every stored account, oldest first.
func (r *PostgresRepository) GetAllAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// AddAccount upserts an account by phone number, creating the owning
// user first so the foreign key always resolves.
func (r *PostgresRepository) AddAccount(ctx context.Context, acc Account) error {
	if err := r.EnsureUser(ctx, acc.UserID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (phone_number, user_id, device_id,
            session_cookie, access_token, refresh_token, token_updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (phone_number) DO UPDATE SET
            user_id = EXCLUDED.user_id,
            device_id = EXCLUDED.device_id,
            session_cookie = EXCLUDED.session_cookie,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_updated_at = EXCLUDED.token_updated_at`,
		acc.PhoneNumber, acc.UserID, acc.DeviceID, acc.SessionCookie,
		acc.AccessToken, acc.RefreshToken, time.Now().UTC())
	return err
}

// UpdateTokens persists a refreshed token pair. An empty refresh token
// retains the previously stored value; the upstream sometimes omits it.
func (r *PostgresRepository) UpdateTokens(ctx context.Context, phoneNumber, accessToken, refreshToken string) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts
        SET access_token = $2,
            refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
            token_updated_at = $4
        WHERE phone_number = $1`, phoneNumber, accessToken, refreshToken, time.Now().UTC())
	return err
}

// UpdateBalance records the latest observed balance.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, phoneNumber string, balance float64) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts
        SET current_balance = $2, last_balance_update = $3
        WHERE phone_number = $1`, phoneNumber, balance, time.Now().UTC())
	return err
}

// SetPrimaryReceiver flips the primary-receiver flag to the named
// account, atomically clearing any previous primary for the user.
func (r *PostgresRepository) SetPrimaryReceiver(ctx context.Context, userID int64, phoneNumber string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE accounts SET is_primary_receiver = FALSE
        WHERE user_id = $1`, userID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE accounts SET is_primary_receiver = TRUE
        WHERE user_id = $1 AND phone_number = $2`, userID, phoneNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// DeleteAccount removes an account when it belongs to the user and
// reports whether anything was deleted.
func (r *PostgresRepository) DeleteAccount(ctx context.Context, phoneNumber string, userID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM accounts
        WHERE phone_number = $1 AND user_id = $2`, phoneNumber, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddPlan inserts a subscription plan and returns its id.
func (r *PostgresRepository) AddPlan(ctx context.Context, plan Plan) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO plans (name, price, max_accounts, description, duration_days)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		plan.Name, plan.Price, plan.MaxAccounts, plan.Description, plan.DurationDays).Scan(&id)
	return id, err
}

// ListPlans returns every defined plan.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, price, max_accounts, description, duration_days
        FROM plans ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.MaxAccounts, &p.Description, &p.DurationDays); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// DeletePlan removes a plan definition.
func (r *PostgresRepository) DeletePlan(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	return err
}

// GrantPlan assigns a plan to a user with an expiry derived from the
// given duration.
func (r *PostgresRepository) GrantPlan(ctx context.Context, telegramID, planID int64, durationDays int) error {
	expiry := time.Now().UTC().AddDate(0, 0, durationDays)
	tag, err := r.db.Exec(ctx, `UPDATE users SET plan_id = $2, plan_expiry = $3
        WHERE telegram_id = $1`, telegramID, planID, expiry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UserSubscription resolves the user's active plan, falling back to
// the free tier when no plan is granted or the grant has expired.
func (r *PostgresRepository) UserSubscription(ctx context.Context, telegramID int64) (Subscription, error) {
	row := r.db.QueryRow(ctx, `SELECT u.plan_id, u.plan_expiry, p.name, p.max_accounts
        FROM users u LEFT JOIN plans p ON u.plan_id = p.id
        WHERE u.telegram_id = $1`, telegramID)

	var planID *int64
	var expiry *time.Time
	var name *string
	var maxAccounts *int
	if err := row.Scan(&planID, &expiry, &name, &maxAccounts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FreeSubscription(), nil
		}
		return Subscription{}, err
	}

	if planID == nil || name == nil || maxAccounts == nil {
		return FreeSubscription(), nil
	}
	if expiry != nil && expiry.Before(time.Now()) {
		return FreeSubscription(), nil
	}
	return Subscription{PlanID: planID, Name: *name, MaxAccounts: *maxAccounts, Expiry: expiry}, nil
}

// ListUsersWithAccounts returns every user with their attached
// accounts for the admin overview.
func (r *PostgresRepository) ListUsersWithAccounts(ctx context.Context) ([]UserAccounts, error) {
	rows, err := r.db.Query(ctx, `SELECT telegram_id, COALESCE(username, ''),
        COALESCE(first_name, ''), plan_id, plan_expiry FROM users ORDER BY telegram_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []UserAccounts
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.TelegramID, &u.Username, &u.FirstName, &u.PlanID, &u.PlanExpiry); err != nil {
			return nil, err
		}
		result = append(result, UserAccounts{User: u})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		accounts, err := r.GetUserAccounts(ctx, result[i].User.TelegramID)
		if err != nil {
			return nil, err
		}
		result[i].Accounts = accounts
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var acc Account
	var tokenUpdated, lastBalance, created *time.Time
	err := row.Scan(&acc.PhoneNumber, &acc.UserID, &acc.DeviceID, &acc.SessionCookie,
		&acc.AccessToken, &acc.RefreshToken, &tokenUpdated, &acc.CurrentBalance,
		&acc.IsPrimaryReceiver, &lastBalance, &created)
	if err != nil {
		return Account{}, err
	}
	if tokenUpdated != nil {
		acc.TokenUpdatedAt = tokenUpdated.UTC()
	}
	if lastBalance != nil {
		acc.LastBalanceUpdate = lastBalance.UTC()
	}
	if created != nil {
		acc.CreatedAt = created.UTC()
	}
	return acc, nil
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}
