package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lusis-developers/bakano-billing/domain/account"
	"github.com/lusis-developers/bakano-billing/domain/plan"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
	"github.com/lusis-developers/bakano-billing/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite. Apply runs the
// subscription write and the account snapshot write in one transaction, so
// a reader never observes the two disagreeing.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const accountColumns = `
	id, email, name, national_id, phone,
	address_street, address_city, address_country,
	snapshot_plan, snapshot_status, snapshot_provider, snapshot_interval,
	snapshot_trial_start, snapshot_trial_end,
	snapshot_period_start, snapshot_period_end, snapshot_next_billing,
	created_at, updated_at`

const subscriptionColumns = `
	id, account_id, plan, status, provider, price_id, amount, currency,
	billing_interval, trial_start, trial_end,
	current_period_start, current_period_end, next_billing_date,
	cancel_at_period_end, canceled_at, created_at, updated_at`

// GetAccount retrieves an account by ID.
func (s *LedgerStore) GetAccount(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+accountColumns+`
		FROM accounts
		WHERE id = ?
	`, id)
	return scanAccount(row)
}

// CreateAccount stores a new account.
func (s *LedgerStore) CreateAccount(ctx context.Context, a account.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, accountArgs(a)...)
	if err != nil && isUniqueConstraintError(err) {
		return ports.ErrDuplicate
	}
	return err
}

// CurrentSubscription returns the account's trialing-or-active ledger entry.
func (s *LedgerStore) CurrentSubscription(ctx context.Context, accountID string) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = ? AND status IN ('trialing', 'active')
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)
	return scanSubscription(row)
}

// GetSubscription retrieves a ledger entry by ID.
func (s *LedgerStore) GetSubscription(ctx context.Context, id string) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE id = ?
	`, id)
	return scanSubscription(row)
}

// ListByAccount returns the account's subscription history, newest first.
func (s *LedgerStore) ListByAccount(ctx context.Context, accountID string) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = ?
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRow(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DueForCancellation returns current entries flagged cancel-at-period-end
// whose next billing date is at or before now.
func (s *LedgerStore) DueForCancellation(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('trialing', 'active')
		  AND cancel_at_period_end = 1
		  AND next_billing_date <= ?
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRow(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Apply persists the transition in a single transaction.
func (s *LedgerStore) Apply(ctx context.Context, t ports.Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sub := t.Subscription
	if t.Created {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, subscriptionArgs(sub)...)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ports.ErrDuplicate
			}
			// The account FK is the only reference on the insert path.
			if isForeignKeyConstraintError(err) {
				return ports.ErrNotFound
			}
			return err
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE subscriptions
			SET plan = ?, status = ?, provider = ?, price_id = ?, amount = ?,
			    currency = ?, billing_interval = ?, trial_start = ?, trial_end = ?,
			    current_period_start = ?, current_period_end = ?, next_billing_date = ?,
			    cancel_at_period_end = ?, canceled_at = ?, updated_at = ?
			WHERE id = ?
		`,
			string(sub.Plan), string(sub.Status), sub.Provider, sub.PriceID, sub.Amount,
			sub.Currency, string(sub.BillingInterval), nullTime(sub.TrialStart), nullTime(sub.TrialEnd),
			nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), sub.NextBillingDate,
			boolToInt(sub.CancelAtPeriodEnd), nullTime(sub.CanceledAt), sub.UpdatedAt,
			sub.ID,
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ports.ErrNotFound
		}
	}

	a := t.Account
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET email = ?, name = ?, national_id = ?, phone = ?,
		    address_street = ?, address_city = ?, address_country = ?,
		    snapshot_plan = ?, snapshot_status = ?, snapshot_provider = ?, snapshot_interval = ?,
		    snapshot_trial_start = ?, snapshot_trial_end = ?,
		    snapshot_period_start = ?, snapshot_period_end = ?, snapshot_next_billing = ?,
		    updated_at = ?
		WHERE id = ?
	`,
		a.Email, a.Name, a.Identity.NationalID, a.Identity.Phone,
		a.Identity.Address.Street, a.Identity.Address.City, a.Identity.Address.Country,
		a.Snapshot.Plan, a.Snapshot.Status, a.Snapshot.Provider, a.Snapshot.BillingInterval,
		nullTime(a.Snapshot.TrialStart), nullTime(a.Snapshot.TrialEnd),
		nullTime(a.Snapshot.CurrentPeriodStart), nullTime(a.Snapshot.CurrentPeriodEnd),
		nullTime(a.Snapshot.NextBillingDate),
		a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}

	return tx.Commit()
}

func accountArgs(a account.Account) []any {
	return []any{
		a.ID, a.Email, a.Name, a.Identity.NationalID, a.Identity.Phone,
		a.Identity.Address.Street, a.Identity.Address.City, a.Identity.Address.Country,
		a.Snapshot.Plan, a.Snapshot.Status, a.Snapshot.Provider, a.Snapshot.BillingInterval,
		nullTime(a.Snapshot.TrialStart), nullTime(a.Snapshot.TrialEnd),
		nullTime(a.Snapshot.CurrentPeriodStart), nullTime(a.Snapshot.CurrentPeriodEnd),
		nullTime(a.Snapshot.NextBillingDate),
		a.CreatedAt, a.UpdatedAt,
	}
}

func subscriptionArgs(sub subscription.Subscription) []any {
	return []any{
		sub.ID, sub.AccountID, string(sub.Plan), string(sub.Status),
		sub.Provider, sub.PriceID, sub.Amount, sub.Currency,
		string(sub.BillingInterval), nullTime(sub.TrialStart), nullTime(sub.TrialEnd),
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), sub.NextBillingDate,
		boolToInt(sub.CancelAtPeriodEnd), nullTime(sub.CanceledAt),
		sub.CreatedAt, sub.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var a account.Account
	var trialStart, trialEnd, periodStart, periodEnd, nextBilling sql.NullTime

	err := row.Scan(
		&a.ID, &a.Email, &a.Name, &a.Identity.NationalID, &a.Identity.Phone,
		&a.Identity.Address.Street, &a.Identity.Address.City, &a.Identity.Address.Country,
		&a.Snapshot.Plan, &a.Snapshot.Status, &a.Snapshot.Provider, &a.Snapshot.BillingInterval,
		&trialStart, &trialEnd, &periodStart, &periodEnd, &nextBilling,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, ports.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}

	a.Snapshot.TrialStart = timePtr(trialStart)
	a.Snapshot.TrialEnd = timePtr(trialEnd)
	a.Snapshot.CurrentPeriodStart = timePtr(periodStart)
	a.Snapshot.CurrentPeriodEnd = timePtr(periodEnd)
	a.Snapshot.NextBillingDate = timePtr(nextBilling)
	return a, nil
}

func scanSubscription(row *sql.Row) (subscription.Subscription, error) {
	sub, err := scanSubscriptionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscription{}, ports.ErrNotFound
	}
	return sub, err
}

func scanSubscriptionRow(row rowScanner) (subscription.Subscription, error) {
	var sub subscription.Subscription
	var planName, status, interval string
	var trialStart, trialEnd, periodStart, periodEnd, canceledAt sql.NullTime
	var cancelAtPeriodEnd int

	err := row.Scan(
		&sub.ID, &sub.AccountID, &planName, &status,
		&sub.Provider, &sub.PriceID, &sub.Amount, &sub.Currency,
		&interval, &trialStart, &trialEnd,
		&periodStart, &periodEnd, &sub.NextBillingDate,
		&cancelAtPeriodEnd, &canceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return subscription.Subscription{}, err
	}

	sub.Plan = plan.Plan(planName)
	sub.Status = subscription.Status(status)
	sub.BillingInterval = plan.Interval(interval)
	sub.TrialStart = timePtr(trialStart)
	sub.TrialEnd = timePtr(trialEnd)
	sub.CurrentPeriodStart = timePtr(periodStart)
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd == 1
	sub.CanceledAt = timePtr(canceledAt)
	return sub, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil &&
		(strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "unique constraint"))
}

func isForeignKeyConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
