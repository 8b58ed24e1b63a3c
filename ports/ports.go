// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/lusis-developers/bakano-billing/domain/account"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
)

// ErrNotFound is returned when an entity is not found.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an entity already exists.
var ErrDuplicate = errors.New("already exists")

// ErrAccountNotFound reports that the addressed tenant account does not
// exist. Callers treat it as not-authorized.
var ErrAccountNotFound = errors.New("account not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// Transition is the atomic unit of a subscription lifecycle change: the
// ledger entry to persist plus the account carrying the refreshed snapshot
// and any identity backfill. A LedgerStore must apply both in one write, so
// a concurrent reader never observes the ledger and the snapshot
// disagreeing.
type Transition struct {
	Account      account.Account
	Subscription subscription.Subscription
	Created      bool // insert the ledger entry instead of updating it
}

// LedgerStore persists tenant accounts and the subscription ledger.
type LedgerStore interface {
	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (account.Account, error)

	// CreateAccount stores a new account. The snapshot must already carry
	// the free default.
	CreateAccount(ctx context.Context, a account.Account) error

	// CurrentSubscription returns the account's single trialing-or-active
	// ledger entry, or ErrNotFound when the account has none.
	CurrentSubscription(ctx context.Context, accountID string) (subscription.Subscription, error)

	// GetSubscription retrieves a ledger entry by ID.
	GetSubscription(ctx context.Context, id string) (subscription.Subscription, error)

	// ListByAccount returns the account's full subscription history,
	// newest first. Canceled entries are kept for audit.
	ListByAccount(ctx context.Context, accountID string) ([]subscription.Subscription, error)

	// DueForCancellation returns current entries flagged cancel-at-period-end
	// whose next billing date is at or before now.
	DueForCancellation(ctx context.Context, now time.Time) ([]subscription.Subscription, error)

	// Apply persists t atomically.
	Apply(ctx context.Context, t Transition) error
}
