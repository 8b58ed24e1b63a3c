// Package memory provides in-memory implementations of storage ports,
// used in tests and for ephemeral deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lusis-developers/bakano-billing/domain/account"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
	"github.com/lusis-developers/bakano-billing/ports"
)

// LedgerStore is an in-memory implementation of ports.LedgerStore. A single
// lock guards both maps, so Apply is atomic with respect to every reader.
type LedgerStore struct {
	mu            sync.RWMutex
	accounts      map[string]account.Account
	subscriptions map[string]subscription.Subscription
	byAccount     map[string][]string // accountID -> subscription IDs, insertion order
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		accounts:      make(map[string]account.Account),
		subscriptions: make(map[string]subscription.Subscription),
		byAccount:     make(map[string][]string),
	}
}

// GetAccount retrieves an account by ID.
func (s *LedgerStore) GetAccount(ctx context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, ports.ErrNotFound
	}
	return a, nil
}

// CreateAccount stores a new account.
func (s *LedgerStore) CreateAccount(ctx context.Context, a account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return ports.ErrDuplicate
	}
	s.accounts[a.ID] = a
	return nil
}

// CurrentSubscription returns the account's trialing-or-active ledger entry.
func (s *LedgerStore) CurrentSubscription(ctx context.Context, accountID string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byAccount[accountID] {
		if sub := s.subscriptions[id]; sub.IsCurrent() {
			return sub, nil
		}
	}
	return subscription.Subscription{}, ports.ErrNotFound
}

// GetSubscription retrieves a ledger entry by ID.
func (s *LedgerStore) GetSubscription(ctx context.Context, id string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return subscription.Subscription{}, ports.ErrNotFound
	}
	return sub, nil
}

// ListByAccount returns the account's subscription history, newest first.
func (s *LedgerStore) ListByAccount(ctx context.Context, accountID string) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAccount[accountID]
	subs := make([]subscription.Subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subscriptions[id])
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs, nil
}

// DueForCancellation returns current entries flagged cancel-at-period-end
// whose next billing date is at or before now.
func (s *LedgerStore) DueForCancellation(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.IsCurrent() && sub.CancelAtPeriodEnd && !sub.NextBillingDate.After(now) {
			due = append(due, sub)
		}
	}
	return due, nil
}

// Apply persists the transition atomically: the subscription write and the
// account (snapshot, identity) write happen under one lock.
func (s *LedgerStore) Apply(ctx context.Context, t ports.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[t.Account.ID]; !ok {
		return ports.ErrNotFound
	}

	if t.Created {
		if _, exists := s.subscriptions[t.Subscription.ID]; exists {
			return ports.ErrDuplicate
		}
		s.byAccount[t.Subscription.AccountID] = append(s.byAccount[t.Subscription.AccountID], t.Subscription.ID)
	} else if _, ok := s.subscriptions[t.Subscription.ID]; !ok {
		return ports.ErrNotFound
	}

	s.subscriptions[t.Subscription.ID] = t.Subscription
	s.accounts[t.Account.ID] = t.Account
	return nil
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
