// Package app contains the lifecycle service driving subscription
// transitions. All business rules are pure domain functions; I/O happens at
// the edges via injected ports.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lusis-developers/bakano-billing/adapters/metrics"
	"github.com/lusis-developers/bakano-billing/domain/account"
	"github.com/lusis-developers/bakano-billing/domain/entitlement"
	"github.com/lusis-developers/bakano-billing/domain/identity"
	"github.com/lusis-developers/bakano-billing/domain/period"
	"github.com/lusis-developers/bakano-billing/domain/plan"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
	"github.com/lusis-developers/bakano-billing/ports"
)

// StartRequest carries a start-subscription intent.
type StartRequest struct {
	AccountID       string
	Plan            string
	BillingInterval string
	TrialDays       int

	// Opaque payment rail metadata reported by the payment collaborator.
	Provider string
	PriceID  string
	Amount   int64
	Currency string

	// Billing identity. Only fields the account does not yet hold are
	// validated and written.
	NationalID string
	Phone      string
	Address    account.Address
}

// CreateAccountRequest carries an account creation intent.
type CreateAccountRequest struct {
	ID    string // optional, generated when empty
	Email string
	Name  string
}

// EntitlementView pairs the stored snapshot with the derived read-time view.
type EntitlementView struct {
	AccountID string
	Snapshot  account.Snapshot
	Derived   entitlement.View
}

// LifecycleService drives subscription lifecycle transitions and computes
// the derived entitlement view. Operations on the same account are
// serialized through a per-account mutex; each transition reaches the store
// as a single atomic Transition.
type LifecycleService struct {
	store   ports.LedgerStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	logger  zerolog.Logger
	metrics *metrics.Collector // optional

	mu    sync.Mutex
	locks map[string]*accountLock
}

// accountLock serializes mutations for one account. refs counts holders and
// waiters so the entry can be freed once nobody needs it.
type accountLock struct {
	mu   sync.Mutex
	refs int
}

// NewLifecycleService creates a new lifecycle service. The metrics collector
// may be nil.
func NewLifecycleService(
	store ports.LedgerStore,
	clock ports.Clock,
	idGen ports.IDGenerator,
	logger zerolog.Logger,
	collector *metrics.Collector,
) *LifecycleService {
	return &LifecycleService{
		store:   store,
		clock:   clock,
		idGen:   idGen,
		logger:  logger,
		metrics: collector,
		locks:   make(map[string]*accountLock),
	}
}

// lockAccount acquires the mutex serializing mutations for one account and
// returns the release function. Entries are dropped from the map once the
// last holder releases, so the map only tracks accounts with in-flight
// mutations.
func (s *LifecycleService) lockAccount(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &accountLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// CreateAccount stores a new account carrying the free snapshot default.
func (s *LifecycleService) CreateAccount(ctx context.Context, req CreateAccountRequest) (account.Account, error) {
	now := s.clock.Now().UTC()
	a := account.Account{
		ID:        req.ID,
		Email:     req.Email,
		Name:      req.Name,
		Snapshot:  account.FreeSnapshot(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.ID == "" {
		a.ID = s.idGen.New()
	}

	if err := s.store.CreateAccount(ctx, a); err != nil {
		return account.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info().
		Str("account_id", a.ID).
		Msg("account created with free snapshot")

	return a, nil
}

// GetAccount retrieves an account by ID.
func (s *LifecycleService) GetAccount(ctx context.Context, id string) (account.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return account.Account{}, ports.ErrAccountNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// StartSubscription starts a subscription for the account, replacing the
// current one in place when it exists. Last start wins: every plan, status,
// provider and boundary field of a replaced entry is overwritten, none are
// merged. The account snapshot is rewritten in the same atomic store write.
func (s *LifecycleService) StartSubscription(ctx context.Context, req StartRequest) (subscription.Subscription, error) {
	p, err := plan.Resolve(req.Plan)
	if err != nil {
		s.countError("start", "invalid_plan")
		return subscription.Subscription{}, err
	}
	interval, err := plan.ParseInterval(req.BillingInterval)
	if err != nil {
		s.countError("start", "invalid_interval")
		return subscription.Subscription{}, err
	}

	unlock := s.lockAccount(req.AccountID)
	defer unlock()

	acct, err := s.GetAccount(ctx, req.AccountID)
	if err != nil {
		s.countError("start", "account_not_found")
		return subscription.Subscription{}, err
	}

	patch, err := identity.Validate(identity.Candidate{
		NationalID: req.NationalID,
		Phone:      req.Phone,
		Address:    req.Address,
	}, acct.Identity)
	if err != nil {
		s.countError("start", "invalid_identity")
		return subscription.Subscription{}, err
	}
	acct.Identity = patch.Apply(acct.Identity)

	now := s.clock.Now().UTC()
	boundaries := period.Compute(now, interval, req.TrialDays)

	sub, created, err := s.resolveTarget(ctx, req.AccountID, now)
	if err != nil {
		return subscription.Subscription{}, err
	}

	sub.Plan = p
	sub.Provider = req.Provider
	sub.PriceID = req.PriceID
	sub.Amount = req.Amount
	sub.Currency = req.Currency
	sub.BillingInterval = interval
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	sub.UpdatedAt = now
	sub = sub.WithBoundaries(boundaries)

	acct.Snapshot = account.Project(&sub)
	acct.UpdatedAt = now

	if err := s.store.Apply(ctx, ports.Transition{
		Account:      acct,
		Subscription: sub,
		Created:      created,
	}); err != nil {
		s.countError("start", "store")
		return subscription.Subscription{}, fmt.Errorf("apply start transition: %w", err)
	}

	s.countTransition("start", string(p))
	s.logger.Info().
		Str("account_id", req.AccountID).
		Str("subscription_id", sub.ID).
		Str("plan", string(p)).
		Str("status", string(sub.Status)).
		Bool("replaced", !created).
		Time("next_billing_date", sub.NextBillingDate).
		Msg("subscription started")

	return sub, nil
}

// resolveTarget looks up the account's current ledger entry and decides
// between the create and replace branches. On create it returns a fresh
// entry carrying only identity fields; boundary and plan fields are filled
// by the caller either way.
func (s *LifecycleService) resolveTarget(ctx context.Context, accountID string, now time.Time) (subscription.Subscription, bool, error) {
	cur, err := s.store.CurrentSubscription(ctx, accountID)
	switch {
	case err == nil:
		return cur, false, nil
	case errors.Is(err, ports.ErrNotFound):
		return subscription.Subscription{
			ID:        s.idGen.New(),
			AccountID: accountID,
			CreatedAt: now,
		}, true, nil
	default:
		return subscription.Subscription{}, false, fmt.Errorf("resolve current subscription: %w", err)
	}
}

// CancelSubscription cancels the account's current subscription. Immediate
// cancellation transitions the entry to canceled and downgrades the snapshot
// to free in the same write; otherwise only the cancel-at-period-end flag is
// set and status and snapshot stay untouched until the scheduled sweep
// finalizes the entry.
func (s *LifecycleService) CancelSubscription(ctx context.Context, accountID string, immediate bool) error {
	unlock := s.lockAccount(accountID)
	defer unlock()

	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		s.countError("cancel", "account_not_found")
		return err
	}

	sub, err := s.store.CurrentSubscription(ctx, accountID)
	if errors.Is(err, ports.ErrNotFound) {
		s.countError("cancel", "no_active_subscription")
		return subscription.ErrNoActiveSubscription
	}
	if err != nil {
		return fmt.Errorf("resolve current subscription: %w", err)
	}

	now := s.clock.Now().UTC()
	if immediate {
		sub.Status = subscription.StatusCanceled
		sub.CanceledAt = &now
		sub.CancelAtPeriodEnd = false
		acct.Snapshot = account.Project(nil)
		acct.UpdatedAt = now
	} else {
		sub.CancelAtPeriodEnd = true
	}
	sub.UpdatedAt = now

	if err := s.store.Apply(ctx, ports.Transition{
		Account:      acct,
		Subscription: sub,
	}); err != nil {
		s.countError("cancel", "store")
		return fmt.Errorf("apply cancel transition: %w", err)
	}

	s.countTransition("cancel", string(sub.Plan))
	s.logger.Info().
		Str("account_id", accountID).
		Str("subscription_id", sub.ID).
		Bool("immediate", immediate).
		Msg("subscription cancel processed")

	return nil
}

// FinalizeDue cancels the flagged ledger entry subscriptionID, rechecking
// under the account lock that it is still the account's current entry, still
// flagged cancel-at-period-end, and due. The sweep lists due entries without
// holding any lock, so a user start can replace the entry in place before the
// sweep reaches it; the recheck keeps the sweep from canceling that renewed
// subscription. Any mismatch reports ErrNoActiveSubscription, which the
// caller treats as already handled.
func (s *LifecycleService) FinalizeDue(ctx context.Context, accountID, subscriptionID string) error {
	unlock := s.lockAccount(accountID)
	defer unlock()

	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		s.countError("finalize", "account_not_found")
		return err
	}

	sub, err := s.store.CurrentSubscription(ctx, accountID)
	if errors.Is(err, ports.ErrNotFound) {
		return subscription.ErrNoActiveSubscription
	}
	if err != nil {
		return fmt.Errorf("resolve current subscription: %w", err)
	}

	now := s.clock.Now().UTC()
	if sub.ID != subscriptionID || !sub.CancelAtPeriodEnd || sub.NextBillingDate.After(now) {
		return subscription.ErrNoActiveSubscription
	}

	sub.Status = subscription.StatusCanceled
	sub.CanceledAt = &now
	sub.CancelAtPeriodEnd = false
	sub.UpdatedAt = now
	acct.Snapshot = account.Project(nil)
	acct.UpdatedAt = now

	if err := s.store.Apply(ctx, ports.Transition{
		Account:      acct,
		Subscription: sub,
	}); err != nil {
		s.countError("finalize", "store")
		return fmt.Errorf("apply finalize transition: %w", err)
	}

	s.countTransition("finalize", string(sub.Plan))
	s.logger.Info().
		Str("account_id", accountID).
		Str("subscription_id", sub.ID).
		Time("next_billing_date", sub.NextBillingDate).
		Msg("subscription finalized at period end")

	return nil
}

// GetEntitlement returns the account snapshot together with the derived
// entitlement view at the current instant. The read never transitions
// state: an elapsed period reads as IsExpired=true while the stored status
// is still active or trialing.
func (s *LifecycleService) GetEntitlement(ctx context.Context, accountID string) (EntitlementView, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return EntitlementView{}, err
	}

	if s.metrics != nil {
		s.metrics.EntitlementReads.Inc()
	}

	return EntitlementView{
		AccountID: acct.ID,
		Snapshot:  acct.Snapshot,
		Derived:   entitlement.Derive(acct.Snapshot, s.clock.Now().UTC()),
	}, nil
}

// ListSubscriptions returns the account's ledger history, newest first.
func (s *LifecycleService) ListSubscriptions(ctx context.Context, accountID string) ([]subscription.Subscription, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	subs, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *LifecycleService) countTransition(op, planName string) {
	if s.metrics != nil {
		s.metrics.TransitionsTotal.WithLabelValues(op, planName).Inc()
	}
}

func (s *LifecycleService) countError(op, reason string) {
	if s.metrics != nil {
		s.metrics.TransitionErrors.WithLabelValues(op, reason).Inc()
	}
}
