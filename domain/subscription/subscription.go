// Package subscription provides the subscription ledger value type and
// status predicates.
//
// The ledger is append-or-replace: an account accumulates historical entries
// over time, but at most one entry may be trialing or active at any instant.
// Canceled entries are never deleted.
package subscription

import (
	"errors"
	"time"

	"github.com/lusis-developers/bakano-billing/domain/period"
	"github.com/lusis-developers/bakano-billing/domain/plan"
)

// Status represents the subscription lifecycle state.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

// ErrNoActiveSubscription is returned when a cancel is requested for an
// account with no trialing or active ledger entry.
var ErrNoActiveSubscription = errors.New("no active subscription")

// Subscription is a ledger entry (value type).
//
// While trialing, TrialStart/TrialEnd anchor the entitlement and the paid
// period pointers are nil; while active it is the reverse. NextBillingDate
// mirrors whichever end boundary applies.
type Subscription struct {
	ID        string
	AccountID string
	Plan      plan.Plan
	Status    Status

	// Payment rail metadata, opaque to this core. Capture and settlement
	// happen in a collaborator that reports these fields back.
	Provider string
	PriceID  string
	Amount   int64 // cents
	Currency string

	BillingInterval plan.Interval

	TrialStart         *time.Time
	TrialEnd           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	NextBillingDate    time.Time

	CancelAtPeriodEnd bool
	CanceledAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCurrent reports whether the entry occupies the account's single
// current slot (trialing or active).
func (s Subscription) IsCurrent() bool {
	return s.Status == StatusTrialing || s.Status == StatusActive
}

// IsTrialing reports whether the entry is in its trial window.
func (s Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsCancelling reports whether the entry will cancel at period end.
func (s Subscription) IsCancelling() bool {
	return s.CancelAtPeriodEnd
}

// EndsAt returns the entitlement boundary: the trial end while trialing,
// the current period end while active, nil otherwise.
func (s Subscription) EndsAt() *time.Time {
	switch s.Status {
	case StatusTrialing:
		return s.TrialEnd
	case StatusActive:
		return s.CurrentPeriodEnd
	default:
		return nil
	}
}

// WithBoundaries returns a copy of s with every period anchor replaced by b
// and the status matching the boundary kind. Old trial and paid-period
// fields never survive a replacement.
// This is a PURE function.
func (s Subscription) WithBoundaries(b period.Boundaries) Subscription {
	s.TrialStart = b.TrialStart
	s.TrialEnd = b.TrialEnd
	s.CurrentPeriodStart = b.CurrentPeriodStart
	s.CurrentPeriodEnd = b.CurrentPeriodEnd
	s.NextBillingDate = b.NextBillingDate
	if b.TrialEnd != nil {
		s.Status = StatusTrialing
	} else {
		s.Status = StatusActive
	}
	return s
}
