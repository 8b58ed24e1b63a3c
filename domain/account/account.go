// Package account provides the tenant account value type and the pure
// snapshot projection of its current subscription.
package account

import (
	"time"

	"github.com/lusis-developers/bakano-billing/domain/plan"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
)

// Address is a billing address. A single non-empty component is enough to
// anchor an identity.
type Address struct {
	Street  string
	City    string
	Country string
}

// IsZero reports whether no address component is set.
func (a Address) IsZero() bool {
	return a.Street == "" && a.City == "" && a.Country == ""
}

// BillingIdentity holds the identity fields required before a paid
// subscription can start. Fields are immutable once set: later start calls
// may only fill gaps, never overwrite.
type BillingIdentity struct {
	NationalID string
	Phone      string
	Address    Address
}

// Complete reports whether every identity field is populated.
func (b BillingIdentity) Complete() bool {
	return b.NationalID != "" && b.Phone != "" && !b.Address.IsZero()
}

// Snapshot is the denormalized, read-optimized mirror of the account's
// current subscription. It is rewritten on every ledger transition, within
// the same atomic write, and defaults to the free shape when no current
// subscription exists.
type Snapshot struct {
	Plan               string
	Status             string
	Provider           string
	BillingInterval    string
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	NextBillingDate    *time.Time
}

// FreeSnapshot returns the snapshot for an account with no current
// subscription.
// This is a PURE function.
func FreeSnapshot() Snapshot {
	return Snapshot{Plan: plan.Free, Status: plan.Free}
}

// Account is the billable tenant entity.
type Account struct {
	ID       string
	Email    string
	Name     string
	Identity BillingIdentity
	Snapshot Snapshot

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Project returns the snapshot mirroring sub, or the free default when sub
// is nil or no longer current.
// This is a PURE function.
func Project(sub *subscription.Subscription) Snapshot {
	if sub == nil || !sub.IsCurrent() {
		return FreeSnapshot()
	}
	next := sub.NextBillingDate
	return Snapshot{
		Plan:               string(sub.Plan),
		Status:             string(sub.Status),
		Provider:           sub.Provider,
		BillingInterval:    string(sub.BillingInterval),
		TrialStart:         sub.TrialStart,
		TrialEnd:           sub.TrialEnd,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		NextBillingDate:    &next,
	}
}
