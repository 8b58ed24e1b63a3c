// Package entitlement derives the read-time entitlement view from an
// account snapshot.
//
// Expiration detection here is advisory: View.IsExpired can read true while
// the stored status still says active or trialing, because the read path
// never transitions state. Finalizing an elapsed period belongs to the
// scheduled sweep, which transitions through the lifecycle service. Callers
// must not treat the combination as an inconsistency.
package entitlement

import (
	"time"

	"github.com/lusis-developers/bakano-billing/domain/account"
	"github.com/lusis-developers/bakano-billing/domain/period"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
)

// View is the derived entitlement state at a given instant.
type View struct {
	IsActive      bool
	IsOnTrial     bool
	IsExpired     bool
	RemainingDays int
	EndsAt        *time.Time
}

// Derive computes the entitlement view for snap at instant now. Expiration
// is strict: at the exact boundary instant the view reads zero remaining
// days but not yet expired.
// This is a PURE function.
func Derive(snap account.Snapshot, now time.Time) View {
	switch snap.Status {
	case string(subscription.StatusTrialing):
		return boundedView(snap.TrialEnd, now, true)
	case string(subscription.StatusActive):
		return boundedView(snap.CurrentPeriodEnd, now, false)
	default:
		return View{}
	}
}

func boundedView(endsAt *time.Time, now time.Time, onTrial bool) View {
	v := View{
		IsActive:  true,
		IsOnTrial: onTrial,
		EndsAt:    endsAt,
	}
	if endsAt != nil {
		v.RemainingDays = period.DaysBetween(now, *endsAt)
		v.IsExpired = endsAt.Before(now)
	}
	return v
}
