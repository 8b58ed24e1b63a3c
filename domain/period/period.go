// Package period provides pure calendar arithmetic for billing periods.
//
// Month and year addition follow time.Time.AddDate semantics: a result that
// would land past the end of the target month rolls over into the next one
// (Jan 31 + 1 month = Mar 2, or Mar 3 in non-leap years). The same rule
// applies everywhere boundaries are computed.
package period

import (
	"time"

	"github.com/lusis-developers/bakano-billing/domain/plan"
)

const day = 24 * time.Hour

// AddMonths returns t advanced by n calendar months.
// This is a PURE function.
func AddMonths(t time.Time, n int) time.Time {
	return t.AddDate(0, n, 0)
}

// AddYears returns t advanced by n calendar years.
// This is a PURE function.
func AddYears(t time.Time, n int) time.Time {
	return t.AddDate(n, 0, 0)
}

// DaysBetween returns the number of whole days from `from` to `to`, rounding
// partial days up. The result is never negative.
// This is a PURE function.
func DaysBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days
}

// Boundaries holds the period anchors computed for a new or replaced
// subscription. Either the trial pair or the paid period pair is set,
// never both.
type Boundaries struct {
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	NextBillingDate    time.Time
}

// Compute returns trial boundaries when trialDays > 0, otherwise the paid
// period boundaries for one billing interval starting at now. The next
// billing date is the trial end while trialing, else the period end.
// This is a PURE function.
func Compute(now time.Time, interval plan.Interval, trialDays int) Boundaries {
	if trialDays > 0 {
		start := now
		end := now.AddDate(0, 0, trialDays)
		return Boundaries{
			TrialStart:      &start,
			TrialEnd:        &end,
			NextBillingDate: end,
		}
	}

	start := now
	var end time.Time
	if interval == plan.Yearly {
		end = AddYears(now, 1)
	} else {
		end = AddMonths(now, 1)
	}
	return Boundaries{
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		NextBillingDate:    end,
	}
}
