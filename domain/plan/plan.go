// Package plan provides plan and billing interval value types and pure functions.
package plan

import (
	"errors"
	"strings"
)

// Plan identifies a pricing tier. The enumeration is closed: request input
// resolves onto it through the alias table, never by passing a raw string
// through.
type Plan string

const (
	Starter    Plan = "starter"
	Pro        Plan = "pro"
	Enterprise Plan = "enterprise"
)

// Free is the snapshot plan label for accounts with no current subscription.
// It is not a purchasable tier and never resolves via Resolve.
const Free = "free"

// ErrInvalidPlan is returned when a plan name does not resolve to a tier.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrInvalidInterval is returned for an unrecognized billing interval.
var ErrInvalidInterval = errors.New("invalid billing interval")

// aliases maps accepted spellings onto the closed enumeration.
// "advanced" is the legacy UI name for the pro tier.
var aliases = map[string]Plan{
	"starter":    Starter,
	"pro":        Pro,
	"advanced":   Pro,
	"enterprise": Enterprise,
}

// Resolve maps a requested plan name onto the closed enumeration.
// Matching is case-insensitive and ignores surrounding whitespace.
// This is a PURE function.
func Resolve(name string) (Plan, error) {
	p, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", ErrInvalidPlan
	}
	return p, nil
}

// Interval is the length of a billed period.
type Interval string

const (
	Monthly Interval = "monthly"
	Yearly  Interval = "yearly"
)

// ParseInterval validates a billing interval name.
// This is a PURE function.
func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(s))) {
	case Monthly:
		return Monthly, nil
	case Yearly:
		return Yearly, nil
	default:
		return "", ErrInvalidInterval
	}
}
