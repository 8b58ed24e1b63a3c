// Package identity validates and normalizes billing identity fields.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lusis-developers/bakano-billing/domain/account"
)

// ErrInvalid is returned when a required identity field is missing or
// malformed. The caller must resupply the field.
var ErrInvalid = errors.New("invalid billing identity")

// International phone shape: optional leading +, first digit nonzero,
// up to 16 digits total.
var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{0,15}$`)

const minNationalIDLen = 5

// Candidate carries the identity fields supplied with a start request.
type Candidate struct {
	NationalID string
	Phone      string
	Address    account.Address
}

// Patch lists the identity fields to write onto the account. Fields the
// account already holds are omitted, so established values are never
// overwritten by a later start call. An empty patch is a valid no-op.
type Patch struct {
	NationalID string
	Phone      string
	Address    *account.Address
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.NationalID == "" && p.Phone == "" && p.Address == nil
}

// Apply merges p into id, filling only absent fields.
// This is a PURE function.
func (p Patch) Apply(id account.BillingIdentity) account.BillingIdentity {
	if id.NationalID == "" && p.NationalID != "" {
		id.NationalID = p.NationalID
	}
	if id.Phone == "" && p.Phone != "" {
		id.Phone = p.Phone
	}
	if id.Address.IsZero() && p.Address != nil {
		id.Address = *p.Address
	}
	return id
}

// Validate checks c against the identity already on the account and returns
// the normalized patch to apply. Each field is validated only when the
// account does not yet hold a value for it; fields already present are
// skipped entirely and never replaced.
// This is a PURE function.
func Validate(c Candidate, existing account.BillingIdentity) (Patch, error) {
	var p Patch

	if existing.NationalID == "" {
		id := strings.TrimSpace(c.NationalID)
		if len(id) < minNationalIDLen {
			return Patch{}, fmt.Errorf("%w: national id must be at least 5 characters", ErrInvalid)
		}
		p.NationalID = id
	}

	if existing.Phone == "" {
		phone := strings.TrimSpace(c.Phone)
		if !phonePattern.MatchString(phone) {
			return Patch{}, fmt.Errorf("%w: phone must be an international number", ErrInvalid)
		}
		p.Phone = phone
	}

	if existing.Address.IsZero() {
		addr := account.Address{
			Street:  strings.TrimSpace(c.Address.Street),
			City:    strings.TrimSpace(c.Address.City),
			Country: strings.TrimSpace(c.Address.Country),
		}
		if addr.IsZero() {
			return Patch{}, fmt.Errorf("%w: address requires street, city or country", ErrInvalid)
		}
		p.Address = &addr
	}

	return p, nil
}
