// Package eligibility decides, ahead of submission, whether a recipient can
// claim under a template. The decision is advisory: the contract re-checks
// at mint time and remains the authority.
package eligibility

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Type selects which external membership check applies to a template.
type Type int

const (
	Open Type = iota
	Whitelist
	TokenHolder
	ProfileRequired
)

func (t Type) String() string {
	switch t {
	case Open:
		return "open"
	case Whitelist:
		return "whitelist"
	case TokenHolder:
		return "token_holder"
	case ProfileRequired:
		return "profile_required"
	}
	return "unknown"
}

// ParseType maps the stored string form back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "open", "":
		return Open, nil
	case "whitelist":
		return Whitelist, nil
	case "token_holder":
		return TokenHolder, nil
	case "profile_required":
		return ProfileRequired, nil
	}
	return Open, fmt.Errorf("unknown eligibility type %q", s)
}

// Template mirrors the contract's template configuration. Zero values are
// sentinels: maxSupply 0 means unlimited, start/end time 0 mean no bound.
type Template struct {
	ID            *big.Int
	Issuer        common.Address
	MaxSupply     uint64
	CurrentSupply uint64
	Tier          int64
	StartTime     uint64
	EndTime       uint64
	Paused        bool
	Eligibility   Type
	// Requirements is an open-ended extension point consumed by membership
	// checkers (e.g. token address and minimum balance). Opaque, never
	// validated here.
	Requirements map[string]string
}

// Exists reports whether the template was actually created on chain; the
// contract returns a zero issuer for unknown IDs.
func (t Template) Exists() bool {
	return t.Issuer != (common.Address{})
}

// ClaimRecord is one successful mint. Append-only; at most one record per
// (profile, template) pair, enforced on-chain and mirrored in the cache.
type ClaimRecord struct {
	ProfileID  *big.Int
	TemplateID *big.Int
	CardID     uint64
	ClaimType  string
	ClaimedAt  time.Time
}

const (
	ClaimTypeDirect    = "direct"
	ClaimTypeSignature = "signature"
)

// Recipient identifies who is trying to claim.
type Recipient struct {
	Address   common.Address
	ProfileID *big.Int
}
