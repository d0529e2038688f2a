package eligibility

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// Reasons reported by the membership checkers.
const (
	ReasonNotWhitelisted      = "not whitelisted"
	ReasonInsufficientBalance = "insufficient token balance"
	ReasonNoProfile           = "profile required"
)

// StaticAllowlist is an in-memory whitelist, used in tests and single-node
// dev setups. Addresses are matched case-insensitively.
type StaticAllowlist struct {
	members map[string]struct{}
}

func NewStaticAllowlist(addrs ...common.Address) *StaticAllowlist {
	m := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		m[strings.ToLower(a.Hex())] = struct{}{}
	}
	return &StaticAllowlist{members: m}
}

func (s *StaticAllowlist) Allowed(_ context.Context, _ Template, r Recipient) (bool, string, error) {
	if _, found := s.members[strings.ToLower(r.Address.Hex())]; found {
		return true, "", nil
	}
	return false, ReasonNotWhitelisted, nil
}

// RedisAllowlist checks membership against a Redis set per template,
// keyed `whitelist:<templateId>` with lowercase hex addresses as members.
type RedisAllowlist struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisAllowlist(client *redis.Client) *RedisAllowlist {
	return &RedisAllowlist{client: client, keyPrefix: "whitelist:"}
}

func (w *RedisAllowlist) Allowed(ctx context.Context, t Template, r Recipient) (bool, string, error) {
	key := w.keyPrefix + t.ID.String()
	member := strings.ToLower(r.Address.Hex())
	found, err := w.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, "", fmt.Errorf("redis sismember %s: %w", key, err)
	}
	if !found {
		return false, ReasonNotWhitelisted, nil
	}
	return true, "", nil
}

// BalanceReader is the slice of the chain client the token-holder check
// needs.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// TokenHolderCheck requires the recipient to hold a minimum balance of the
// token named in the template's requirements ("token" address, "minBalance"
// decimal, default 1).
type TokenHolderCheck struct {
	Reader BalanceReader
}

func (c *TokenHolderCheck) Allowed(ctx context.Context, t Template, r Recipient) (bool, string, error) {
	tokenHex := t.Requirements["token"]
	if !common.IsHexAddress(tokenHex) {
		return false, "", fmt.Errorf("template %s has no token requirement", t.ID)
	}
	minBal := big.NewInt(1)
	if raw, found := t.Requirements["minBalance"]; found {
		parsed, okParse := new(big.Int).SetString(raw, 10)
		if !okParse {
			return false, "", fmt.Errorf("template %s minBalance %q is not decimal", t.ID, raw)
		}
		minBal = parsed
	}

	balance, err := c.Reader.TokenBalance(ctx, common.HexToAddress(tokenHex), r.Address)
	if err != nil {
		return false, "", err
	}
	if balance.Cmp(minBal) < 0 {
		return false, ReasonInsufficientBalance, nil
	}
	return true, "", nil
}

// ProfileReader is the slice of the profile registry the profile check
// needs.
type ProfileReader interface {
	HasProfile(ctx context.Context, owner common.Address) (bool, error)
}

// ProfileCheck requires the recipient to own a registered profile.
type ProfileCheck struct {
	Reader ProfileReader
}

func (c *ProfileCheck) Allowed(ctx context.Context, _ Template, r Recipient) (bool, string, error) {
	has, err := c.Reader.HasProfile(ctx, r.Address)
	if err != nil {
		return false, "", err
	}
	if !has {
		return false, ReasonNoProfile, nil
	}
	return true, "", nil
}
