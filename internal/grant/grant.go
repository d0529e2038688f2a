// Package grant builds, signs, and verifies the EIP-712 claim payload an
// issuer hands to a recipient. The domain and type schema are fixed and
// must stay byte-identical to the contract's own verification.
package grant

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	domainName    = "ReputationCard"
	domainVersion = "1"
	primaryType   = "Claim"
)

// ClaimGrant is the signed authorization tuple. Immutable once signed:
// changing any field invalidates the signature.
type ClaimGrant struct {
	User         common.Address
	ProfileOwner common.Address
	TemplateID   *big.Int
	Nonce        *big.Int
	TokenURI     string
}

// Domain pins a grant to one contract on one chain.
type Domain struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewNonce derives a per-grant nonce from the current time. Nonces vary
// the digest between grants; replay protection lives in the contract's
// hasProfileClaimed flag, not here.
func NewNonce() *big.Int {
	return big.NewInt(time.Now().UnixMilli())
}

func typedData(d Domain, g ClaimGrant) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: {
				{Name: "user", Type: "address"},
				{Name: "profileOwner", Type: "address"},
				{Name: "templateId", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "tokenURI", Type: "string"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"user":         g.User.Hex(),
			"profileOwner": g.ProfileOwner.Hex(),
			"templateId":   (*math.HexOrDecimal256)(g.TemplateID),
			"nonce":        (*math.HexOrDecimal256)(g.Nonce),
			"tokenURI":     g.TokenURI,
		},
	}
}

// Digest computes the domain-separated EIP-712 hash of the grant.
func Digest(d Domain, g ClaimGrant) (common.Hash, error) {
	if g.TemplateID == nil || g.Nonce == nil {
		return common.Hash{}, fmt.Errorf("grant is missing templateId or nonce")
	}
	if d.ChainID == nil {
		return common.Hash{}, fmt.Errorf("domain is missing chainId")
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData(d, g))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}
