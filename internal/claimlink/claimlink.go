// Package claimlink serializes a signed claim grant into a shareable URL
// and strictly decodes it back. Decoding never yields a partial grant.
package claimlink

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
)

const (
	paramUser         = "user"
	paramProfileOwner = "profileOwner"
	paramTemplateID   = "templateId"
	paramNonce        = "nonce"
	paramTokenURI     = "tokenURI"
	paramSignature    = "signature"
)

// Encode renders the grant and signature as ordered query parameters on
// {baseURL}/claim. Big integers are decimal strings, strings are
// percent-encoded.
func Encode(baseURL string, g grant.ClaimGrant, sigHex string) (string, error) {
	if g.TemplateID == nil || g.Nonce == nil {
		return "", fmt.Errorf("grant is missing templateId or nonce")
	}
	base := strings.TrimSuffix(baseURL, "/")

	var q strings.Builder
	writeParam(&q, paramUser, g.User.Hex())
	writeParam(&q, paramProfileOwner, g.ProfileOwner.Hex())
	writeParam(&q, paramTemplateID, g.TemplateID.String())
	writeParam(&q, paramNonce, g.Nonce.String())
	writeParam(&q, paramTokenURI, g.TokenURI)
	writeParam(&q, paramSignature, sigHex)

	return base + "/claim?" + q.String(), nil
}

func writeParam(b *strings.Builder, key, value string) {
	if b.Len() > 0 {
		b.WriteByte('&')
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(value))
}

// Decode parses a claim link back into its grant and signature. All five
// grant fields and the signature must be present and parseable as their
// semantic types; anything less is MalformedLink.
func Decode(rawURL string) (grant.ClaimGrant, string, error) {
	var g grant.ClaimGrant

	u, err := url.Parse(rawURL)
	if err != nil {
		return g, "", claimerr.MalformedLink("not a valid URL")
	}
	q := u.Query()

	user, err := requireAddress(q, paramUser)
	if err != nil {
		return g, "", err
	}
	owner, err := requireAddress(q, paramProfileOwner)
	if err != nil {
		return g, "", err
	}
	templateID, err := requireUint(q, paramTemplateID)
	if err != nil {
		return g, "", err
	}
	nonce, err := requireUint(q, paramNonce)
	if err != nil {
		return g, "", err
	}
	tokenURI := q.Get(paramTokenURI)
	if tokenURI == "" {
		return g, "", missing(paramTokenURI)
	}
	sigHex := q.Get(paramSignature)
	if sigHex == "" {
		return g, "", missing(paramSignature)
	}
	if _, err := hexutil.Decode(sigHex); err != nil {
		return g, "", claimerr.MalformedLink("signature is not hex")
	}

	g = grant.ClaimGrant{
		User:         user,
		ProfileOwner: owner,
		TemplateID:   templateID,
		Nonce:        nonce,
		TokenURI:     tokenURI,
	}
	return g, sigHex, nil
}

func requireAddress(q url.Values, key string) (common.Address, error) {
	raw := q.Get(key)
	if raw == "" {
		return common.Address{}, missing(key)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, claimerr.MalformedLink(key + " is not an address")
	}
	return common.HexToAddress(raw), nil
}

func requireUint(q url.Values, key string) (*big.Int, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, missing(key)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return nil, claimerr.MalformedLink(key + " is not an unsigned decimal integer")
	}
	return n, nil
}

func missing(key string) *claimerr.Error {
	return claimerr.MalformedLink("missing " + key)
}
