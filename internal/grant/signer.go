package grant

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces claim signatures with a local issuer key.
type Signer struct {
	key    *ecdsa.PrivateKey
	domain Domain
}

func NewSigner(privateKeyHex string, domain Domain) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{key: key, domain: domain}, nil
}

// NewSignerFromKey wraps an in-memory key, mostly for tests.
func NewSignerFromKey(key *ecdsa.PrivateKey, domain Domain) *Signer {
	return &Signer{key: key, domain: domain}
}

func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *Signer) Domain() Domain { return s.domain }

// Sign returns the hex signature over the grant's EIP-712 digest, with the
// recovery byte shifted to 27/28 as on-chain ecrecover expects.
func (s *Signer) Sign(g ClaimGrant) (string, error) {
	digest, err := Digest(s.domain, g)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
