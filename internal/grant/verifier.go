package grant

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
)

// RecoverSigner recomputes the grant digest and recovers the address that
// produced sigHex. Both 0/1 and 27/28 recovery bytes are accepted.
func RecoverSigner(d Domain, g ClaimGrant, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	digest, err := Digest(d, g)
	if err != nil {
		return common.Address{}, err
	}

	rsv := make([]byte, crypto.SignatureLength)
	copy(rsv, sig)
	if rsv[64] >= 27 {
		rsv[64] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verifier gates redemption on signer identity. It mirrors the contract's
// own check so a grant that passes here does not revert on signature
// grounds, and one that fails here is never submitted.
type Verifier struct {
	Domain Domain
}

// Verify requires the recovered signer to equal the template issuer.
// Any mismatch is terminal: the grant is corrupted, tampered, or was never
// issued for this template.
func (v Verifier) Verify(g ClaimGrant, sigHex string, issuer common.Address) error {
	signer, err := RecoverSigner(v.Domain, g, sigHex)
	if err != nil {
		return claimerr.SignerMismatch(err.Error())
	}
	if signer != issuer {
		return claimerr.SignerMismatch(
			fmt.Sprintf("signature from %s, template issued by %s", signer.Hex(), issuer.Hex()))
	}
	return nil
}
