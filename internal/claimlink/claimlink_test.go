package claimlink

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
)

var testSig = "0x" + strings.Repeat("ab", 64) + "1b"

func testGrant() grant.ClaimGrant {
	return grant.ClaimGrant{
		User:         common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		ProfileOwner: common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		TemplateID:   big.NewInt(42),
		Nonce:        new(big.Int).SetUint64(1700000000123),
		TokenURI:     "ipfs://QmCard/42.json?v=1&lang=en us",
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := testGrant()
	link, err := Encode("https://cards.example.app", g, testSig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(link, "https://cards.example.app/claim?user=") {
		t.Fatalf("unexpected link shape: %s", link)
	}

	got, sig, err := Decode(link)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sig != testSig {
		t.Fatalf("signature round trip: got %s", sig)
	}
	if got.User != g.User || got.ProfileOwner != g.ProfileOwner {
		t.Fatalf("address round trip: %+v", got)
	}
	if got.TemplateID.Cmp(g.TemplateID) != 0 || got.Nonce.Cmp(g.Nonce) != 0 {
		t.Fatalf("integer round trip: %+v", got)
	}
	if got.TokenURI != g.TokenURI {
		t.Fatalf("tokenURI round trip: %q != %q", got.TokenURI, g.TokenURI)
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	g := testGrant()
	link, err := Encode("https://cards.example.app", g, testSig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for _, param := range []string{"user", "profileOwner", "templateId", "nonce", "tokenURI", "signature"} {
		broken := strings.Replace(link, param+"=", "x"+param+"=", 1)
		_, _, err := Decode(broken)
		if err == nil {
			t.Fatalf("decode without %s should fail", param)
		}
		var ce *claimerr.Error
		if !errors.As(err, &ce) || ce.Kind != claimerr.KindMalformedLink {
			t.Fatalf("expected malformed_link for missing %s, got %v", param, err)
		}
	}
}

func TestDecodeRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"bad address":    "https://x/claim?user=nope&profileOwner=0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC&templateId=1&nonce=2&tokenURI=u&signature=" + testSig,
		"bad templateId": "https://x/claim?user=0x70997970C51812dc3A010C7d01b50e0d17dc79C8&profileOwner=0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC&templateId=seven&nonce=2&tokenURI=u&signature=" + testSig,
		"negative nonce": "https://x/claim?user=0x70997970C51812dc3A010C7d01b50e0d17dc79C8&profileOwner=0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC&templateId=1&nonce=-2&tokenURI=u&signature=" + testSig,
		"non-hex sig":    "https://x/claim?user=0x70997970C51812dc3A010C7d01b50e0d17dc79C8&profileOwner=0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC&templateId=1&nonce=2&tokenURI=u&signature=zzzz",
	}
	for name, raw := range cases {
		if _, _, err := Decode(raw); err == nil {
			t.Fatalf("%s: expected decode failure", name)
		}
	}
}
