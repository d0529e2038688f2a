package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
)

// FakeClient emulates the contract in memory for tests and local dev.
// Transaction hashes are deterministic digests of the claim payload.
type issuedEvent struct {
	block   uint64
	receipt ClaimReceipt
}

type FakeClient struct {
	mu        sync.Mutex
	templates map[string]eligibility.Template
	claimed   map[string]bool // templateId|profileId
	profiles  map[common.Address]bool
	pending   map[string]ClaimReceipt
	issued    []issuedEvent
	head      uint64
	nextCard  uint64

	// SubmitErrs is drained one error per ClaimCard call before any
	// submission succeeds, to script transient failures.
	SubmitErrs []error
	calls      int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		templates: make(map[string]eligibility.Template),
		claimed:   make(map[string]bool),
		profiles:  make(map[common.Address]bool),
		pending:   make(map[string]ClaimReceipt),
		nextCard:  1,
	}
}

// RegisterProfile marks owner as holding a profile in the emulated
// registry.
func (f *FakeClient) RegisterProfile(owner common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[owner] = true
}

func (f *FakeClient) HasProfile(_ context.Context, owner common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[owner], nil
}

func (f *FakeClient) SetTemplate(t eligibility.Template) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[t.ID.String()] = t
}

func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Template(_ context.Context, templateID *big.Int) (eligibility.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, found := f.templates[templateID.String()]
	if !found {
		// Contract returns the zero tuple for unknown IDs.
		return eligibility.Template{ID: new(big.Int).Set(templateID)}, nil
	}
	return t, nil
}

func (f *FakeClient) HasProfileClaimed(_ context.Context, templateID, profileID *big.Int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimed[claimKey(templateID, profileID)], nil
}

func (f *FakeClient) ClaimCard(_ context.Context, g grant.ClaimGrant, sigHex string) (ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if len(f.SubmitErrs) > 0 {
		err := f.SubmitErrs[0]
		f.SubmitErrs = f.SubmitErrs[1:]
		return ClaimResult{}, err
	}

	key := claimKey(g.TemplateID, profileIDFor(g))
	if f.claimed[key] {
		return ClaimResult{}, claimerr.ChainRevert("AlreadyClaimed")
	}
	t, found := f.templates[g.TemplateID.String()]
	if !found || !t.Exists() {
		return ClaimResult{}, claimerr.ChainRevert("UnknownTemplate")
	}
	if t.Paused {
		return ClaimResult{}, claimerr.ChainRevert("TemplatePaused")
	}
	if t.MaxSupply != 0 && t.CurrentSupply >= t.MaxSupply {
		return ClaimResult{}, claimerr.ChainRevert("SupplyExhausted")
	}

	f.claimed[key] = true
	t.CurrentSupply++
	f.templates[g.TemplateID.String()] = t

	txHash := fakeHash(g.User.Hex() + g.TemplateID.String() + g.Nonce.String() + sigHex)
	receipt := ClaimReceipt{
		TxHash:     txHash,
		CardID:     f.nextCard,
		TemplateID: new(big.Int).Set(g.TemplateID),
		ProfileID:  profileIDFor(g),
		To:         g.User,
	}
	f.pending[txHash] = receipt
	f.nextCard++
	f.head++
	f.issued = append(f.issued, issuedEvent{block: f.head, receipt: receipt})
	return ClaimResult{TxHash: txHash}, nil
}

// MintDirect emulates an issuer minting straight on the contract, bypassing
// this service. The mint only surfaces through the event log.
func (f *FakeClient) MintDirect(templateID, profileID *big.Int, to common.Address) ClaimReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claimed[claimKey(templateID, profileID)] = true
	if t, found := f.templates[templateID.String()]; found {
		t.CurrentSupply++
		f.templates[templateID.String()] = t
	}

	txHash := fakeHash("direct" + templateID.String() + profileID.String())
	receipt := ClaimReceipt{
		TxHash:     txHash,
		CardID:     f.nextCard,
		TemplateID: new(big.Int).Set(templateID),
		ProfileID:  new(big.Int).Set(profileID),
		To:         to,
	}
	f.nextCard++
	f.head++
	f.issued = append(f.issued, issuedEvent{block: f.head, receipt: receipt})
	return receipt
}

func (f *FakeClient) CardIssuedSince(_ context.Context, fromBlock uint64) ([]ClaimReceipt, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []ClaimReceipt
	for _, ev := range f.issued {
		if ev.block > fromBlock {
			out = append(out, ev.receipt)
		}
	}
	return out, f.head, nil
}

func (f *FakeClient) AwaitClaim(_ context.Context, txHash string) (ClaimReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, found := f.pending[txHash]
	if !found {
		return ClaimReceipt{}, claimerr.ChainRevert("unknown transaction")
	}
	return receipt, nil
}

func (f *FakeClient) Ping(context.Context) error { return nil }

// profileIDFor derives a stable pseudo profile ID from the owner address,
// mirroring how the registry assigns one per owner.
func profileIDFor(g grant.ClaimGrant) *big.Int {
	return new(big.Int).SetBytes(g.ProfileOwner.Bytes())
}

func claimKey(templateID, profileID *big.Int) string {
	return templateID.String() + "|" + profileID.String()
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
