package redemption

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/cache"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/chain"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimlink"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/retry"
)

type fixture struct {
	domain   grant.Domain
	signer   *grant.Signer
	fake     *chain.FakeClient
	store    *cache.MemoryStore
	redeemer *Redeemer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	domain := grant.Domain{
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}
	signer := grant.NewSignerFromKey(key, domain)

	fake := chain.NewFakeClient()
	fake.SetTemplate(eligibility.Template{
		ID:          big.NewInt(7),
		Issuer:      signer.Address(),
		MaxSupply:   10,
		Eligibility: eligibility.Open,
	})

	store := cache.NewMemoryStore()

	redeemer := &Redeemer{
		Chain:    fake,
		Store:    store,
		Eval:     &eligibility.Evaluator{},
		Verifier: grant.Verifier{Domain: domain},
		Retry:    retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	}
	return &fixture{domain: domain, signer: signer, fake: fake, store: store, redeemer: redeemer}
}

func (f *fixture) link(t *testing.T, templateID int64) string {
	t.Helper()
	g := grant.ClaimGrant{
		User:         common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		ProfileOwner: common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		TemplateID:   big.NewInt(templateID),
		Nonce:        grant.NewNonce(),
		TokenURI:     "ipfs://QmCard/7.json",
	}
	sig, err := f.signer.Sign(g)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	link, err := claimlink.Encode("https://cards.example.app", g, sig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return link
}

func TestRedeemHappyPath(t *testing.T) {
	f := newFixture(t)

	var transitions []State
	f.redeemer.OnTransition = func(_ string, _, to State) {
		transitions = append(transitions, to)
	}

	out, err := f.redeemer.Redeem(context.Background(), f.link(t, 7))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if out.State != StateSucceeded {
		t.Fatalf("state %s, want succeeded", out.State)
	}
	if out.TxHash == "" || out.CardID == 0 {
		t.Fatalf("missing mint result: %+v", out)
	}

	want := []State{StateValidating, StateAwaitingSignature, StateSubmitting, StateConfirming, StateSucceeded}
	if len(transitions) != len(want) {
		t.Fatalf("transitions %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}

	// The mint landed in the mirror.
	profile := new(big.Int).SetBytes(common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC").Bytes())
	claimed, _ := f.store.HasClaimed(context.Background(), profile, big.NewInt(7))
	if !claimed {
		t.Fatal("claim not mirrored into cache")
	}
}

func TestRedeemMalformedLink(t *testing.T) {
	f := newFixture(t)
	_, err := f.redeemer.Redeem(context.Background(), "https://cards.example.app/claim?user=oops")
	if kind, ok := claimerr.KindOf(err); !ok || kind != claimerr.KindMalformedLink {
		t.Fatalf("expected malformed_link, got %v", err)
	}
	if f.fake.Calls() != 0 {
		t.Fatal("malformed link must not reach the chain write path")
	}
}

func TestRedeemNotEligiblePaused(t *testing.T) {
	f := newFixture(t)
	f.fake.SetTemplate(eligibility.Template{
		ID:     big.NewInt(7),
		Issuer: f.signer.Address(),
		Paused: true,
	})

	_, err := f.redeemer.Redeem(context.Background(), f.link(t, 7))
	var ce *claimerr.Error
	if !errors.As(err, &ce) || ce.Kind != claimerr.KindNotEligible {
		t.Fatalf("expected not_eligible, got %v", err)
	}
	if ce.Reason != eligibility.ReasonPaused {
		t.Fatalf("reason %q, want %q", ce.Reason, eligibility.ReasonPaused)
	}
	if f.fake.Calls() != 0 {
		t.Fatal("ineligible claim must not be submitted")
	}
}

func TestRedeemSignerMismatch(t *testing.T) {
	f := newFixture(t)

	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	imposter := grant.NewSignerFromKey(otherKey, f.domain)

	g := grant.ClaimGrant{
		User:         common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		ProfileOwner: common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		TemplateID:   big.NewInt(7),
		Nonce:        grant.NewNonce(),
		TokenURI:     "ipfs://QmCard/7.json",
	}
	sig, err := imposter.Sign(g)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	link, err := claimlink.Encode("https://cards.example.app", g, sig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = f.redeemer.Redeem(context.Background(), link)
	if kind, ok := claimerr.KindOf(err); !ok || kind != claimerr.KindSignerMismatch {
		t.Fatalf("expected signer_mismatch, got %v", err)
	}
	if f.fake.Calls() != 0 {
		t.Fatal("tampered grant must not be submitted")
	}
}

func TestRedeemRetriesTransientSubmitFailures(t *testing.T) {
	f := newFixture(t)
	f.fake.SubmitErrs = []error{
		claimerr.Network(errors.New("rpc timeout")),
		claimerr.Network(errors.New("rpc timeout")),
	}

	out, err := f.redeemer.Redeem(context.Background(), f.link(t, 7))
	if err != nil {
		t.Fatalf("redeem after transient failures: %v", err)
	}
	if out.State != StateSucceeded {
		t.Fatalf("state %s, want succeeded", out.State)
	}
	if f.fake.Calls() != 3 {
		t.Fatalf("expected 3 submit attempts, got %d", f.fake.Calls())
	}
}

func TestRedeemSecondClaimSamePairRejected(t *testing.T) {
	f := newFixture(t)

	if _, err := f.redeemer.Redeem(context.Background(), f.link(t, 7)); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	// Fresh grant, fresh nonce, same (profile, template) pair: the history
	// rule fires before anything reaches the chain.
	_, err := f.redeemer.Redeem(context.Background(), f.link(t, 7))
	var ce *claimerr.Error
	if !errors.As(err, &ce) || ce.Kind != claimerr.KindNotEligible {
		t.Fatalf("expected not_eligible, got %v", err)
	}
	if ce.Reason != eligibility.ReasonAlreadyClaimed {
		t.Fatalf("reason %q, want %q", ce.Reason, eligibility.ReasonAlreadyClaimed)
	}
}

func TestRedeemProfileRequired(t *testing.T) {
	f := newFixture(t)
	f.fake.SetTemplate(eligibility.Template{
		ID:          big.NewInt(7),
		Issuer:      f.signer.Address(),
		Eligibility: eligibility.ProfileRequired,
	})
	f.fake.RegisterProfile(common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))
	f.redeemer.Eval = &eligibility.Evaluator{
		Checkers: map[eligibility.Type]eligibility.Membership{
			eligibility.ProfileRequired: &eligibility.ProfileCheck{Reader: f.fake},
		},
	}

	out, err := f.redeemer.Redeem(context.Background(), f.link(t, 7))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if out.State != StateSucceeded {
		t.Fatalf("state %s, want succeeded", out.State)
	}
}

func TestRedeemMissingCheckerIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.fake.SetTemplate(eligibility.Template{
		ID:          big.NewInt(7),
		Issuer:      f.signer.Address(),
		Eligibility: eligibility.ProfileRequired,
	})
	// No profile checker wired: the deployment cannot serve this mode.

	_, err := f.redeemer.Redeem(context.Background(), f.link(t, 7))
	if kind, ok := claimerr.KindOf(err); !ok || kind != claimerr.KindNotEligible {
		t.Fatalf("expected not_eligible, got %v", err)
	}
	if claimerr.Retryable(err) {
		t.Fatal("missing checker is deterministic and must not be retried")
	}
	if !errors.Is(err, eligibility.ErrNoChecker) {
		t.Fatalf("cause lost: %v", err)
	}
	if f.fake.Calls() != 0 {
		t.Fatal("unservable claim must not reach the chain write path")
	}
}

// brokenHistoryStore fails every claim read, emulating a cache outage.
type brokenHistoryStore struct {
	*cache.MemoryStore
}

func (b *brokenHistoryStore) ClaimsFor(context.Context, *big.Int) ([]eligibility.ClaimRecord, error) {
	return nil, errors.New("connection refused")
}

func TestRedeemFallsBackToChainClaimFlag(t *testing.T) {
	f := newFixture(t)
	f.redeemer.Store = &brokenHistoryStore{MemoryStore: cache.NewMemoryStore()}

	// The profile already claimed on chain, but the cache cannot say so.
	profile := new(big.Int).SetBytes(common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC").Bytes())
	f.fake.MintDirect(big.NewInt(7), profile, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))
	submitsBefore := f.fake.Calls()

	_, err := f.redeemer.Redeem(context.Background(), f.link(t, 7))
	var ce *claimerr.Error
	if !errors.As(err, &ce) || ce.Kind != claimerr.KindNotEligible {
		t.Fatalf("expected not_eligible, got %v", err)
	}
	if ce.Reason != eligibility.ReasonAlreadyClaimed {
		t.Fatalf("reason %q, want %q", ce.Reason, eligibility.ReasonAlreadyClaimed)
	}
	if f.fake.Calls() != submitsBefore {
		t.Fatal("prior claim must be caught before submission")
	}
}

func TestPrecheckDoesNotSubmit(t *testing.T) {
	f := newFixture(t)

	res, err := f.redeemer.Precheck(context.Background(), f.link(t, 7))
	if err != nil {
		t.Fatalf("precheck: %v", err)
	}
	if !res.Eligible {
		t.Fatalf("expected eligible, got %+v", res)
	}
	if f.fake.Calls() != 0 {
		t.Fatal("precheck must not submit transactions")
	}
}
