package cache

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/chain"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/retry"
)

func TestSyncerResyncUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	fake := chain.NewFakeClient()
	fake.SetTemplate(testTemplate(7))

	s := &Syncer{
		Store: store,
		Chain: fake,
		Retry: retry.Config{MaxAttempts: 1},
	}
	s.Resync(ctx, []*big.Int{big.NewInt(7)})

	got, err := store.Template(ctx, big.NewInt(7))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || got.CurrentSupply != 5 {
		t.Fatalf("resync did not mirror template: %+v", got)
	}
}

func TestSyncerResyncPreservesEligibilityMode(t *testing.T) {
	// templates() does not expose the eligibility mode; a resync must not
	// clobber what the cache already knows.
	ctx := context.Background()
	store := NewMemoryStore()

	cached := testTemplate(7)
	cached.Eligibility = eligibility.Whitelist
	cached.Requirements = map[string]string{"campaign": "genesis"}
	if err := store.UpsertTemplate(ctx, cached); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	onChain := testTemplate(7)
	onChain.CurrentSupply = 9
	fake := chain.NewFakeClient()
	fake.SetTemplate(onChain)

	s := &Syncer{Store: store, Chain: fake, Retry: retry.Config{MaxAttempts: 1}}
	s.ResyncKnown(ctx)

	got, _ := store.Template(ctx, big.NewInt(7))
	if got.CurrentSupply != 9 {
		t.Fatalf("supply not refreshed: %+v", got)
	}
	if got.Eligibility != eligibility.Whitelist {
		t.Fatalf("eligibility mode clobbered: %+v", got)
	}
	if got.Requirements["campaign"] != "genesis" {
		t.Fatalf("requirements clobbered: %+v", got)
	}
}

func TestSyncerIngestsDirectMints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.UpsertTemplate(ctx, testTemplate(7)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fake := chain.NewFakeClient()
	fake.SetTemplate(testTemplate(7))
	profile := big.NewInt(1001)
	fake.MintDirect(big.NewInt(7), profile, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))

	s := &Syncer{
		Store:  store,
		Chain:  fake,
		Events: fake,
		Retry:  retry.Config{MaxAttempts: 1},
	}
	s.IngestEvents(ctx)

	claimed, err := store.HasClaimed(ctx, profile, big.NewInt(7))
	if err != nil {
		t.Fatalf("read claim: %v", err)
	}
	if !claimed {
		t.Fatal("direct mint not mirrored")
	}

	recs, _ := store.ClaimsFor(ctx, profile)
	if len(recs) != 1 || recs[0].ClaimType != eligibility.ClaimTypeDirect {
		t.Fatalf("unexpected claim records: %+v", recs)
	}

	// A second scan starts from the advanced cursor and sees nothing new.
	s.IngestEvents(ctx)
	recs, _ = store.ClaimsFor(ctx, profile)
	if len(recs) != 1 {
		t.Fatalf("cursor did not advance, records: %+v", recs)
	}
}

func TestSyncerApplyClaimIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.UpsertTemplate(ctx, testTemplate(7)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	syncErrs := 0
	s := &Syncer{
		Store:       store,
		Chain:       chain.NewFakeClient(),
		Retry:       retry.Config{MaxAttempts: 1},
		OnSyncError: func() { syncErrs++ },
	}

	rec := eligibility.ClaimRecord{
		ProfileID:  big.NewInt(1001),
		TemplateID: big.NewInt(7),
		CardID:     3,
		ClaimType:  eligibility.ClaimTypeDirect,
	}
	s.ApplyClaim(ctx, rec)
	s.ApplyClaim(ctx, rec)

	got, _ := store.Template(ctx, big.NewInt(7))
	if got.CurrentSupply != 6 {
		t.Fatalf("supply %d, want 6", got.CurrentSupply)
	}
	if syncErrs != 0 {
		t.Fatalf("unexpected sync errors: %d", syncErrs)
	}
}
