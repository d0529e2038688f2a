package cache

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	tmpl := testTemplate(777)
	tmpl.Eligibility = eligibility.Whitelist
	tmpl.Requirements = map[string]string{"campaign": "genesis"}
	if err := store.UpsertTemplate(ctx, tmpl); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Template(ctx, big.NewInt(777))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || got.Issuer != tmpl.Issuer || got.Eligibility != eligibility.Whitelist {
		t.Fatalf("unexpected row: %+v", got)
	}

	rec := eligibility.ClaimRecord{
		ProfileID:  big.NewInt(42),
		TemplateID: big.NewInt(777),
		CardID:     1,
		ClaimType:  eligibility.ClaimTypeSignature,
		ClaimedAt:  time.Now().UTC(),
	}
	if err := store.RecordClaim(ctx, rec); err != nil {
		t.Fatalf("record claim: %v", err)
	}
	if err := store.RecordClaim(ctx, rec); err != nil {
		t.Fatalf("replay claim: %v", err)
	}

	claimed, err := store.HasClaimed(ctx, big.NewInt(42), big.NewInt(777))
	if err != nil {
		t.Fatalf("has claimed: %v", err)
	}
	if !claimed {
		t.Fatal("claim not visible")
	}

	after, _ := store.Template(ctx, big.NewInt(777))
	if after.CurrentSupply != tmpl.CurrentSupply+1 {
		t.Fatalf("supply %d, want %d", after.CurrentSupply, tmpl.CurrentSupply+1)
	}
}
