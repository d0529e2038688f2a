// Package chain talks to the ReputationCard contract. The contract is the
// authority on every mint decision; this package only reads its state,
// submits claim transactions, and awaits their receipts.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
)

// Reader covers the view calls.
type Reader interface {
	Template(ctx context.Context, templateID *big.Int) (eligibility.Template, error)
	HasProfileClaimed(ctx context.Context, templateID, profileID *big.Int) (bool, error)
}

// Client abstracts the full contract interaction. ClaimCard broadcasts
// exactly one transaction; AwaitClaim only ever reads, so retrying it can
// never resubmit.
type Client interface {
	Reader
	ClaimCard(ctx context.Context, g grant.ClaimGrant, sigHex string) (ClaimResult, error)
	AwaitClaim(ctx context.Context, txHash string) (ClaimReceipt, error)
}

// EventReader scans CardIssued events so mints made outside this service,
// such as direct issuer transactions, still reach the local mirror.
type EventReader interface {
	// CardIssuedSince returns events in blocks (fromBlock, head] and the
	// new head to resume from.
	CardIssuedSince(ctx context.Context, fromBlock uint64) ([]ClaimReceipt, uint64, error)
}

// HealthChecker is implemented by clients that can probe their RPC node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type ClaimResult struct {
	TxHash string
}

type ClaimReceipt struct {
	TxHash string
	CardID uint64
	// ProfileID and TemplateID are decoded from the CardIssued event when
	// present.
	ProfileID  *big.Int
	TemplateID *big.Int
	To         common.Address
}
