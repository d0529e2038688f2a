// Package redemption drives a claim link through to an on-chain mint as an
// explicit state machine. Each redemption is an independent flow; competing
// claims are serialized by blockchain transaction ordering, never here.
package redemption

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/cache"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/chain"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimlink"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/retry"
)

// State is one stage of a redemption flow.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateAwaitingSignature
	StateSubmitting
	StateConfirming
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateAwaitingSignature:
		return "awaiting_signature"
	case StateSubmitting:
		return "submitting"
	case StateConfirming:
		return "confirming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the terminal result of one flow.
type Outcome struct {
	FlowID string
	State  State
	TxHash string
	CardID uint64
	// Cancelled is set when the flow was abandoned by the user before
	// broadcast. Not a failure.
	Cancelled bool
	Err       error
}

// Redeemer wires the decode, pre-check, verify, submit, confirm pipeline.
type Redeemer struct {
	Chain    chain.Client
	Store    cache.Store
	Eval     *eligibility.Evaluator
	Verifier grant.Verifier
	Retry    retry.Config
	Log      *slog.Logger
	Now      func() time.Time

	// OnTransition observes every state change, for metrics and tests.
	OnTransition func(flowID string, from, to State)
}

func (r *Redeemer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

type flow struct {
	id    string
	state State
	r     *Redeemer
	log   *slog.Logger
}

func (f *flow) to(next State) {
	prev := f.state
	f.state = next
	if f.r.OnTransition != nil {
		f.r.OnTransition(f.id, prev, next)
	}
	f.log.Debug("flow transition",
		slog.String("from", prev.String()), slog.String("to", next.String()))
}

func (f *flow) fail(err error) (Outcome, error) {
	if kind, ok := claimerr.KindOf(err); ok && kind == claimerr.KindUserRejected {
		// Signer declined: silent abort, nothing was broadcast.
		f.to(StateIdle)
		return Outcome{FlowID: f.id, State: StateIdle, Cancelled: true}, nil
	}
	f.to(StateFailed)
	return Outcome{FlowID: f.id, State: StateFailed, Err: err}, err
}

// Redeem takes a raw claim link through the full pipeline. Before broadcast
// the flow can be abandoned with no side effect; once a transaction hash
// exists, the only remaining work is awaiting it.
func (r *Redeemer) Redeem(ctx context.Context, rawLink string) (Outcome, error) {
	f := &flow{id: uuid.NewString(), state: StateIdle, r: r, log: r.logger()}
	f.log = f.log.With(slog.String("flow_id", f.id))

	f.to(StateValidating)
	g, sigHex, err := claimlink.Decode(rawLink)
	if err != nil {
		return f.fail(err)
	}

	recipient := eligibility.Recipient{Address: g.User, ProfileID: profileID(g)}

	t, err := r.loadTemplate(ctx, g)
	if err != nil {
		return f.fail(err)
	}

	history := r.claimHistory(ctx, t, recipient)
	res, err := r.Eval.Check(ctx, t, history, recipient)
	if err != nil {
		return f.fail(classifyEvalErr(err))
	}
	if !res.Eligible {
		return f.fail(claimerr.NotEligible(res.Reason))
	}

	f.to(StateAwaitingSignature)
	if err := r.Verifier.Verify(g, sigHex, t.Issuer); err != nil {
		return f.fail(err)
	}

	f.to(StateSubmitting)
	result, err := retry.Do(ctx, r.Retry, func(ctx context.Context) (chain.ClaimResult, error) {
		return r.Chain.ClaimCard(ctx, g, sigHex)
	})
	if err != nil {
		return f.fail(err)
	}

	// A hash exists now; from here on we only await, never resubmit.
	f.to(StateConfirming)
	receipt, err := retry.Do(ctx, r.Retry, func(ctx context.Context) (chain.ClaimReceipt, error) {
		return r.Chain.AwaitClaim(ctx, result.TxHash)
	})
	if err != nil {
		out, _ := f.fail(err)
		out.TxHash = result.TxHash
		return out, err
	}

	r.recordClaim(ctx, t, recipient, receipt)

	f.to(StateSucceeded)
	return Outcome{
		FlowID: f.id,
		State:  StateSucceeded,
		TxHash: receipt.TxHash,
		CardID: receipt.CardID,
	}, nil
}

// Precheck runs decode plus the eligibility evaluation without touching the
// chain's write path, so callers can refuse doomed links up front.
func (r *Redeemer) Precheck(ctx context.Context, rawLink string) (eligibility.Result, error) {
	g, _, err := claimlink.Decode(rawLink)
	if err != nil {
		return eligibility.Result{}, err
	}
	recipient := eligibility.Recipient{Address: g.User, ProfileID: profileID(g)}
	t, err := r.loadTemplate(ctx, g)
	if err != nil {
		return eligibility.Result{}, err
	}
	res, err := r.Eval.Check(ctx, t, r.claimHistory(ctx, t, recipient), recipient)
	if err != nil {
		return eligibility.Result{}, classifyEvalErr(err)
	}
	return res, nil
}

// classifyEvalErr splits evaluator failures: a missing checker is a
// deterministic deployment gap, everything else is transient membership
// I/O.
func classifyEvalErr(err error) error {
	if errors.Is(err, eligibility.ErrNoChecker) {
		return claimerr.Wrap(claimerr.KindNotEligible, err)
	}
	return claimerr.Network(err)
}

// loadTemplate prefers the cache; a miss or cache failure falls through to
// an authoritative chain read via the retry executor.
func (r *Redeemer) loadTemplate(ctx context.Context, g grant.ClaimGrant) (eligibility.Template, error) {
	if cached, err := r.Store.Template(ctx, g.TemplateID); err == nil && cached != nil {
		return *cached, nil
	} else if err != nil {
		r.logger().Warn("cache template read failed",
			slog.String("template_id", g.TemplateID.String()),
			slog.Any("error", claimerr.CacheSync(err)))
	}

	t, err := retry.Do(ctx, r.Retry, func(ctx context.Context) (eligibility.Template, error) {
		return r.Chain.Template(ctx, g.TemplateID)
	})
	if err != nil {
		if _, kinded := claimerr.KindOf(err); kinded {
			return eligibility.Template{}, err
		}
		return eligibility.Template{}, claimerr.Network(err)
	}
	return t, nil
}

// claimHistory reads the mirror, falling back to the contract's
// hasProfileClaimed flag when the cache is unavailable. Only if both
// sources fail does the check degrade to no history, costing the recipient
// at worst a reverted transaction the contract would reject anyway.
func (r *Redeemer) claimHistory(ctx context.Context, t eligibility.Template, recipient eligibility.Recipient) []eligibility.ClaimRecord {
	history, err := r.Store.ClaimsFor(ctx, recipient.ProfileID)
	if err == nil {
		return history
	}
	r.logger().Warn("cache history read failed, checking chain",
		slog.Any("error", claimerr.CacheSync(err)))

	claimed, chainErr := retry.Do(ctx, r.Retry, func(ctx context.Context) (bool, error) {
		return r.Chain.HasProfileClaimed(ctx, t.ID, recipient.ProfileID)
	})
	if chainErr != nil {
		r.logger().Warn("chain claim flag read failed", slog.Any("error", chainErr))
		return nil
	}
	if claimed {
		return []eligibility.ClaimRecord{{
			ProfileID:  recipient.ProfileID,
			TemplateID: t.ID,
			ClaimType:  eligibility.ClaimTypeDirect,
		}}
	}
	return nil
}

func (r *Redeemer) recordClaim(ctx context.Context, t eligibility.Template, recipient eligibility.Recipient, receipt chain.ClaimReceipt) {
	rec := eligibility.ClaimRecord{
		ProfileID:  recipient.ProfileID,
		TemplateID: t.ID,
		CardID:     receipt.CardID,
		ClaimType:  eligibility.ClaimTypeSignature,
		ClaimedAt:  r.now(),
	}
	if receipt.ProfileID != nil {
		rec.ProfileID = receipt.ProfileID
	}
	if err := r.Store.RecordClaim(ctx, rec); err != nil {
		r.logger().Warn("cache claim record failed", slog.Any("error", claimerr.CacheSync(err)))
	}
}

// profileID derives the advisory profile identity used for the local
// pre-check. The authoritative id arrives in the CardIssued event.
func profileID(g grant.ClaimGrant) *big.Int {
	return new(big.Int).SetBytes(g.ProfileOwner.Bytes())
}

func (r *Redeemer) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// ErrKind extracts the failure kind from a flow error, defaulting to
// network for unclassified errors.
func ErrKind(err error) claimerr.Kind {
	if kind, ok := claimerr.KindOf(err); ok {
		return kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return claimerr.KindUserRejected
	}
	return claimerr.KindNetwork
}
