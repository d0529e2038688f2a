package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result is the evaluator's verdict. Reason is set only when not eligible
// and names the first failing rule.
type Result struct {
	Eligible bool
	Reason   string
}

// Stable reasons, one per rule, in evaluation order.
const (
	ReasonUnknownTemplate = "unknown template"
	ReasonPaused          = "paused"
	ReasonNotStarted      = "not started"
	ReasonEnded           = "ended"
	ReasonSupplyExhausted = "supply exhausted"
	ReasonAlreadyClaimed  = "already claimed"
)

func ok() Result           { return Result{Eligible: true} }
func fail(r string) Result { return Result{Reason: r} }

// Evaluate applies the template-local rules in fixed priority order; the
// first failure wins. Membership (rule 6) needs I/O and lives on Evaluator.
func Evaluate(t Template, history []ClaimRecord, r Recipient, now time.Time) Result {
	if !t.Exists() {
		return fail(ReasonUnknownTemplate)
	}
	if t.Paused {
		return fail(ReasonPaused)
	}
	ts := uint64(now.Unix())
	if t.StartTime != 0 && ts < t.StartTime {
		return fail(ReasonNotStarted)
	}
	if t.EndTime != 0 && ts > t.EndTime {
		return fail(ReasonEnded)
	}
	if t.MaxSupply != 0 && t.CurrentSupply >= t.MaxSupply {
		return fail(ReasonSupplyExhausted)
	}
	for _, rec := range history {
		if rec.TemplateID == nil || rec.ProfileID == nil || r.ProfileID == nil {
			continue
		}
		if rec.TemplateID.Cmp(t.ID) == 0 && rec.ProfileID.Cmp(r.ProfileID) == 0 {
			return fail(ReasonAlreadyClaimed)
		}
	}
	return ok()
}

// Membership answers rule 6 for one eligibility mode against its external
// collaborator. The reason is surfaced verbatim when membership fails.
type Membership interface {
	Allowed(ctx context.Context, t Template, r Recipient) (bool, string, error)
}

// ErrNoChecker means the deployment cannot serve the template's
// eligibility mode. Deterministic: retrying never helps.
var ErrNoChecker = errors.New("no membership checker configured")

// Evaluator composes the pure rules with the per-mode membership checkers.
type Evaluator struct {
	Checkers map[Type]Membership
	Now      func() time.Time
}

// Check runs the full rule set. A missing checker for a non-open template
// is an error, not a verdict: it means the deployment is misconfigured.
func (e *Evaluator) Check(ctx context.Context, t Template, history []ClaimRecord, r Recipient) (Result, error) {
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	if res := Evaluate(t, history, r, now); !res.Eligible {
		return res, nil
	}
	if t.Eligibility == Open {
		return ok(), nil
	}

	checker, found := e.Checkers[t.Eligibility]
	if !found {
		return Result{}, fmt.Errorf("%w for %s templates", ErrNoChecker, t.Eligibility)
	}
	allowed, reason, err := checker.Allowed(ctx, t, r)
	if err != nil {
		return Result{}, fmt.Errorf("membership check (%s): %w", t.Eligibility, err)
	}
	if !allowed {
		return fail(reason), nil
	}
	return ok(), nil
}
