// Package claimerr defines the closed set of failure kinds a claim
// redemption can surface, plus the retryability classification the
// retry executor relies on.
package claimerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a failure class. The set is closed: handlers switch on
// it exhaustively instead of sniffing error strings.
type Kind int

const (
	// KindUserRejected is a signer decline. Treated as a cancellation,
	// not a failure.
	KindUserRejected Kind = iota
	// KindMalformedLink means a claim link failed to decode into a
	// complete grant.
	KindMalformedLink
	// KindSignerMismatch means the recovered signer is not the template
	// issuer. Terminal; the grant is tampered or was never validly issued.
	KindSignerMismatch
	// KindNotEligible carries the first failing eligibility rule.
	KindNotEligible
	// KindNetwork is a transient chain-I/O failure, the only retryable kind.
	KindNetwork
	// KindChainRevert is a contract revert with a decoded reason.
	KindChainRevert
	// KindCacheSync is a cache write/read failure. Logged, never blocks
	// a redemption.
	KindCacheSync
)

func (k Kind) String() string {
	switch k {
	case KindUserRejected:
		return "user_rejected"
	case KindMalformedLink:
		return "malformed_link"
	case KindSignerMismatch:
		return "signer_mismatch"
	case KindNotEligible:
		return "not_eligible"
	case KindNetwork:
		return "network"
	case KindChainRevert:
		return "chain_revert"
	case KindCacheSync:
		return "cache_sync"
	}
	return "unknown"
}

// Error is a kinded error. Reason carries the user-facing detail for
// kinds that have one (eligibility rule, revert string).
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func UserRejected() *Error { return &Error{Kind: KindUserRejected} }

func MalformedLink(reason string) *Error {
	return &Error{Kind: KindMalformedLink, Reason: reason}
}

func SignerMismatch(reason string) *Error {
	return &Error{Kind: KindSignerMismatch, Reason: reason}
}

func NotEligible(reason string) *Error {
	return &Error{Kind: KindNotEligible, Reason: reason}
}

func Network(err error) *Error { return &Error{Kind: KindNetwork, Err: err} }

func ChainRevert(reason string) *Error {
	return &Error{Kind: KindChainRevert, Reason: reason}
}

func CacheSync(err error) *Error { return &Error{Kind: KindCacheSync, Err: err} }

// KindOf reports the kind of err if it is (or wraps) a claimerr.Error.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// Is lets callers match by kind: errors.Is(err, claimerr.New(kind, "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// Retryable reports whether err is worth another attempt. Deterministic
// rejections never retry; only transient chain I/O does. Errors that carry
// no kind are assumed transient, except context cancellation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if kind, ok := KindOf(err); ok {
		return kind == KindNetwork
	}
	return true
}
