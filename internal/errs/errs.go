// Package errs defines the structured error kinds the orchestrator and its
// components surface. Errors a component classifies are *Error values, so
// callers can branch on Kind with errors.As instead of string matching;
// not every error that crosses a component boundary is classified.
package errs

import "fmt"

// Kind classifies an error for propagation-policy decisions (spec §7).
type Kind string

const (
	KindNetwork             Kind = "network"
	KindAuth                Kind = "auth"
	KindRateLimited         Kind = "rate_limited"
	KindPlatformRejected    Kind = "platform_rejected"
	KindMalformedModelOutput Kind = "malformed_model_output"
	KindCheckpointDecode    Kind = "checkpoint_decode"
	KindIncrementalDiverged Kind = "incremental_diverged"
	KindIncrementalMissingBase Kind = "incremental_missing_base"
	KindPostFailed          Kind = "post_failed"
	KindFatal               Kind = "fatal"
)

// Error is a structured, wrappable error carrying a Kind for
// propagation-policy dispatch.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err under op with the given kind. err may be nil.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == k
	}
	return false
}

// as is a small local alias so this package doesn't need to import
// "errors" twice in call sites; kept here to mirror the teacher's compact
// helper style.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Recoverable reports whether this kind is locally recovered per the
// propagation policy in spec §7 (fall back to full review / downgrade
// verdict / skip one comment) rather than aborting the whole review.
func Recoverable(k Kind) bool {
	switch k {
	case KindCheckpointDecode, KindIncrementalDiverged, KindIncrementalMissingBase,
		KindPlatformRejected, KindPostFailed:
		return true
	default:
		return false
	}
}
