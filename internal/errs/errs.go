// Package errs defines the closed set of error kinds used across the
// orchestration kernel (spec §7) and a KernelError type that preserves
// cause chains the way toolerrors.ToolError does in the teacher runtime,
// while adding the kind taxonomy and optional retry-after hint the
// executor needs to honor rate-limited tool responses.
package errs

import "errors"

// Kind enumerates the closed set of error kinds the kernel reasons about.
// The state machine, not the failing component, decides the right policy
// for a given kind (spec §7).
type Kind string

const (
	PlannerUnparseable   Kind = "planner_unparseable"
	PlanStructuralInvalid Kind = "plan_structural_invalid"
	ToolNotFound         Kind = "tool_not_found"
	ToolInvocationError  Kind = "tool_invocation_error"
	ToolTimeout          Kind = "tool_timeout"
	ReferenceUnresolved  Kind = "reference_unresolved"
	DependencyFailed     Kind = "dependency_failed"
	VerifierFail         Kind = "verifier_fail"
	CommitmentUnfulfilled Kind = "commitment_unfulfilled"
	Cancelled            Kind = "cancelled"
	Unrecoverable        Kind = "unrecoverable"
)

// KernelError is a structured failure carrying a Kind from the closed set
// plus an optional retry-after hint (set when a tool surfaces a
// Retry-After-style signal) and an optional cause chain.
type KernelError struct {
	Kind    Kind
	Message string
	Cause   *KernelError

	// RetryAfterSeconds carries a tool-reported backoff hint. Zero means
	// no hint was provided.
	RetryAfterSeconds float64
}

// New constructs a KernelError with the given kind and message.
func New(kind Kind, message string) *KernelError {
	return &KernelError{Kind: kind, Message: message}
}

// Wrap constructs a KernelError of the given kind wrapping an existing error.
func Wrap(kind Kind, message string, cause error) *KernelError {
	return &KernelError{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a KernelError chain, reusing an
// existing KernelError if one is already present in the chain.
func FromError(err error) *KernelError {
	if err == nil {
		return nil
	}
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke
	}
	return &KernelError{Kind: ToolInvocationError, Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

func (e *KernelError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *KernelError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is supports errors.Is comparisons against a bare Kind sentinel produced by
// KindError, so callers can write errors.Is(err, errs.KindError(errs.ToolTimeout)).
func (e *KernelError) Is(target error) bool {
	var ke *KernelError
	if errors.As(target, &ke) && ke != nil && ke.Message == "" {
		return e.Kind == ke.Kind
	}
	return false
}

// KindError returns a sentinel KernelError usable with errors.Is to test for
// a specific Kind without comparing messages.
func KindError(k Kind) *KernelError { return &KernelError{Kind: k} }
