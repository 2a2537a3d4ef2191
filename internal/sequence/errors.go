package sequence

import "errors"

// Sentinel errors for building and consuming sequence diagrams.
var (
	// ErrInvalidHandle is returned when the root or a resolved callee no
	// longer denotes a valid member. Not retried.
	ErrInvalidHandle = errors.New("invalid method handle")

	// ErrStaleTarget is returned when the underlying source changed while a
	// build was running. The caller must request a new build.
	ErrStaleTarget = errors.New("stale target")

	// ErrCancelled is returned when a build was cancelled. Callers discard
	// any partial state.
	ErrCancelled = errors.New("build cancelled")

	// ErrBodyUnavailable is reported by code models for members without
	// source. The builder treats it like an unresolved call.
	ErrBodyUnavailable = errors.New("method body unavailable")

	// ErrMalformedFilterRule is returned by AddFilter for rules that can
	// never match a real member.
	ErrMalformedFilterRule = errors.New("malformed filter rule")

	// ErrEmptyTree is an internal-consistency failure: flattening requires
	// a tree with a root.
	ErrEmptyTree = errors.New("call tree has no root")

	// ErrUnnumbered is an internal-consistency failure: Assign must run
	// before Flatten.
	ErrUnnumbered = errors.New("call tree is not numbered")

	// ErrInconsistentModel is returned when a link sequence cannot be
	// reconstructed into a tree.
	ErrInconsistentModel = errors.New("inconsistent diagram model")

	// ErrNotFound is returned by navigation queries that match no link.
	ErrNotFound = errors.New("call not found")
)
