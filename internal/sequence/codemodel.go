package sequence

import "context"

// CodeModel is the host code-model adapter. Implementations are read-only
// for the builder and must present one consistent snapshot for the duration
// of a build; if the source changes underneath, they report ErrStaleTarget.
type CodeModel interface {
	// Resolve maps a handle to its descriptor, failing with ErrInvalidHandle
	// when the handle no longer denotes a valid member.
	Resolve(ctx context.Context, h Handle) (MethodDescriptor, error)

	// CallSitesOf lists the call sites in the method body in source order.
	// It returns ErrBodyUnavailable for members without source.
	CallSitesOf(ctx context.Context, m MethodDescriptor) ([]CallSite, error)

	// IsStillValid reports whether the handle still denotes a member.
	IsStillValid(h Handle) bool
}
