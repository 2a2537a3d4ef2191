package sequence

import "fmt"

// Location is what an external navigator needs to open one call
// occurrence: the caller body to search, the callee to look for, and which
// of the caller's calls to that callee is meant.
type Location struct {
	Caller    MethodDescriptor
	Callee    MethodDescriptor
	TopLevel  int
	Numbering Numbering

	// Ordinal is the 1-based position of this call among the caller's calls
	// to the same callee, in source order.
	Ordinal int

	// File and Line are set when the code model reported call positions.
	File string
	Line int
}

// Navigate finds the first call from caller to callee within the root-level
// invocation chain topLevel. Several textually identical call sites may
// share the caller/callee pair; the top-level index picks the chain and the
// returned ordinal picks the site within the caller's body.
func Navigate(m *DiagramModel, caller, callee MethodDescriptor, topLevel int) (Location, error) {
	calls := m.CallLinks()
	for _, l := range calls {
		if l.Return || l.TopLevel != topLevel || !l.From.Equal(caller) || !l.To.Equal(callee) {
			continue
		}

		loc := Location{
			Caller:    caller,
			Callee:    callee,
			TopLevel:  topLevel,
			Numbering: l.Numbering,
		}
		parent := l.Numbering.Parent()
		for _, sib := range calls {
			if !sib.Numbering.Parent().Equal(parent) || !sib.To.Equal(callee) {
				continue
			}
			if sib.Numbering[len(sib.Numbering)-1] <= l.Numbering[len(l.Numbering)-1] {
				loc.Ordinal++
			}
		}
		for _, a := range m.Activations {
			if a.Numbering.Equal(l.Numbering) {
				loc.File = a.Site.File
				loc.Line = a.Site.Line
				break
			}
		}
		return loc, nil
	}
	return Location{}, fmt.Errorf("%w: %s -> %s in chain %d", ErrNotFound, caller.Key(), callee.Key(), topLevel)
}
