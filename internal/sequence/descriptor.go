package sequence

import (
	"strings"
)

// Handle identifies a member in the host code model, e.g.
// "github.com/acme/shop/order.Order.Place" or "github.com/acme/shop/cmd.main".
type Handle string

// MethodDescriptor is the identity of a callable member: owning type,
// declared name and ordered parameter types. It is immutable once created.
type MethodDescriptor struct {
	typeName   string
	name       string
	paramTypes []string
	key        string
}

// NewMethodDescriptor creates a descriptor. For package-level functions the
// owning type is the package path.
func NewMethodDescriptor(typeName, name string, paramTypes ...string) MethodDescriptor {
	params := make([]string, len(paramTypes))
	copy(params, paramTypes)
	return MethodDescriptor{
		typeName:   typeName,
		name:       name,
		paramTypes: params,
		key:        methodKey(typeName, name, params),
	}
}

func methodKey(typeName, name string, params []string) string {
	var b strings.Builder
	b.WriteString(typeName)
	b.WriteByte('.')
	b.WriteString(name)
	b.WriteByte('(')
	b.WriteString(strings.Join(params, ","))
	b.WriteByte(')')
	return b.String()
}

// TypeName returns the fully qualified name of the owning type.
func (m MethodDescriptor) TypeName() string { return m.typeName }

// Name returns the declared method name.
func (m MethodDescriptor) Name() string { return m.name }

// ParamTypes returns a copy of the parameter type names.
func (m MethodDescriptor) ParamTypes() []string {
	out := make([]string, len(m.paramTypes))
	copy(out, m.paramTypes)
	return out
}

// Arity returns the number of parameters.
func (m MethodDescriptor) Arity() int { return len(m.paramTypes) }

// Key returns the identity key. Two descriptors with equal keys are the same
// method for every graph and filter purpose.
func (m MethodDescriptor) Key() string { return m.key }

// Equal reports whether m and other denote the same method.
func (m MethodDescriptor) Equal(other MethodDescriptor) bool { return m.key == other.key }

// IsZero reports whether m is the zero descriptor.
func (m MethodDescriptor) IsZero() bool { return m.key == "" }

// Object returns the participant that owns this method.
func (m MethodDescriptor) Object() ObjectDescriptor {
	return ObjectDescriptor{fullName: m.typeName}
}

// Title is the short display name, e.g. "Order.Place".
func (m MethodDescriptor) Title() string {
	return m.Object().Name() + "." + m.name
}

func (m MethodDescriptor) String() string { return m.key }

// ObjectDescriptor is a diagram participant, one per distinct owning type.
type ObjectDescriptor struct {
	fullName string
}

// NewObjectDescriptor names a participant by its fully qualified type name.
func NewObjectDescriptor(fullName string) ObjectDescriptor {
	return ObjectDescriptor{fullName: fullName}
}

// FullName returns the fully qualified type name.
func (o ObjectDescriptor) FullName() string { return o.fullName }

// Name returns the short name: the part after the last '/' and, for
// package-qualified types, after the package name.
func (o ObjectDescriptor) Name() string {
	name := o.fullName
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (o ObjectDescriptor) String() string { return o.fullName }

// UnresolvedType owns call sites whose target could not be determined and
// for which the code model offered no hint.
const UnresolvedType = "<unresolved>"

// CallSite is one call inside a method body: either resolved to a concrete
// callee or unresolved (dynamic dispatch, function values).
type CallSite struct {
	callee   MethodDescriptor
	resolved bool

	// File and Line locate the call expression when the code model knows it.
	File string
	Line int
}

// Resolved creates a call site with a concrete target.
func Resolved(callee MethodDescriptor) CallSite {
	return CallSite{callee: callee, resolved: true}
}

// Unresolved creates a call site without a concrete target. hint names the
// declared target (an interface method, say) and may be zero.
func Unresolved(hint MethodDescriptor) CallSite {
	if hint.IsZero() {
		hint = NewMethodDescriptor(UnresolvedType, "call")
	}
	return CallSite{callee: hint}
}

// At returns a copy of the call site with a source position attached.
func (c CallSite) At(file string, line int) CallSite {
	c.File = file
	c.Line = line
	return c
}

// Callee returns the target, or the hint for unresolved sites.
func (c CallSite) Callee() MethodDescriptor { return c.callee }

// IsResolved reports whether the target is concrete.
func (c CallSite) IsResolved() bool { return c.resolved }
