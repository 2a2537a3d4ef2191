package store

import "github.com/abramin/flowseq/internal/sequence"

// SymbolID is a type-safe identifier for symbols.
type SymbolID int64

// SymbolKind represents the kind of a symbol.
type SymbolKind string

const (
	SymbolKindFunc      SymbolKind = "func"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindClosure   SymbolKind = "closure"
	SymbolKindInterface SymbolKind = "interface" // Interface method, never has a body
	SymbolKindDynamic   SymbolKind = "dynamic"   // Placeholder for unresolvable calls
)

// CallKind represents how a call is made.
type CallKind string

const (
	CallKindStatic    CallKind = "static"    // Direct function call
	CallKindInterface CallKind = "interface" // Call through interface
	CallKindDefer     CallKind = "defer"     // Deferred call
	CallKindGo        CallKind = "go"        // Goroutine call
	CallKindFuncval   CallKind = "funcval"   // Call through a function value
)

// Symbol represents a function, method or closure.
type Symbol struct {
	ID       SymbolID   `json:"id"`
	Key      string     `json:"key"`
	PkgPath  string     `json:"pkg_path"`
	TypeName string     `json:"type_name"` // Owning type, or the package path for functions
	Name     string     `json:"name"`
	Params   []string   `json:"params"`
	Kind     SymbolKind `json:"kind"`
	File     string     `json:"file,omitempty"`
	Line     int        `json:"line,omitempty"`
	HasBody  bool       `json:"has_body"`
}

// Descriptor returns the method descriptor of the symbol.
func (s *Symbol) Descriptor() sequence.MethodDescriptor {
	return sequence.NewMethodDescriptor(s.TypeName, s.Name, s.Params...)
}

// Package represents a Go package.
type Package struct {
	PkgPath string `json:"pkg_path"`
	Module  string `json:"module,omitempty"`
	Dir     string `json:"dir"`
}

// CallSite is one call in a caller's body. Seq orders the calls of one
// caller by source position.
type CallSite struct {
	CallerID SymbolID `json:"caller_id"`
	Seq      int      `json:"seq"`
	CalleeID SymbolID `json:"callee_id"`
	Resolved bool     `json:"resolved"`
	CallKind CallKind `json:"call_kind"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
}
