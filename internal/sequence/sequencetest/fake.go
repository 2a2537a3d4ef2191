// Package sequencetest provides an in-memory code model for tests.
package sequencetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/abramin/flowseq/internal/sequence"
)

// Model is a synthetic code model. Methods are declared with Method and
// their bodies with Calls; handles are descriptor keys.
type Model struct {
	mu       sync.Mutex
	methods  map[string]sequence.MethodDescriptor
	bodies   map[string][]sequence.CallSite
	stale    map[string]bool
	invalid  map[string]bool
	calls    map[string]int
	onListen func(sequence.MethodDescriptor)
}

// New creates an empty model.
func New() *Model {
	return &Model{
		methods: make(map[string]sequence.MethodDescriptor),
		bodies:  make(map[string][]sequence.CallSite),
		stale:   make(map[string]bool),
		invalid: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// Method declares a method without params given as "Type.name" and returns
// its descriptor. The part before the last dot is the owning type.
func (f *Model) Method(qualified string, params ...string) sequence.MethodDescriptor {
	i := strings.LastIndex(qualified, ".")
	md := sequence.NewMethodDescriptor(qualified[:i], qualified[i+1:], params...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[md.Key()] = md
	return md
}

// Calls sets the body of caller to resolved calls to callees, in order.
func (f *Model) Calls(caller sequence.MethodDescriptor, callees ...sequence.MethodDescriptor) {
	sites := make([]sequence.CallSite, len(callees))
	for i, c := range callees {
		sites[i] = sequence.Resolved(c).At(caller.TypeName()+".go", i+1)
	}
	f.Sites(caller, sites...)
}

// Sites sets the body of caller to the given call sites.
func (f *Model) Sites(caller sequence.MethodDescriptor, sites ...sequence.CallSite) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[caller.Key()] = sites
}

// MarkStale makes CallSitesOf(m) fail with ErrStaleTarget.
func (f *Model) MarkStale(m sequence.MethodDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale[m.Key()] = true
}

// Invalidate makes the handle of m invalid.
func (f *Model) Invalidate(m sequence.MethodDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid[m.Key()] = true
}

// OnCallSites registers a hook run on every CallSitesOf call.
func (f *Model) OnCallSites(fn func(sequence.MethodDescriptor)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onListen = fn
}

// CallCount returns how often CallSitesOf was asked about m.
func (f *Model) CallCount(m sequence.MethodDescriptor) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[m.Key()]
}

// Handle returns the handle of m.
func Handle(m sequence.MethodDescriptor) sequence.Handle {
	return sequence.Handle(m.Key())
}

// Resolve implements sequence.CodeModel.
func (f *Model) Resolve(_ context.Context, h sequence.Handle) (sequence.MethodDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.methods[string(h)]
	if !ok || f.invalid[string(h)] {
		return sequence.MethodDescriptor{}, fmt.Errorf("%w: %s", sequence.ErrInvalidHandle, h)
	}
	return md, nil
}

// CallSitesOf implements sequence.CodeModel. Declared methods without a body
// report ErrBodyUnavailable.
func (f *Model) CallSitesOf(_ context.Context, m sequence.MethodDescriptor) ([]sequence.CallSite, error) {
	f.mu.Lock()
	hook := f.onListen
	f.calls[m.Key()]++
	stale := f.stale[m.Key()]
	sites, ok := f.bodies[m.Key()]
	f.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	if stale {
		return nil, fmt.Errorf("%w: %s", sequence.ErrStaleTarget, m.Key())
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", sequence.ErrBodyUnavailable, m.Key())
	}
	return sites, nil
}

// IsStillValid implements sequence.CodeModel.
func (f *Model) IsStillValid(h sequence.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.methods[string(h)]
	return ok && !f.invalid[string(h)]
}
