package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/abramin/flowseq/internal/sequence"
)

// CodeModel serves sequence.CodeModel from an index. It is bound to the
// index generation it was opened on: once the index is rebuilt every
// lookup reports the target as stale.
//
// Handles are descriptor keys ("pkg.Type.Method(params)") or, when
// unambiguous, the key without the parameter list.
type CodeModel struct {
	st         *Store
	generation int64

	group singleflight.Group
	mu    sync.RWMutex
	sites map[string][]sequence.CallSite
}

// CodeModel opens a code model on the current index generation.
func (s *Store) CodeModel() (*CodeModel, error) {
	gen, err := s.Generation()
	if err != nil {
		return nil, fmt.Errorf("reading generation: %w", err)
	}
	return &CodeModel{
		st:         s,
		generation: gen,
		sites:      make(map[string][]sequence.CallSite),
	}, nil
}

// Generation returns the index generation the model is bound to.
func (m *CodeModel) Generation() int64 { return m.generation }

func (m *CodeModel) stale() bool {
	gen, err := m.st.Generation()
	return err != nil || gen != m.generation
}

// Resolve implements sequence.CodeModel.
func (m *CodeModel) Resolve(ctx context.Context, h sequence.Handle) (sequence.MethodDescriptor, error) {
	if m.stale() {
		return sequence.MethodDescriptor{}, fmt.Errorf("%w: index rebuilt since generation %d", sequence.ErrInvalidHandle, m.generation)
	}
	sym, err := m.lookup(ctx, h)
	if err != nil {
		return sequence.MethodDescriptor{}, err
	}
	return sym.Descriptor(), nil
}

func (m *CodeModel) lookup(ctx context.Context, h sequence.Handle) (*Symbol, error) {
	key := string(h)
	sym, err := m.st.GetSymbol(ctx, key)
	if err == nil {
		return sym, nil
	}
	if !errors.Is(err, ErrSymbolNotFound) {
		return nil, err
	}

	i := strings.LastIndex(key, ".")
	if i <= 0 || strings.Contains(key, "(") {
		return nil, fmt.Errorf("%w: %s", sequence.ErrInvalidHandle, h)
	}
	syms, err := m.st.FindSymbols(ctx, key[:i], key[i+1:])
	if err != nil {
		return nil, err
	}
	switch len(syms) {
	case 0:
		return nil, fmt.Errorf("%w: %s", sequence.ErrInvalidHandle, h)
	case 1:
		return syms[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d symbols", sequence.ErrInvalidHandle, h, len(syms))
	}
}

// CallSitesOf implements sequence.CodeModel. Concurrent lookups of the same
// method share one query.
func (m *CodeModel) CallSitesOf(ctx context.Context, md sequence.MethodDescriptor) ([]sequence.CallSite, error) {
	if m.stale() {
		return nil, fmt.Errorf("%w: %s", sequence.ErrStaleTarget, md.Key())
	}

	m.mu.RLock()
	sites, ok := m.sites[md.Key()]
	m.mu.RUnlock()
	if ok {
		return sites, nil
	}

	v, err, _ := m.group.Do(md.Key(), func() (any, error) {
		return m.load(ctx, md)
	})
	if err != nil {
		return nil, err
	}
	return v.([]sequence.CallSite), nil
}

func (m *CodeModel) load(ctx context.Context, md sequence.MethodDescriptor) ([]sequence.CallSite, error) {
	sym, err := m.st.GetSymbol(ctx, md.Key())
	if errors.Is(err, ErrSymbolNotFound) {
		return nil, fmt.Errorf("%w: %s", sequence.ErrBodyUnavailable, md.Key())
	}
	if err != nil {
		return nil, err
	}
	if !sym.HasBody {
		return nil, fmt.Errorf("%w: %s", sequence.ErrBodyUnavailable, md.Key())
	}

	calls, err := m.st.CallsOf(ctx, sym.ID)
	if err != nil {
		return nil, err
	}
	sites := make([]sequence.CallSite, 0, len(calls))
	for _, c := range calls {
		var site sequence.CallSite
		if c.Resolved {
			site = sequence.Resolved(c.Callee.Descriptor())
		} else if c.Callee.Kind == SymbolKindDynamic {
			site = sequence.Unresolved(sequence.MethodDescriptor{})
		} else {
			site = sequence.Unresolved(c.Callee.Descriptor())
		}
		sites = append(sites, site.At(c.File, c.Line))
	}

	m.mu.Lock()
	m.sites[md.Key()] = sites
	m.mu.Unlock()
	return sites, nil
}

// IsStillValid implements sequence.CodeModel.
func (m *CodeModel) IsStillValid(h sequence.Handle) bool {
	if m.stale() {
		return false
	}
	_, err := m.lookup(context.Background(), h)
	return err == nil
}
