package index

import (
	"context"
	"fmt"
	"go/token"
	"go/types"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/abramin/flowseq/internal/sequence"
	"github.com/abramin/flowseq/internal/store"
)

// symbolInfo describes a callable as it is persisted.
type symbolInfo struct {
	desc    sequence.MethodDescriptor
	kind    store.SymbolKind
	pkgPath string
}

// function is a project function with a body.
type function struct {
	symbolInfo
	fn   *ssa.Function
	file string
	line int
}

// call is one call instruction of a body.
type call struct {
	site   sequence.CallSite
	kind   store.CallKind
	callee symbolInfo
}

// Snapshot is a sequence.CodeModel over the SSA form of the loaded
// packages. Call sites are listed in source order; calls through interfaces
// and function values are reported unresolved. A snapshot goes stale for a
// function once the file declaring it changes on disk.
//
// Handles are descriptor keys ("pkg.Type.Method(params)"), the key without
// its parameter list, or SSA function names such as "(*pkg.Type).Method".
type Snapshot struct {
	fset     *token.FileSet
	funcs    map[string]*function
	aliases  map[string][]string
	modTimes map[string]time.Time

	mu    sync.Mutex
	calls map[*ssa.Function][]call
}

// NewSnapshot builds SSA for the loaded packages.
func NewSnapshot(loader *Loader) (*Snapshot, error) {
	prog, _ := ssautil.AllPackages(loader.Packages(), ssa.InstantiateGenerics)
	prog.Build()

	s := &Snapshot{
		fset:     loader.FileSet(),
		funcs:    make(map[string]*function),
		aliases:  make(map[string][]string),
		modTimes: make(map[string]time.Time),
		calls:    make(map[*ssa.Function][]call),
	}

	project := make(map[string]bool)
	for _, pkg := range loader.Packages() {
		project[pkg.PkgPath] = true
		for _, file := range pkg.GoFiles {
			info, err := os.Stat(file)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", file, err)
			}
			s.modTimes[file] = info.ModTime()
		}
	}

	for fn := range ssautil.AllFunctions(prog) {
		if fn.Synthetic != "" || len(fn.Blocks) == 0 {
			continue
		}
		if fn.Pkg == nil || !project[fn.Pkg.Pkg.Path()] {
			continue
		}
		pos := s.fset.Position(fn.Pos())
		if !pos.IsValid() || loader.shouldExcludeFile(pos.Filename) {
			continue
		}
		s.register(&function{
			symbolInfo: describe(fn),
			fn:         fn,
			file:       pos.Filename,
			line:       pos.Line,
		})
	}
	return s, nil
}

// register records f unless a generic origin already claimed its key.
func (s *Snapshot) register(f *function) {
	key := f.desc.Key()
	if existing, ok := s.funcs[key]; ok && existing.fn.Origin() == nil {
		return
	}
	if _, ok := s.funcs[key]; !ok {
		short := f.desc.TypeName() + "." + f.desc.Name()
		s.aliases[short] = append(s.aliases[short], key)
		s.aliases[f.fn.String()] = append(s.aliases[f.fn.String()], key)
	}
	s.funcs[key] = f
}

// Len returns the number of functions with a body.
func (s *Snapshot) Len() int { return len(s.funcs) }

// functions returns the project functions ordered by key.
func (s *Snapshot) functions() []*function {
	out := make([]*function, 0, len(s.funcs))
	for _, f := range s.funcs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].desc.Key() < out[j].desc.Key() })
	return out
}

func (s *Snapshot) lookup(h sequence.Handle) (*function, error) {
	if f, ok := s.funcs[string(h)]; ok {
		return f, nil
	}
	keys := s.aliases[string(h)]
	switch len(keys) {
	case 0:
		return nil, fmt.Errorf("%w: %s", sequence.ErrInvalidHandle, h)
	case 1:
		return s.funcs[keys[0]], nil
	default:
		return nil, fmt.Errorf("%w: %s is ambiguous (%d functions)", sequence.ErrInvalidHandle, h, len(keys))
	}
}

// Resolve implements sequence.CodeModel.
func (s *Snapshot) Resolve(ctx context.Context, h sequence.Handle) (sequence.MethodDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return sequence.MethodDescriptor{}, err
	}
	f, err := s.lookup(h)
	if err != nil {
		return sequence.MethodDescriptor{}, err
	}
	return f.desc, nil
}

// IsStillValid implements sequence.CodeModel.
func (s *Snapshot) IsStillValid(h sequence.Handle) bool {
	f, err := s.lookup(h)
	return err == nil && !s.changed(f.file)
}

// CallSitesOf implements sequence.CodeModel.
func (s *Snapshot) CallSitesOf(ctx context.Context, md sequence.MethodDescriptor) ([]sequence.CallSite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, ok := s.funcs[md.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sequence.ErrBodyUnavailable, md.Key())
	}
	if s.changed(f.file) {
		return nil, fmt.Errorf("%w: %s changed since indexing", sequence.ErrStaleTarget, f.file)
	}

	calls := s.callsOf(f.fn)
	sites := make([]sequence.CallSite, len(calls))
	for i, c := range calls {
		sites[i] = c.site
	}
	return sites, nil
}

func (s *Snapshot) changed(file string) bool {
	recorded, ok := s.modTimes[file]
	if !ok {
		return false
	}
	info, err := os.Stat(file)
	return err != nil || !info.ModTime().Equal(recorded)
}

// callsOf lists the call instructions of fn ordered by source position.
// Calls of builtins and calls without a position are left out.
func (s *Snapshot) callsOf(fn *ssa.Function) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if calls, ok := s.calls[fn]; ok {
		return calls
	}

	type positioned struct {
		pos token.Pos
		call
	}
	var found []positioned
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			ci, ok := instr.(ssa.CallInstruction)
			if !ok || !instr.Pos().IsValid() {
				continue
			}
			kind := store.CallKindStatic
			switch instr.(type) {
			case *ssa.Go:
				kind = store.CallKindGo
			case *ssa.Defer:
				kind = store.CallKindDefer
			}
			if c, ok := s.classify(ci.Common(), kind, instr.Pos()); ok {
				found = append(found, positioned{pos: instr.Pos(), call: c})
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	calls := make([]call, len(found))
	for i, p := range found {
		calls[i] = p.call
	}
	s.calls[fn] = calls
	return calls
}

func (s *Snapshot) classify(common *ssa.CallCommon, kind store.CallKind, at token.Pos) (call, bool) {
	if _, ok := common.Value.(*ssa.Builtin); ok {
		return call{}, false
	}
	pos := s.fset.Position(at)

	if callee := common.StaticCallee(); callee != nil {
		info := describe(callee)
		return call{
			site:   sequence.Resolved(info.desc).At(pos.Filename, pos.Line),
			kind:   kind,
			callee: info,
		}, true
	}

	if common.IsInvoke() {
		info := describeObject(common.Method)
		info.kind = store.SymbolKindInterface
		return call{
			site:   sequence.Unresolved(info.desc).At(pos.Filename, pos.Line),
			kind:   store.CallKindInterface,
			callee: info,
		}, true
	}

	site := sequence.Unresolved(sequence.MethodDescriptor{}).At(pos.Filename, pos.Line)
	return call{
		site: site,
		kind: store.CallKindFuncval,
		callee: symbolInfo{
			desc: site.Callee(),
			kind: store.SymbolKindDynamic,
		},
	}, true
}

// describe names an SSA function. Wrappers and generic instances are named
// after the declared function; closures are owned by the type or package of
// their outermost enclosing function.
func describe(fn *ssa.Function) symbolInfo {
	if obj, ok := fn.Object().(*types.Func); ok && fn.Parent() == nil {
		return describeObject(obj)
	}

	if parent := fn.Parent(); parent != nil {
		for parent.Parent() != nil {
			parent = parent.Parent()
		}
		outer := describe(parent)
		return symbolInfo{
			desc:    sequence.NewMethodDescriptor(outer.desc.TypeName(), fn.Name(), paramTypes(fn.Signature)...),
			kind:    store.SymbolKindClosure,
			pkgPath: outer.pkgPath,
		}
	}

	var pkgPath string
	if fn.Pkg != nil {
		pkgPath = fn.Pkg.Pkg.Path()
	}
	return symbolInfo{
		desc:    sequence.NewMethodDescriptor(pkgPath, fn.Name(), paramTypes(fn.Signature)...),
		kind:    store.SymbolKindFunc,
		pkgPath: pkgPath,
	}
}

func describeObject(obj *types.Func) symbolInfo {
	obj = obj.Origin()
	sig := obj.Signature()

	info := symbolInfo{kind: store.SymbolKindFunc}
	if obj.Pkg() != nil {
		info.pkgPath = obj.Pkg().Path()
	}
	owner := info.pkgPath
	if recv := sig.Recv(); recv != nil {
		owner = typeOwner(recv.Type())
		info.kind = store.SymbolKindMethod
	}
	info.desc = sequence.NewMethodDescriptor(owner, obj.Name(), paramTypes(sig)...)
	return info
}

// typeOwner returns "pkg/path.Type" for a (pointer to a) named type.
func typeOwner(t types.Type) string {
	t = types.Unalias(t)
	if ptr, ok := t.(*types.Pointer); ok {
		t = types.Unalias(ptr.Elem())
	}
	if named, ok := t.(*types.Named); ok {
		obj := named.Origin().Obj()
		if obj.Pkg() == nil {
			return obj.Name()
		}
		return obj.Pkg().Path() + "." + obj.Name()
	}
	return types.TypeString(t, nil)
}

func paramTypes(sig *types.Signature) []string {
	params := sig.Params()
	out := make([]string, params.Len())
	for i := range params.Len() {
		t := params.At(i).Type()
		if sig.Variadic() && i == params.Len()-1 {
			if slice, ok := t.(*types.Slice); ok {
				out[i] = "..." + types.TypeString(slice.Elem(), nil)
				continue
			}
		}
		out[i] = types.TypeString(t, nil)
	}
	return out
}
