package index

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/abramin/flowseq/internal/config"
	"github.com/abramin/flowseq/internal/store"
)

// Indexer coordinates the indexing pipeline.
type Indexer struct {
	cfg        *config.Config
	projectDir string
}

// NewIndexer creates a new indexer for the given project directory.
func NewIndexer(cfg *config.Config, projectDir string) *Indexer {
	absPath, err := filepath.Abs(projectDir)
	if err != nil {
		absPath = projectDir
	}
	return &Indexer{
		cfg:        cfg,
		projectDir: absPath,
	}
}

// Result holds the results of an indexing run.
type Result struct {
	PackageCount  int
	SymbolCount   int
	BodyCount     int
	CallSiteCount int
	Generation    int64
	Duration      time.Duration
	DBPath        string
}

// Run executes the indexing pipeline: load packages, build SSA, persist
// every project function with its ordered call sites, then bump the index
// generation so that open code models go stale.
func (idx *Indexer) Run() (*Result, error) {
	start := time.Now()

	st, err := store.Open(idx.projectDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.Clear(); err != nil {
		return nil, fmt.Errorf("clearing store: %w", err)
	}

	fmt.Println("Loading packages...")
	loader := NewLoader(idx.cfg, idx.projectDir)
	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	fmt.Printf("Loaded %d packages\n", len(loader.Packages()))

	fmt.Println("Building SSA...")
	snap, err := NewSnapshot(loader)
	if err != nil {
		return nil, fmt.Errorf("building snapshot: %w", err)
	}

	fmt.Printf("Persisting %d functions...\n", snap.Len())
	if err := Persist(st, loader, snap); err != nil {
		return nil, err
	}

	if err := st.SetMetadata("indexed_at", time.Now().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("storing metadata: %w", err)
	}
	if err := st.SetMetadata("project_dir", idx.projectDir); err != nil {
		return nil, fmt.Errorf("storing metadata: %w", err)
	}
	gen, err := st.BumpGeneration()
	if err != nil {
		return nil, fmt.Errorf("bumping generation: %w", err)
	}

	stats, err := st.GetStats()
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}

	if err := st.WriteIndexJSON(); err != nil {
		return nil, fmt.Errorf("writing index.json: %w", err)
	}

	return &Result{
		PackageCount:  stats.PackageCount,
		SymbolCount:   stats.SymbolCount,
		BodyCount:     stats.BodyCount,
		CallSiteCount: stats.CallSiteCount,
		Generation:    gen,
		Duration:      time.Since(start),
		DBPath:        st.DBPath(),
	}, nil
}

// Persist writes the packages, functions and call sites of a snapshot in
// one transaction.
func Persist(st *store.Store, loader *Loader, snap *Snapshot) error {
	batch, err := st.BeginBatch()
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	defer batch.Rollback()

	for _, pkg := range loader.Packages() {
		storePkg := &store.Package{
			PkgPath: pkg.PkgPath,
			Dir:     packageDir(pkg),
		}
		if pkg.Module != nil {
			storePkg.Module = pkg.Module.Path
		}
		if err := batch.InsertPackage(storePkg); err != nil {
			return fmt.Errorf("inserting package %s: %w", pkg.PkgPath, err)
		}
	}

	ids := make(map[string]store.SymbolID)
	symbolID := func(info symbolInfo) (store.SymbolID, error) {
		key := info.desc.Key()
		if id, ok := ids[key]; ok {
			return id, nil
		}
		f, hasBody := snap.funcs[key]
		sym := &store.Symbol{
			Key:      key,
			PkgPath:  info.pkgPath,
			TypeName: info.desc.TypeName(),
			Name:     info.desc.Name(),
			Params:   info.desc.ParamTypes(),
			Kind:     info.kind,
			HasBody:  hasBody,
		}
		if hasBody {
			sym.Kind = f.kind
			sym.File = f.file
			sym.Line = f.line
		}
		id, err := batch.InsertSymbol(sym)
		if err != nil {
			return 0, err
		}
		ids[key] = id
		return id, nil
	}

	for _, f := range snap.functions() {
		callerID, err := symbolID(f.symbolInfo)
		if err != nil {
			return err
		}
		for seq, c := range snap.callsOf(f.fn) {
			calleeID, err := symbolID(c.callee)
			if err != nil {
				return err
			}
			cs := &store.CallSite{
				CallerID: callerID,
				Seq:      seq,
				CalleeID: calleeID,
				Resolved: c.site.IsResolved(),
				CallKind: c.kind,
				File:     c.site.File,
				Line:     c.site.Line,
			}
			if err := batch.InsertCallSite(cs); err != nil {
				return fmt.Errorf("inserting call site %d of %s: %w", seq, f.desc.Key(), err)
			}
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}
