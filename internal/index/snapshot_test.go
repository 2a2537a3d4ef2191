package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abramin/flowseq/internal/config"
	"github.com/abramin/flowseq/internal/sequence"
	"github.com/abramin/flowseq/internal/store"
)

const shopSource = `package shop

import "fmt"

type Notifier interface {
	Notify(msg string)
}

type Inventory struct{}

func (i *Inventory) Reserve(sku string, qty int) bool {
	return qty > 0
}

type Ledger struct{}

func (l Ledger) Record(amount int) {}

type Payment struct {
	ledger Ledger
}

func (p *Payment) Charge(amount int) error {
	p.ledger.Record(amount)
	return nil
}

type Order struct {
	inv  *Inventory
	pay  *Payment
	n    Notifier
	hook func()
}

func (o *Order) Place(sku string, qty int) error {
	defer o.audit()
	if !o.inv.Reserve(sku, qty) {
		return fmt.Errorf("out of stock: %s", sku)
	}
	if err := o.pay.Charge(qty * 10); err != nil {
		return err
	}
	o.n.Notify(sku)
	o.hook()
	go o.audit()
	_ = len(sku)
	return nil
}

func (o *Order) audit() {}
`

const (
	placeKey  = "example.com/shop.Order.Place(string,int)"
	auditKey  = "example.com/shop.Order.audit()"
	chargeKey = "example.com/shop.Payment.Charge(int)"
)

// writeModule creates a one-package module and returns its directory.
func writeModule(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"go.mod":  "module example.com/shop\n\ngo 1.22\n",
		"shop.go": shopSource,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func loadSnapshot(t *testing.T, dir string) (*Loader, *Snapshot) {
	t.Helper()
	loader := NewLoader(config.Default(), dir)
	if err := loader.Load(); err != nil {
		t.Fatalf("failed to load packages: %v", err)
	}
	snap, err := NewSnapshot(loader)
	if err != nil {
		t.Fatalf("failed to build snapshot: %v", err)
	}
	return loader, snap
}

func TestSnapshotResolve(t *testing.T) {
	_, snap := loadSnapshot(t, writeModule(t))
	ctx := context.Background()

	for _, h := range []sequence.Handle{
		placeKey,
		"example.com/shop.Order.Place",
		"(*example.com/shop.Order).Place",
	} {
		md, err := snap.Resolve(ctx, h)
		if err != nil {
			t.Errorf("Resolve(%q): %v", h, err)
			continue
		}
		if md.Key() != placeKey {
			t.Errorf("Resolve(%q) = %s, want %s", h, md.Key(), placeKey)
		}
		if !snap.IsStillValid(h) {
			t.Errorf("IsStillValid(%q) = false", h)
		}
	}

	_, err := snap.Resolve(ctx, "example.com/shop.Order.Cancel")
	if !errors.Is(err, sequence.ErrInvalidHandle) {
		t.Errorf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestSnapshotCallSitesInSourceOrder(t *testing.T) {
	_, snap := loadSnapshot(t, writeModule(t))
	ctx := context.Background()

	place, err := snap.Resolve(ctx, placeKey)
	if err != nil {
		t.Fatal(err)
	}
	sites, err := snap.CallSitesOf(ctx, place)
	if err != nil {
		t.Fatalf("CallSitesOf: %v", err)
	}

	want := []struct {
		owner    string
		name     string
		resolved bool
	}{
		{"example.com/shop.Order", "audit", true},
		{"example.com/shop.Inventory", "Reserve", true},
		{"fmt", "Errorf", true},
		{"example.com/shop.Payment", "Charge", true},
		{"example.com/shop.Notifier", "Notify", false},
		{sequence.UnresolvedType, "call", false},
		{"example.com/shop.Order", "audit", true},
	}
	if len(sites) != len(want) {
		for _, s := range sites {
			t.Logf("site %s line %d", s.Callee(), s.Line)
		}
		t.Fatalf("expected %d call sites, got %d", len(want), len(sites))
	}
	for i, w := range want {
		c := sites[i].Callee()
		if c.TypeName() != w.owner || c.Name() != w.name || sites[i].IsResolved() != w.resolved {
			t.Errorf("site %d = %s resolved=%v, want %s.%s resolved=%v", i, c, sites[i].IsResolved(), w.owner, w.name, w.resolved)
		}
		if i > 0 && sites[i].Line <= sites[i-1].Line {
			t.Errorf("site %d at line %d is not after line %d", i, sites[i].Line, sites[i-1].Line)
		}
	}

	// library code has no body in the snapshot
	_, err = snap.CallSitesOf(ctx, sites[2].Callee())
	if !errors.Is(err, sequence.ErrBodyUnavailable) {
		t.Errorf("expected ErrBodyUnavailable for fmt.Errorf, got %v", err)
	}
}

func TestSnapshotDrivesBuild(t *testing.T) {
	_, snap := loadSnapshot(t, writeModule(t))
	ctx := context.Background()
	place, err := snap.Resolve(ctx, placeKey)
	if err != nil {
		t.Fatal(err)
	}

	tree, err := sequence.Build(ctx, place, sequence.DefaultParams(), nil, snap)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, c := range tree.Root.Children {
		keys = append(keys, c.Method.Key())
	}
	wantKeys := []string{auditKey, "example.com/shop.Inventory.Reserve(string,int)", chargeKey, auditKey}
	if len(keys) != len(wantKeys) {
		t.Fatalf("children = %v, want %v", keys, wantKeys)
	}
	for i := range wantKeys {
		if keys[i] != wantKeys[i] {
			t.Errorf("child %d = %s, want %s", i, keys[i], wantKeys[i])
		}
	}
	charge := tree.Root.Children[2]
	if len(charge.Children) != 1 || charge.Children[0].Method.Key() != "example.com/shop.Ledger.Record(int)" {
		t.Errorf("unexpected children of Charge: %v", charge.Children)
	}

	tree, err = sequence.Build(ctx, place, sequence.Params{IncludeUnresolved: true}, nil, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Root.Children) != 7 {
		t.Errorf("expected 7 children with unresolved calls, got %d", len(tree.Root.Children))
	}
}

func TestSnapshotGoesStaleWhenFileChanges(t *testing.T) {
	dir := writeModule(t)
	_, snap := loadSnapshot(t, dir)
	ctx := context.Background()
	place, err := snap.Resolve(ctx, placeKey)
	if err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "shop.go"), later, later); err != nil {
		t.Fatal(err)
	}

	if snap.IsStillValid(placeKey) {
		t.Error("handle must be invalid after its file changed")
	}
	_, err = snap.CallSitesOf(ctx, place)
	if !errors.Is(err, sequence.ErrStaleTarget) {
		t.Errorf("expected ErrStaleTarget, got %v", err)
	}
}

func TestIndexerPersistsCallSites(t *testing.T) {
	dir := writeModule(t)

	result, err := NewIndexer(config.Default(), dir).Run()
	if err != nil {
		t.Fatalf("indexing failed: %v", err)
	}
	if result.PackageCount != 1 || result.Generation != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	// Place, audit, Reserve, Charge, Record
	if result.BodyCount != 5 {
		t.Errorf("expected 5 bodies, got %d", result.BodyCount)
	}

	st, err := store.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	cm, err := st.CodeModel()
	if err != nil {
		t.Fatal(err)
	}

	_, snap := loadSnapshot(t, dir)
	ctx := context.Background()
	place, err := cm.Resolve(ctx, "example.com/shop.Order.Place")
	if err != nil {
		t.Fatal(err)
	}

	fromStore, err := buildText(ctx, place, cm)
	if err != nil {
		t.Fatal(err)
	}
	fromSSA, err := buildText(ctx, place, snap)
	if err != nil {
		t.Fatal(err)
	}
	if !sequence.Equal(fromStore, fromSSA) {
		t.Errorf("index and SSA disagree:\n%s\n---\n%s", fromStore, fromSSA)
	}

	// a second run invalidates models opened on the first one
	if _, err := NewIndexer(config.Default(), dir).Run(); err != nil {
		t.Fatal(err)
	}
	if cm.IsStillValid("example.com/shop.Order.Place") {
		t.Error("code model must go stale after reindexing")
	}
}

func buildText(ctx context.Context, root sequence.MethodDescriptor, cm sequence.CodeModel) (string, error) {
	tree, err := sequence.Build(ctx, root, sequence.Params{IncludeUnresolved: true}, nil, cm)
	if err != nil {
		return "", err
	}
	sequence.Assign(tree)
	model, err := sequence.Flatten(tree)
	if err != nil {
		return "", err
	}
	return sequence.Serialize(model), nil
}
