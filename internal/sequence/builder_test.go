package sequence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/flowseq/internal/sequence"
	"github.com/abramin/flowseq/internal/sequence/sequencetest"
)

// shop is the Order.place scenario: place calls reserve then charge, and
// charge calls record.
type shop struct {
	model                          *sequencetest.Model
	place, reserve, charge, record sequence.MethodDescriptor
}

func newShop() *shop {
	m := sequencetest.New()
	s := &shop{
		model:   m,
		place:   m.Method("shop.Order.place"),
		reserve: m.Method("shop.Inventory.reserve"),
		charge:  m.Method("shop.Payment.charge"),
		record:  m.Method("shop.Ledger.record"),
	}
	m.Calls(s.place, s.reserve, s.charge)
	m.Calls(s.reserve)
	m.Calls(s.charge, s.record)
	m.Calls(s.record)
	return s
}

func build(t *testing.T, root sequence.MethodDescriptor, p sequence.Params, fc *sequence.FilterChain, cm sequence.CodeModel) *sequence.CallTree {
	t.Helper()
	tree, err := sequence.Build(context.Background(), root, p, fc, cm)
	require.NoError(t, err)
	sequence.Assign(tree)
	return tree
}

func TestBuildScenario(t *testing.T) {
	s := newShop()
	tree := build(t, s.place, sequence.DefaultParams(), &sequence.FilterChain{}, s.model)

	require.Len(t, tree.Root.Children, 2)
	reserve, charge := tree.Root.Children[0], tree.Root.Children[1]
	assert.True(t, reserve.Method.Equal(s.reserve))
	assert.True(t, charge.Method.Equal(s.charge))
	assert.Equal(t, "1", reserve.Numbering.String())
	assert.Equal(t, "2", charge.Numbering.String())

	require.Len(t, charge.Children, 1)
	record := charge.Children[0]
	assert.Equal(t, "2.1", record.Numbering.String())
	assert.Equal(t, 2, record.TopLevel)
	assert.Equal(t, sequence.TerminalExpanded, record.Terminal)

	caller, ok := record.Caller()
	require.True(t, ok)
	assert.True(t, caller.Equal(s.charge))
	_, ok = tree.Root.Caller()
	assert.False(t, ok)

	model, err := sequence.Flatten(tree)
	require.NoError(t, err)

	var names []string
	for _, o := range model.Objects {
		names = append(names, o.Name())
	}
	assert.Equal(t, []string{"Order", "Inventory", "Payment", "Ledger"}, names)
	assert.Len(t, model.CallLinks(), 3)
	assert.Len(t, model.Links, 6)
	assert.Equal(t, "Order.place", model.Title)
}

func TestBuildExcludedTypeBecomesFilteredCut(t *testing.T) {
	s := newShop()
	before := build(t, s.place, sequence.DefaultParams(), &sequence.FilterChain{}, s.model)

	fc, err := sequence.NewFilterChain(sequence.ExcludeType("shop.Ledger"))
	require.NoError(t, err)
	after := build(t, s.place, sequence.DefaultParams(), fc, s.model)

	assert.Equal(t, before.Size(), after.Size())
	record := after.Find(sequence.Numbering{2, 1})
	require.NotNil(t, record)
	assert.Equal(t, sequence.TerminalFilteredCut, record.Terminal)
	assert.Empty(t, record.Children)
	assert.Equal(t, 1, s.model.CallCount(s.record), "filtered method must not be expanded")
}

func TestBuildFilteredMethodIsNeverExpanded(t *testing.T) {
	s := newShop()
	fc, err := sequence.NewFilterChain(sequence.ExcludeDescriptor(s.charge))
	require.NoError(t, err)

	tree := build(t, s.place, sequence.DefaultParams(), fc, s.model)
	charge := tree.Find(sequence.Numbering{2})
	require.NotNil(t, charge)
	assert.Equal(t, sequence.TerminalFilteredCut, charge.Terminal)
	assert.Empty(t, charge.Children)
	assert.Equal(t, 0, s.model.CallCount(s.charge))
}

func TestBuildTerminatesOnMutualRecursion(t *testing.T) {
	m := sequencetest.New()
	a := m.Method("pkg.A.run")
	b := m.Method("pkg.B.run")
	m.Calls(a, b)
	m.Calls(b, a)

	tree := build(t, a, sequence.Params{MaxDepth: 50}, nil, m)

	assert.Equal(t, 3, tree.Size())
	assert.Equal(t, 2, tree.MaxDepth())
	cut := tree.Find(sequence.Numbering{1, 1})
	require.NotNil(t, cut)
	assert.True(t, cut.Method.Equal(a))
	assert.Equal(t, sequence.TerminalRecursionCut, cut.Terminal)
}

func TestBuildDirectRecursion(t *testing.T) {
	m := sequencetest.New()
	a := m.Method("pkg.A.loop")
	m.Calls(a, a, a)

	tree := build(t, a, sequence.DefaultParams(), nil, m)
	require.Len(t, tree.Root.Children, 2)
	for _, c := range tree.Root.Children {
		assert.Equal(t, sequence.TerminalRecursionCut, c.Terminal)
	}
}

func TestBuildRecursionIsPathBased(t *testing.T) {
	// shared is called twice on different paths; neither is recursion.
	m := sequencetest.New()
	root := m.Method("pkg.Root.run")
	left := m.Method("pkg.Left.run")
	shared := m.Method("pkg.Shared.run")
	m.Calls(root, left, shared)
	m.Calls(left, shared)
	m.Calls(shared)

	tree := build(t, root, sequence.DefaultParams(), nil, m)
	assert.Equal(t, sequence.TerminalExpanded, tree.Find(sequence.Numbering{1, 1}).Terminal)
	assert.Equal(t, sequence.TerminalExpanded, tree.Find(sequence.Numbering{2}).Terminal)
}

func TestBuildDepthBound(t *testing.T) {
	s := newShop()
	tree := build(t, s.place, sequence.Params{MaxDepth: 1}, nil, s.model)

	require.Len(t, tree.Root.Children, 2)
	for _, c := range tree.Root.Children {
		assert.Equal(t, sequence.TerminalExpanded, c.Terminal)
	}
	record := tree.Find(sequence.Numbering{2, 1})
	require.NotNil(t, record)
	assert.True(t, record.Method.Equal(s.record))
	assert.Equal(t, sequence.TerminalDepthCut, record.Terminal)
	assert.Empty(t, record.Children)
	assert.Equal(t, 1, s.model.CallCount(s.charge))
	assert.Equal(t, 0, s.model.CallCount(s.record))

	tree = build(t, s.place, sequence.Params{MaxDepth: 2}, nil, s.model)
	assert.Equal(t, sequence.TerminalExpanded, tree.Find(sequence.Numbering{2}).Terminal)
	assert.Equal(t, sequence.TerminalExpanded, tree.Find(sequence.Numbering{2, 1}).Terminal)
	assert.Equal(t, 2, tree.MaxDepth())
}

func TestBuildDepthCutsOnlyPastLimit(t *testing.T) {
	m := sequencetest.New()
	chain := []sequence.MethodDescriptor{
		m.Method("pkg.A.run"),
		m.Method("pkg.B.run"),
		m.Method("pkg.C.run"),
		m.Method("pkg.D.run"),
	}
	for i := 0; i < len(chain)-1; i++ {
		m.Calls(chain[i], chain[i+1])
	}
	m.Calls(chain[len(chain)-1])

	tree := build(t, chain[0], sequence.Params{MaxDepth: 2}, nil, m)
	assert.Equal(t, 4, tree.Size())
	assert.Equal(t, sequence.TerminalExpanded, tree.Find(sequence.Numbering{1}).Terminal)
	assert.Equal(t, sequence.TerminalExpanded, tree.Find(sequence.Numbering{1, 1}).Terminal)
	cut := tree.Find(sequence.Numbering{1, 1, 1})
	require.NotNil(t, cut)
	assert.True(t, cut.Method.Equal(chain[3]))
	assert.Equal(t, sequence.TerminalDepthCut, cut.Terminal)
	assert.Equal(t, 1, m.CallCount(chain[2]))
	assert.Equal(t, 0, m.CallCount(chain[3]))
}

func TestBuildUnresolvedCalls(t *testing.T) {
	m := sequencetest.New()
	root := m.Method("pkg.Handler.serve")
	known := m.Method("pkg.Store.load")
	iface := sequence.NewMethodDescriptor("io.Writer", "Write", "[]byte")
	m.Sites(root,
		sequence.Unresolved(iface),
		sequence.Resolved(known),
		sequence.Unresolved(sequence.MethodDescriptor{}),
	)
	m.Calls(known)

	tree := build(t, root, sequence.DefaultParams(), nil, m)
	require.Len(t, tree.Root.Children, 1)
	assert.Equal(t, "1", tree.Root.Children[0].Numbering.String())

	tree = build(t, root, sequence.Params{IncludeUnresolved: true}, nil, m)
	require.Len(t, tree.Root.Children, 3)
	assert.Equal(t, sequence.TerminalUnresolved, tree.Root.Children[0].Terminal)
	assert.True(t, tree.Root.Children[0].Method.Equal(iface))
	assert.Equal(t, sequence.TerminalExpanded, tree.Root.Children[1].Terminal)
	assert.Equal(t, sequence.UnresolvedType, tree.Root.Children[2].Method.TypeName())
}

func TestBuildBodyUnavailable(t *testing.T) {
	m := sequencetest.New()
	root := m.Method("pkg.Main.run")
	lib := m.Method("vendor.Lib.call") // declared without a body
	m.Calls(root, lib)

	tree := build(t, root, sequence.DefaultParams(), nil, m)
	assert.Empty(t, tree.Root.Children)

	tree = build(t, root, sequence.Params{IncludeUnresolved: true}, nil, m)
	require.Len(t, tree.Root.Children, 1)
	assert.Equal(t, sequence.TerminalUnresolved, tree.Root.Children[0].Terminal)

	// a root without a body is a tree of one node
	tree = build(t, lib, sequence.DefaultParams(), nil, m)
	assert.Equal(t, 1, tree.Size())
}

func TestBuildCoalesceRepeats(t *testing.T) {
	m := sequencetest.New()
	root := m.Method("pkg.Batch.run")
	step := m.Method("pkg.Step.apply")
	m.Calls(root, step, step, step)
	m.Calls(step)

	tree := build(t, root, sequence.DefaultParams(), nil, m)
	assert.Len(t, tree.Root.Children, 3)

	tree = build(t, root, sequence.Params{CoalesceRepeats: true}, nil, m)
	assert.Len(t, tree.Root.Children, 1)
}

func TestBuildStaleTargetFailsWithoutTree(t *testing.T) {
	s := newShop()
	s.model.MarkStale(s.record)

	tree, err := sequence.Build(context.Background(), s.place, sequence.DefaultParams(), nil, s.model)
	require.ErrorIs(t, err, sequence.ErrStaleTarget)
	assert.Nil(t, tree)

	s.model.MarkStale(s.place)
	_, err = sequence.Build(context.Background(), s.place, sequence.DefaultParams(), nil, s.model)
	require.ErrorIs(t, err, sequence.ErrStaleTarget)
}

func TestBuildRejectsZeroRoot(t *testing.T) {
	_, err := sequence.Build(context.Background(), sequence.MethodDescriptor{}, sequence.DefaultParams(), nil, sequencetest.New())
	require.ErrorIs(t, err, sequence.ErrInvalidHandle)
}

func TestBuildCancellation(t *testing.T) {
	s := newShop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.model.OnCallSites(func(m sequence.MethodDescriptor) {
		if m.Equal(s.reserve) {
			cancel()
		}
	})

	tree, err := sequence.Build(ctx, s.place, sequence.DefaultParams(), nil, s.model)
	require.ErrorIs(t, err, sequence.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, tree)
	assert.Equal(t, 0, s.model.CallCount(s.charge))
}

func TestBuildIsDeterministic(t *testing.T) {
	s := newShop()
	fc, err := sequence.NewFilterChain(sequence.ExcludeMethod("shop.Inventory", "reserve", nil))
	require.NoError(t, err)

	render := func() string {
		tree := build(t, s.place, sequence.DefaultParams(), fc, s.model)
		model, err := sequence.Flatten(tree)
		require.NoError(t, err)
		return sequence.Serialize(model)
	}

	first := render()
	assert.True(t, sequence.Equal(first, render()))
}

func TestFilterMonotonicity(t *testing.T) {
	s := newShop()
	visible := func(fc *sequence.FilterChain) int {
		tree := build(t, s.place, sequence.DefaultParams(), fc, s.model)
		model, err := sequence.Flatten(tree)
		require.NoError(t, err)
		count := 0
		for _, a := range model.Activations {
			if a.Terminal == sequence.TerminalExpanded {
				count++
			}
		}
		return count
	}

	fc := &sequence.FilterChain{}
	prev := visible(fc)
	for _, r := range []sequence.Rule{
		sequence.ExcludeType("shop.Ledger"),
		sequence.ExcludeType("shop.Payment"),
		sequence.ExcludeType("shop.Inventory"),
	} {
		require.NoError(t, fc.AddFilter(r))
		got := visible(fc)
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, 1, prev)
}
