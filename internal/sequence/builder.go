package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDepth is used when Params.MaxDepth is not positive.
const DefaultMaxDepth = 5

// Params configures a build.
type Params struct {
	// MaxDepth bounds nesting: callees down to depth MaxDepth are expanded,
	// and their callees are recorded as depth-cut. Must be at least 1; zero selects DefaultMaxDepth.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// IncludeUnresolved records calls without a concrete target as
	// non-expandable nodes instead of skipping them.
	IncludeUnresolved bool `json:"include_unresolved" yaml:"include_unresolved"`

	// CoalesceRepeats drops a call to a method the same caller already
	// called earlier in its body. Off by default: every occurrence is kept
	// and distinguished by numbering and top-level index.
	CoalesceRepeats bool `json:"coalesce_repeats" yaml:"coalesce_repeats"`
}

// DefaultParams returns the default build parameters.
func DefaultParams() Params {
	return Params{MaxDepth: DefaultMaxDepth}
}

func (p Params) normalized() Params {
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultMaxDepth
	}
	return p
}

// BuildStats counts nodes per terminal state.
type BuildStats struct {
	Nodes         int
	Expanded      int
	RecursionCuts int
	DepthCuts     int
	FilteredCuts  int
	Unresolved    int
	Skipped       int // unresolved call sites left out of the tree
}

type builder struct {
	params  Params
	filters *FilterChain
	model   CodeModel
	stats   BuildStats
}

// Build traverses the static call structure below root depth-first and
// returns the call tree. It never returns a partial tree: any failure
// (ErrInvalidHandle, ErrStaleTarget, ErrCancelled) aborts the whole build.
//
// For identical inputs and code-model snapshot the resulting tree is
// identical, node for node.
func Build(ctx context.Context, root MethodDescriptor, params Params, filters *FilterChain, model CodeModel) (*CallTree, error) {
	ctx, span := tracer.Start(ctx, "sequence.Build",
		trace.WithAttributes(
			attribute.String("sequence.root", root.Key()),
			attribute.Int("sequence.max_depth", params.MaxDepth),
			attribute.Int("sequence.filters", filters.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	b := &builder{
		params:  params.normalized(),
		filters: filters,
		model:   model,
	}

	tree, err := b.build(ctx, root)
	recordBuildMetrics(ctx, time.Since(start), b.stats.Nodes, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("sequence.nodes", b.stats.Nodes),
		attribute.Int("sequence.depth", tree.MaxDepth()),
	)
	slog.Debug("call tree built",
		slog.String("root", root.Key()),
		slog.Int("nodes", b.stats.Nodes),
		slog.Int("recursion_cuts", b.stats.RecursionCuts),
		slog.Int("depth_cuts", b.stats.DepthCuts),
		slog.Int("filtered_cuts", b.stats.FilteredCuts),
		slog.Int("unresolved", b.stats.Unresolved),
		slog.Int("skipped", b.stats.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	return tree, nil
}

func (b *builder) build(ctx context.Context, root MethodDescriptor) (*CallTree, error) {
	if root.IsZero() {
		return nil, fmt.Errorf("%w: empty root descriptor", ErrInvalidHandle)
	}

	sites, err := b.callSites(ctx, root)
	if err != nil && !errors.Is(err, ErrBodyUnavailable) {
		return nil, err
	}

	tree := &CallTree{Root: &Node{Method: root, Terminal: TerminalExpanded}}
	b.stats.Nodes = 1
	b.stats.Expanded = 1
	if err := b.expand(ctx, tree.Root, sites); err != nil {
		return nil, err
	}
	return tree, nil
}

// callSites is the expansion boundary: cancellation is checked here, once
// per expanded node.
func (b *builder) callSites(ctx context.Context, m MethodDescriptor) ([]CallSite, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	sites, err := b.model.CallSitesOf(ctx, m)
	switch {
	case err == nil:
		return sites, nil
	case errors.Is(err, ErrBodyUnavailable):
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	default:
		return nil, fmt.Errorf("listing call sites of %s: %w", m.Key(), err)
	}
}

func (b *builder) expand(ctx context.Context, n *Node, sites []CallSite) error {
	for _, site := range sites {
		callee := site.Callee()

		if b.params.CoalesceRepeats && hasChild(n, callee) {
			continue
		}

		if !site.IsResolved() {
			if !b.params.IncludeUnresolved {
				b.stats.Skipped++
				continue
			}
			if !b.filters.IsAllowed(callee) {
				b.add(n, callee, site, TerminalFilteredCut)
			} else {
				b.add(n, callee, site, TerminalUnresolved)
			}
			continue
		}

		switch {
		case !b.filters.IsAllowed(callee):
			b.add(n, callee, site, TerminalFilteredCut)
		case n.onPath(callee):
			b.add(n, callee, site, TerminalRecursionCut)
		case n.Depth+1 > b.params.MaxDepth:
			b.add(n, callee, site, TerminalDepthCut)
		default:
			if err := b.descend(ctx, n, callee, site); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) descend(ctx context.Context, n *Node, callee MethodDescriptor, site CallSite) error {
	sites, err := b.callSites(ctx, callee)
	if errors.Is(err, ErrBodyUnavailable) {
		if !b.params.IncludeUnresolved {
			b.stats.Skipped++
			return nil
		}
		b.add(n, callee, site, TerminalUnresolved)
		return nil
	}
	if err != nil {
		return err
	}
	child := b.add(n, callee, site, TerminalExpanded)
	return b.expand(ctx, child, sites)
}

func (b *builder) add(parent *Node, m MethodDescriptor, site CallSite, t Terminal) *Node {
	b.stats.Nodes++
	switch t {
	case TerminalExpanded:
		b.stats.Expanded++
	case TerminalRecursionCut:
		b.stats.RecursionCuts++
	case TerminalDepthCut:
		b.stats.DepthCuts++
	case TerminalFilteredCut:
		b.stats.FilteredCuts++
	case TerminalUnresolved:
		b.stats.Unresolved++
	}
	return parent.addChild(m, site, t)
}

func hasChild(n *Node, m MethodDescriptor) bool {
	for _, c := range n.Children {
		if c.Method.Equal(m) {
			return true
		}
	}
	return false
}
