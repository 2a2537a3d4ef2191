package sequence

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminal records why a node was or was not expanded.
type Terminal int

const (
	// TerminalExpanded nodes had their call sites traversed.
	TerminalExpanded Terminal = iota
	// TerminalRecursionCut nodes repeat a method already on the path.
	TerminalRecursionCut
	// TerminalDepthCut nodes sit one level past the configured depth limit.
	TerminalDepthCut
	// TerminalFilteredCut nodes are hidden by the filter chain.
	TerminalFilteredCut
	// TerminalUnresolved nodes have no concrete target or no body.
	TerminalUnresolved
)

func (t Terminal) String() string {
	switch t {
	case TerminalExpanded:
		return "expanded"
	case TerminalRecursionCut:
		return "recursion-cut"
	case TerminalDepthCut:
		return "depth-cut"
	case TerminalFilteredCut:
		return "filtered-cut"
	case TerminalUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// ParseTerminal is the inverse of Terminal.String.
func ParseTerminal(s string) (Terminal, error) {
	for t := TerminalExpanded; t <= TerminalUnresolved; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown terminal state %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Terminal) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Terminal) UnmarshalText(b []byte) error {
	parsed, err := ParseTerminal(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Numbering is a hierarchical sequence label such as 2.1.3. The root of a
// call tree carries the empty numbering.
type Numbering []int

// String renders the label with dots; the root renders as "-".
func (n Numbering) String() string {
	if len(n) == 0 {
		return "-"
	}
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// MarshalText implements encoding.TextMarshaler.
func (n Numbering) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Numbering) UnmarshalText(b []byte) error {
	parsed, err := ParseNumbering(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// TopLevel returns the first label segment, or 0 for the root.
func (n Numbering) TopLevel() int {
	if len(n) == 0 {
		return 0
	}
	return n[0]
}

// Parent returns the label of the enclosing call.
func (n Numbering) Parent() Numbering {
	if len(n) == 0 {
		return nil
	}
	return n[:len(n)-1]
}

// Child returns the label of the i-th (1-based) nested call.
func (n Numbering) Child(i int) Numbering {
	out := make(Numbering, len(n)+1)
	copy(out, n)
	out[len(n)] = i
	return out
}

// Equal compares two labels segment by segment.
func (n Numbering) Equal(other Numbering) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseNumbering parses "2.1" (or "-" for the root).
func ParseNumbering(s string) (Numbering, error) {
	if s == "-" || s == "" {
		return Numbering{}, nil
	}
	parts := strings.Split(s, ".")
	n := make(Numbering, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid numbering %q", s)
		}
		n[i] = v
	}
	return n, nil
}

// Node is one invocation occurrence in a call tree.
type Node struct {
	Method   MethodDescriptor
	Parent   *Node
	Children []*Node
	Depth    int
	Terminal Terminal

	// Numbering and TopLevel are set by Assign.
	Numbering Numbering
	TopLevel  int

	// Site is the call site that produced this node; zero for the root.
	Site CallSite
}

// Caller returns the calling method, or false for the root.
func (n *Node) Caller() (MethodDescriptor, bool) {
	if n.Parent == nil {
		return MethodDescriptor{}, false
	}
	return n.Parent.Method, true
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool { return n.Parent == nil }

// onPath reports whether m occurs on the path from the root to n.
func (n *Node) onPath(m MethodDescriptor) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Method.Equal(m) {
			return true
		}
	}
	return false
}

func (n *Node) addChild(m MethodDescriptor, site CallSite, t Terminal) *Node {
	child := &Node{
		Method:   m,
		Parent:   n,
		Depth:    n.Depth + 1,
		Terminal: t,
		Site:     site,
	}
	n.Children = append(n.Children, child)
	return child
}

// CallTree is a rooted tree of invocation occurrences in static call order.
type CallTree struct {
	Root     *Node
	numbered bool
}

// Walk visits nodes in preorder, stopping early when fn returns false.
func (t *CallTree) Walk(fn func(*Node) bool) {
	if t == nil || t.Root == nil {
		return
	}
	var visit func(*Node) bool
	visit = func(n *Node) bool {
		if !fn(n) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(t.Root)
}

// Size returns the number of nodes including the root.
func (t *CallTree) Size() int {
	count := 0
	t.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// MaxDepth returns the depth of the deepest node.
func (t *CallTree) MaxDepth() int {
	deepest := 0
	t.Walk(func(n *Node) bool {
		if n.Depth > deepest {
			deepest = n.Depth
		}
		return true
	})
	return deepest
}

// Find returns the node with the given numbering.
func (t *CallTree) Find(num Numbering) *Node {
	if t == nil || t.Root == nil {
		return nil
	}
	cur := t.Root
	for _, i := range num {
		if i < 1 || i > len(cur.Children) {
			return nil
		}
		cur = cur.Children[i-1]
	}
	return cur
}
