package sequence

import "fmt"

// Reconstruct rebuilds the numbered call tree from a diagram model's link
// sequence, checking that every call link is closed by its matching return
// link after all nested pairs. Terminal states and call sites are taken from
// the activations.
func Reconstruct(m *DiagramModel) (*CallTree, error) {
	if m == nil || m.Root.IsZero() {
		return nil, ErrEmptyTree
	}

	acts := make(map[string]Activation, len(m.Activations))
	for _, a := range m.Activations {
		acts[a.Numbering.String()] = a
	}

	root := &Node{Method: m.Root, Numbering: Numbering{}}
	if a, ok := acts[root.Numbering.String()]; ok {
		root.Terminal = a.Terminal
	}
	stack := []*Node{root}

	for i, l := range m.Links {
		top := stack[len(stack)-1]
		if !l.Return {
			want := top.Numbering.Child(len(top.Children) + 1)
			switch {
			case !l.From.Equal(top.Method):
				return nil, fmt.Errorf("%w: link %d calls from %s, expected %s", ErrInconsistentModel, i, l.From.Key(), top.Method.Key())
			case !l.Numbering.Equal(want):
				return nil, fmt.Errorf("%w: link %d numbered %s, expected %s", ErrInconsistentModel, i, l.Numbering, want)
			case l.TopLevel != want.TopLevel():
				return nil, fmt.Errorf("%w: link %d top-level %d, expected %d", ErrInconsistentModel, i, l.TopLevel, want.TopLevel())
			}
			child := &Node{
				Method:    l.To,
				Parent:    top,
				Depth:     top.Depth + 1,
				Numbering: l.Numbering,
				TopLevel:  l.TopLevel,
			}
			if a, ok := acts[l.Numbering.String()]; ok {
				child.Terminal = a.Terminal
				child.Site = a.Site
			}
			top.Children = append(top.Children, child)
			stack = append(stack, child)
			continue
		}

		if top.Parent == nil {
			return nil, fmt.Errorf("%w: link %d returns without a call", ErrInconsistentModel, i)
		}
		if !l.Numbering.Equal(top.Numbering) || !l.From.Equal(top.Method) || !l.To.Equal(top.Parent.Method) {
			return nil, fmt.Errorf("%w: link %d returns %s, expected return of %s", ErrInconsistentModel, i, l.Numbering, top.Numbering)
		}
		stack = stack[:len(stack)-1]
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d calls never return", ErrInconsistentModel, len(stack)-1)
	}
	return &CallTree{Root: root, numbered: true}, nil
}
