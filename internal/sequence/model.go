package sequence

import "fmt"

// Activation is the lifeline segment of one call occurrence. Start and End
// index the call and return Link of the occurrence; the root activation
// spans the whole link sequence.
type Activation struct {
	Method    MethodDescriptor `json:"-"`
	Object    int              `json:"object"`
	Numbering Numbering        `json:"numbering"`
	Terminal  Terminal         `json:"terminal"`
	Start     int              `json:"start"`
	End       int              `json:"end"`
	Site      CallSite         `json:"-"`
}

// Link is a directed message between two methods. Every call link has
// exactly one return link with the same numbering and reversed endpoints.
type Link struct {
	From      MethodDescriptor `json:"-"`
	To        MethodDescriptor `json:"-"`
	Numbering Numbering        `json:"numbering"`
	TopLevel  int              `json:"top_level"`
	Return    bool             `json:"return"`
}

// DiagramModel is the renderer-agnostic output. Treat it as a read-only
// snapshot.
type DiagramModel struct {
	Title       string
	Root        MethodDescriptor
	Objects     []ObjectDescriptor
	Activations []Activation
	Links       []Link
}

// CallLinks returns the call (non-return) links in order.
func (m *DiagramModel) CallLinks() []Link {
	var out []Link
	for _, l := range m.Links {
		if !l.Return {
			out = append(out, l)
		}
	}
	return out
}

// ObjectIndex returns the position of o among the participants, or -1.
func (m *DiagramModel) ObjectIndex(o ObjectDescriptor) int {
	for i, obj := range m.Objects {
		if obj.FullName() == o.FullName() {
			return i
		}
	}
	return -1
}

// Flatten turns a numbered call tree into participants, activations and
// links. Flattening an empty or unnumbered tree is a programming error.
func Flatten(t *CallTree) (*DiagramModel, error) {
	if t == nil || t.Root == nil {
		return nil, ErrEmptyTree
	}
	if !t.numbered {
		return nil, ErrUnnumbered
	}

	f := &flattener{
		model: &DiagramModel{
			Title: t.Root.Method.Title(),
			Root:  t.Root.Method,
		},
		objects: make(map[string]int),
	}

	rootAct := f.activate(t.Root)
	for _, c := range t.Root.Children {
		if err := f.visit(c); err != nil {
			return nil, err
		}
	}
	f.model.Activations[rootAct].End = len(f.model.Links)
	return f.model, nil
}

type flattener struct {
	model   *DiagramModel
	objects map[string]int
}

func (f *flattener) object(o ObjectDescriptor) int {
	if i, ok := f.objects[o.FullName()]; ok {
		return i
	}
	i := len(f.model.Objects)
	f.model.Objects = append(f.model.Objects, o)
	f.objects[o.FullName()] = i
	return i
}

func (f *flattener) activate(n *Node) int {
	f.model.Activations = append(f.model.Activations, Activation{
		Method:    n.Method,
		Object:    f.object(n.Method.Object()),
		Numbering: n.Numbering,
		Terminal:  n.Terminal,
		Start:     len(f.model.Links),
		Site:      n.Site,
	})
	return len(f.model.Activations) - 1
}

func (f *flattener) visit(n *Node) error {
	if len(n.Numbering) == 0 || len(n.Numbering) != n.Depth {
		return fmt.Errorf("%w: node %s at depth %d has label %s", ErrUnnumbered, n.Method.Key(), n.Depth, n.Numbering)
	}

	act := f.activate(n)
	f.model.Links = append(f.model.Links, Link{
		From:      n.Parent.Method,
		To:        n.Method,
		Numbering: n.Numbering,
		TopLevel:  n.TopLevel,
	})
	for _, c := range n.Children {
		if err := f.visit(c); err != nil {
			return err
		}
	}
	f.model.Activations[act].End = len(f.model.Links)
	f.model.Links = append(f.model.Links, Link{
		From:      n.Method,
		To:        n.Parent.Method,
		Numbering: n.Numbering,
		TopLevel:  n.TopLevel,
		Return:    true,
	})
	return nil
}
