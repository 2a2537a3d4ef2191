package sequence

// Assign labels every non-root node in preorder: the root's children get
// 1, 2, 3, ... and child i of a node labeled p gets p.i. Cut nodes are
// labeled like any other call occurrence. Running Assign again on the same
// tree reproduces the same labels.
func Assign(t *CallTree) {
	if t == nil || t.Root == nil {
		return
	}
	t.Root.Numbering = Numbering{}
	t.Root.TopLevel = 0
	assignChildren(t.Root)
	t.numbered = true
}

func assignChildren(n *Node) {
	for i, c := range n.Children {
		c.Numbering = n.Numbering.Child(i + 1)
		c.TopLevel = c.Numbering.TopLevel()
		assignChildren(c)
	}
}

// Numbered reports whether Assign has run on t.
func (t *CallTree) Numbered() bool { return t != nil && t.numbered }
