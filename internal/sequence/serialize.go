package sequence

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// formatVersion is the first line of every canonical text.
const formatVersion = "flowseq-sequence 1"

// Serialize renders the canonical text of a diagram model: one line per
// participant, activation and link, in model order. The text is a pure
// function of the model's semantics; source positions are left out so that
// moving code without changing calls does not count as a change.
func Serialize(m *DiagramModel) string {
	var b strings.Builder
	b.WriteString(formatVersion)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "title %s\n", m.Title)
	fmt.Fprintf(&b, "root %s\n", m.Root.Key())

	for i, o := range m.Objects {
		fmt.Fprintf(&b, "object %d %s\n", i, o.FullName())
	}
	for _, a := range m.Activations {
		fmt.Fprintf(&b, "activation %s %s object=%d span=%d:%d %s\n",
			a.Numbering, a.Terminal, a.Object, a.Start, a.End, a.Method.Key())
	}
	for _, l := range m.Links {
		indent := strings.Repeat("  ", max(len(l.Numbering)-1, 0))
		kind := "call"
		if l.Return {
			kind = "return"
		}
		fmt.Fprintf(&b, "%s%s %s top=%d %s -> %s\n",
			indent, kind, l.Numbering, l.TopLevel, l.From.Key(), l.To.Key())
	}
	return b.String()
}

// Equal reports whether two canonical texts describe the same diagram.
func Equal(a, b string) bool {
	return a == b
}

// diffContext is the number of unchanged lines kept around each hunk.
const diffContext = 3

// Diff renders a unified diff from oldText to newText. It returns the empty
// string when the texts are equal.
func Diff(oldText, newText string) (string, error) {
	if Equal(oldText, newText) {
		return "", nil
	}
	fd := &diff.FileDiff{
		OrigName: "a/sequence",
		NewName:  "b/sequence",
		Hunks:    hunks(splitLines(oldText), splitLines(newText)),
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("printing diff: %w", err)
	}
	return string(out), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// hunks groups the matcher's opcodes into unified-diff hunks with
// diffContext lines of context on each side.
func hunks(a, b []string) []*diff.Hunk {
	groups := difflib.NewMatcher(a, b).GetGroupedOpCodes(diffContext)
	out := make([]*diff.Hunk, 0, len(groups))
	for _, g := range groups {
		first, last := g[0], g[len(g)-1]
		h := &diff.Hunk{
			OrigStartLine: hunkStart(first.I1, last.I2),
			OrigLines:     int32(last.I2 - first.I1),
			NewStartLine:  hunkStart(first.J1, last.J2),
			NewLines:      int32(last.J2 - first.J1),
		}
		var body strings.Builder
		for _, op := range g {
			switch op.Tag {
			case 'e':
				writeLines(&body, ' ', a[op.I1:op.I2])
			case 'd':
				writeLines(&body, '-', a[op.I1:op.I2])
			case 'i':
				writeLines(&body, '+', b[op.J1:op.J2])
			case 'r':
				writeLines(&body, '-', a[op.I1:op.I2])
				writeLines(&body, '+', b[op.J1:op.J2])
			}
		}
		h.Body = []byte(body.String())
		out = append(out, h)
	}
	return out
}

// hunkStart is the 1-based start line of a range; an empty range points at
// the line before it.
func hunkStart(from, to int) int32 {
	if to == from {
		return int32(from)
	}
	return int32(from + 1)
}

func writeLines(b *strings.Builder, prefix byte, lines []string) {
	for _, l := range lines {
		b.WriteByte(prefix)
		b.WriteString(l)
		b.WriteByte('\n')
	}
}
