package lens

import (
	"bytes"

	"github.com/agentic-research/arbor/internal/span"
)

// builder collects nodes while a lens parses one text.
type builder struct {
	file string
	text []byte
}

func (b *builder) root() *Node {
	all := span.Range{Start: 0, End: uint32(len(b.text))}
	return &Node{Origin: &span.Origin{File: b.file, Node: all, Body: all}}
}

// add appends a child of parent. Ranges are byte offsets into the text.
func (b *builder) add(parent *Node, label string, value *string, o span.Origin) *Node {
	o.File = b.file
	if start := int(o.Node.Start); start <= len(b.text) {
		o.Col = uint32(start - (bytes.LastIndexByte(b.text[:start], '\n') + 1))
	}
	if o.Body == (span.Range{}) {
		o.Body = span.Range{Start: o.Node.End, End: o.Node.End}
	}
	n := &Node{Label: label, Value: value, Origin: &o}
	parent.Children = append(parent.Children, n)
	return n
}

// seal numbers the finished tree and records the original label, value
// and sibling layout every origin needs for printing.
func seal(root *Node) *Node {
	var seq uint32
	var walk func(n *Node)
	walk = func(n *Node) {
		seq++
		o := n.Origin
		o.Seq = seq
		o.Arity = len(n.Children)
		o.OrigLabel = n.Label
		if n.Value != nil {
			o.OrigValue = Str(*n.Value)
		}
		if len(n.Children) == 0 {
			o.Lead = o.Body
			o.Tail = span.Range{Start: o.Body.End, End: o.Body.End}
		} else {
			first, last := n.Children[0].Origin, n.Children[len(n.Children)-1].Origin
			o.Lead = span.Range{Start: o.Body.Start, End: first.Node.Start}
			o.Tail = span.Range{Start: last.Node.End, End: o.Body.End}
		}
		for i, c := range n.Children {
			c.Origin.Group = o.Seq
			c.Origin.Index = i
			walk(c)
		}
	}
	walk(root)
	return root
}
