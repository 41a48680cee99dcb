package lens

import (
	"bytes"
	"sort"

	"github.com/agentic-research/arbor/internal/span"
)

type printer struct {
	f    Format
	orig []byte
	file string
	out  bytes.Buffer
}

// Print is the shared Put implementation.
func Print(f Format, root *Node, orig []byte, file string) ([]byte, error) {
	p := &printer{f: f, orig: orig, file: file}
	var err error
	switch {
	case !p.usable(root.Origin):
		err = p.body(root, nil, 0)
	case !root.Dirty:
		p.out.Write(root.Origin.Node.Slice(orig))
	default:
		err = p.patch(root, -1)
	}
	if err != nil {
		return nil, err
	}
	return p.out.Bytes(), nil
}

func (p *printer) usable(o *span.Origin) bool {
	return o != nil && p.orig != nil && o.File == p.file && int(o.Node.End) <= len(p.orig)
}

func (p *printer) node(n *Node, depth int) error {
	if !p.usable(n.Origin) {
		return p.f.Render(&p.out, n, depth)
	}
	if !n.Dirty {
		p.out.Write(n.Origin.Node.Slice(p.orig))
		return nil
	}
	return p.patch(n, depth)
}

type splice struct {
	r    span.Range
	emit func() error
}

// patch prints a changed node by copying its original text and replacing
// the label, value and body ranges that need it.
func (p *printer) patch(n *Node, depth int) error {
	o := n.Origin
	if (n.Value == nil) != (o.OrigValue == nil) {
		return p.f.Render(&p.out, n, depth)
	}
	var edits []splice
	if n.Label != o.OrigLabel && !o.Label.Empty() {
		label := n.Label
		edits = append(edits, splice{o.Label, func() error {
			p.out.WriteString(label)
			return nil
		}})
	}
	if n.Value != nil && *n.Value != *o.OrigValue {
		v, err := p.f.Value(n, *n.Value)
		if err != nil {
			return err
		}
		edits = append(edits, splice{o.Value, func() error {
			p.out.WriteString(v)
			return nil
		}})
	}
	if len(n.Children) > 0 || o.Arity > 0 {
		edits = append(edits, splice{o.Body, func() error {
			return p.body(n, o, depth+1)
		}})
	}
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].r.Start < edits[j].r.Start })

	cur := o.Node.Start
	for _, e := range edits {
		if e.r.Start < cur || e.r.End > o.Node.End || e.r.End < e.r.Start {
			return p.f.Render(&p.out, n, depth)
		}
		cur = e.r.End
	}
	cur = o.Node.Start
	for _, e := range edits {
		p.out.Write(span.Range{Start: cur, End: e.r.Start}.Slice(p.orig))
		if err := e.emit(); err != nil {
			return err
		}
		cur = e.r.End
	}
	p.out.Write(span.Range{Start: cur, End: o.Node.End}.Slice(p.orig))
	return nil
}

// body prints the children of n between the original lead and tail.
// o is n's origin, or nil when n is rendered without one.
func (p *printer) body(n *Node, o *span.Origin, depth int) error {
	var tail []byte
	if o != nil {
		p.out.Write(o.Lead.Slice(p.orig))
		tail = o.Tail.Slice(p.orig)
	}
	var prev *Node
	for _, c := range n.Children {
		co := c.Origin
		if !p.usable(co) {
			co = nil
		}
		switch {
		case prev == nil:
			if !co.First(o) {
				p.out.WriteString(p.f.Separator(p.out.Bytes(), n, nil, c, depth))
			}
		case p.usable(prev.Origin) && co != nil && prev.Origin.FollowedBy(co):
			p.out.Write(span.Range{Start: prev.Origin.Node.End, End: co.Node.Start}.Slice(p.orig))
		default:
			p.out.WriteString(p.f.Separator(p.out.Bytes(), n, prev, c, depth))
		}
		if err := p.node(c, depth); err != nil {
			return err
		}
		prev = c
	}
	if prev != nil && len(tail) == 0 {
		if po := prev.Origin; !p.usable(po) || !po.Last(o) {
			p.out.WriteString(p.f.Separator(p.out.Bytes(), n, prev, nil, depth))
		}
	}
	p.out.Write(tail)
	return nil
}
