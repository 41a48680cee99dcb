// Package span holds byte-range provenance for tree nodes: the public
// Span reported to callers, the Origin skeleton lenses use to print
// unchanged text back verbatim, and the Tracker that decides which spans
// are still trustworthy after mutations.
package span

import "fmt"

// Range is a half-open byte range [Start, End) within a source text.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes covered by r.
func (r Range) Len() uint32 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool { return r.Len() == 0 }

// Contains reports whether o lies entirely within r.
func (r Range) Contains(o Range) bool {
	return o.Start >= r.Start && o.End <= r.End
}

// Slice returns the bytes of src covered by r, clamped to src.
func (r Range) Slice(src []byte) []byte {
	start, end := int(r.Start), int(r.End)
	if start > len(src) {
		start = len(src)
	}
	if end > len(src) {
		end = len(src)
	}
	if start > end {
		return nil
	}
	return src[start:end]
}

func (r Range) String() string {
	return fmt.Sprintf("[%d:%d]", r.Start, r.End)
}

// Span is the provenance of one node as reported to callers.
type Span struct {
	Filename string
	Label    Range
	Value    Range
	Node     Range
}

// Origin is the skeleton a lens records for every node it parses.
// Unlike Span it survives mutations: the printer compares the node's
// current label and value against OrigLabel/OrigValue and splices only
// what changed.
type Origin struct {
	File  string
	Label Range
	Value Range
	Node  Range
	// Body is the region holding the node's children. For leaves it is
	// an empty range at the point where children would be inserted.
	Body Range
	// Lead and Tail are the parts of Body before the first and after the
	// last original child. A childless node has all of Body as Lead.
	Lead Range
	Tail Range

	// Seq numbers nodes of one parse in pre-order; Group is the Seq of
	// the original parent and Index the position among its children.
	Seq   uint32
	Group uint32
	Index int
	// Arity is the original number of children.
	Arity int
	// Col is the 0-based column of Node.Start.
	Col uint32

	// Quote is the quote character surrounding the value range, or 0.
	Quote byte
	// Tag is a lens-private classification of the node.
	Tag string

	OrigLabel string
	OrigValue *string
}

// Span converts o to the public form.
func (o *Origin) Span() Span {
	return Span{
		Filename: o.File,
		Label:    o.Label,
		Value:    o.Value,
		Node:     o.Node,
	}
}

// Clone returns a deep copy of o.
func (o *Origin) Clone() *Origin {
	if o == nil {
		return nil
	}
	c := *o
	if o.OrigValue != nil {
		v := *o.OrigValue
		c.OrigValue = &v
	}
	return &c
}

// FollowedBy reports whether next was o's immediate successor in the
// original sibling list, so the text between them can be reused.
func (o *Origin) FollowedBy(next *Origin) bool {
	if o == nil || next == nil {
		return false
	}
	return o.File == next.File &&
		o.Group == next.Group &&
		next.Index == o.Index+1 &&
		next.Node.Start >= o.Node.End
}

// First reports whether o was the first original child of parent.
func (o *Origin) First(parent *Origin) bool {
	return o != nil && parent != nil && o.File == parent.File &&
		o.Group == parent.Seq && o.Index == 0
}

// Last reports whether o was the last original child of parent.
func (o *Origin) Last(parent *Origin) bool {
	return o != nil && parent != nil && o.File == parent.File &&
		o.Group == parent.Seq && o.Index == parent.Arity-1
}
