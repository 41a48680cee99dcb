// Package lens converts configuration file text to trees and back.
//
// A Lens parses text into a detached Node tree carrying span.Origin
// skeletons and prints a (possibly modified) tree back. Printing goes
// through a shared splice printer: unchanged subtrees are copied from
// the original text, changed nodes are patched in place and only nodes
// without an origin are rendered from scratch by the lens's Format.
package lens

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/internal/span"
)

var (
	ErrUnknownLens = errors.New("unknown lens")
	ErrRoundTrip   = errors.New("lens does not round-trip")
)

// Lens is a bidirectional text/tree transformation for one format.
type Lens interface {
	Name() string
	// Get parses text into a tree whose root stands for the whole file.
	Get(text []byte, file string) (*Node, error)
	// Put prints tree. orig is the text tree was parsed from, or nil
	// for a file that does not exist yet.
	Put(tree *Node, orig []byte, file string) ([]byte, error)
}

// Format supplies the format-specific pieces of the splice printer.
type Format interface {
	// Render writes a node that has no usable origin, with its subtree,
	// at the given nesting depth (children of the root are depth 0).
	Render(w *bytes.Buffer, n *Node, depth int) error
	// Value renders v into the value range of an existing node.
	Value(n *Node, v string) (string, error)
	// Separator goes between the children prev and next of parent when
	// the original text between them cannot be reused. prev is nil before
	// a first child and next is nil after a last child. out is everything
	// printed so far.
	Separator(out []byte, parent, prev, next *Node, depth int) string
}

// Node is a detached tree exchanged with lenses.
type Node struct {
	Label    string
	Value    *string
	Children []*Node
	Origin   *span.Origin
	Dirty    bool
}

// NewNode returns an in-memory node.
func NewNode(label string, value *string) *Node {
	return &Node{Label: label, Value: value, Dirty: true}
}

// Str returns a pointer to a copy of s.
func Str(s string) *string { return &s }

// Add appends a child and returns it.
func (n *Node) Add(c *Node) *Node {
	n.Children = append(n.Children, c)
	return c
}

// Child returns the first child labeled label.
func (n *Node) Child(label string) *Node {
	for _, c := range n.Children {
		if c.Label == label {
			return c
		}
	}
	return nil
}

// ValueString returns the value or "".
func (n *Node) ValueString() string {
	if n.Value == nil {
		return ""
	}
	return *n.Value
}

// Walk visits n and its descendants in document order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// ParseError locates a Get failure.
type ParseError struct {
	Lens string
	File string
	Line int // 1-based
	Col  int // 1-based
	Msg  string
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%s: line %d, column %d: %s", e.Lens, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("%s: %s:%d:%d: %s", e.Lens, e.File, e.Line, e.Col, e.Msg)
}

func parseErrorAt(lens, file string, text []byte, off int, format string, args ...any) *ParseError {
	if off > len(text) {
		off = len(text)
	}
	line := 1 + bytes.Count(text[:off], []byte("\n"))
	col := off - bytes.LastIndexByte(text[:off], '\n')
	return &ParseError{Lens: lens, File: file, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// Check verifies that l prints text back unchanged after a parse, with
// every node forced through the patching path of the printer.
func Check(l Lens, text []byte, file string) error {
	root, err := l.Get(text, file)
	if err != nil {
		return err
	}
	root.Walk(func(n *Node) { n.Dirty = true })
	out, err := l.Put(root, text, file)
	if err != nil {
		return err
	}
	if !bytes.Equal(out, text) {
		return fmt.Errorf("%w: %s prints %d bytes back for %d", ErrRoundTrip, l.Name(), len(out), len(text))
	}
	return nil
}
