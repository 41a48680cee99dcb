// Package tree is the in-memory labeled ordered tree behind a session.
//
// Nodes live in an arena indexed by stable IDs. A node owns nothing: the
// parent's Children slice is the owning relation and Parent is only a
// back reference. IDs are never reused inside one Store, so an ID held by
// a variable binding or the span tracker can always be checked for
// liveness with Node.
package tree

import (
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/internal/span"
)

var (
	ErrNotFound = errors.New("node not found")
	ErrRoot     = errors.New("operation not allowed on the root node")
	ErrCycle    = errors.New("cannot attach a node below itself")
	ErrAttached = errors.New("node is still attached")
)

// ID identifies a node within one Store.
type ID uint32

const (
	// None is the zero ID; it never names a node.
	None ID = 0
	// RootID is the ID of every store's root.
	RootID ID = 1
)

// Node is the universal primitive.
type Node struct {
	ID       ID
	Label    string
	Value    *string
	Parent   ID
	Children []ID
	// Origin is the lens skeleton for nodes that came from a file or a
	// text_store; nil for nodes created in memory.
	Origin *span.Origin
	// Dirty is set when the node or any descendant changed since the
	// last load or save.
	Dirty bool
}

// HasValue reports whether the node carries a value.
func (n *Node) HasValue() bool { return n.Value != nil }

// ValueString returns the value or "" when there is none.
func (n *Node) ValueString() string {
	if n.Value == nil {
		return ""
	}
	return *n.Value
}

// Store is the arena. The zero value is not usable; call New.
type Store struct {
	nodes []*Node // nodes[id]; nil once removed
	live  int
}

// New returns a store holding only the root.
func New() *Store {
	s := &Store{nodes: make([]*Node, 2, 64)}
	s.nodes[RootID] = &Node{ID: RootID}
	s.live = 1
	return s
}

// Root returns the root node.
func (s *Store) Root() *Node { return s.nodes[RootID] }

// Len returns the number of live nodes, root included.
func (s *Store) Len() int { return s.live }

// Node returns the node for id, or nil if it does not exist.
func (s *Store) Node(id ID) *Node {
	if int(id) >= len(s.nodes) {
		return nil
	}
	return s.nodes[id]
}

// Get is Node with an error for missing IDs.
func (s *Store) Get(id ID) (*Node, error) {
	n := s.Node(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return n, nil
}

// Children returns the child nodes of id in order.
func (s *Store) Children(id ID) []*Node {
	n := s.Node(id)
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, s.nodes[c])
	}
	return out
}

// IndexOf returns the position of id among its parent's children, or -1.
func (s *Store) IndexOf(id ID) int {
	n := s.Node(id)
	if n == nil || n.Parent == None {
		return -1
	}
	p := s.nodes[n.Parent]
	for i, c := range p.Children {
		if c == id {
			return i
		}
	}
	return -1
}

// alloc creates a detached node.
func (s *Store) alloc(label string) *Node {
	n := &Node{ID: ID(len(s.nodes)), Label: label, Dirty: true}
	s.nodes = append(s.nodes, n)
	s.live++
	return n
}

// NewChild creates a node labeled label under parent at position pos
// (pos < 0 or past the end appends).
func (s *Store) NewChild(parent ID, label string, pos int) (*Node, error) {
	p, err := s.Get(parent)
	if err != nil {
		return nil, err
	}
	n := s.alloc(label)
	s.link(p, n, pos)
	s.MarkDirty(parent)
	return n, nil
}

// AppendAfterLabel creates a node under parent placed right after the
// last existing child with the same label, or at the end when there is
// none. Files print more naturally when repeated entries stay together.
func (s *Store) AppendAfterLabel(parent ID, label string) (*Node, error) {
	p, err := s.Get(parent)
	if err != nil {
		return nil, err
	}
	pos := -1
	for i := len(p.Children) - 1; i >= 0; i-- {
		if s.nodes[p.Children[i]].Label == label {
			pos = i + 1
			break
		}
	}
	return s.NewChild(parent, label, pos)
}

// InsertSibling creates a node labeled label directly before or after ref.
func (s *Store) InsertSibling(ref ID, label string, before bool) (*Node, error) {
	r, err := s.Get(ref)
	if err != nil {
		return nil, err
	}
	if r.Parent == None {
		return nil, ErrRoot
	}
	pos := s.IndexOf(ref)
	if !before {
		pos++
	}
	return s.NewChild(r.Parent, label, pos)
}

func (s *Store) link(p, n *Node, pos int) {
	n.Parent = p.ID
	if pos < 0 || pos >= len(p.Children) {
		p.Children = append(p.Children, n.ID)
		return
	}
	p.Children = append(p.Children, None)
	copy(p.Children[pos+1:], p.Children[pos:])
	p.Children[pos] = n.ID
}

// Detach unlinks id from its parent. The subtree stays in the arena and
// must be re-attached with Attach or dropped with Free.
func (s *Store) Detach(id ID) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	if n.Parent == None {
		return ErrRoot
	}
	s.MarkDirty(n.Parent)
	p := s.nodes[n.Parent]
	for i, c := range p.Children {
		if c == id {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	n.Parent = None
	return nil
}

// Attach links a detached node under parent at pos.
func (s *Store) Attach(id, parent ID, pos int) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	if id == RootID {
		return ErrRoot
	}
	if n.Parent != None {
		return ErrAttached
	}
	p, err := s.Get(parent)
	if err != nil {
		return err
	}
	for a := p; a != nil; a = s.Node(a.Parent) {
		if a.ID == id {
			return ErrCycle
		}
	}
	s.link(p, n, pos)
	n.Dirty = true
	s.MarkDirty(parent)
	return nil
}

// Remove deletes id and its subtree and returns the removed IDs in
// pre-order (id first).
func (s *Store) Remove(id ID) ([]ID, error) {
	if id == RootID {
		return nil, ErrRoot
	}
	if err := s.Detach(id); err != nil {
		return nil, err
	}
	return s.Free(id), nil
}

// RemoveChildren deletes every child subtree of id and returns the
// removed IDs.
func (s *Store) RemoveChildren(id ID) []ID {
	n := s.Node(id)
	if n == nil || len(n.Children) == 0 {
		return nil
	}
	var out []ID
	for _, c := range append([]ID(nil), n.Children...) {
		ids, _ := s.Remove(c)
		out = append(out, ids...)
	}
	return out
}

// Free drops a detached subtree from the arena.
func (s *Store) Free(id ID) []ID {
	ids := s.Subtree(id)
	for _, d := range ids {
		s.nodes[d] = nil
		s.live--
	}
	return ids
}

// SetValue replaces the node's value; nil clears it.
func (s *Store) SetValue(id ID, v *string) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	if v != nil {
		c := *v
		v = &c
	}
	n.Value = v
	s.MarkDirty(id)
	return nil
}

// SetLabel relabels a node in place.
func (s *Store) SetLabel(id ID, label string) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	if id == RootID {
		return ErrRoot
	}
	n.Label = label
	s.MarkDirty(id)
	return nil
}

// MarkDirty flags id and all its ancestors as changed.
func (s *Store) MarkDirty(id ID) {
	for n := s.Node(id); n != nil; n = s.Node(n.Parent) {
		n.Dirty = true
	}
}

// ClearDirty resets the dirty flag on the whole subtree of id.
func (s *Store) ClearDirty(id ID) {
	s.Walk(id, func(n *Node) bool {
		n.Dirty = false
		return true
	})
}

// Contains reports whether anc is id or one of its ancestors.
func (s *Store) Contains(anc, id ID) bool {
	for n := s.Node(id); n != nil; n = s.Node(n.Parent) {
		if n.ID == anc {
			return true
		}
	}
	return false
}

// Depth returns the number of edges between id and the root.
func (s *Store) Depth(id ID) int {
	d := 0
	for n := s.Node(id); n != nil && n.Parent != None; n = s.Node(n.Parent) {
		d++
	}
	return d
}

// Walk visits the subtree of id in document order. Returning false from
// fn skips the node's children.
func (s *Store) Walk(id ID, fn func(*Node) bool) {
	n := s.Node(id)
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		s.Walk(c, fn)
	}
}

// Subtree returns id and all its descendants in document order.
func (s *Store) Subtree(id ID) []ID {
	var out []ID
	s.Walk(id, func(n *Node) bool {
		out = append(out, n.ID)
		return true
	})
	return out
}

// Before reports whether a precedes b in document order.
func (s *Store) Before(a, b ID) bool {
	pa, pb := s.ancestry(a), s.ancestry(b)
	i := 0
	for i < len(pa) && i < len(pb) && pa[i] == pb[i] {
		i++
	}
	switch {
	case i == len(pa):
		return i < len(pb) // a is an ancestor of b
	case i == len(pb):
		return false
	}
	parent := s.nodes[pa[i-1]]
	for _, c := range parent.Children {
		if c == pa[i] {
			return true
		}
		if c == pb[i] {
			return false
		}
	}
	return false
}

// ancestry returns the chain root..id.
func (s *Store) ancestry(id ID) []ID {
	var rev []ID
	for n := s.Node(id); n != nil; n = s.Node(n.Parent) {
		rev = append(rev, n.ID)
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}
