package session

import (
	"strings"
	"sync"
)

// Shared serializes access to one Session for surfaces that serve
// several clients at once (the NFS and FUSE views, the MCP server).
type Shared struct {
	mu sync.Mutex
	s  *Session
}

func NewShared(s *Session) *Shared {
	return &Shared{s: s}
}

// Do runs fn with exclusive use of the session.
func (sh *Shared) Do(fn func(*Session) error) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return fn(sh.s)
}

// NodeView is a snapshot of one node as filesystem views present it.
type NodeView struct {
	Path  string
	Label string
	Value *string
	// Children holds the last path segment of every child, in order.
	// Siblings sharing a label carry a position, e.g. alias[2].
	Children []string
}

// Lookup returns the node expr matches, which must be exactly one.
func (s *Session) Lookup(expr string) (*NodeView, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	id, e := s.single(expr)
	if e != nil {
		return nil, e
	}
	n := s.store.Node(id)
	v := &NodeView{Path: s.store.Path(id), Label: n.Label}
	if n.Value != nil {
		c := *n.Value
		v.Value = &c
	}
	for _, c := range n.Children {
		p := s.store.Path(c)
		v.Children = append(v.Children, p[strings.LastIndexByte(p, '/')+1:])
	}
	return v, nil
}
