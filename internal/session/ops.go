package session

import (
	"strconv"
	"strings"

	"github.com/agentic-research/arbor/internal/pathx"
	"github.com/agentic-research/arbor/internal/span"
	"github.com/agentic-research/arbor/internal/tree"
)

func (s *Session) parse(expr string) (*pathx.Path, *Error) {
	p, err := pathx.Parse(expr)
	if err != nil {
		return nil, s.record(fromPathx(err))
	}
	return p, nil
}

// nodes evaluates expr against the context node.
func (s *Session) nodes(expr string) ([]tree.ID, *Error) {
	p, e := s.parse(expr)
	if e != nil {
		return nil, e
	}
	ids, err := s.engine.Nodes(p, s.contextNode())
	if err != nil {
		return nil, s.record(fromPathx(err))
	}
	return ids, nil
}

// one resolves expr to at most one node; tree.None means no match.
func (s *Session) one(expr string) (tree.ID, *Error) {
	ids, e := s.nodes(expr)
	if e != nil {
		return tree.None, e
	}
	switch len(ids) {
	case 0:
		return tree.None, nil
	case 1:
		return ids[0], nil
	}
	return tree.None, s.fail(EMMatch, expr, "")
}

// single is one with a missing node reported as ENoMatch.
func (s *Session) single(expr string) (tree.ID, *Error) {
	id, e := s.one(expr)
	if e == nil && id == tree.None {
		return tree.None, s.fail(ENoMatch, expr, "")
	}
	return id, e
}

// resolveOrCreate returns the single node p matches from ctx, creating
// it and its missing ancestors when nothing matches.
func (s *Session) resolveOrCreate(p *pathx.Path, ctx tree.ID) (tree.ID, *Error) {
	ids, err := s.engine.Nodes(p, ctx)
	if err != nil {
		return tree.None, s.record(fromPathx(err))
	}
	switch len(ids) {
	case 1:
		return ids[0], nil
	case 0:
	default:
		return tree.None, s.fail(EMMatch, p.String(), "")
	}
	plan, err := s.engine.PlanCreate(p, ctx)
	if err != nil {
		return tree.None, s.record(fromPathx(err))
	}
	leaf, _, err := s.engine.Create(plan)
	if err != nil {
		return tree.None, s.fail(EInternal, "create failed", err.Error())
	}
	return leaf, nil
}

func validLabel(label string) bool { return tree.ValidLabel(label) }

func (s *Session) setValue(id tree.ID, value *string) {
	_ = s.store.SetValue(id, value)
	s.spans.Invalidate(uint32(id))
}

// Get returns the value of the node expr matches. A missing node and a
// node without a value both give nil.
func (s *Session) Get(expr string) (*string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	id, e := s.one(expr)
	if e != nil {
		return nil, e
	}
	n := s.store.Node(id)
	if n == nil || n.Value == nil {
		return nil, nil
	}
	v := *n.Value
	return &v, nil
}

// Exists reports whether expr matches a node.
func (s *Session) Exists(expr string) (bool, error) {
	if err := s.begin(); err != nil {
		return false, err
	}
	id, e := s.one(expr)
	if e != nil {
		return false, e
	}
	return id != tree.None, nil
}

// Label returns the label of the node expr matches; ok is false when
// nothing matches.
func (s *Session) Label(expr string) (label string, ok bool, err error) {
	if err := s.begin(); err != nil {
		return "", false, err
	}
	id, e := s.one(expr)
	if e != nil {
		return "", false, e
	}
	if id == tree.None {
		return "", false, nil
	}
	return s.store.Node(id).Label, true, nil
}

// Set gives the node expr matches the value, creating it and any
// missing ancestors. A nil value clears the value and keeps the node.
func (s *Session) Set(expr string, value *string) error {
	if err := s.begin(); err != nil {
		return err
	}
	p, e := s.parse(expr)
	if e != nil {
		return e
	}
	id, e := s.resolveOrCreate(p, s.contextNode())
	if e != nil {
		return e
	}
	s.setValue(id, value)
	return nil
}

// Touch creates the node expr denotes if nothing matches it yet. The
// value of an existing node is left alone.
func (s *Session) Touch(expr string) error {
	if err := s.begin(); err != nil {
		return err
	}
	p, e := s.parse(expr)
	if e != nil {
		return e
	}
	ids, err := s.engine.Nodes(p, s.contextNode())
	if err != nil {
		return s.record(fromPathx(err))
	}
	if len(ids) > 0 {
		return nil
	}
	_, e = s.resolveOrCreate(p, s.contextNode())
	if e != nil {
		return e
	}
	return nil
}

// Clear removes the value of the node expr denotes, creating the node
// if needed.
func (s *Session) Clear(expr string) error {
	return s.Set(expr, nil)
}

type setTarget struct {
	id   tree.ID
	plan *pathx.Plan
}

// SetM sets sub, relative to every node matching base, to value and
// returns the number of nodes changed. An empty sub sets the base
// matches themselves. The whole batch is resolved before anything
// changes: any failure leaves the tree untouched.
func (s *Session) SetM(base, sub string, value *string) (int, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	bases, e := s.nodes(base)
	if e != nil {
		return 0, e
	}
	targets := make([]setTarget, 0, len(bases))
	// Bases that reach the same node, existing or still to be created,
	// share one target.
	seen := make(map[string]bool, len(bases))
	add := func(key string, t setTarget) {
		if !seen[key] {
			seen[key] = true
			targets = append(targets, t)
		}
	}
	if sub == "" {
		for _, b := range bases {
			targets = append(targets, setTarget{id: b})
		}
	} else {
		p, e := s.parse(sub)
		if e != nil {
			return 0, e
		}
		for _, b := range bases {
			ids, err := s.engine.Nodes(p, b)
			if err != nil {
				return 0, s.record(fromPathx(err))
			}
			switch len(ids) {
			case 0:
				plan, err := s.engine.PlanCreate(p, b)
				if err != nil {
					return 0, s.record(fromPathx(err))
				}
				key := strconv.FormatUint(uint64(plan.Parent), 10) + "\x00" + strings.Join(plan.Labels, "\x00")
				add(key, setTarget{plan: plan})
			case 1:
				add(strconv.FormatUint(uint64(ids[0]), 10), setTarget{id: ids[0]})
			default:
				return 0, s.fail(EMMatch, sub, s.store.Path(b))
			}
		}
	}

	for _, t := range targets {
		id := t.id
		if t.plan != nil {
			leaf, _, err := s.engine.Create(t.plan)
			if err != nil {
				return 0, s.fail(EInternal, "create failed", err.Error())
			}
			id = leaf
		}
		s.setValue(id, value)
	}
	return len(targets), nil
}

// ClearM is SetM with a nil value.
func (s *Session) ClearM(base, sub string) (int, error) {
	return s.SetM(base, sub, nil)
}

// Insert creates a sibling labeled label right before or after the node
// expr matches.
func (s *Session) Insert(expr, label string, before bool) error {
	if err := s.begin(); err != nil {
		return err
	}
	if !validLabel(label) {
		return s.fail(ELabel, "invalid label", label)
	}
	id, e := s.single(expr)
	if e != nil {
		return e
	}
	if id == tree.RootID {
		return s.fail(EBadArg, "cannot insert a sibling of the root", expr)
	}
	if _, err := s.store.InsertSibling(id, label, before); err != nil {
		return s.fail(EInternal, "insert failed", err.Error())
	}
	return nil
}

// Mv moves the node src matches to dst. An existing dst is replaced, a
// missing one is created along with its ancestors. The moved node keeps
// its identity and takes the label of the destination.
func (s *Session) Mv(src, dst string) error {
	if err := s.begin(); err != nil {
		return err
	}
	sid, e := s.single(src)
	if e != nil {
		return e
	}
	if sid == tree.RootID {
		return s.fail(EBadArg, "cannot move the root", src)
	}
	p, e := s.parse(dst)
	if e != nil {
		return e
	}
	ctx := s.contextNode()
	ids, err := s.engine.Nodes(p, ctx)
	if err != nil {
		return s.record(fromPathx(err))
	}

	var did tree.ID
	switch len(ids) {
	case 0:
		plan, err := s.engine.PlanCreate(p, ctx)
		if err != nil {
			return s.record(fromPathx(err))
		}
		if s.store.Contains(sid, plan.Parent) {
			return s.fail(EMvDesc, src, dst)
		}
		leaf, _, err := s.engine.Create(plan)
		if err != nil {
			return s.fail(EInternal, "create failed", err.Error())
		}
		did = leaf
	case 1:
		did = ids[0]
	default:
		return s.fail(EMMatch, dst, "")
	}
	if did == sid {
		return nil
	}
	if s.store.Contains(sid, did) {
		return s.fail(EMvDesc, src, dst)
	}

	d := s.store.Node(did)
	parent, label := d.Parent, d.Label
	if err := s.store.Detach(sid); err != nil {
		return s.fail(EInternal, "detach failed", err.Error())
	}
	pos := s.store.IndexOf(did)
	removed, err := s.store.Remove(did)
	if err != nil {
		return s.fail(EInternal, "remove failed", err.Error())
	}
	s.removeIDs(removed)
	if err := s.store.Attach(sid, parent, pos); err != nil {
		return s.fail(EInternal, "attach failed", err.Error())
	}
	if s.store.Node(sid).Label != label {
		_ = s.store.SetLabel(sid, label)
	}
	for _, id := range s.store.Subtree(sid) {
		s.spans.Invalidate(uint32(id))
	}
	return nil
}

// Rm deletes every node expr matches with its subtree and returns the
// number of nodes removed.
func (s *Session) Rm(expr string) (int, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	ids, e := s.nodes(expr)
	if e != nil {
		return 0, e
	}
	count := 0
	for _, id := range ids {
		if s.store.Node(id) == nil {
			continue // inside a subtree removed earlier
		}
		var removed []tree.ID
		if id == tree.RootID {
			removed = s.store.RemoveChildren(id)
		} else {
			removed, _ = s.store.Remove(id)
		}
		s.removeIDs(removed)
		count += len(removed)
	}
	return count, nil
}

// Rename relabels every node expr matches and returns how many changed.
func (s *Session) Rename(expr, label string) (int, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	if !validLabel(label) {
		return 0, s.fail(ELabel, "invalid label", label)
	}
	ids, e := s.nodes(expr)
	if e != nil {
		return 0, e
	}
	count := 0
	for _, id := range ids {
		if id == tree.RootID {
			continue
		}
		_ = s.store.SetLabel(id, label)
		s.spans.Invalidate(uint32(id))
		count++
	}
	return count, nil
}

// Match returns the canonical paths of the nodes expr matches, in
// document order.
func (s *Session) Match(expr string) ([]string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	ids, e := s.nodes(expr)
	if e != nil {
		return nil, e
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.store.Path(id)
	}
	return out, nil
}

// Ls returns the paths of the children of every node expr matches.
func (s *Session) Ls(expr string) ([]string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	ids, e := s.nodes(expr)
	if e != nil {
		return nil, e
	}
	var out []string
	for _, id := range ids {
		for _, c := range s.store.Node(id).Children {
			out = append(out, s.store.Path(c))
		}
	}
	return out, nil
}

// Entry is one node as listed by Print.
type Entry struct {
	Path  string
	Label string
	Value *string
	Depth int
}

// Print lists every node expr matches together with its descendants,
// in document order.
func (s *Session) Print(expr string) ([]Entry, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	ids, e := s.nodes(expr)
	if e != nil {
		return nil, e
	}
	var out []Entry
	seen := make(map[tree.ID]bool)
	for _, id := range ids {
		base := s.store.Depth(id)
		s.store.Walk(id, func(n *tree.Node) bool {
			if seen[n.ID] {
				return false
			}
			seen[n.ID] = true
			var v *string
			if n.Value != nil {
				c := *n.Value
				v = &c
			}
			out = append(out, Entry{Path: s.store.Path(n.ID), Label: n.Label, Value: v, Depth: s.store.Depth(n.ID) - base})
			return true
		})
	}
	return out, nil
}

// DefVar binds name to the result of evaluating expr now. Node-set
// results bind the nodes, other results bind the scalar. An empty expr
// removes the binding. The returned count is the size of a node-set
// result and 0 otherwise.
func (s *Session) DefVar(name, expr string) (int, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	if !validVarName(name) {
		return 0, s.fail(EBadArg, "invalid variable name", name)
	}
	if expr == "" {
		s.vars.Remove(name)
		return 0, nil
	}
	p, e := s.parse(expr)
	if e != nil {
		return 0, e
	}
	v, err := s.engine.Eval(p, s.contextNode())
	if err != nil {
		return 0, s.record(fromPathx(err))
	}
	s.vars.Bind(name, expr, v)
	if v.Kind == pathx.KindNodes {
		return len(v.Nodes), nil
	}
	return 0, nil
}

// DefNode binds name to the nodes expr matches. When nothing matches,
// the node is created with value and name is bound to it; created
// reports that case.
func (s *Session) DefNode(name, expr string, value *string) (count int, created bool, err error) {
	if err := s.begin(); err != nil {
		return 0, false, err
	}
	if !validVarName(name) {
		return 0, false, s.fail(EBadArg, "invalid variable name", name)
	}
	p, e := s.parse(expr)
	if e != nil {
		return 0, false, e
	}
	ctx := s.contextNode()
	ids, perr := s.engine.Nodes(p, ctx)
	if perr != nil {
		return 0, false, s.record(fromPathx(perr))
	}
	if len(ids) > 0 {
		s.vars.Define(name, pathx.Binding{Kind: pathx.BindNodes, Nodes: ids, Expr: expr})
		return len(ids), false, nil
	}
	id, e := s.resolveOrCreate(p, ctx)
	if e != nil {
		return 0, false, e
	}
	s.setValue(id, value)
	s.vars.Define(name, pathx.Binding{Kind: pathx.BindNodes, Nodes: []tree.ID{id}, Expr: expr})
	return 1, true, nil
}

// Vars lists the defined variables.
func (s *Session) Vars() []string { return s.vars.Names() }

func validVarName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && (c >= '0' && c <= '9' || c == '-')
		if !ok {
			return false
		}
	}
	return true
}

// Span returns where the node expr matches came from. It fails with
// ENoSpan when span tracking was off at load time, the node was created
// in memory, or it changed since it was loaded.
func (s *Session) Span(expr string) (span.Span, error) {
	if err := s.begin(); err != nil {
		return span.Span{}, err
	}
	id, e := s.single(expr)
	if e != nil {
		return span.Span{}, e
	}
	n := s.store.Node(id)
	if n.Origin == nil || !s.spans.Valid(uint32(id)) {
		return span.Span{}, s.fail(ENoSpan, expr, "")
	}
	sp := n.Origin.Span()
	sp.Filename = s.hostPath(sp.Filename)
	return sp, nil
}

// escapeFile turns a file path into the path of its /files node.
func escapeFile(file string) string {
	var b strings.Builder
	b.WriteString(filesRoot)
	for _, seg := range labels(file) {
		b.WriteByte('/')
		b.WriteString(tree.EscapeLabel(seg))
	}
	return b.String()
}
