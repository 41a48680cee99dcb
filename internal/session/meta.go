package session

import (
	"strconv"
	"strings"

	"github.com/agentic-research/arbor/internal/lens"
	"github.com/agentic-research/arbor/internal/pathx"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/agentic-research/arbor/internal/writeback"
)

// Well-known nodes of the metadata tree.
const (
	metaRoot    = "/augeas"
	metaLoad    = "/augeas/load"
	metaFiles   = "/augeas/files"
	metaText    = "/augeas/text"
	metaSave    = "/augeas/save"
	metaSpan    = "/augeas/span"
	metaContext = "/augeas/context"
	metaSaved   = "/augeas/events/saved"
	filesRoot   = "/files"
)

func (s *Session) initMeta() {
	root := "/"
	if s.base != "" {
		root = strings.TrimSuffix(s.base, "/") + "/"
	}
	s.metaSet(metaRoot+"/root", root)
	s.metaSet(metaRoot+"/version", Version)
	s.metaSet(metaContext, filesRoot)

	mode := writeback.Overwrite
	switch {
	case s.flags&SaveNoop != 0:
		mode = writeback.Noop
	case s.flags&SaveNewFile != 0:
		mode = writeback.NewFile
	case s.flags&SaveBackup != 0:
		mode = writeback.Backup
	}
	s.metaSet(metaSave, mode.String())

	spanMode := "disable"
	if s.flags&EnableSpan != 0 {
		spanMode = "enable"
	}
	s.metaSet(metaSpan, spanMode)
	s.metaNode(metaLoad, true)
	s.metaNode(filesRoot, true)
	s.store.ClearDirty(tree.RootID)
}

// labels splits a slash-separated path of raw labels.
func labels(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// metaNode finds the node at a path of raw labels, taking the first
// child at each level. With create it adds missing nodes.
func (s *Session) metaNode(path string, create bool) tree.ID {
	return s.walkLabels(tree.RootID, labels(path), create)
}

func (s *Session) walkLabels(from tree.ID, segs []string, create bool) tree.ID {
	cur := from
	for _, label := range segs {
		next := tree.None
		for _, c := range s.store.Children(cur) {
			if c.Label == label {
				next = c.ID
				break
			}
		}
		if next == tree.None {
			if !create {
				return tree.None
			}
			n, err := s.store.NewChild(cur, label, -1)
			if err != nil {
				return tree.None
			}
			next = n.ID
		}
		cur = next
	}
	return cur
}

func (s *Session) metaSet(path, value string) tree.ID {
	id := s.metaNode(path, true)
	_ = s.store.SetValue(id, &value)
	return id
}

func (s *Session) metaGet(path string) string {
	if n := s.store.Node(s.metaNode(path, false)); n != nil {
		return n.ValueString()
	}
	return ""
}

// metaAdd appends a child labeled label with value under parent.
func (s *Session) metaAdd(parent tree.ID, label, value string) tree.ID {
	n, err := s.store.NewChild(parent, label, -1)
	if err != nil {
		return tree.None
	}
	_ = s.store.SetValue(n.ID, &value)
	return n.ID
}

// metaRemove deletes the node at path, if any.
func (s *Session) metaRemove(path string) {
	if id := s.metaNode(path, false); id != tree.None {
		ids, _ := s.store.Remove(id)
		s.removeIDs(ids)
	}
}

// removeIDs drops removed nodes from bindings and the span index.
func (s *Session) removeIDs(ids []tree.ID) {
	if len(ids) == 0 {
		return
	}
	s.vars.Prune(ids)
	raw := make([]uint32, len(ids))
	for i, id := range ids {
		raw[i] = uint32(id)
	}
	s.spans.Forget(raw...)
}

// transform is one entry of /augeas/load.
type transform struct {
	name string
	lens string
	incl []string
	excl []string
}

func (s *Session) addTransform(name, lensName string, incl, excl []string) {
	id := s.metaNode(metaLoad+"/"+name, true)
	s.metaSet(metaLoad+"/"+name+"/lens", lensName)
	for _, p := range incl {
		s.metaAdd(id, "incl", p)
	}
	for _, p := range excl {
		s.metaAdd(id, "excl", p)
	}
}

func (s *Session) transforms() []transform {
	var out []transform
	for _, x := range s.store.Children(s.metaNode(metaLoad, true)) {
		t := transform{name: x.Label}
		for _, c := range s.store.Children(x.ID) {
			switch c.Label {
			case "lens":
				t.lens = c.ValueString()
			case "incl":
				t.incl = append(t.incl, c.ValueString())
			case "excl":
				t.excl = append(t.excl, c.ValueString())
			}
		}
		out = append(out, t)
	}
	return out
}

// Transform adds file to the includes (or excludes) of the transform
// for lensName, creating the transform when needed.
func (s *Session) Transform(lensName, file string, excl bool) error {
	if err := s.begin(); err != nil {
		return err
	}
	if _, err := s.lenses.Lookup(lensName); err != nil {
		return s.fail(ENoLens, lensName, err.Error())
	}
	name := strings.TrimSuffix(lens.CanonicalName(lensName), ".lns")
	if strings.Contains(name, "/") {
		return s.fail(EBadArg, "invalid transform name", name)
	}
	id := s.metaNode(metaLoad+"/"+name, true)
	s.metaSet(metaLoad+"/"+name+"/lens", lens.CanonicalName(lensName))
	label := "incl"
	if excl {
		label = "excl"
	}
	s.metaAdd(id, label, file)
	return nil
}

// ClearTransforms removes every transform.
func (s *Session) ClearTransforms() error {
	if err := s.begin(); err != nil {
		return err
	}
	s.removeIDs(s.store.RemoveChildren(s.metaNode(metaLoad, true)))
	return nil
}

// fileMeta resets and returns /augeas/files<file>.
func (s *Session) fileMeta(file, lensName string) tree.ID {
	path := metaFiles + file
	s.metaRemove(path)
	id := s.metaNode(path, true)
	s.metaSet(path+"/path", escapeFile(file))
	s.metaSet(path+"/lens", lensName)
	return id
}

// fileError records a per-file failure under /augeas/files<file>/error.
func (s *Session) fileError(base, file, kind, msg string, pe *lens.ParseError) {
	path := base + file + "/error"
	s.metaRemove(path)
	id := s.metaSet(path, kind)
	s.metaAdd(id, "message", msg)
	if pe != nil {
		s.metaAdd(id, "line", strconv.Itoa(pe.Line))
		s.metaAdd(id, "char", strconv.Itoa(pe.Col))
		s.metaAdd(id, "lens", pe.Lens)
	}
}

// contextNode resolves /augeas/context, the base of relative paths.
func (s *Session) contextNode() tree.ID {
	ctx := s.metaGet(metaContext)
	if ctx == "" {
		return tree.RootID
	}
	p, err := pathx.Parse(ctx)
	if err != nil {
		return tree.RootID
	}
	ids, err := s.engine.Nodes(p, tree.RootID)
	if err != nil || len(ids) != 1 {
		return tree.RootID
	}
	return ids[0]
}

// Context returns the path relative expressions are evaluated against.
func (s *Session) Context() string { return s.metaGet(metaContext) }

// SetContext changes the base of relative expressions.
func (s *Session) SetContext(path string) error {
	if err := s.begin(); err != nil {
		return err
	}
	if _, err := pathx.Parse(path); err != nil {
		return s.record(fromPathx(err))
	}
	s.metaSet(metaContext, path)
	return nil
}
