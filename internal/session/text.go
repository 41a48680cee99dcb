package session

import (
	"errors"

	"github.com/agentic-research/arbor/internal/lens"
	"github.com/agentic-research/arbor/internal/tree"
)

// TextStore parses the value of the node at nodeExpr with lensName and
// puts the resulting tree below the node at pathExpr, replacing its
// children. The node at pathExpr is created when missing. A parse error
// is recorded under /augeas/text<path>/error.
func (s *Session) TextStore(lensName, nodeExpr, pathExpr string) error {
	if err := s.begin(); err != nil {
		return err
	}
	l, err := s.lenses.Lookup(lensName)
	if err != nil {
		return s.fail(ENoLens, lensName, err.Error())
	}
	text, e := s.textOf(nodeExpr)
	if e != nil {
		return e
	}
	p, e := s.parse(pathExpr)
	if e != nil {
		return e
	}
	dst, e := s.resolveOrCreate(p, s.contextNode())
	if e != nil {
		return e
	}
	if dst == tree.RootID {
		return s.fail(EBadArg, "cannot store text at the root", pathExpr)
	}

	key := s.store.Path(dst)
	s.metaRemove(metaText + key)
	root, err := l.Get([]byte(text), key)
	if err != nil {
		var pe *lens.ParseError
		errors.As(err, &pe)
		s.fileError(metaText, key, "parse_failed", err.Error(), pe)
		return s.fail(ESyntax, key, err.Error())
	}

	s.removeIDs(s.store.RemoveChildren(dst))
	s.store.Node(dst).Origin = root.Origin
	s.importChildren("", dst, root)
	s.store.ClearDirty(dst)
	s.log.Debug("text stored", "lens", l.Name(), "path", key, "children", len(root.Children))
	return nil
}

// TextRetrieve prints the tree at pathExpr with lensName, using the
// value of nodeIn as the original text, and stores the result as the
// value of nodeOut (created when missing).
func (s *Session) TextRetrieve(lensName, nodeIn, pathExpr, nodeOut string) error {
	if err := s.begin(); err != nil {
		return err
	}
	l, err := s.lenses.Lookup(lensName)
	if err != nil {
		return s.fail(ENoLens, lensName, err.Error())
	}
	text, e := s.textOf(nodeIn)
	if e != nil {
		return e
	}
	src, e := s.single(pathExpr)
	if e != nil {
		return e
	}

	key := s.store.Path(src)
	s.metaRemove(metaText + key)
	out, err := l.Put(s.export(src, true), []byte(text), key)
	if err != nil {
		s.fileError(metaText, key, "put_failed", err.Error(), nil)
		return s.fail(ESyntax, key, err.Error())
	}

	p, e := s.parse(nodeOut)
	if e != nil {
		return e
	}
	dst, e := s.resolveOrCreate(p, s.contextNode())
	if e != nil {
		return e
	}
	v := string(out)
	s.setValue(dst, &v)
	return nil
}

// textOf returns the value of the single node at expr.
func (s *Session) textOf(expr string) (string, *Error) {
	id, e := s.single(expr)
	if e != nil {
		return "", e
	}
	n := s.store.Node(id)
	if n.Value == nil {
		return "", s.fail(EBadArg, "node has no value", expr)
	}
	return *n.Value, nil
}
