package session

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/arbor/internal/lens"
	"github.com/agentic-research/arbor/internal/tree"
)

// ignoredSuffixes are never loaded: editor leftovers, package manager
// copies and the files Save itself writes in backup and newfile modes.
var ignoredSuffixes = []string{
	"~", ".bak", ".old", ".orig", ".swp",
	".augnew", ".augsave",
	".dpkg-old", ".dpkg-new", ".dpkg-dist", ".dpkg-bak",
	".rpmsave", ".rpmnew", ".rpmorig",
}

func ignored(file string) bool {
	base := path.Base(file)
	if strings.HasPrefix(base, ".arbor-save-") || strings.HasPrefix(base, "#") {
		return true
	}
	for _, suf := range ignoredSuffixes {
		if strings.HasSuffix(base, suf) {
			return true
		}
	}
	return false
}

// excluded matches file against exclude globs. A glob without a slash
// matches the base name.
func excluded(file string, excl []string) bool {
	for _, pat := range excl {
		target := file
		if !strings.Contains(pat, "/") {
			target = path.Base(file)
		}
		if ok, _ := path.Match(pat, target); ok {
			return true
		}
	}
	return false
}

// matchesTransform reports whether file is handled by t without touching
// the filesystem.
func matchesTransform(file string, t transform) bool {
	if ignored(file) || excluded(file, t.excl) {
		return false
	}
	for _, pat := range t.incl {
		if ok, _ := path.Match(pat, file); ok {
			return true
		}
	}
	return false
}

// Load discards /files and reads every file matched by a transform under
// /augeas/load. A file that cannot be read or parsed gets an error entry
// under /augeas/files and no tree; the other files still load. The
// returned error carries the code of the first failure.
func (s *Session) Load() error {
	if err := s.begin(); err != nil {
		return err
	}
	s.spans.SetEnabled(s.metaGet(metaSpan) == "enable")

	s.removeIDs(s.store.RemoveChildren(s.metaNode(filesRoot, true)))
	s.removeIDs(s.store.RemoveChildren(s.metaNode(metaFiles, true)))
	s.spans.Reset()
	s.files = make(map[string]*fileState)
	s.failed = make(map[string]bool)

	var first *Error
	note := func(e *Error) {
		if first == nil {
			first = e
		}
	}

	claims := make(map[string][]string) // file -> lens names
	for _, t := range s.transforms() {
		if _, err := s.lenses.Lookup(t.lens); err != nil {
			s.metaSet(metaLoad+"/"+t.name+"/error", "no such lens: "+t.lens)
			s.log.Warn("transform skipped", "transform", t.name, "lens", t.lens)
			note(&Error{Code: ENoLens, Message: ENoLens.String(), Minor: t.lens})
			continue
		}
		for _, pat := range t.incl {
			matches, err := util.Glob(s.fs, pat)
			if err != nil {
				s.log.Warn("bad include pattern", "transform", t.name, "pattern", pat, "error", err)
				continue
			}
			for _, m := range matches {
				file := "/" + strings.TrimPrefix(path.Clean("/"+m), "/")
				if ignored(file) || excluded(file, t.excl) {
					continue
				}
				if fi, err := s.fs.Stat(m); err != nil || fi.IsDir() {
					continue
				}
				name := lens.CanonicalName(t.lens)
				if !contains(claims[file], name) {
					claims[file] = append(claims[file], name)
				}
			}
		}
	}

	files := make([]string, 0, len(claims))
	for f := range claims {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, file := range files {
		names := claims[file]
		if len(names) > 1 {
			s.fileMeta(file, "")
			msg := fmt.Sprintf("lenses %s could be used to load this file", strings.Join(names, ", "))
			s.fileError(metaFiles, file, "mxfm_load", msg, nil)
			s.failed[file] = true
			s.log.Warn("file skipped", "file", file, "reason", msg)
			note(&Error{Code: EMXfm, Message: EMXfm.String(), Minor: file, Details: msg})
			continue
		}
		if e := s.loadFile(file, names[0]); e != nil {
			s.failed[file] = true
			note(e)
		}
	}
	s.store.ClearDirty(tree.RootID)

	if first != nil {
		return s.record(first)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (s *Session) loadFile(file, lensName string) *Error {
	l, err := s.lenses.Lookup(lensName)
	if err != nil {
		return &Error{Code: ENoLens, Message: ENoLens.String(), Minor: lensName}
	}
	s.fileMeta(file, lensName)

	text, err := util.ReadFile(s.fs, file)
	if err != nil {
		s.fileError(metaFiles, file, "read_failed", err.Error(), nil)
		s.log.Warn("read failed", "file", file, "error", err)
		return &Error{Code: EInternal, Message: EInternal.String(), Minor: "read_failed", Details: err.Error()}
	}
	root, err := l.Get(text, file)
	if err == nil && s.flags&TypeCheck != 0 {
		err = lens.Check(l, text, file)
	}
	if err != nil {
		var pe *lens.ParseError
		errors.As(err, &pe)
		s.fileError(metaFiles, file, "parse_failed", err.Error(), pe)
		s.log.Warn("parse failed", "file", file, "lens", lensName, "error", err)
		return &Error{Code: ESyntax, Message: ESyntax.String(), Minor: file, Details: err.Error()}
	}

	id := s.mount(file, root)
	if fi, err := s.fs.Stat(file); err == nil {
		s.metaSet(metaFiles+file+"/mtime", strconv.FormatInt(fi.ModTime().Unix(), 10))
	}
	s.files[file] = &fileState{node: id, lens: lensName, text: text}
	s.log.Info("file loaded", "file", file, "lens", lensName, "nodes", len(s.store.Subtree(id)))
	return nil
}

// mount places a parsed file under /files at the node for file and
// returns that node.
func (s *Session) mount(file string, root *lens.Node) tree.ID {
	id := s.walkLabels(s.metaNode(filesRoot, true), labels(file), true)
	n := s.store.Node(id)
	n.Origin = root.Origin
	n.Value = root.Value
	s.track(file, id)
	s.importChildren(file, id, root)
	return id
}

// importChildren copies the children of ln below id.
func (s *Session) importChildren(file string, id tree.ID, ln *lens.Node) {
	for _, c := range ln.Children {
		n, err := s.store.NewChild(id, c.Label, -1)
		if err != nil {
			continue
		}
		n.Value = c.Value
		n.Origin = c.Origin
		if file != "" {
			s.track(file, n.ID)
		}
		s.importChildren(file, n.ID, c)
	}
}

func (s *Session) track(file string, id tree.ID) {
	if n := s.store.Node(id); n != nil && n.Origin != nil {
		s.spans.Track(file, uint32(id))
	}
}
