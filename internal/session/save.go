package session

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/arbor/internal/lens"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/agentic-research/arbor/internal/writeback"
)

// FileChange is one file Save would touch.
type FileChange struct {
	Path    string
	Lens    string
	Before  []byte
	After   []byte
	Removed bool
}

// change is a FileChange plus the node it was printed from.
type change struct {
	FileChange
	node tree.ID
}

// Save writes every changed file back through its lens, honoring the
// mode at /augeas/save. Files whose subtree was removed from /files are
// deleted. Each file is handled on its own: a failure is recorded under
// /augeas/files<file>/error and the others are still saved.
func (s *Session) Save() error {
	if err := s.begin(); err != nil {
		return err
	}
	mode, err := writeback.ParseMode(s.metaGet(metaSave))
	if err != nil {
		return s.fail(EBadArg, "invalid save mode", err.Error())
	}
	w := &writeback.Writer{FS: s.fs, Mode: mode, Base: s.base}
	s.clearEvents()

	changes, failures := s.pending(true)
	var saved int
	for _, ch := range changes {
		changed := ch.Removed || ch.Before == nil || !bytes.Equal(ch.Before, ch.After)
		var dest string
		switch {
		case ch.Removed:
			dest, err = w.Remove(ch.Path)
		case changed:
			dest, err = w.Write(ch.Path, ch.After)
		}
		if err != nil {
			s.fileError(metaFiles, ch.Path, "write_failed", err.Error(), nil)
			s.log.Warn("save failed", "file", ch.Path, "mode", mode, "error", err)
			failures++
			err = nil
			continue
		}
		if changed {
			s.metaAdd(s.metaNode(metaRoot+"/events", true), "saved", escapeFile(ch.Path))
			saved++
			s.log.Info("file saved", "file", ch.Path, "mode", mode, "dest", dest, "removed", ch.Removed)
		}
		if mode != writeback.Overwrite && mode != writeback.Backup {
			continue
		}
		if ch.Removed {
			delete(s.files, ch.Path)
			s.spans.DropFile(ch.Path)
			s.metaRemove(metaFiles + ch.Path)
			continue
		}
		s.refresh(ch)
	}
	s.log.Debug("save finished", "changed", len(changes), "saved", saved, "failed", failures)

	if failures > 0 {
		return s.fail(ECmdRun, "save failed", fmt.Sprintf("%d file(s) could not be saved", failures))
	}
	return nil
}

// Preview reports what Save would write without touching the filesystem
// or the tree.
func (s *Session) Preview() ([]FileChange, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	changes, failures := s.pending(false)
	out := make([]FileChange, 0, len(changes))
	for _, ch := range changes {
		if !ch.Removed && bytes.Equal(ch.Before, ch.After) && ch.Before != nil {
			continue
		}
		out = append(out, ch.FileChange)
	}
	if failures > 0 {
		return out, s.fail(ECmdRun, "preview failed", fmt.Sprintf("%d file(s) could not be printed", failures))
	}
	return out, nil
}

func (s *Session) clearEvents() {
	for id := s.metaNode(metaSaved, false); id != tree.None; id = s.metaNode(metaSaved, false) {
		ids, _ := s.store.Remove(id)
		s.removeIDs(ids)
	}
}

// pending prints every loaded file whose subtree changed and every new
// file created under /files at a path some transform covers. With
// record, print failures are written to the metadata tree.
func (s *Session) pending(record bool) ([]change, int) {
	var (
		out      []change
		failures int
	)
	fail := func(file, kind, msg string) {
		failures++
		s.log.Warn("cannot print file", "file", file, "reason", kind, "error", msg)
		if record {
			s.fileError(metaFiles, file, kind, msg, nil)
		}
	}
	put := func(file, lensName string, id tree.ID, before []byte) {
		l, err := s.lenses.Lookup(lensName)
		if err != nil {
			fail(file, "put_failed", err.Error())
			return
		}
		after, err := l.Put(s.export(id, true), before, file)
		if err == nil {
			err = writeback.Validate(after, file)
		}
		if err == nil {
			err = s.readsBack(l, id, after, file)
		}
		if err != nil {
			fail(file, "put_failed", err.Error())
			return
		}
		out = append(out, change{
			FileChange: FileChange{Path: file, Lens: lensName, Before: before, After: after},
			node:       id,
		})
	}

	files := s.Files()
	for _, file := range files {
		st := s.files[file]
		id := s.walkLabels(s.metaNode(filesRoot, true), labels(file), false)
		switch {
		case id == tree.None:
			out = append(out, change{FileChange: FileChange{Path: file, Lens: st.lens, Before: st.text, Removed: true}})
		case id == st.node && !s.store.Node(id).Dirty:
		default:
			put(file, st.lens, id, st.text)
		}
	}

	for _, nf := range s.newFiles() {
		names := s.lensesFor(nf.file)
		if len(names) != 1 {
			fail(nf.file, "mxfm_save", fmt.Sprintf("%d lenses could be used to save this file", len(names)))
			continue
		}
		put(nf.file, names[0], nf.node, nil)
	}
	return out, failures
}

type newFile struct {
	file string
	node tree.ID
}

// newFiles finds changed subtrees under /files that are not loaded files
// but sit at a path covered by a transform.
func (s *Session) newFiles() []newFile {
	var out []newFile
	var visit func(id tree.ID, file string)
	visit = func(id tree.ID, file string) {
		for _, c := range s.store.Children(id) {
			if !c.Dirty {
				continue
			}
			f := file + "/" + c.Label
			if _, ok := s.files[f]; ok || s.failed[f] {
				continue
			}
			if len(s.lensesFor(f)) > 0 {
				out = append(out, newFile{file: f, node: c.ID})
				continue
			}
			visit(c.ID, f)
		}
	}
	visit(s.metaNode(filesRoot, true), "")
	return out
}

// lensesFor returns the distinct lenses whose transforms cover file.
func (s *Session) lensesFor(file string) []string {
	var names []string
	for _, t := range s.transforms() {
		if _, err := s.lenses.Lookup(t.lens); err != nil {
			continue
		}
		if name := lens.CanonicalName(t.lens); matchesTransform(file, t) && !contains(names, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// export copies the subtree at id into a detached lens tree. The root
// stands for the file and carries no label.
func (s *Session) export(id tree.ID, root bool) *lens.Node {
	n := s.store.Node(id)
	out := &lens.Node{Label: n.Label, Value: n.Value, Origin: n.Origin, Dirty: n.Dirty}
	if root {
		out.Label = ""
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, s.export(c, false))
	}
	return out
}

// refresh makes a saved file's subtree describe the text just written:
// the new text is parsed again and its origins replace the old ones.
func (s *Session) refresh(ch change) {
	l, err := s.lenses.Lookup(ch.Lens)
	if err != nil {
		return
	}
	s.spans.DropFile(ch.Path)
	root, err := l.Get(ch.After, ch.Path)
	switch {
	case err != nil:
		// The tree still holds the data; it just has no usable text
		// behind it any more.
		s.log.Warn("saved file does not parse back", "file", ch.Path, "error", err)
		s.store.Walk(ch.node, func(n *tree.Node) bool {
			n.Origin = nil
			return true
		})
	case s.sameShape(ch.node, root):
		s.graft(ch.Path, ch.node, root)
	default:
		s.removeIDs(s.store.RemoveChildren(ch.node))
		n := s.store.Node(ch.node)
		n.Origin = root.Origin
		n.Value = root.Value
		s.track(ch.Path, ch.node)
		s.importChildren(ch.Path, ch.node, root)
	}

	if _, ok := s.files[ch.Path]; !ok {
		s.fileMeta(ch.Path, ch.Lens)
	}
	s.metaRemove(metaFiles + ch.Path + "/error")
	if fi, err := s.fs.Stat(ch.Path); err == nil {
		s.metaSet(metaFiles+ch.Path+"/mtime", strconv.FormatInt(fi.ModTime().Unix(), 10))
	}
	s.files[ch.Path] = &fileState{node: ch.node, lens: ch.Lens, text: ch.After}
	delete(s.failed, ch.Path)
	s.store.ClearDirty(ch.node)
}

// readsBack parses after again and checks that it describes the subtree
// at id. Text that loads as a different tree is never written.
func (s *Session) readsBack(l lens.Lens, id tree.ID, after []byte, file string) error {
	root, err := l.Get(after, file)
	if err != nil {
		return fmt.Errorf("%w: %s does not parse back: %v", lens.ErrRoundTrip, file, err)
	}
	if !s.compare(id, root, sameEntry) {
		return fmt.Errorf("%w: %s reads back as a different tree", lens.ErrRoundTrip, file)
	}
	return nil
}

// sameShape reports whether the subtree at id and ln agree on labels,
// values and child counts everywhere below the root.
func (s *Session) sameShape(id tree.ID, ln *lens.Node) bool {
	return s.compare(id, ln, func(n *tree.Node, l *lens.Node) bool {
		return n.Label == l.Label && equalValue(n.Value, l.Value)
	})
}

func (s *Session) compare(id tree.ID, ln *lens.Node, eq func(*tree.Node, *lens.Node) bool) bool {
	n := s.store.Node(id)
	if len(n.Children) != len(ln.Children) {
		return false
	}
	for i, c := range n.Children {
		if !eq(s.store.Node(c), ln.Children[i]) || !s.compare(c, ln.Children[i], eq) {
			return false
		}
	}
	return true
}

// sameEntry is the looser match used after a put: sequence labels may be
// renumbered and an empty value reads back as no value.
func sameEntry(n *tree.Node, l *lens.Node) bool {
	if n.Label != l.Label && !(numeric(n.Label) && numeric(l.Label)) {
		return false
	}
	a, b := n.Value, l.Value
	if a != nil && *a == "" {
		a = nil
	}
	if b != nil && *b == "" {
		b = nil
	}
	return equalValue(a, b)
}

func numeric(label string) bool {
	if label == "" {
		return false
	}
	for i := 0; i < len(label); i++ {
		if label[i] < '0' || label[i] > '9' {
			return false
		}
	}
	return true
}

func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// graft moves the origins of ln onto the matching nodes of id, keeping
// node identities (and with them variable bindings) intact.
func (s *Session) graft(file string, id tree.ID, ln *lens.Node) {
	n := s.store.Node(id)
	n.Origin = ln.Origin
	s.track(file, id)
	for i, c := range n.Children {
		s.graft(file, c, ln.Children[i])
	}
}

// SetSaveMode changes /augeas/save. mode is one of overwrite, backup,
// newfile or noop.
func (s *Session) SetSaveMode(mode string) error {
	if err := s.begin(); err != nil {
		return err
	}
	m, err := writeback.ParseMode(strings.TrimSpace(mode))
	if err != nil {
		return s.fail(EBadArg, "invalid save mode", err.Error())
	}
	s.metaSet(metaSave, m.String())
	return nil
}

// SetSpan switches span recording for the next Load.
func (s *Session) SetSpan(on bool) error {
	if err := s.begin(); err != nil {
		return err
	}
	v := "disable"
	if on {
		v = "enable"
	}
	s.metaSet(metaSpan, v)
	return nil
}
