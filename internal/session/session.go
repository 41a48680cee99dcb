// Package session ties the tree, the path engine, span tracking and the
// lenses together behind the operations callers use: get, set, match,
// mv, rm, load, save and friends.
//
// A Session is not safe for concurrent use. Callers that share one
// across goroutines hold their own lock around every call.
package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/arbor/api"
	"github.com/agentic-research/arbor/internal/lens"
	"github.com/agentic-research/arbor/internal/pathx"
	"github.com/agentic-research/arbor/internal/span"
	"github.com/agentic-research/arbor/internal/tree"
)

// Version is reported at /augeas/version.
const Version = "0.4.0"

// Flags are the switches given to Open. The values are stable.
type Flags uint

const (
	SaveBackup Flags = 1 << iota
	SaveNewFile
	TypeCheck
	NoStdinc
	SaveNoop
	NoLoad
	NoModlAutoload
	EnableSpan
)

// Session owns one tree and everything derived from it.
type Session struct {
	fs   billy.Filesystem
	base string

	flags    Flags
	loadPath []string
	extra    []registration

	store  *tree.Store
	vars   *pathx.Vars
	engine *pathx.Engine
	spans  *span.Tracker
	lenses *lens.Registry

	files  map[string]*fileState
	failed map[string]bool

	log    *slog.Logger
	err    Error
	closed bool
}

type registration struct {
	lens lens.Lens
	incl []string
}

// fileState is what a session remembers about a loaded file.
type fileState struct {
	node tree.ID
	lens string
	text []byte
}

// Option configures Open.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithLoadPath adds directories searched for transform files (*.json).
// They are resolved inside the session's filesystem.
func WithLoadPath(dirs ...string) Option {
	return func(s *Session) { s.loadPath = append(s.loadPath, dirs...) }
}

// WithLens registers an extra lens, with default include globs used
// unless NoModlAutoload is set. This is the only way to get lenses into
// a session opened with NoStdinc.
func WithLens(l lens.Lens, incl ...string) Option {
	return func(s *Session) { s.extra = append(s.extra, registration{lens: l, incl: incl}) }
}

func withBase(dir string) Option {
	return func(s *Session) { s.base = dir }
}

// OpenDir opens a session rooted at a directory on disk.
func OpenDir(root string, flags Flags, opts ...Option) (*Session, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	return Open(osfs.New(abs), flags, append([]Option{withBase(abs)}, opts...)...)
}

// Open creates a session over fsys. Unless NoLoad is set every file
// matched by a transform is loaded; files that fail to load are
// recorded under /augeas/files and do not fail Open.
func Open(fsys billy.Filesystem, flags Flags, opts ...Option) (*Session, error) {
	s := &Session{
		fs:     fsys,
		flags:  flags,
		store:  tree.New(),
		vars:   pathx.NewVars(),
		spans:  span.NewTracker(flags&EnableSpan != 0),
		files:  make(map[string]*fileState),
		failed: make(map[string]bool),
		log:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = &pathx.Engine{Store: s.store, Vars: s.vars}
	if flags&NoStdinc != 0 {
		s.lenses = lens.NewRegistry()
	} else {
		s.lenses = lens.Builtin()
	}
	for _, r := range s.extra {
		s.lenses.Register(r.lens, r.incl...)
	}

	s.initMeta()
	if flags&NoModlAutoload == 0 {
		for _, name := range s.lenses.Names() {
			if incl := s.lenses.Includes(name); len(incl) > 0 {
				s.addTransform(strings.TrimSuffix(name, ".lns"), name, incl, nil)
			}
		}
		if err := s.readLoadPath(); err != nil {
			return nil, err
		}
	}

	if flags&NoLoad == 0 {
		if err := s.Load(); err != nil {
			s.log.Warn("initial load incomplete", "error", err)
		}
	}
	return s, nil
}

// readLoadPath registers the transforms of every transform file found
// on the load path.
func (s *Session) readLoadPath() error {
	for _, dir := range s.loadPath {
		matches, err := util.Glob(s.fs, s.fs.Join(dir, "*.json"))
		if err != nil {
			return fmt.Errorf("scan load path %s: %w", dir, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			data, err := util.ReadFile(s.fs, m)
			if err != nil {
				return fmt.Errorf("read transform file %s: %w", m, err)
			}
			ts, err := api.ParseTransformSet(data)
			if err != nil {
				return fmt.Errorf("%s: %w", m, err)
			}
			for _, t := range ts.Transforms {
				s.addTransform(t.Name, lens.CanonicalName(t.Lens), t.Incl, t.Excl)
			}
			s.log.Debug("transform file read", "file", m, "transforms", len(ts.Transforms))
		}
	}
	return nil
}

// Close releases the tree and bindings. Later calls fail.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.vars.Clear()
	s.spans.Reset()
	s.store = tree.New()
	s.engine.Store = s.store
	s.files = nil
	s.failed = nil
	s.closed = true
	return nil
}

// LastError returns the error record of the last operation. Its Code is
// NoError when the operation succeeded.
func (s *Session) LastError() Error { return s.err }

// Flags returns the flags the session was opened with.
func (s *Session) Flags() Flags { return s.flags }

// Lenses returns the names of the registered lenses.
func (s *Session) Lenses() []string { return s.lenses.Names() }

// Files lists the loaded files, sorted.
func (s *Session) Files() []string {
	out := make([]string, 0, len(s.files))
	for f := range s.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// begin resets the error record at the start of an operation.
func (s *Session) begin() error {
	s.err = Error{}
	if s.closed {
		return s.fail(EInternal, "session closed", "")
	}
	return nil
}

func (s *Session) fail(code Code, minor, details string) *Error {
	return s.record(&Error{Code: code, Message: code.String(), Minor: minor, Details: details})
}

func (s *Session) record(e *Error) *Error {
	s.err = *e
	return e
}

// hostPath maps a file path inside the root to the caller's view.
func (s *Session) hostPath(file string) string {
	if s.base == "" {
		return file
	}
	return filepath.Join(s.base, file)
}
