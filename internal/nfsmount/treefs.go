// Package nfsmount serves a session's tree over NFS. Every tree node is
// a directory named by its path segment; a node's value is the content
// of the .value file inside it. Writing /_save saves the session.
package nfsmount

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/agentic-research/arbor/internal/session"
)

const (
	// ValueFile holds the value of the node it sits in.
	ValueFile = ".value"
	// SaveFile triggers a save when written.
	SaveFile = "/_save"
	// ErrorFile reads back the session's last error.
	ErrorFile = "/_error"
)

var errReadOnly = fmt.Errorf("read-only filesystem")

// TreeFS adapts a shared session to billy.Filesystem for go-nfs.
type TreeFS struct {
	sh        *session.Shared
	mountTime time.Time
	writable  bool
}

// NewTreeFS creates a filesystem view of the session behind sh.
func NewTreeFS(sh *session.Shared, writable bool) *TreeFS {
	return &TreeFS{sh: sh, mountTime: time.Now(), writable: writable}
}

func (fs *TreeFS) lookup(p string) (*session.NodeView, error) {
	var v *session.NodeView
	err := fs.sh.Do(func(s *session.Session) error {
		var err error
		v, err = s.Lookup(p)
		return err
	})
	return v, err
}

// --- billy.Basic ---

func (fs *TreeFS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (fs *TreeFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *TreeFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)
	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0
	if writing && !fs.writable {
		return nil, errReadOnly
	}

	switch filename {
	case SaveFile:
		if !writing {
			return &bytesFile{name: SaveFile}, nil
		}
		return &writeFile{id: filename, onClose: fs.save}, nil
	case ErrorFile:
		if writing {
			return nil, &os.PathError{Op: "open", Path: filename, Err: errReadOnly}
		}
		return &bytesFile{name: ErrorFile, data: fs.lastError()}, nil
	}

	dir, base := path.Split(filename)
	if base != ValueFile {
		if _, err := fs.lookup(filename); err == nil {
			return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
		}
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	node := cleanPath(dir)
	v, err := fs.lookup(node)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	if !writing {
		if v.Value == nil {
			return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
		}
		return &bytesFile{name: filename, data: valueBytes(v.Value)}, nil
	}

	var buf []byte
	if flag&os.O_TRUNC == 0 && v.Value != nil {
		buf = valueBytes(v.Value)
	}
	return &writeFile{
		id:      filename,
		buf:     buf,
		written: flag&os.O_CREATE != 0 && v.Value == nil,
		onClose: fs.setter(node),
	}, nil
}

// valueBytes renders a value as file content, newline terminated.
func valueBytes(v *string) []byte {
	if v == nil {
		return nil
	}
	return []byte(*v + "\n")
}

func (fs *TreeFS) setter(node string) WriteBackFunc {
	return func(_ string, content []byte) error {
		v := strings.TrimSuffix(string(content), "\n")
		return fs.sh.Do(func(s *session.Session) error { return s.Set(node, &v) })
	}
}

func (fs *TreeFS) save(string, []byte) error {
	return fs.sh.Do(func(s *session.Session) error { return s.Save() })
}

func (fs *TreeFS) lastError() []byte {
	var out []byte
	_ = fs.sh.Do(func(s *session.Session) error {
		if e := s.LastError(); e.Code != session.NoError {
			out = []byte(e.Error() + "\n")
		}
		return nil
	})
	return out
}

func (fs *TreeFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

// Rename moves a node directory; the destination is replaced.
func (fs *TreeFS) Rename(oldpath, newpath string) error {
	if !fs.writable {
		return errReadOnly
	}
	oldpath, newpath = cleanPath(oldpath), cleanPath(newpath)
	if path.Base(oldpath) == ValueFile || path.Base(newpath) == ValueFile {
		return billy.ErrNotSupported
	}
	return fs.sh.Do(func(s *session.Session) error { return s.Mv(oldpath, newpath) })
}

// Remove drops a node with its subtree, or a node's value when filename
// is a .value file.
func (fs *TreeFS) Remove(filename string) error {
	if !fs.writable {
		return errReadOnly
	}
	filename = cleanPath(filename)
	if filename == "/" || filename == SaveFile || filename == ErrorFile {
		return &os.PathError{Op: "remove", Path: filename, Err: errReadOnly}
	}
	dir, base := path.Split(filename)
	if base == ValueFile {
		return fs.sh.Do(func(s *session.Session) error { return s.Set(cleanPath(dir), nil) })
	}
	return fs.sh.Do(func(s *session.Session) error {
		n, err := s.Rm(filename)
		if err == nil && n == 0 {
			return &os.PathError{Op: "remove", Path: filename, Err: os.ErrNotExist}
		}
		return err
	})
}

func (fs *TreeFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// --- billy.TempFile ---

func (fs *TreeFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *TreeFS) ReadDir(p string) ([]os.FileInfo, error) {
	p = cleanPath(p)
	v, err := fs.lookup(p)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: os.ErrNotExist}
	}

	infos := make([]os.FileInfo, 0, len(v.Children)+3)
	if p == "/" {
		infos = append(infos,
			&staticFileInfo{name: path.Base(SaveFile), mode: 0o200, modTime: fs.mountTime},
			&staticFileInfo{name: path.Base(ErrorFile), size: int64(len(fs.lastError())), mode: 0o444, modTime: fs.mountTime},
		)
	}
	if v.Value != nil {
		infos = append(infos, fs.valueInfo(v.Value))
	}
	for _, name := range v.Children {
		infos = append(infos, fs.dirInfo(name))
	}
	return infos, nil
}

// MkdirAll creates the node at filename and any missing ancestors.
func (fs *TreeFS) MkdirAll(filename string, perm os.FileMode) error {
	if !fs.writable {
		return errReadOnly
	}
	filename = cleanPath(filename)
	if path.Base(filename) == ValueFile {
		return &os.PathError{Op: "mkdir", Path: filename, Err: billy.ErrNotSupported}
	}
	return fs.sh.Do(func(s *session.Session) error { return s.Touch(filename) })
}

// --- billy.Symlink ---

func (fs *TreeFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	switch filename {
	case "/":
		return &staticFileInfo{name: "/", mode: os.ModeDir | fs.dirPerm(), modTime: fs.mountTime}, nil
	case SaveFile:
		return &staticFileInfo{name: path.Base(SaveFile), mode: 0o200, modTime: fs.mountTime}, nil
	case ErrorFile:
		return &staticFileInfo{name: path.Base(ErrorFile), size: int64(len(fs.lastError())), mode: 0o444, modTime: fs.mountTime}, nil
	}

	dir, base := path.Split(filename)
	if base == ValueFile {
		v, err := fs.lookup(cleanPath(dir))
		if err != nil || v.Value == nil {
			return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
		}
		return fs.valueInfo(v.Value), nil
	}
	if _, err := fs.lookup(filename); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	return fs.dirInfo(base), nil
}

func (fs *TreeFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *TreeFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *TreeFS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(fs, p), nil
}

func (fs *TreeFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *TreeFS) Capabilities() billy.Capability {
	caps := billy.ReadCapability | billy.SeekCapability
	if fs.writable {
		caps |= billy.WriteCapability | billy.TruncateCapability
	}
	return caps
}

// --- internals ---

func (fs *TreeFS) dirPerm() os.FileMode {
	if fs.writable {
		return 0o755
	}
	return 0o555
}

func (fs *TreeFS) dirInfo(name string) os.FileInfo {
	return &staticFileInfo{name: name, mode: os.ModeDir | fs.dirPerm(), modTime: fs.mountTime}
}

func (fs *TreeFS) valueInfo(v *string) os.FileInfo {
	mode := os.FileMode(0o444)
	if fs.writable {
		mode = 0o644
	}
	return &staticFileInfo{name: ValueFile, size: int64(len(valueBytes(v))), mode: mode, modTime: fs.mountTime}
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

// Compile-time interface checks.
var (
	_ billy.Filesystem = (*TreeFS)(nil)
	_ billy.Capable    = (*TreeFS)(nil)
	_ billy.File       = (*bytesFile)(nil)
)
