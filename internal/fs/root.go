// Package fs exposes a session's tree as a FUSE filesystem. The layout
// matches the NFS view: nodes are directories, a node's value is the
// .value file inside it, /_save saves and /_error shows the last error.
package fs

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/agentic-research/arbor/internal/session"
)

const (
	valueFile = ".value"
	saveFile  = "/_save"
	errorFile = "/_error"
)

// ArborFS implements the FUSE interface from cgofuse.
type ArborFS struct {
	fuse.FileSystemBase
	sh        *session.Shared
	writable  bool
	mountTime fuse.Timespec

	mu      sync.Mutex
	nextFh  uint64
	dirs    map[uint64][]string
	handles map[uint64]*handle
}

// handle buffers writes to one open file until it is released.
type handle struct {
	path    string
	buf     []byte
	written bool
}

func NewArborFS(sh *session.Shared, writable bool) *ArborFS {
	return &ArborFS{
		sh:        sh,
		writable:  writable,
		mountTime: fuse.NewTimespec(time.Now()),
		dirs:      make(map[uint64][]string),
		handles:   make(map[uint64]*handle),
	}
}

// Serve mounts afs at mountpoint and blocks until stop is closed.
func Serve(afs *ArborFS, mountpoint string, opts []string, stop <-chan struct{}) error {
	host := fuse.NewFileSystemHost(afs)
	go func() {
		<-stop
		host.Unmount()
	}()
	if !host.Mount(mountpoint, opts) {
		return fmt.Errorf("fuse mount of %s failed", mountpoint)
	}
	return nil
}

func (fs *ArborFS) lookup(p string) (*session.NodeView, error) {
	var v *session.NodeView
	err := fs.sh.Do(func(s *session.Session) error {
		var err error
		v, err = s.Lookup(p)
		return err
	})
	return v, err
}

// errno maps a session failure to a negated FUSE error code.
func errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, session.ErrNoMatch):
		return -fuse.ENOENT
	case errors.Is(err, session.ErrMvDesc), errors.Is(err, session.ErrLabel),
		errors.Is(err, session.ErrPathX), errors.Is(err, session.ErrBadArg):
		return -fuse.EINVAL
	}
	return -fuse.EIO
}

// content returns the bytes of a .value file or a control file.
func (fs *ArborFS) content(p string) ([]byte, int) {
	switch p {
	case saveFile:
		return nil, 0
	case errorFile:
		return fs.lastError(), 0
	}
	dir, base := path.Split(p)
	if base != valueFile {
		if _, err := fs.lookup(p); err == nil {
			return nil, -fuse.EISDIR
		}
		return nil, -fuse.ENOENT
	}
	v, err := fs.lookup(path.Clean(dir))
	if err != nil || v.Value == nil {
		return nil, -fuse.ENOENT
	}
	return []byte(*v.Value + "\n"), 0
}

func (fs *ArborFS) lastError() []byte {
	var out []byte
	_ = fs.sh.Do(func(s *session.Session) error {
		if e := s.LastError(); e.Code != session.NoError {
			out = []byte(e.Error() + "\n")
		}
		return nil
	})
	return out
}

func (fs *ArborFS) dirMode() uint32 {
	if fs.writable {
		return 0o755
	}
	return 0o555
}

func (fs *ArborFS) fileMode() uint32 {
	if fs.writable {
		return 0o644
	}
	return 0o444
}

// Getattr (Stat)
func (fs *ArborFS) Getattr(p string, stat *fuse.Stat_t, fh uint64) int {
	stat.Atim = fs.mountTime
	stat.Mtim = fs.mountTime
	stat.Ctim = fs.mountTime
	stat.Birthtim = fs.mountTime

	switch p {
	case "/":
		stat.Mode = fuse.S_IFDIR | fs.dirMode()
		stat.Nlink = 2
		return 0
	case saveFile:
		stat.Mode = fuse.S_IFREG | 0o200
		stat.Nlink = 1
		return 0
	case errorFile:
		stat.Mode = fuse.S_IFREG | 0o444
		stat.Nlink = 1
		stat.Size = int64(len(fs.lastError()))
		return 0
	}

	if path.Base(p) == valueFile {
		data, rc := fs.content(p)
		if rc != 0 {
			return rc
		}
		stat.Mode = fuse.S_IFREG | fs.fileMode()
		stat.Nlink = 1
		stat.Size = int64(len(data))
		return 0
	}
	if _, err := fs.lookup(p); err != nil {
		return -fuse.ENOENT
	}
	stat.Mode = fuse.S_IFDIR | fs.dirMode()
	stat.Nlink = 2
	return 0
}

// entries lists a directory: control files at the root, .value when the
// node has a value, then one directory per child.
func (fs *ArborFS) entries(p string) ([]string, int) {
	if path.Base(p) == valueFile || p == saveFile || p == errorFile {
		return nil, -fuse.ENOTDIR
	}
	v, err := fs.lookup(p)
	if err != nil {
		return nil, -fuse.ENOENT
	}
	out := []string{".", ".."}
	if p == "/" {
		out = append(out, path.Base(saveFile), path.Base(errorFile))
	}
	if v.Value != nil {
		out = append(out, valueFile)
	}
	return append(out, v.Children...), 0
}

// Opendir snapshots the entry list so paged Readdir calls see one
// consistent listing.
func (fs *ArborFS) Opendir(p string) (int, uint64) {
	names, rc := fs.entries(p)
	if rc != 0 {
		return rc, ^uint64(0)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextFh++
	fs.dirs[fs.nextFh] = names
	return 0, fs.nextFh
}

// Readdir (List directory). Entries carry offsets so the kernel can
// resume after a full buffer.
func (fs *ArborFS) Readdir(p string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fs.mu.Lock()
	names, ok := fs.dirs[fh]
	fs.mu.Unlock()
	if !ok {
		var rc int
		if names, rc = fs.entries(p); rc != 0 {
			return rc
		}
	}
	for i := int(ofst); i < len(names); i++ {
		if !fill(names[i], nil, int64(i+1)) {
			break
		}
	}
	return 0
}

func (fs *ArborFS) Releasedir(p string, fh uint64) int {
	fs.mu.Lock()
	delete(fs.dirs, fh)
	fs.mu.Unlock()
	return 0
}

func (fs *ArborFS) Open(p string, flags int) (int, uint64) {
	writing := flags&fuse.O_ACCMODE != fuse.O_RDONLY || flags&fuse.O_TRUNC != 0
	if writing && !fs.writable {
		return -fuse.EROFS, ^uint64(0)
	}
	data, rc := fs.content(p)
	if rc != 0 {
		return rc, ^uint64(0)
	}
	if p == errorFile && writing {
		return -fuse.EACCES, ^uint64(0)
	}
	h := &handle{path: p}
	if flags&fuse.O_TRUNC == 0 {
		h.buf = data
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextFh++
	fs.handles[fs.nextFh] = h
	return 0, fs.nextFh
}

// Create makes a .value file for an existing node.
func (fs *ArborFS) Create(p string, flags int, mode uint32) (int, uint64) {
	if !fs.writable {
		return -fuse.EROFS, ^uint64(0)
	}
	dir, base := path.Split(p)
	if base != valueFile {
		return -fuse.EACCES, ^uint64(0)
	}
	if _, err := fs.lookup(path.Clean(dir)); err != nil {
		return -fuse.ENOENT, ^uint64(0)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextFh++
	fs.handles[fs.nextFh] = &handle{path: p, written: true}
	return 0, fs.nextFh
}

// Read (Cat file)
func (fs *ArborFS) Read(p string, buff []byte, ofst int64, fh uint64) int {
	fs.mu.Lock()
	h, ok := fs.handles[fh]
	fs.mu.Unlock()

	var data []byte
	if ok {
		data = h.buf
	} else {
		var rc int
		if data, rc = fs.content(p); rc != 0 {
			return rc
		}
	}
	if ofst >= int64(len(data)) {
		return 0
	}
	return copy(buff, data[ofst:])
}

func (fs *ArborFS) Write(p string, buff []byte, ofst int64, fh uint64) int {
	if !fs.writable {
		return -fuse.EROFS
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, ok := fs.handles[fh]
	if !ok {
		return -fuse.EBADF
	}
	end := ofst + int64(len(buff))
	if end > int64(len(h.buf)) {
		grown := make([]byte, end)
		copy(grown, h.buf)
		h.buf = grown
	}
	n := copy(h.buf[ofst:], buff)
	h.written = true
	return n
}

// Truncate only resizes the buffer; an empty value is committed only
// when something was written.
func (fs *ArborFS) Truncate(p string, size int64, fh uint64) int {
	if !fs.writable {
		return -fuse.EROFS
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, ok := fs.handles[fh]
	if !ok {
		if size != 0 {
			return -fuse.EINVAL
		}
		// truncate(2) on a path: the value becomes empty.
		h = &handle{path: p, written: true}
		return fs.commit(h)
	}
	if size < int64(len(h.buf)) {
		h.buf = h.buf[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, h.buf)
		h.buf = grown
	}
	return 0
}

// Release commits buffered writes.
func (fs *ArborFS) Release(p string, fh uint64) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, ok := fs.handles[fh]
	if !ok {
		return 0
	}
	delete(fs.handles, fh)
	if !h.written {
		return 0
	}
	return fs.commit(h)
}

func (fs *ArborFS) commit(h *handle) int {
	if h.path == saveFile {
		return errno(fs.sh.Do(func(s *session.Session) error { return s.Save() }))
	}
	node := path.Clean(path.Dir(h.path))
	v := strings.TrimSuffix(string(h.buf), "\n")
	return errno(fs.sh.Do(func(s *session.Session) error { return s.Set(node, &v) }))
}

func (fs *ArborFS) Mkdir(p string, mode uint32) int {
	if !fs.writable {
		return -fuse.EROFS
	}
	if path.Base(p) == valueFile {
		return -fuse.EINVAL
	}
	return errno(fs.sh.Do(func(s *session.Session) error { return s.Touch(p) }))
}

// Unlink removes a node's value.
func (fs *ArborFS) Unlink(p string) int {
	if !fs.writable {
		return -fuse.EROFS
	}
	dir, base := path.Split(p)
	if base != valueFile {
		return -fuse.EPERM
	}
	return errno(fs.sh.Do(func(s *session.Session) error { return s.Set(path.Clean(dir), nil) }))
}

// Rmdir removes a node with everything below it.
func (fs *ArborFS) Rmdir(p string) int {
	if !fs.writable {
		return -fuse.EROFS
	}
	if p == "/" {
		return -fuse.EBUSY
	}
	return errno(fs.sh.Do(func(s *session.Session) error {
		n, err := s.Rm(p)
		if err == nil && n == 0 {
			return session.ErrNoMatch
		}
		return err
	}))
}

func (fs *ArborFS) Rename(oldpath, newpath string) int {
	if !fs.writable {
		return -fuse.EROFS
	}
	if path.Base(oldpath) == valueFile || path.Base(newpath) == valueFile {
		return -fuse.EINVAL
	}
	return errno(fs.sh.Do(func(s *session.Session) error { return s.Mv(oldpath, newpath) }))
}

var _ fuse.FileSystemInterface = (*ArborFS)(nil)
