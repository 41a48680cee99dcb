// Package writeback stores printed files through a billy.Filesystem.
// Every write goes to a temporary file in the target directory first and
// is renamed into place, so readers never see a partial file.
package writeback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sys/unix"
)

// Mode selects what Save does with a file it would change.
type Mode int

const (
	// Overwrite replaces the file in place.
	Overwrite Mode = iota
	// Backup copies the old contents to <file>.augsave first.
	Backup
	// NewFile writes <file>.augnew and leaves the file alone.
	NewFile
	// Noop writes nothing.
	Noop
)

const (
	BackupSuffix  = ".augsave"
	NewFileSuffix = ".augnew"
)

var modeNames = map[Mode]string{
	Overwrite: "overwrite",
	Backup:    "backup",
	NewFile:   "newfile",
	Noop:      "noop",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return Overwrite, fmt.Errorf("invalid save mode %q", s)
}

// Writer writes files below the root of FS.
type Writer struct {
	FS   billy.Filesystem
	Mode Mode
	// Base is the directory FS is rooted at on disk, or "" for in-memory
	// filesystems. File ownership is only preserved when it is set.
	Base string
}

// Write stores content for path according to the mode and returns the
// path actually written, or "" when nothing was written.
func (w *Writer) Write(path string, content []byte) (string, error) {
	target := path
	switch w.Mode {
	case Noop:
		return "", nil
	case NewFile:
		target = path + NewFileSuffix
	case Backup:
		if err := w.backup(path); err != nil {
			return "", err
		}
	}

	dir := filepath.Dir(target)
	if err := w.FS.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := w.FS.TempFile(dir, ".arbor-save-")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = w.FS.Remove(tmpName) // best-effort cleanup
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = w.FS.Remove(tmpName) // best-effort cleanup
		return "", fmt.Errorf("close temp: %w", err)
	}

	perm := os.FileMode(0o644)
	if info, err := w.FS.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if ch, ok := w.FS.(billy.Change); !ok || ch.Chmod(tmpName, perm) != nil {
		if w.Base != "" {
			_ = unix.Chmod(filepath.Join(w.Base, tmpName), uint32(perm)) // best-effort permission sync
		}
	}
	uid, gid, owned := w.owner(path)

	if err := w.FS.Rename(tmpName, target); err != nil {
		_ = w.FS.Remove(tmpName) // best-effort cleanup
		return "", fmt.Errorf("rename temp to %s: %w", target, err)
	}
	if owned {
		_ = unix.Chown(filepath.Join(w.Base, target), uid, gid) // fails unless privileged
	}
	return target, nil
}

// Remove deletes path according to the mode and returns the path that
// was removed, or "" when the file was left alone.
func (w *Writer) Remove(path string) (string, error) {
	switch w.Mode {
	case Noop, NewFile:
		return "", nil
	case Backup:
		if err := w.FS.Rename(path, path+BackupSuffix); err != nil {
			return "", fmt.Errorf("back up %s: %w", path, err)
		}
		return path, nil
	}
	if err := w.FS.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) backup(path string) error {
	info, err := w.FS.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := util.ReadFile(w.FS, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := util.WriteFile(w.FS, path+BackupSuffix, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("back up %s: %w", path, err)
	}
	return nil
}

func (w *Writer) owner(path string) (uid, gid int, ok bool) {
	if w.Base == "" {
		return 0, 0, false
	}
	var st unix.Stat_t
	if err := unix.Stat(filepath.Join(w.Base, path), &st); err != nil {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
