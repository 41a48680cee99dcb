package fs

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/agentic-research/arbor/internal/session"
)

// newTestFS opens a session over an in-memory /etc/hosts.
func newTestFS(t *testing.T, writable bool) (*ArborFS, *session.Shared) {
	t.Helper()
	root := memfs.New()
	require.NoError(t, util.WriteFile(root, "/etc/hosts", []byte("127.0.0.1 localhost\n10.0.0.1 box gw\n"), 0o644))
	s, err := session.Open(root, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	sh := session.NewShared(s)
	return NewArborFS(sh, writable), sh
}

func readdir(t *testing.T, afs *ArborFS, p string) []string {
	t.Helper()
	var names []string
	rc := afs.Readdir(p, func(name string, _ *fuse.Stat_t, _ int64) bool {
		names = append(names, name)
		return true
	}, 0, ^uint64(0))
	require.Equal(t, 0, rc)
	return names
}

func value(t *testing.T, sh *session.Shared, expr string) *string {
	t.Helper()
	var v *string
	require.NoError(t, sh.Do(func(s *session.Session) error {
		var err error
		v, err = s.Get(expr)
		return err
	}))
	return v
}

func TestArborFS_Getattr(t *testing.T) {
	afs, _ := newTestFS(t, false)

	tests := []struct {
		name    string
		path    string
		wantErr int
		mode    uint32
		size    int64
	}{
		{"root", "/", 0, fuse.S_IFDIR, 0},
		{"node", "/files/etc/hosts/2", 0, fuse.S_IFDIR, 0},
		{"value", "/files/etc/hosts/2/canonical/.value", 0, fuse.S_IFREG, int64(len("box\n"))},
		{"save control", "/_save", 0, fuse.S_IFREG, 0},
		{"missing node", "/files/etc/nothing", -fuse.ENOENT, 0, 0},
		{"node without value", "/files/etc/hosts/2/.value", -fuse.ENOENT, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stat fuse.Stat_t
			rc := afs.Getattr(tt.path, &stat, 0)
			require.Equal(t, tt.wantErr, rc)
			if rc != 0 {
				return
			}
			assert.Equal(t, tt.mode, stat.Mode&fuse.S_IFMT)
			assert.Equal(t, tt.size, stat.Size)
		})
	}
}

func TestArborFS_Readdir(t *testing.T) {
	afs, _ := newTestFS(t, false)

	assert.Equal(t, []string{".", "..", "_save", "_error", "augeas", "files"}, readdir(t, afs, "/"))
	assert.Equal(t, []string{".", "..", "ipaddr", "canonical", "alias"}, readdir(t, afs, "/files/etc/hosts/2"))
	assert.Equal(t, []string{".", "..", ".value"}, readdir(t, afs, "/files/etc/hosts/2/alias"))
}

func TestArborFS_Opendir_PagedReaddir(t *testing.T) {
	afs, _ := newTestFS(t, false)

	rc, fh := afs.Opendir("/files/etc/hosts")
	require.Equal(t, 0, rc)

	var page1 []string
	afs.Readdir("/files/etc/hosts", func(name string, _ *fuse.Stat_t, _ int64) bool {
		page1 = append(page1, name)
		return len(page1) < 2
	}, 0, fh)
	assert.Equal(t, []string{".", ".."}, page1)

	var page2 []string
	afs.Readdir("/files/etc/hosts", func(name string, _ *fuse.Stat_t, _ int64) bool {
		page2 = append(page2, name)
		return true
	}, 2, fh)
	assert.Equal(t, []string{"1", "2"}, page2)

	assert.Equal(t, 0, afs.Releasedir("/files/etc/hosts", fh))
}

func TestArborFS_Opendir_Errors(t *testing.T) {
	afs, _ := newTestFS(t, false)

	rc, _ := afs.Opendir("/files/nothing")
	assert.Equal(t, -fuse.ENOENT, rc)
	rc, _ = afs.Opendir("/files/etc/hosts/1/ipaddr/.value")
	assert.Equal(t, -fuse.ENOTDIR, rc)
}

func TestArborFS_Read(t *testing.T) {
	afs, _ := newTestFS(t, false)

	tests := []struct {
		name     string
		path     string
		offset   int64
		wantN    int
		wantData string
	}{
		{"value from start", "/files/etc/hosts/1/ipaddr/.value", 0, len("127.0.0.1\n"), "127.0.0.1\n"},
		{"value with offset", "/files/etc/hosts/1/ipaddr/.value", 4, len("0.0.1\n"), "0.0.1\n"},
		{"past end", "/files/etc/hosts/1/ipaddr/.value", 100, 0, ""},
		{"missing", "/files/nothing/.value", 0, -fuse.ENOENT, ""},
		{"directory", "/files/etc/hosts/1", 0, -fuse.EISDIR, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buff := make([]byte, 100)
			n := afs.Read(tt.path, buff, tt.offset, ^uint64(0))
			require.Equal(t, tt.wantN, n)
			if n > 0 {
				assert.Equal(t, tt.wantData, string(buff[:n]))
			}
		})
	}
}

func TestArborFS_ReadOnly(t *testing.T) {
	afs, _ := newTestFS(t, false)

	rc, _ := afs.Open("/files/etc/hosts/1/ipaddr/.value", fuse.O_WRONLY)
	assert.Equal(t, -fuse.EROFS, rc)
	assert.Equal(t, -fuse.EROFS, afs.Mkdir("/files/x", 0o755))
	assert.Equal(t, -fuse.EROFS, afs.Rmdir("/files/etc/hosts/1"))
}

func TestArborFS_WriteCommitsOnRelease(t *testing.T) {
	afs, sh := newTestFS(t, true)
	p := "/files/etc/hosts/2/canonical/.value"

	rc, fh := afs.Open(p, fuse.O_WRONLY|fuse.O_TRUNC)
	require.Equal(t, 0, rc)
	assert.Equal(t, 7, afs.Write(p, []byte("server\n"), 0, fh))
	assert.Equal(t, "box", *value(t, sh, "/files/etc/hosts/2/canonical"), "nothing changes before release")

	require.Equal(t, 0, afs.Release(p, fh))
	assert.Equal(t, "server", *value(t, sh, "/files/etc/hosts/2/canonical"))
}

func TestArborFS_TruncateWithoutWrite(t *testing.T) {
	afs, sh := newTestFS(t, true)
	p := "/files/etc/hosts/2/canonical/.value"

	rc, fh := afs.Open(p, fuse.O_WRONLY)
	require.Equal(t, 0, rc)
	require.Equal(t, 0, afs.Truncate(p, 0, fh))
	require.Equal(t, 0, afs.Release(p, fh))
	assert.Equal(t, "box", *value(t, sh, "/files/etc/hosts/2/canonical"))
}

func TestArborFS_StructureOps(t *testing.T) {
	afs, sh := newTestFS(t, true)

	require.Equal(t, 0, afs.Mkdir("/files/etc/hosts/3", 0o755))
	rc, fh := afs.Create("/files/etc/hosts/3/.value", fuse.O_WRONLY, 0o644)
	require.Equal(t, 0, rc)
	require.Equal(t, 0, afs.Release("/files/etc/hosts/3/.value", fh))
	assert.Equal(t, "", *value(t, sh, "/files/etc/hosts/3"))

	require.Equal(t, 0, afs.Unlink("/files/etc/hosts/3/.value"))
	assert.Nil(t, value(t, sh, "/files/etc/hosts/3"))

	require.Equal(t, 0, afs.Rename("/files/etc/hosts/2/alias", "/files/etc/hosts/3/alias"))
	assert.Equal(t, "gw", *value(t, sh, "/files/etc/hosts/3/alias"))

	assert.Equal(t, -fuse.EINVAL, afs.Rename("/files/etc/hosts/1", "/files/etc/hosts/1/ipaddr/x"))
	require.Equal(t, 0, afs.Rmdir("/files/etc/hosts/3"))
	assert.Equal(t, -fuse.ENOENT, afs.Rmdir("/files/etc/hosts/3"))
}

func TestArborFS_SaveControl(t *testing.T) {
	afs, sh := newTestFS(t, true)
	p := "/files/etc/hosts/1/canonical/.value"

	_, fh := afs.Open(p, fuse.O_WRONLY|fuse.O_TRUNC)
	afs.Write(p, []byte("loopback"), 0, fh)
	require.Equal(t, 0, afs.Release(p, fh))

	rc, fh := afs.Open(saveFile, fuse.O_WRONLY)
	require.Equal(t, 0, rc)
	afs.Write(saveFile, []byte("1"), 0, fh)
	require.Equal(t, 0, afs.Release(saveFile, fh))
	assert.Equal(t, "/files/etc/hosts", *value(t, sh, "/augeas/events/saved"))
}

func TestArborFS_ErrorCodesArePositive(t *testing.T) {
	if fuse.ENOENT <= 0 {
		t.Errorf("fuse.ENOENT = %v, expected positive value", fuse.ENOENT)
	}
}
