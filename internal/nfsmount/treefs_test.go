package nfsmount

import (
	"io"
	"net"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/arbor/internal/session"
)

const hostsText = "127.0.0.1 localhost\n10.0.0.1 box gw\n"

func newTestFS(t *testing.T, writable bool) (*TreeFS, *session.Shared) {
	t.Helper()
	root := memfs.New()
	require.NoError(t, util.WriteFile(root, "/etc/hosts", []byte(hostsText), 0o644))
	s, err := session.Open(root, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	sh := session.NewShared(s)
	return NewTreeFS(sh, writable), sh
}

func names(infos []os.FileInfo) []string {
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.Name()
	}
	return out
}

func readAll(t *testing.T, tfs *TreeFS, name string) string {
	t.Helper()
	f, err := tfs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestStatRoot(t *testing.T) {
	tfs, _ := newTestFS(t, false)

	info, err := tfs.Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "/", info.Name())
}

func TestStatNodeAndValue(t *testing.T) {
	tfs, _ := newTestFS(t, false)

	info, err := tfs.Stat("/files/etc/hosts/2")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "2", info.Name())

	info, err = tfs.Stat("/files/etc/hosts/2/canonical/.value")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, int64(len("box\n")), info.Size())

	_, err = tfs.Stat("/files/etc/hosts/2/.value")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = tfs.Stat("/files/etc/nothing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadDir(t *testing.T) {
	tfs, _ := newTestFS(t, false)

	infos, err := tfs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"_save", "_error", "augeas", "files"}, names(infos))

	infos, err = tfs.ReadDir("/files/etc/hosts/2")
	require.NoError(t, err)
	assert.Equal(t, []string{"ipaddr", "canonical", "alias"}, names(infos))

	infos, err = tfs.ReadDir("/files/etc/hosts/2/alias")
	require.NoError(t, err)
	assert.Equal(t, []string{ValueFile}, names(infos))
}

func TestReadValue(t *testing.T) {
	tfs, _ := newTestFS(t, false)
	assert.Equal(t, "10.0.0.1\n", readAll(t, tfs, "/files/etc/hosts/2/ipaddr/.value"))

	_, err := tfs.Open("/files/etc/hosts/2")
	assert.Error(t, err)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	tfs, _ := newTestFS(t, false)

	_, err := tfs.OpenFile("/files/etc/hosts/2/ipaddr/.value", os.O_WRONLY, 0)
	assert.ErrorIs(t, err, errReadOnly)
	assert.ErrorIs(t, tfs.Remove("/files/etc/hosts/2"), errReadOnly)
	assert.ErrorIs(t, tfs.MkdirAll("/files/x", 0o755), errReadOnly)
}

func TestWriteValue(t *testing.T) {
	tfs, sh := newTestFS(t, true)

	f, err := tfs.OpenFile("/files/etc/hosts/2/canonical/.value", os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("server\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, sh.Do(func(s *session.Session) error {
		v, err := s.Get("/files/etc/hosts/2/canonical")
		require.NoError(t, err)
		assert.Equal(t, "server", *v)
		return nil
	}))
}

func TestTruncateWithoutWriteKeepsValue(t *testing.T) {
	tfs, _ := newTestFS(t, true)

	f, err := tfs.OpenFile("/files/etc/hosts/2/canonical/.value", os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(0))
	require.NoError(t, f.Close())

	assert.Equal(t, "box\n", readAll(t, tfs, "/files/etc/hosts/2/canonical/.value"))
}

func TestMkdirRemoveRename(t *testing.T) {
	tfs, _ := newTestFS(t, true)

	require.NoError(t, tfs.MkdirAll("/files/etc/hosts/3", 0o755))
	info, err := tfs.Stat("/files/etc/hosts/3")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, tfs.Rename("/files/etc/hosts/2/alias", "/files/etc/hosts/3/alias"))
	_, err = tfs.Stat("/files/etc/hosts/2/alias")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "gw\n", readAll(t, tfs, "/files/etc/hosts/3/alias/.value"))

	require.NoError(t, tfs.Remove("/files/etc/hosts/3/alias/.value"))
	_, err = tfs.Stat("/files/etc/hosts/3/alias/.value")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, tfs.Remove("/files/etc/hosts/3"))
	assert.ErrorIs(t, tfs.Remove("/files/etc/hosts/3"), os.ErrNotExist)
}

func TestSaveFile(t *testing.T) {
	tfs, sh := newTestFS(t, true)

	f, err := tfs.OpenFile("/files/etc/hosts/1/canonical/.value", os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("loopback"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = tfs.OpenFile(SaveFile, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("1"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, sh.Do(func(s *session.Session) error {
		v, err := s.Get("/augeas/events/saved")
		require.NoError(t, err)
		assert.Equal(t, "/files/etc/hosts", *v)
		return nil
	}))
	assert.Empty(t, readAll(t, tfs, ErrorFile))
}

func TestErrorFile(t *testing.T) {
	tfs, _ := newTestFS(t, true)

	assert.Error(t, tfs.Rename("/files/etc/hosts/1", "/files/etc/hosts/1/ipaddr/x"))
	assert.Contains(t, readAll(t, tfs, ErrorFile), "descendant")
}

func TestServerLifecycle(t *testing.T) {
	tfs, _ := newTestFS(t, false)

	srv, err := NewServer(tfs, "127.0.0.1:0")
	require.NoError(t, err)
	assert.NotZero(t, srv.Port())

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	_ = conn.Close()
	require.NoError(t, srv.Close())
}

func TestMountArgs(t *testing.T) {
	tests := []struct {
		goos     string
		writable bool
		wantOpts string
	}{
		{"linux", false, "port=2049,mountport=2049,vers=3,tcp,local_lock=all,nolock,ro"},
		{"linux", true, "port=2049,mountport=2049,vers=3,tcp,local_lock=all,nolock"},
		{"darwin", false, "port=2049,mountport=2049,vers=3,tcp,locallocks,noresvport,rdonly"},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			args, err := mountArgs(tt.goos, 2049, "/mnt/conf", tt.writable)
			require.NoError(t, err)
			assert.Equal(t, []string{"mount", "-t", "nfs", "-o", tt.wantOpts, "localhost:/", "/mnt/conf"}, args)
		})
	}

	_, err := mountArgs("plan9", 2049, "/mnt/conf", false)
	assert.Error(t, err)
}
