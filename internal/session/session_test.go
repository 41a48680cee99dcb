package session

import (
	"errors"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/arbor/internal/span"
)

const (
	hostsText = "127.0.0.1 localhost\n192.168.0.1 router gw\n"
	grubText  = "GRUB_TIMEOUT=5\nGRUB_CMDLINE=\"quiet splash\"\n"
)

func seed(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func open(t *testing.T, flags Flags, opts ...Option) (*Session, billy.Filesystem) {
	t.Helper()
	fs := seed(t, map[string]string{
		"/etc/hosts":        hostsText,
		"/etc/default/grub": grubText,
	})
	s, err := Open(fs, flags, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, fs
}

func str(s string) *string { return &s }

func get(t *testing.T, s *Session, expr string) string {
	t.Helper()
	v, err := s.Get(expr)
	require.NoError(t, err)
	require.NotNil(t, v, expr)
	return *v
}

func read(t *testing.T, fs billy.Filesystem, name string) string {
	t.Helper()
	data, err := util.ReadFile(fs, name)
	require.NoError(t, err)
	return string(data)
}

func TestOpen_LoadsTransformedFiles(t *testing.T) {
	s, _ := open(t, 0)

	assert.Equal(t, []string{"/etc/default/grub", "/etc/hosts"}, s.Files())
	assert.Equal(t, "127.0.0.1", get(t, s, "/files/etc/hosts/1/ipaddr"))
	assert.Equal(t, "gw", get(t, s, "/files/etc/hosts/2/alias"))
	assert.Equal(t, "quiet splash", get(t, s, "/files/etc/default/grub/GRUB_CMDLINE"))

	assert.Equal(t, "Hosts.lns", get(t, s, "/augeas/files/etc/hosts/lens"))
	assert.Equal(t, "/files/etc/hosts", get(t, s, "/augeas/files/etc/hosts/path"))
	assert.Equal(t, "overwrite", get(t, s, "/augeas/save"))
	assert.Equal(t, Version, get(t, s, "/augeas/version"))
}

func TestOpen_NoLoad(t *testing.T) {
	s, _ := open(t, NoLoad)
	assert.Empty(t, s.Files())
	ok, err := s.Exists("/files/etc/hosts")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Load())
	assert.Len(t, s.Files(), 2)
}

func TestSetGetExists(t *testing.T) {
	s, _ := open(t, 0)

	require.NoError(t, s.Set("/files/etc/hosts/2/alias", str("gateway")))
	assert.Equal(t, "gateway", get(t, s, "/files/etc/hosts/2/alias"))

	require.NoError(t, s.Set("/files/etc/hosts/3/ipaddr", str("10.0.0.1")))
	ok, err := s.Exists("/files/etc/hosts/3/ipaddr")
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := s.Get("/files/etc/hosts/4")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Set("/files/etc/hosts/3/ipaddr", nil))
	v, err = s.Get("/files/etc/hosts/3/ipaddr")
	require.NoError(t, err)
	assert.Nil(t, v)
	ok, _ = s.Exists("/files/etc/hosts/3/ipaddr")
	assert.True(t, ok, "clearing a value keeps the node")
}

func TestSet_MultipleMatches(t *testing.T) {
	s, _ := open(t, 0)

	err := s.Set("/files/etc/hosts/*/ipaddr", str("0.0.0.0"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMMatch))
	assert.Equal(t, EMMatch, s.LastError().Code)
	assert.Equal(t, "127.0.0.1", get(t, s, "/files/etc/hosts/1/ipaddr"))
	assert.Equal(t, NoError, s.LastError().Code, "a successful call resets the error record")

	paths, err := s.Match("/files/etc/hosts/*/ipaddr")
	require.NoError(t, err)
	assert.Equal(t, []string{"/files/etc/hosts/1/ipaddr", "/files/etc/hosts/2/ipaddr"}, paths)
}

func TestSetM(t *testing.T) {
	s, _ := open(t, 0)

	n, err := s.SetM("/files/etc/hosts/*", "canonical", str("host"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "host", get(t, s, "/files/etc/hosts/1/canonical"))
	assert.Equal(t, "host", get(t, s, "/files/etc/hosts/2/canonical"))
}

func TestSetM_SharedTarget(t *testing.T) {
	s, _ := open(t, 0)
	require.NoError(t, s.Set("/a/x", str("1")))
	require.NoError(t, s.Insert("/a/x", "x", false))
	paths, err := s.Match("/a/x")
	require.NoError(t, err)
	require.Len(t, paths, 2)

	n, err := s.SetM("/a/x", "../y", str("v"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	paths, err = s.Match("/a/y")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/y"}, paths)
	assert.Equal(t, "v", get(t, s, "/a/y"))

	// Once it exists, both bases find the same node.
	n, err = s.SetM("/a/x", "../y", str("w"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "w", get(t, s, "/a/y"))
}

func TestBadPath(t *testing.T) {
	s, _ := open(t, 0)
	_, err := s.Get("/files/etc/hosts[")
	require.Error(t, err)
	assert.Equal(t, EPathX, CodeOf(err))
	assert.NotEmpty(t, s.LastError().Details)
}

func TestRm_Count(t *testing.T) {
	s, _ := open(t, 0)

	n, err := s.Rm("/files/etc/hosts/1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Rm("/files/etc/hosts/nothing")
	require.NoError(t, err)
	assert.Zero(t, n)

	paths, err := s.Match("/files/etc/hosts/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"/files/etc/hosts/2"}, paths)
}

func TestMv_IntoDescendantLeavesTreeUnchanged(t *testing.T) {
	s, _ := open(t, 0)
	before, err := s.Print("/files")
	require.NoError(t, err)

	err = s.Mv("/files/etc/hosts/1", "/files/etc/hosts/1/canonical/x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMvDesc))

	after, err := s.Print("/files")
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("tree changed (-before +after):\n%s", diff)
	}
}

func TestMv_ReplacesDestination(t *testing.T) {
	s, fs := open(t, 0)

	require.NoError(t, s.Mv("/files/etc/hosts/2", "/files/etc/hosts/1"))
	paths, err := s.Match("/files/etc/hosts/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"/files/etc/hosts/1"}, paths)
	assert.Equal(t, "router", get(t, s, "/files/etc/hosts/1/canonical"))

	require.NoError(t, s.Save())
	assert.Equal(t, "192.168.0.1 router gw\n", read(t, fs, "/etc/hosts"))
}

func TestInsert(t *testing.T) {
	s, fs := open(t, 0)

	require.NoError(t, s.Insert("/files/etc/default/grub/GRUB_TIMEOUT", "GRUB_DEFAULT", true))
	require.NoError(t, s.Set("/files/etc/default/grub/GRUB_DEFAULT", str("0")))
	ls, err := s.Ls("/files/etc/default/grub")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/files/etc/default/grub/GRUB_DEFAULT",
		"/files/etc/default/grub/GRUB_TIMEOUT",
		"/files/etc/default/grub/GRUB_CMDLINE",
	}, ls)

	require.NoError(t, s.Save())
	assert.Equal(t, "GRUB_DEFAULT=0\n"+grubText, read(t, fs, "/etc/default/grub"))

	err = s.Insert("/files/etc/default/grub/GRUB_TIMEOUT", "a/b", false)
	assert.True(t, errors.Is(err, ErrLabel))
}

func TestSave_OnlyChangedFile(t *testing.T) {
	const sshdText = "# server\nPort 22\nPermitRootLogin no\n"
	fs := seed(t, map[string]string{
		"/etc/hosts":           hostsText,
		"/etc/default/grub":    grubText,
		"/etc/ssh/sshd_config": sshdText,
	})
	s, err := Open(fs, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.Len(t, s.Files(), 3)

	require.NoError(t, s.Set("/files/etc/default/grub/GRUB_TIMEOUT", str("10")))
	require.NoError(t, s.Set("/files/etc/hosts/2/alias", str("gateway")))
	require.NoError(t, s.Save())

	assert.Equal(t, "GRUB_TIMEOUT=10\nGRUB_CMDLINE=\"quiet splash\"\n", read(t, fs, "/etc/default/grub"))
	assert.Equal(t, "127.0.0.1 localhost\n192.168.0.1 router gateway\n", read(t, fs, "/etc/hosts"))
	assert.Equal(t, sshdText, read(t, fs, "/etc/ssh/sshd_config"))
	saved, err := s.Match("/augeas/events/saved")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	var events []string
	for _, p := range saved {
		events = append(events, get(t, s, p))
	}
	assert.ElementsMatch(t, []string{"/files/etc/default/grub", "/files/etc/hosts"}, events)

	// Nothing is left to save.
	require.NoError(t, s.Save())
	ok, err := s.Exists("/augeas/events/saved")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave_Modes(t *testing.T) {
	t.Run("backup", func(t *testing.T) {
		s, fs := open(t, SaveBackup)
		require.NoError(t, s.Set("/files/etc/default/grub/GRUB_TIMEOUT", str("1")))
		require.NoError(t, s.Save())
		assert.Equal(t, grubText, read(t, fs, "/etc/default/grub.augsave"))
		assert.Contains(t, read(t, fs, "/etc/default/grub"), "GRUB_TIMEOUT=1\n")
	})
	t.Run("newfile", func(t *testing.T) {
		s, fs := open(t, SaveNewFile)
		require.NoError(t, s.Set("/files/etc/default/grub/GRUB_TIMEOUT", str("1")))
		require.NoError(t, s.Save())
		assert.Equal(t, grubText, read(t, fs, "/etc/default/grub"))
		assert.Contains(t, read(t, fs, "/etc/default/grub.augnew"), "GRUB_TIMEOUT=1\n")
	})
	t.Run("noop", func(t *testing.T) {
		s, fs := open(t, 0)
		require.NoError(t, s.SetSaveMode("noop"))
		require.NoError(t, s.Set("/files/etc/default/grub/GRUB_TIMEOUT", str("1")))
		require.NoError(t, s.Save())
		assert.Equal(t, grubText, read(t, fs, "/etc/default/grub"))
		assert.Equal(t, "/files/etc/default/grub", get(t, s, "/augeas/events/saved"))
	})
	t.Run("invalid", func(t *testing.T) {
		s, _ := open(t, 0)
		require.NoError(t, s.Set("/augeas/save", str("sideways")))
		assert.True(t, errors.Is(s.Save(), ErrBadArg))
	})
}

func TestSave_RemovedFile(t *testing.T) {
	s, fs := open(t, 0)

	_, err := s.Rm("/files/etc/hosts")
	require.NoError(t, err)
	require.NoError(t, s.Save())

	_, err = fs.Stat("/etc/hosts")
	assert.Error(t, err)
	assert.Equal(t, []string{"/etc/default/grub"}, s.Files())
}

func TestSave_NewFile(t *testing.T) {
	s, fs := open(t, 0)

	require.NoError(t, s.Set("/files/etc/default/locale/LANG", str("C.UTF-8")))
	changes, err := s.Preview()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "/etc/default/locale", changes[0].Path)
	assert.Nil(t, changes[0].Before)

	require.NoError(t, s.Save())
	assert.Equal(t, "LANG=C.UTF-8\n", read(t, fs, "/etc/default/locale"))
	assert.Contains(t, s.Files(), "/etc/default/locale")
}

func TestPreview_HasNoSideEffects(t *testing.T) {
	s, fs := open(t, 0)
	require.NoError(t, s.Set("/files/etc/hosts/1/canonical", str("loopback")))

	changes, err := s.Preview()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "127.0.0.1 loopback\n192.168.0.1 router gw\n", string(changes[0].After))
	assert.Equal(t, hostsText, read(t, fs, "/etc/hosts"))

	changes, err = s.Preview()
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestSave_RefusesTextThatReadsBackDifferently(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value string
	}{
		{"line break in a name", "/files/etc/hosts/1/canonical", "localhost\n6.6.6.6 evil"},
		{"blank in an alias", "/files/etc/hosts/2/alias", "quiet splash"},
		{"comment marker in an alias", "/files/etc/hosts/2/alias", "gw#x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, fs := open(t, 0)
			require.NoError(t, s.Set(tc.path, str(tc.value)))

			err := s.Save()
			assert.Equal(t, ECmdRun, CodeOf(err))
			assert.Equal(t, hostsText, read(t, fs, "/etc/hosts"))
			assert.Equal(t, "put_failed", get(t, s, "/augeas/files/etc/hosts/error"))
			ok, err := s.Exists("/augeas/events/saved")
			require.NoError(t, err)
			assert.False(t, ok)

			// The tree keeps the edit.
			assert.Equal(t, tc.value, get(t, s, tc.path))
		})
	}
}

func TestSave_RefusesLabelTheLensCannotHold(t *testing.T) {
	s, fs := open(t, 0)

	_, err := s.Rename("/files/etc/hosts/2/alias", "nickname")
	require.NoError(t, err)
	_, err = s.Preview()
	assert.Equal(t, ECmdRun, CodeOf(err))

	assert.Error(t, s.Save())
	assert.Equal(t, hostsText, read(t, fs, "/etc/hosts"))
	assert.Equal(t, "put_failed", get(t, s, "/augeas/files/etc/hosts/error"))
}

func TestSave_SpacevarsRejectsCommentMarker(t *testing.T) {
	fs := seed(t, map[string]string{"/etc/ssh/sshd_config": "Port 22\n"})
	s, err := Open(fs, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set("/files/etc/ssh/sshd_config/Port", str("22 # primary")))
	assert.Error(t, s.Save())
	assert.Equal(t, "Port 22\n", read(t, fs, "/etc/ssh/sshd_config"))
	assert.Equal(t, "put_failed", get(t, s, "/augeas/files/etc/ssh/sshd_config/error"))
}

func TestDefNode(t *testing.T) {
	s, _ := open(t, 0)

	n, created, err := s.DefNode("new", "/files/etc/hosts/3/ipaddr", str("10.0.0.3"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, created)
	assert.Equal(t, "10.0.0.3", get(t, s, "$new"))

	n, created, err = s.DefNode("new", "/files/etc/hosts/3/ipaddr", str("ignored"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, created)
	assert.Equal(t, "10.0.0.3", get(t, s, "$new"))
}

func TestDefVar_PrunedOnRemove(t *testing.T) {
	s, _ := open(t, 0)

	n, err := s.DefVar("hosts", "/files/etc/hosts/*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, s.Vars(), "hosts")

	paths, err := s.Match("$hosts/canonical")
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	_, err = s.Rm("/files/etc/hosts/1")
	require.NoError(t, err)
	paths, err = s.Match("$hosts")
	require.NoError(t, err)
	assert.Equal(t, []string{"/files/etc/hosts/2"}, paths)

	_, err = s.DefVar("hosts", "")
	require.NoError(t, err)
	assert.NotContains(t, s.Vars(), "hosts")
}

func TestSpan(t *testing.T) {
	s, _ := open(t, EnableSpan)

	sp, err := s.Span("/files/etc/hosts/1/ipaddr")
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", sp.Filename)
	assert.Equal(t, span.Range{Start: 0, End: 9}, sp.Value)

	require.NoError(t, s.Set("/files/etc/hosts/1/ipaddr", str("127.0.1.1")))
	_, err = s.Span("/files/etc/hosts/1/ipaddr")
	assert.True(t, errors.Is(err, ErrNoSpan))

	_, err = s.Span("/files/etc/hosts/9")
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestSpan_Disabled(t *testing.T) {
	s, _ := open(t, 0)
	_, err := s.Span("/files/etc/hosts/1/ipaddr")
	assert.True(t, errors.Is(err, ErrNoSpan))
}

func TestLoad_ParseFailure(t *testing.T) {
	fs := seed(t, map[string]string{
		"/etc/hosts":        "lonely\n",
		"/etc/default/grub": grubText,
	})
	s, err := Open(fs, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"/etc/default/grub"}, s.Files())
	assert.Equal(t, "parse_failed", get(t, s, "/augeas/files/etc/hosts/error"))
	assert.Equal(t, "1", get(t, s, "/augeas/files/etc/hosts/error/line"))

	err = s.Load()
	assert.Equal(t, ESyntax, CodeOf(err))
}

func TestLoad_TypeCheck(t *testing.T) {
	s, _ := open(t, TypeCheck)
	assert.Len(t, s.Files(), 2)
}

func TestLoad_SkipsBackups(t *testing.T) {
	fs := seed(t, map[string]string{
		"/etc/default/grub":         grubText,
		"/etc/default/grub.augsave": grubText,
		"/etc/default/grub~":        grubText,
	})
	s, err := Open(fs, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/default/grub"}, s.Files())
}

func TestTransform(t *testing.T) {
	fs := seed(t, map[string]string{
		"/srv/hosts":  hostsText,
		"/srv/hosts2": hostsText,
	})
	s, err := Open(fs, NoLoad|NoModlAutoload)
	require.NoError(t, err)

	require.NoError(t, s.Transform("Hosts", "/srv/hosts*", false))
	require.NoError(t, s.Transform("Hosts", "hosts2", true))
	require.NoError(t, s.Load())
	assert.Equal(t, []string{"/srv/hosts"}, s.Files())

	err = s.Transform("Nope", "/srv/x", false)
	assert.True(t, errors.Is(err, ErrNoLens))

	require.NoError(t, s.ClearTransforms())
	require.NoError(t, s.Load())
	assert.Empty(t, s.Files())
}

func TestLoadPath(t *testing.T) {
	fs := seed(t, map[string]string{
		"/srv/hosts": hostsText,
		"/lenses/local.json": `{"transforms": [
			{"name": "Local", "lens": "@Hosts", "incl": ["/srv/hosts"]}
		]}`,
	})
	s, err := Open(fs, 0, WithLoadPath("/lenses"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/hosts"}, s.Files())
	assert.Equal(t, "Hosts.lns", get(t, s, "/augeas/load/Local/lens"))
}

func TestLoad_MultipleTransforms(t *testing.T) {
	s, _ := open(t, NoLoad)
	require.NoError(t, s.Transform("Spacevars", "/etc/hosts", false))

	err := s.Load()
	assert.True(t, errors.Is(err, ErrMXfm))
	assert.Equal(t, "mxfm_load", get(t, s, "/augeas/files/etc/hosts/error"))
	assert.NotContains(t, s.Files(), "/etc/hosts")
}

func TestTextStoreRetrieve(t *testing.T) {
	s, _ := open(t, NoLoad)

	require.NoError(t, s.Set("/text/in", str("A=1\n")))
	require.NoError(t, s.TextStore("Shellvars.lns", "/text/in", "/text/tree"))
	assert.Equal(t, "1", get(t, s, "/text/tree/A"))

	require.NoError(t, s.Set("/text/tree/B", str("two words")))
	require.NoError(t, s.TextRetrieve("Shellvars.lns", "/text/in", "/text/tree", "/text/out"))
	assert.Equal(t, "A=1\nB=\"two words\"\n", get(t, s, "/text/out"))
}

func TestTextStore_ParseError(t *testing.T) {
	s, _ := open(t, NoLoad)

	require.NoError(t, s.Set("/text/bad", str("lonely\n")))
	err := s.TextStore("Hosts.lns", "/text/bad", "/text/t")
	assert.True(t, errors.Is(err, ErrSyntax))
	assert.Equal(t, "parse_failed", get(t, s, "/augeas/text/text/t/error"))

	err = s.TextStore("Hosts.lns", "/text/missing", "/text/t")
	assert.True(t, errors.Is(err, ErrNoMatch))

	err = s.TextStore("Nope.lns", "/text/bad", "/text/t")
	assert.True(t, errors.Is(err, ErrNoLens))
}

func TestContext(t *testing.T) {
	s, _ := open(t, 0)

	assert.Equal(t, "/files", s.Context())
	assert.Equal(t, "localhost", get(t, s, "etc/hosts/1/canonical"))

	require.NoError(t, s.SetContext("/files/etc/hosts"))
	assert.Equal(t, "router", get(t, s, "2/canonical"))
}

func TestClose(t *testing.T) {
	s, _ := open(t, 0)
	require.NoError(t, s.Close())
	_, err := s.Get("/files")
	assert.True(t, errors.Is(err, ErrInternal))
}
