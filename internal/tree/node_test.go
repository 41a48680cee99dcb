package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustChild(t *testing.T, s *Store, parent ID, label string) ID {
	t.Helper()
	n, err := s.NewChild(parent, label, -1)
	require.NoError(t, err)
	return n.ID
}

func labels(s *Store, id ID) []string {
	var out []string
	for _, c := range s.Children(id) {
		out = append(out, c.Label)
	}
	return out
}

func TestStore_NewHasRootOnly(t *testing.T) {
	s := New()
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "", s.Root().Label)
	assert.Equal(t, "/", s.Path(RootID))
}

func TestStore_PathDisambiguatesSiblings(t *testing.T) {
	s := New()
	files := mustChild(t, s, RootID, "files")
	hosts := mustChild(t, s, files, "hosts")
	e := mustChild(t, s, hosts, "1")
	mustChild(t, s, e, "alias")
	a2 := mustChild(t, s, e, "alias")

	assert.Equal(t, "/files/hosts/1", s.Path(e))
	assert.Equal(t, "/files/hosts/1/alias[2]", s.Path(a2))
}

func TestStore_PathEscapesDelimiters(t *testing.T) {
	s := New()
	id := mustChild(t, s, RootID, "a b/c")
	assert.Equal(t, `/a\ b\/c`, s.Path(id))
	dot := mustChild(t, s, RootID, "..")
	assert.Equal(t, `/\..`, s.Path(dot))
}

func TestStore_InsertSibling(t *testing.T) {
	s := New()
	a := mustChild(t, s, RootID, "a")
	mustChild(t, s, RootID, "c")

	_, err := s.InsertSibling(a, "before", true)
	require.NoError(t, err)
	_, err = s.InsertSibling(a, "after", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "a", "after", "c"}, labels(s, RootID))

	_, err = s.InsertSibling(RootID, "x", true)
	assert.ErrorIs(t, err, ErrRoot)
}

func TestStore_AppendAfterLabel(t *testing.T) {
	s := New()
	mustChild(t, s, RootID, "user")
	mustChild(t, s, RootID, "gid")
	_, err := s.AppendAfterLabel(RootID, "user")
	require.NoError(t, err)
	_, err = s.AppendAfterLabel(RootID, "other")
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "user", "gid", "other"}, labels(s, RootID))
}

func TestStore_RemoveCountsSubtree(t *testing.T) {
	s := New()
	a := mustChild(t, s, RootID, "a")
	b := mustChild(t, s, a, "b")
	mustChild(t, s, b, "c")
	mustChild(t, s, a, "d")

	ids, err := s.Remove(a)
	require.NoError(t, err)
	assert.Len(t, ids, 4)
	assert.Nil(t, s.Node(a))
	assert.Nil(t, s.Node(b))
	assert.Equal(t, 1, s.Len())

	_, err = s.Remove(RootID)
	assert.ErrorIs(t, err, ErrRoot)
}

func TestStore_AttachRejectsCycle(t *testing.T) {
	s := New()
	a := mustChild(t, s, RootID, "a")
	b := mustChild(t, s, a, "b")

	require.NoError(t, s.Detach(a))
	assert.ErrorIs(t, s.Attach(a, b, -1), ErrCycle)
	require.NoError(t, s.Attach(a, RootID, 0))
	assert.Equal(t, "/a/b", s.Path(b))
}

func TestStore_DirtyPropagates(t *testing.T) {
	s := New()
	a := mustChild(t, s, RootID, "a")
	b := mustChild(t, s, a, "b")
	s.ClearDirty(RootID)

	v := "x"
	require.NoError(t, s.SetValue(b, &v))
	assert.True(t, s.Node(b).Dirty)
	assert.True(t, s.Node(a).Dirty)
	assert.True(t, s.Root().Dirty)

	v = "changed after set"
	assert.Equal(t, "x", s.Node(b).ValueString(), "SetValue copies the value")
}

func TestStore_BeforeAndContains(t *testing.T) {
	s := New()
	a := mustChild(t, s, RootID, "a")
	a1 := mustChild(t, s, a, "a1")
	b := mustChild(t, s, RootID, "b")

	assert.True(t, s.Before(a, a1))
	assert.True(t, s.Before(a1, b))
	assert.False(t, s.Before(b, a))
	assert.True(t, s.Contains(a, a1))
	assert.False(t, s.Contains(a1, a))
	assert.Equal(t, 2, s.Depth(a1))
}

func TestValidLabel(t *testing.T) {
	assert.True(t, ValidLabel("#comment"))
	assert.False(t, ValidLabel(""))
	assert.False(t, ValidLabel("a/b"))
}
