package pathx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/arbor/internal/tree"
)

// add creates parent/label with an optional value.
func add(t *testing.T, s *tree.Store, parent tree.ID, label string, value ...string) tree.ID {
	t.Helper()
	n, err := s.NewChild(parent, label, -1)
	require.NoError(t, err)
	if len(value) > 0 {
		require.NoError(t, s.SetValue(n.ID, &value[0]))
	}
	return n.ID
}

// hostsFixture builds
//
//	/files/etc/hosts/#comment = "static table"
//	/files/etc/hosts/1/{ipaddr=127.0.0.1 canonical=localhost alias=lh alias=local}
//	/files/etc/hosts/2/{ipaddr=::1 canonical=ip6-localhost}
func hostsFixture(t *testing.T) (*Engine, *Vars, tree.ID) {
	t.Helper()
	s := tree.New()
	files := add(t, s, tree.RootID, "files")
	etc := add(t, s, files, "etc")
	hosts := add(t, s, etc, "hosts")
	add(t, s, hosts, "#comment", "static table")
	e1 := add(t, s, hosts, "1")
	add(t, s, e1, "ipaddr", "127.0.0.1")
	add(t, s, e1, "canonical", "localhost")
	add(t, s, e1, "alias", "lh")
	add(t, s, e1, "alias", "local")
	e2 := add(t, s, hosts, "2")
	add(t, s, e2, "ipaddr", "::1")
	add(t, s, e2, "canonical", "ip6-localhost")
	s.ClearDirty(tree.RootID)

	vars := NewVars()
	return &Engine{Store: s, Vars: vars}, vars, hosts
}

func matchPaths(t *testing.T, e *Engine, src string, ctx tree.ID) []string {
	t.Helper()
	p, err := Parse(src)
	require.NoError(t, err, src)
	ids, err := e.Nodes(p, ctx)
	require.NoError(t, err, src)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.Store.Path(id))
	}
	return out
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"//",
		"/files//",
		"/files/etc[",
		"/files/etc[1",
		"$",
		"'unterminated",
		"count(/a",
		"nosuch(/a)",
		"count()",
		"/a ! b",
		"bogus::a",
		"/a/b c",
		`/files/a\`,
		`$\`,
		`\`,
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, ErrSyntax, perr.Kind)
			assert.Equal(t, src, perr.Expr)
		})
	}
}

func TestEval_ChildStepsAndPositions(t *testing.T) {
	e, _, hosts := hostsFixture(t)

	assert.Equal(t, []string{"/files/etc/hosts/1/alias[1]", "/files/etc/hosts/1/alias[2]"},
		matchPaths(t, e, "/files/etc/hosts/1/alias", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1/alias[2]"},
		matchPaths(t, e, "/files/etc/hosts/1/alias[2]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1/alias[2]"},
		matchPaths(t, e, "/files/etc/hosts/1/alias[last()]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1/alias[1]"},
		matchPaths(t, e, "/files/etc/hosts/1/alias[last()-1]", tree.RootID))
	assert.Empty(t, matchPaths(t, e, "/files/etc/hosts/1/alias[3]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1/ipaddr", "/files/etc/hosts/2/ipaddr"},
		matchPaths(t, e, "/files/etc/hosts/*/ipaddr", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/2/canonical"},
		matchPaths(t, e, "2/canonical", hosts), "numeric labels work as relative steps")
	assert.Equal(t, []string{"/"}, matchPaths(t, e, "/", hosts))
}

func TestEval_ValuePredicates(t *testing.T) {
	e, _, _ := hostsFixture(t)

	assert.Equal(t, []string{"/files/etc/hosts/1"},
		matchPaths(t, e, "/files/etc/hosts/*[ipaddr = '127.0.0.1']", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/2"},
		matchPaths(t, e, "/files/etc/hosts/*[canonical =~ regexp('ip6-.*')]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1"},
		matchPaths(t, e, "/files/etc/hosts/*[alias = 'local' and ipaddr != '::1']", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1/alias[2]"},
		matchPaths(t, e, "/files/etc/hosts/1/alias[. = 'local']", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/#comment"},
		matchPaths(t, e, "/files/etc/hosts/*[label() =~ glob('#*')]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1", "/files/etc/hosts/2"},
		matchPaths(t, e, "/files/etc/hosts/*[canonical !~ 'nothing.*']", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1"},
		matchPaths(t, e, "/files/etc/hosts/*[count(alias) > 1]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/2"},
		matchPaths(t, e, "/files/etc/hosts/*[position() = int('3')]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1"},
		matchPaths(t, e, "/files/etc/hosts/*[missing or canonical =~ regexp('LOCALHOST', 'i')]", tree.RootID))
}

func TestEval_AxesAndUnion(t *testing.T) {
	e, _, _ := hostsFixture(t)

	assert.Equal(t,
		[]string{"/files/etc/hosts/1/alias[1]", "/files/etc/hosts/1/alias[2]"},
		matchPaths(t, e, "//alias", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1"},
		matchPaths(t, e, "/files/etc/hosts/1/alias[1]/..", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1/canonical"},
		matchPaths(t, e, "/files/etc/hosts/1/alias[1]/preceding-sibling::*[1]", tree.RootID))
	assert.Equal(t, []string{"/files/etc/hosts/1/alias[1]", "/files/etc/hosts/1/alias[2]"},
		matchPaths(t, e, "/files/etc/hosts/1/ipaddr/following-sibling::alias", tree.RootID))
	assert.Equal(t, []string{"/files", "/files/etc"},
		matchPaths(t, e, "/files/etc/hosts/ancestor::*[label() != '']", tree.RootID))
	assert.Equal(t,
		[]string{"/files/etc/hosts/1/ipaddr", "/files/etc/hosts/2/canonical"},
		matchPaths(t, e, "/files/etc/hosts/2/canonical | /files/etc/hosts/1/ipaddr", tree.RootID),
		"unions come back in document order")
	assert.Equal(t, []string{"/files/etc/hosts/2/ipaddr"},
		matchPaths(t, e, "/files/etc/hosts/2/canonical/root::*/files/etc/hosts/2/ipaddr", tree.RootID))
}

func TestEval_Variables(t *testing.T) {
	e, vars, hosts := hostsFixture(t)

	vars.Define("hosts", Binding{Kind: BindNodes, Nodes: []tree.ID{hosts}})
	assert.Equal(t, []string{"/files/etc/hosts/2/ipaddr"},
		matchPaths(t, e, "$hosts/2/ipaddr", tree.RootID))

	v, err := e.Eval(MustParse("count($hosts/*)"), tree.RootID)
	require.NoError(t, err)
	vars.Bind("n", "count($hosts/*)", v)
	assert.Equal(t, []string{"/files/etc/hosts/2"},
		matchPaths(t, e, "$hosts/*[position() = $n]", tree.RootID))

	_, err = e.Eval(MustParse("$missing/a"), tree.RootID)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrUndefinedVar, perr.Kind)
}

func TestEval_TypeErrors(t *testing.T) {
	e, _, _ := hostsFixture(t)
	for _, src := range []string{
		"count('x')",
		"'x'/a",
		"/files | 'x'",
		"/files[regexp('a')]",
		"/files/etc/hosts/1/ipaddr + 1",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := e.Eval(MustParse(src), tree.RootID)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, ErrType, perr.Kind)
		})
	}

	_, err := e.Nodes(MustParse("count(/files)"), tree.RootID)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrType, perr.Kind, "scalar where a nodeset is required")
}

func TestEval_EscapedLabelsRoundTrip(t *testing.T) {
	e, _, _ := hostsFixture(t)
	odd := add(t, e.Store, tree.RootID, "a b[1]/c")
	p := e.Store.Path(odd)
	assert.Equal(t, []string{p}, matchPaths(t, e, p, tree.RootID))
}

func TestPlanCreate(t *testing.T) {
	e, _, _ := hostsFixture(t)

	plan, err := e.PlanCreate(MustParse("/files/etc/hosts/1/ipaddr"), tree.RootID)
	require.NoError(t, err)
	assert.True(t, plan.Exists())

	plan, err = e.PlanCreate(MustParse("/files/etc/hosts/3/alias[last()+1]"), tree.RootID)
	require.NoError(t, err)
	assert.Equal(t, "/files/etc/hosts", e.Store.Path(plan.Parent))
	assert.Equal(t, []string{"3", "alias"}, plan.Labels)

	leaf, created, err := e.Create(plan)
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Equal(t, "/files/etc/hosts/3/alias", e.Store.Path(leaf))

	_, err = e.PlanCreate(MustParse("/files/etc/hosts/*/comment"), tree.RootID)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrMultiple, perr.Kind)

	for _, src := range []string{
		"/files/new/*",
		"/files/new[. = 'x']",
		"/files/new/..",
		"count(/files)",
		"/files/descendant::x",
	} {
		_, err := e.PlanCreate(MustParse(src), tree.RootID)
		require.ErrorAs(t, err, &perr, src)
		assert.Equal(t, ErrCreate, perr.Kind, src)
	}
}

func TestCreate_PlacesAfterSameLabel(t *testing.T) {
	e, _, _ := hostsFixture(t)
	plan, err := e.PlanCreate(MustParse("/files/etc/hosts/1/alias[3]"), tree.RootID)
	require.NoError(t, err)
	leaf, _, err := e.Create(plan)
	require.NoError(t, err)

	entry := e.Store.Node(leaf).Parent
	var got []string
	for _, c := range e.Store.Children(entry) {
		got = append(got, c.Label)
	}
	assert.Equal(t, []string{"ipaddr", "canonical", "alias", "alias", "alias"}, got)
}

func TestVars_Prune(t *testing.T) {
	vars := NewVars()
	vars.Define("x", Binding{Kind: BindNodes, Nodes: []tree.ID{3, 4, 5}})
	vars.Bind("y", "'a'", stringValue("a"))
	vars.Prune([]tree.ID{4})

	x, ok := vars.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, []tree.ID{3, 5}, x.Nodes)
	assert.Equal(t, []string{"x", "y"}, vars.Names())
	assert.True(t, vars.Remove("y"))
	assert.False(t, vars.Remove("y"))
}

func TestGlobToRegexp(t *testing.T) {
	re, err := compileRegexp(globToRegexp("*.conf"), false)
	require.NoError(t, err)
	assert.True(t, re.MatchString("sshd.conf"))
	assert.False(t, re.MatchString("sshd.conf.bak"))

	re, err = compileRegexp(globToRegexp("ho[!x]ts?"), false)
	require.NoError(t, err)
	assert.True(t, re.MatchString("hosts1"))
	assert.False(t, re.MatchString("hoxts1"))
}
