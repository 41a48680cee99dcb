package mcpserver

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/arbor/internal/session"
)

const hostsText = "127.0.0.1 localhost\n10.0.0.1 box gw\n"

func newTestServer(t *testing.T) (*Server, billy.Filesystem) {
	t.Helper()
	root := memfs.New()
	require.NoError(t, util.WriteFile(root, "/etc/hosts", []byte(hostsText), 0o644))
	s, err := session.Open(root, session.EnableSpan)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(session.NewShared(s), "test", false), root
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestGetAndMatch(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleGet(ctx, call(map[string]any{"path": "/files/etc/hosts/2/alias"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "gw", text(t, res))

	res, err = srv.handleMatch(ctx, call(map[string]any{"path": "/files/etc/hosts/*/ipaddr"}))
	require.NoError(t, err)
	assert.Equal(t, "/files/etc/hosts/1/ipaddr\n/files/etc/hosts/2/ipaddr", text(t, res))
}

func TestToolErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing argument", map[string]any{}},
		{"no match", map[string]any{"path": "/files/etc/nothing"}},
		{"several matches", map[string]any{"path": "/files/etc/hosts/*"}},
		{"bad expression", map[string]any{"path": "/files/etc/hosts["}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := srv.handleGet(ctx, call(tt.args))
			require.NoError(t, err, "tool failures are results, not protocol errors")
			assert.True(t, res.IsError)
		})
	}
}

func TestSetPreviewSave(t *testing.T) {
	srv, root := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleSet(ctx, call(map[string]any{"path": "/files/etc/hosts/2/ipaddr", "value": "10.0.0.2"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = srv.handlePreview(ctx, call(nil))
	require.NoError(t, err)
	diff := text(t, res)
	assert.Contains(t, diff, "--- /etc/hosts")
	assert.Contains(t, diff, "-10.0.0.1 box gw\n")
	assert.Contains(t, diff, "+10.0.0.2 box gw\n")

	res, err = srv.handleSave(ctx, call(nil))
	require.NoError(t, err)
	assert.Equal(t, "saved 1 files", text(t, res))

	data, err := util.ReadFile(root, "/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 localhost\n10.0.0.2 box gw\n", string(data))

	res, err = srv.handlePreview(ctx, call(nil))
	require.NoError(t, err)
	assert.Equal(t, "no changes", text(t, res))
}

func TestRmMvInsert(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleRm(ctx, call(map[string]any{"path": "/files/etc/hosts/2/alias"}))
	require.NoError(t, err)
	assert.Equal(t, "removed 1 nodes", text(t, res))

	res, err = srv.handleInsert(ctx, call(map[string]any{"path": "/files/etc/hosts/2/canonical", "label": "alias"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = srv.handleMv(ctx, call(map[string]any{"src": "/files/etc/hosts/2", "dst": "/files/etc/hosts/3"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = srv.handleMatch(ctx, call(map[string]any{"path": "/files/etc/hosts/*"}))
	require.NoError(t, err)
	assert.Equal(t, "/files/etc/hosts/1\n/files/etc/hosts/3", text(t, res))

	res, err = srv.handlePrint(ctx, call(map[string]any{"path": "/files/etc/hosts/3"}))
	require.NoError(t, err)
	assert.Equal(t, "/files/etc/hosts/3\n"+
		"/files/etc/hosts/3/ipaddr = \"10.0.0.1\"\n"+
		"/files/etc/hosts/3/canonical = \"box\"\n"+
		"/files/etc/hosts/3/alias\n", text(t, res))
}

func TestSpan(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := srv.handleSpan(context.Background(), call(map[string]any{"path": "/files/etc/hosts/1/ipaddr"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "value=[0:9]")
}

func TestDiff(t *testing.T) {
	out := Diff(session.FileChange{
		Path:   "/etc/x",
		Before: []byte("a\nb\n"),
		After:  []byte("a\nc\n"),
	})
	assert.Equal(t, "--- /etc/x\n+++ /etc/x\n a\n-b\n+c\n", out)
}
