// Package mcpserver exposes session operations as MCP tools so agents
// can query and edit configuration through path expressions.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agentic-research/arbor/internal/session"
)

// Server wires the tools to one shared session.
type Server struct {
	sh  *session.Shared
	mcp *server.MCPServer
}

// New registers every tool. readOnly leaves out the tools that change
// the tree or the filesystem.
func New(sh *session.Shared, version string, readOnly bool) *Server {
	s := &Server{
		sh:  sh,
		mcp: server.NewMCPServer("arbor", version, server.WithToolCapabilities(false)),
	}
	pathArg := mcp.WithString("path", mcp.Required(), mcp.Description("Path expression, e.g. /files/etc/hosts/*/ipaddr"))

	s.mcp.AddTool(mcp.NewTool("get",
		mcp.WithDescription("Return the value of the single node a path expression matches"),
		pathArg), s.handleGet)
	s.mcp.AddTool(mcp.NewTool("match",
		mcp.WithDescription("List the canonical paths of every node a path expression matches"),
		pathArg), s.handleMatch)
	s.mcp.AddTool(mcp.NewTool("print",
		mcp.WithDescription("Print the matched nodes and their descendants as path = value lines"),
		pathArg), s.handlePrint)
	s.mcp.AddTool(mcp.NewTool("span",
		mcp.WithDescription("Report the file and byte ranges a node was loaded from"),
		pathArg), s.handleSpan)
	s.mcp.AddTool(mcp.NewTool("preview",
		mcp.WithDescription("Show a diff of every file a save would change")), s.handlePreview)
	if readOnly {
		return s
	}

	s.mcp.AddTool(mcp.NewTool("set",
		mcp.WithDescription("Set the value of a node, creating it when missing"),
		pathArg,
		mcp.WithString("value", mcp.Required(), mcp.Description("New value"))), s.handleSet)
	s.mcp.AddTool(mcp.NewTool("rm",
		mcp.WithDescription("Remove every matched node with its subtree"),
		pathArg), s.handleRm)
	s.mcp.AddTool(mcp.NewTool("mv",
		mcp.WithDescription("Move a node, replacing the destination"),
		mcp.WithString("src", mcp.Required()),
		mcp.WithString("dst", mcp.Required())), s.handleMv)
	s.mcp.AddTool(mcp.NewTool("insert",
		mcp.WithDescription("Insert a new sibling next to a node"),
		pathArg,
		mcp.WithString("label", mcp.Required()),
		mcp.WithBoolean("before", mcp.Description("Insert before instead of after"))), s.handleInsert)
	s.mcp.AddTool(mcp.NewTool("save",
		mcp.WithDescription("Write every changed file back to disk")), s.handleSave)
	return s
}

// ServeStdio runs the server on stdin/stdout until the client goes away.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// do runs fn under the session lock and turns a session error into a
// tool error result.
func (s *Server) do(fn func(*session.Session) (string, error)) (*mcp.CallToolResult, error) {
	var out string
	err := s.sh.Do(func(ss *session.Session) error {
		var err error
		out, err = fn(ss)
		return err
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleGet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.do(func(ss *session.Session) (string, error) {
		ok, err := ss.Exists(p)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no node matches %s", p)
		}
		v, err := ss.Get(p)
		if err != nil || v == nil {
			return "(none)", err
		}
		return *v, nil
	})
}

func (s *Server) handleMatch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.do(func(ss *session.Session) (string, error) {
		paths, err := ss.Match(p)
		return strings.Join(paths, "\n"), err
	})
}

func (s *Server) handlePrint(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.do(func(ss *session.Session) (string, error) {
		entries, err := ss.Print(p)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.Path)
			if e.Value != nil {
				fmt.Fprintf(&b, " = %q", *e.Value)
			}
			b.WriteByte('\n')
		}
		return b.String(), nil
	})
}

func (s *Server) handleSpan(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.do(func(ss *session.Session) (string, error) {
		sp, err := ss.Span(p)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s label=%s value=%s node=%s", sp.Filename, sp.Label, sp.Value, sp.Node), nil
	})
}

func (s *Server) handlePreview(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.do(func(ss *session.Session) (string, error) {
		changes, err := ss.Preview()
		if err != nil {
			return "", err
		}
		if len(changes) == 0 {
			return "no changes", nil
		}
		var b strings.Builder
		for _, c := range changes {
			b.WriteString(Diff(c))
		}
		return b.String(), nil
	})
}

func (s *Server) handleSet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.do(func(ss *session.Session) (string, error) {
		return "ok", ss.Set(p, &v)
	})
}

func (s *Server) handleRm(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.do(func(ss *session.Session) (string, error) {
		n, err := ss.Rm(p)
		return fmt.Sprintf("removed %d nodes", n), err
	})
}

func (s *Server) handleMv(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("src")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dst, err := req.RequireString("dst")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.do(func(ss *session.Session) (string, error) {
		return "ok", ss.Mv(src, dst)
	})
}

func (s *Server) handleInsert(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	before := req.GetBool("before", false)
	return s.do(func(ss *session.Session) (string, error) {
		return "ok", ss.Insert(p, label, before)
	})
}

func (s *Server) handleSave(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.do(func(ss *session.Session) (string, error) {
		if err := ss.Save(); err != nil {
			return "", err
		}
		saved, err := ss.Match("/augeas/events/saved")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("saved %d files", len(saved)), nil
	})
}

// Diff renders one pending change as a line diff with a file header.
func Diff(c session.FileChange) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(c.Before), string(c.After))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	fmt.Fprintf(&out, "--- %s\n+++ %s\n", c.Path, c.Path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix + line)
			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
		}
	}
	return out.String()
}
