package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/arbor/internal/mcpserver"
	"github.com/agentic-research/arbor/internal/session"
)

var mcpReadOnly bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the configuration tree as MCP tools on stdin/stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		return mcpserver.New(session.NewShared(s), session.Version, mcpReadOnly).ServeStdio()
	},
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpReadOnly, "read-only", false, "Only register tools that do not change anything")
	rootCmd.AddCommand(mcpCmd)
}
