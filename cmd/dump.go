package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/arbor/internal/export"
)

var (
	dumpFormat   string
	dumpJSONPath string
	dumpOut      string
)

var dumpCmd = &cobra.Command{
	Use:   "dump [path]",
	Short: "Export the matched subtrees as JSON or into a SQLite database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr := "/files"
		if len(args) == 1 {
			expr = args[0]
		}
		s, _, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		entries, err := s.Print(expr)
		if err != nil {
			return err
		}

		switch dumpFormat {
		case "json":
			var w io.Writer = cmd.OutOrStdout()
			if dumpOut != "" {
				f, err := os.Create(dumpOut)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			return export.WriteJSON(w, entries, dumpJSONPath)
		case "sqlite":
			if dumpOut == "" {
				return fmt.Errorf("dump: --out is required for sqlite")
			}
			if dumpJSONPath != "" {
				return fmt.Errorf("dump: --jsonpath only applies to json")
			}
			_ = os.Remove(dumpOut)
			if err := export.WriteSQLite(dumpOut, entries); err != nil {
				return err
			}
			newPrinter(cmd).line("Wrote %d nodes to %s", len(entries), dumpOut)
			return nil
		default:
			return fmt.Errorf("dump: unknown format %q", dumpFormat)
		}
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFormat, "format", "f", "json", "json or sqlite")
	dumpCmd.Flags().StringVar(&dumpJSONPath, "jsonpath", "", "JSONPath selector applied to the JSON export")
	dumpCmd.Flags().StringVarP(&dumpOut, "out", "o", "", "Output file (required for sqlite)")
	rootCmd.AddCommand(dumpCmd)
}
