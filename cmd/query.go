package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/arbor/internal/session"
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print the value of the node a path expression matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		p := newPrinter(cmd)
		ok, err := s.Exists(args[0])
		if err != nil {
			return err
		}
		if !ok {
			p.line("%s (o)", args[0])
			return nil
		}
		v, err := s.Get(args[0])
		if err != nil {
			return err
		}
		if v == nil {
			p.line("%s (none)", p.path.Sprint(args[0]))
			return nil
		}
		p.entry(args[0], v)
		return nil
	},
}

var matchCmd = &cobra.Command{
	Use:   "match <path> [value]",
	Short: "List every node a path expression matches, optionally only those with value",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		paths, err := s.Match(args[0])
		if err != nil {
			return err
		}
		p := newPrinter(cmd)
		shown := 0
		for _, path := range paths {
			v, err := s.Get(path)
			if err != nil {
				return err
			}
			if len(args) == 2 && (v == nil || *v != args[1]) {
				continue
			}
			p.entry(path, v)
			shown++
		}
		if shown == 0 {
			p.line("  (no matches)")
		}
		return nil
	},
}

var printCmd = &cobra.Command{
	Use:   "print [path]",
	Short: "Print the matched nodes and everything below them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		expr := "/files"
		if len(args) == 1 {
			expr = args[0]
		}
		entries, err := s.Print(expr)
		if err != nil {
			return err
		}
		p := newPrinter(cmd)
		for _, e := range entries {
			p.entry(e.Path, e.Value)
		}
		return nil
	},
}

var spanCmd = &cobra.Command{
	Use:   "span <path>",
	Short: "Show the file and byte ranges a node was loaded from",
	Long: `Show the file and byte ranges a node was loaded from.
Ranges are half-open byte offsets into the file. Span recording is
switched on for this command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Set("span", "true"); err != nil {
			return err
		}
		s, _, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		sp, err := s.Span(args[0])
		if err != nil {
			return err
		}
		p := newPrinter(cmd)
		p.line("%s label=%s value=%s span=%s", p.path.Sprint(sp.Filename), sp.Label, sp.Value, sp.Node)
		return nil
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show the files that could not be loaded and why",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		return printFileErrors(newPrinter(cmd), s)
	},
}

// printFileErrors prints every error entry recorded under /augeas/files.
func printFileErrors(p *printer, s *session.Session) error {
	entries, err := s.Print("/augeas/files//error")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Value == nil {
			continue
		}
		if e.Label == "error" {
			p.line("%s", p.gone.Sprint(e.Path))
		}
		p.line("  %s = %s", e.Label, *e.Value)
	}
	if len(entries) == 0 {
		p.line("no errors")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(getCmd, matchCmd, printCmd, spanCmd, errorsCmd)
}
