package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/arbor/internal/mcpserver"
	"github.com/agentic-research/arbor/internal/session"
)

// edit opens a session, applies fn and then saves, or with --diff shows
// what saving would write.
func edit(cmd *cobra.Command, fn func(*session.Session, *printer) error) error {
	s, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	p := newPrinter(cmd)
	if err := fn(s, p); err != nil {
		return err
	}
	if showDiff {
		changes, err := s.Preview()
		for _, c := range changes {
			p.diff(mcpserver.Diff(c))
		}
		return err
	}
	if err := s.Save(); err != nil {
		_ = printFileErrors(p, s)
		return err
	}
	saved, err := s.Match("/augeas/events/saved")
	if err != nil {
		return err
	}
	if len(saved) > 0 {
		p.line("Saved %d file(s)", len(saved))
	}
	return nil
}

func (p *printer) diff(text string) {
	for _, line := range strings.SplitAfter(text, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			fmt.Fprint(p.w, p.bold.Sprint(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(p.w, p.added.Sprint(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(p.w, p.gone.Sprint(line))
		default:
			fmt.Fprint(p.w, line)
		}
	}
}

func optional(args []string, i int) *string {
	if len(args) > i {
		return &args[i]
	}
	return nil
}

var setCmd = &cobra.Command{
	Use:   "set <path> [value]",
	Short: "Set the value of a node, creating it when missing",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(s *session.Session, _ *printer) error {
			return s.Set(args[0], optional(args, 1))
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <path>",
	Short: "Remove the value of a node, creating it when missing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(s *session.Session, _ *printer) error {
			return s.Clear(args[0])
		})
	},
}

var setmCmd = &cobra.Command{
	Use:   "setm <base> <sub> [value]",
	Short: "Set sub relative to every node base matches",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(s *session.Session, p *printer) error {
			n, err := s.SetM(args[0], args[1], optional(args, 2))
			if err == nil {
				p.line("setm : %d nodes", n)
			}
			return err
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <path>",
	Aliases: []string{"remove"},
	Short:   "Remove every matched node with its subtree",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(s *session.Session, p *printer) error {
			n, err := s.Rm(args[0])
			if err == nil {
				p.line("rm : %s %d", args[0], n)
			}
			return err
		})
	},
}

var mvCmd = &cobra.Command{
	Use:     "mv <src> <dst>",
	Aliases: []string{"move"},
	Short:   "Move a node to dst, replacing whatever was there",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(s *session.Session, _ *printer) error {
			return s.Mv(args[0], args[1])
		})
	},
}

var insertCmd = &cobra.Command{
	Use:     "insert <label> before|after <path>",
	Aliases: []string{"ins"},
	Short:   "Insert a new node next to the node path matches",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var before bool
		switch args[1] {
		case "before":
			before = true
		case "after":
		default:
			return fmt.Errorf("insert: expected before or after, got %q", args[1])
		}
		return edit(cmd, func(s *session.Session, _ *printer) error {
			return s.Insert(args[2], args[0], before)
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <path> <label>",
	Short: "Change the label of every matched node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(s *session.Session, p *printer) error {
			n, err := s.Rename(args[0], args[1])
			if err == nil {
				p.line("rename : %s to %s %d", args[0], args[1], n)
			}
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(setCmd, clearCmd, setmCmd, rmCmd, mvCmd, insertCmd, renameCmd)
}
