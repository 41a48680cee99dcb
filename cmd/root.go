package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agentic-research/arbor/internal/config"
	"github.com/agentic-research/arbor/internal/session"
)

var (
	rootDir   string
	loadPath  string
	saveMode  string
	withSpan  bool
	typeCheck bool
	logLevel  string
	showDiff  bool
	noColor   bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootDir, "root", "r", "", "Directory file paths are resolved against (ARBOR_ROOT)")
	pf.StringVarP(&loadPath, "loadpath", "I", "", "Directories with transform files, separated by the OS list separator (ARBOR_LOADPATH)")
	pf.StringVar(&saveMode, "save-mode", "", "overwrite, backup, newfile or noop (ARBOR_SAVE_MODE)")
	pf.BoolVar(&withSpan, "span", false, "Record where every node was loaded from (ARBOR_SPAN)")
	pf.BoolVar(&typeCheck, "typecheck", false, "Verify that every loaded file prints back unchanged (ARBOR_TYPE_CHECK)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (ARBOR_LOG_LEVEL)")
	pf.BoolVar(&showDiff, "diff", false, "Show what a change would write instead of saving it")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
}

var rootCmd = &cobra.Command{
	Use:           "arbor",
	Short:         "Arbor: edit configuration files as one addressable tree",
	Version:       session.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// settings merges the environment with the flags given on the command line.
func settings(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Load()
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	if changed("root") {
		cfg.Root = rootDir
	}
	if changed("loadpath") {
		cfg.LoadPath = filepath.SplitList(loadPath)
	}
	if changed("save-mode") {
		cfg.SaveMode = saveMode
	}
	if changed("span") {
		cfg.Span = withSpan
	}
	if changed("typecheck") {
		cfg.TypeCheck = typeCheck
	}
	if changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openSession opens a session over the configured root and loads every
// file a transform covers.
func openSession(cmd *cobra.Command) (*session.Session, config.Config, error) {
	cfg, err := settings(cmd)
	if err != nil {
		return nil, cfg, err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	opts := []session.Option{session.WithLogger(logger)}
	if len(cfg.LoadPath) > 0 {
		opts = append(opts, session.WithLoadPath(cfg.LoadPath...))
	}
	s, err := session.OpenDir(cfg.Root, cfg.Flags(), opts...)
	if err != nil {
		return nil, cfg, err
	}
	logger.Debug("session opened", "root", cfg.Root, "files", len(s.Files()))
	return s, cfg, nil
}

// printer writes command output, colored when it goes to a terminal.
type printer struct {
	w     io.Writer
	path  *color.Color
	value *color.Color
	added *color.Color
	gone  *color.Color
	bold  *color.Color
}

func newPrinter(cmd *cobra.Command) *printer {
	w := cmd.OutOrStdout()
	p := &printer{
		w:     w,
		path:  color.New(color.FgCyan),
		value: color.New(color.FgGreen),
		added: color.New(color.FgGreen),
		gone:  color.New(color.FgRed),
		bold:  color.New(color.Bold),
	}
	on := false
	if f, ok := w.(*os.File); ok && !noColor {
		on = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	for _, c := range []*color.Color{p.path, p.value, p.added, p.gone, p.bold} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// entry prints one node the way get and print do.
func (p *printer) entry(path string, value *string) {
	if value == nil {
		fmt.Fprintln(p.w, p.path.Sprint(path))
		return
	}
	fmt.Fprintf(p.w, "%s = %s\n", p.path.Sprint(path), p.value.Sprintf("%q", *value))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}
