// Package config reads arbor's settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentic-research/arbor/internal/session"
	"github.com/agentic-research/arbor/internal/writeback"
)

type Config struct {
	// Root is the directory file paths are resolved against.
	Root string
	// LoadPath lists directories holding transform files.
	LoadPath []string

	SaveMode  string
	Span      bool
	TypeCheck bool
	NoLoad    bool

	LogLevel string

	// NFSListen is the address the NFS view listens on.
	NFSListen string
}

func Load() Config {
	cfg := Config{
		Root:      envOr("ARBOR_ROOT", "/"),
		LoadPath:  envList("ARBOR_LOADPATH"),
		SaveMode:  envOr("ARBOR_SAVE_MODE", writeback.Overwrite.String()),
		Span:      envBool("ARBOR_SPAN", false),
		TypeCheck: envBool("ARBOR_TYPE_CHECK", false),
		NoLoad:    envBool("ARBOR_NO_LOAD", false),
		LogLevel:  envOr("ARBOR_LOG_LEVEL", "warn"),
		NFSListen: envOr("ARBOR_NFS_LISTEN", "127.0.0.1:0"),
	}
	cfg.SaveMode = strings.ToLower(strings.TrimSpace(cfg.SaveMode))
	return cfg
}

func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("ARBOR_ROOT must not be empty")
	}
	if fi, err := os.Stat(c.Root); err != nil {
		return fmt.Errorf("ARBOR_ROOT: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("ARBOR_ROOT: %s is not a directory", c.Root)
	}
	if _, err := writeback.ParseMode(c.SaveMode); err != nil {
		return fmt.Errorf("ARBOR_SAVE_MODE: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("ARBOR_LOG_LEVEL: %w", err)
	}
	for _, dir := range c.LoadPath {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("ARBOR_LOADPATH: %s is not absolute", dir)
		}
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// Flags converts the settings into session open flags.
func (c Config) Flags() session.Flags {
	var f session.Flags
	mode, _ := writeback.ParseMode(c.SaveMode)
	switch mode {
	case writeback.Backup:
		f |= session.SaveBackup
	case writeback.NewFile:
		f |= session.SaveNewFile
	case writeback.Noop:
		f |= session.SaveNoop
	}
	if c.Span {
		f |= session.EnableSpan
	}
	if c.TypeCheck {
		f |= session.TypeCheck
	}
	if c.NoLoad {
		f |= session.NoLoad
	}
	return f
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList splits a PATH-style list.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range filepath.SplitList(v) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
