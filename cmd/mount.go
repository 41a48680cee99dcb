package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	arborfs "github.com/agentic-research/arbor/internal/fs"
	"github.com/agentic-research/arbor/internal/nfsmount"
	"github.com/agentic-research/arbor/internal/session"
)

var (
	mountBackend  string
	mountWritable bool
	mountAgent    bool
)

func init() {
	mountCmd.Flags().StringVarP(&mountBackend, "backend", "b", "nfs", "nfs or fuse")
	mountCmd.Flags().BoolVarP(&mountWritable, "writable", "w", false, "Allow edits through the mount")
	mountCmd.Flags().BoolVar(&mountAgent, "agent", false, "Mount under the temp directory and write an instruction file for agents")
	rootCmd.AddCommand(mountCmd, mountsCmd)
}

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount the configuration tree as a filesystem",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cfg, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		var mountPoint string
		switch {
		case len(args) == 1:
			mountPoint = args[0]
		case mountAgent:
			dir, err := agentMountsDir()
			if err != nil {
				return err
			}
			root, err := filepath.Abs(cfg.Root)
			if err != nil {
				return err
			}
			mountPoint = filepath.Join(dir, mountName(root))
		default:
			return fmt.Errorf("mount: a mountpoint is required without --agent")
		}
		if err := os.MkdirAll(mountPoint, 0o755); err != nil {
			return fmt.Errorf("create mountpoint: %w", err)
		}

		meta := &MountMetadata{
			PID:        os.Getpid(),
			Root:       cfg.Root,
			MountPoint: mountPoint,
			Backend:    mountBackend,
			Files:      len(s.Files()),
			Timestamp:  time.Now(),
			Writable:   mountWritable,
		}
		sh := session.NewShared(s)
		p := newPrinter(cmd)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)

		switch mountBackend {
		case "nfs":
			srv, err := nfsmount.NewServer(nfsmount.NewTreeFS(sh, mountWritable), cfg.NFSListen)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			if err := nfsmount.Mount(srv.Port(), mountPoint, mountWritable); err != nil {
				return err
			}
			if mountAgent {
				if err := saveMountMetadata(meta); err != nil {
					return err
				}
				defer removeMountMetadata(mountPoint)
			}
			p.line("Mounted %d file(s) from %s at %s (nfs port %d). Ctrl-C to unmount.",
				meta.Files, cfg.Root, p.path.Sprint(mountPoint), srv.Port())
			<-sig
			return nfsmount.Unmount(mountPoint)

		case "fuse":
			opts := []string{
				"-o", fmt.Sprintf("uid=%d", os.Getuid()),
				"-o", fmt.Sprintf("gid=%d", os.Getgid()),
			}
			if !mountWritable {
				opts = append(opts, "-o", "ro")
			}
			if mountAgent {
				if err := saveMountMetadata(meta); err != nil {
					return err
				}
				defer removeMountMetadata(mountPoint)
			}
			stop := make(chan struct{})
			go func() {
				<-sig
				close(stop)
			}()
			p.line("Mounting %d file(s) from %s at %s (fuse). Ctrl-C to unmount.",
				meta.Files, cfg.Root, p.path.Sprint(mountPoint))
			return arborfs.Serve(arborfs.NewArborFS(sh, mountWritable), mountPoint, opts, stop)

		default:
			return fmt.Errorf("mount: unknown backend %q", mountBackend)
		}
	},
}

var mountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "List running agent mounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mounts, err := listActiveMounts()
		if err != nil {
			return err
		}
		p := newPrinter(cmd)
		if len(mounts) == 0 {
			p.line("no active mounts")
			return nil
		}
		for _, m := range mounts {
			mode := "ro"
			if m.Writable {
				mode = "rw"
			}
			p.line("%s  %s  %s %s  pid %d  since %s",
				p.path.Sprint(m.MountPoint), m.Root, m.Backend, mode, m.PID, m.Timestamp.Format(time.RFC3339))
		}
		return nil
	},
}
