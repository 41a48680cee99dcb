package nfsmount

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"

	billy "github.com/go-git/go-billy/v5"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"
)

// handleCacheSize bounds the file handles go-nfs remembers. Every node
// directory and .value file of a mounted tree takes one.
const handleCacheSize = 4096

// Server serves one tree view over NFSv3 on a TCP listener.
type Server struct {
	listener net.Listener
	port     int
	done     chan error
}

// NewServer starts serving fs on addr. A zero port in addr picks an
// ephemeral one.
func NewServer(fs billy.Filesystem, addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nfs listen on %s: %w", addr, err)
	}
	s := &Server{
		listener: listener,
		port:     listener.Addr().(*net.TCPAddr).Port,
		done:     make(chan error, 1),
	}

	handler := nfshelper.NewCachingHandler(nfshelper.NewNullAuthHandler(fs), handleCacheSize)
	go func() {
		s.done <- nfs.Serve(listener, handler)
	}()
	return s, nil
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.port
}

// Close stops accepting connections and waits for the serve loop to end.
func (s *Server) Close() error {
	err := s.listener.Close()
	if serveErr := <-s.done; serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
		return errors.Join(err, serveErr)
	}
	return err
}

// mountArgs builds the mount(8) invocation for goos.
func mountArgs(goos string, port int, mountpoint string, writable bool) ([]string, error) {
	var opts string
	switch goos {
	case "darwin":
		opts = fmt.Sprintf("port=%d,mountport=%d,vers=3,tcp,locallocks,noresvport", port, port)
		if !writable {
			opts += ",rdonly"
		}
	case "linux":
		opts = fmt.Sprintf("port=%d,mountport=%d,vers=3,tcp,local_lock=all,nolock", port, port)
		if !writable {
			opts += ",ro"
		}
	default:
		return nil, fmt.Errorf("nfs mount is not supported on %s", goos)
	}
	return []string{"mount", "-t", "nfs", "-o", opts, "localhost:/", mountpoint}, nil
}

// Mount mounts the server on port at mountpoint through sudo mount(8).
func Mount(port int, mountpoint string, writable bool) error {
	args, err := mountArgs(runtime.GOOS, port, mountpoint, writable)
	if err != nil {
		return err
	}
	cmd := exec.Command("sudo", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount %s: %w\n%s", mountpoint, err, output)
	}
	return nil
}

// Unmount detaches mountpoint. On macOS diskutil is tried first since it
// needs no sudo for user mounts.
func Unmount(mountpoint string) error {
	if runtime.GOOS == "darwin" {
		if err := exec.Command("diskutil", "unmount", mountpoint).Run(); err == nil {
			return nil
		}
	}
	output, err := exec.Command("sudo", "umount", mountpoint).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unmount %s: %w\n%s", mountpoint, err, output)
	}
	return nil
}
