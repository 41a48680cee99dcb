package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// MountMetadata describes one running arbor mount.
type MountMetadata struct {
	PID        int       `json:"pid"`
	Root       string    `json:"root"`
	MountPoint string    `json:"mount_point"`
	Backend    string    `json:"backend"`
	Files      int       `json:"files"`
	Timestamp  time.Time `json:"timestamp"`
	Writable   bool      `json:"writable"`
}

// agentPromptTemplate is the instruction file written next to agent mounts.
const agentPromptTemplate = `# Arbor Configuration Tree

The configuration files under %s are mounted at %s as one tree.

## Layout

- Every node is a directory. Its name is the node label; siblings that
  share a label carry a position, e.g. alias[2].
- The directory path is the node's path expression:
  cat files/etc/hosts/1/ipaddr/.value
- .value holds the node value followed by a newline. Nodes without a
  value have no .value file.
- _error shows the last failed operation.

## Editing

%s
`

// mountName builds a readable, stable directory name for root.
func mountName(root string) string {
	hash := sha256.Sum256([]byte(root))
	base := filepath.Base(root)
	if base == string(filepath.Separator) || base == "." {
		base = "root"
	}
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(hash[:3]))
}

// agentMountsDir returns the directory agent mounts are created in.
func agentMountsDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "arbor")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// sidecarPath returns the metadata file kept beside a mount point.
func sidecarPath(mountPoint string) string {
	return mountPoint + ".meta.json"
}

func promptPath(mountPoint string) string {
	return mountPoint + ".PROMPT.md"
}

func saveMountMetadata(meta *MountMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(sidecarPath(meta.MountPoint), data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(promptPath(meta.MountPoint), promptContent(meta), 0o644)
}

func removeMountMetadata(mountPoint string) {
	_ = os.Remove(sidecarPath(mountPoint))
	_ = os.Remove(promptPath(mountPoint))
}

func promptContent(meta *MountMetadata) []byte {
	writeInfo := "**Read-only mode.** Nothing under this mount can be changed."
	if meta.Writable {
		writeInfo = `**Write-back enabled.**
- Write a .value file to change a value; one trailing newline is dropped.
- mkdir creates a node, rmdir removes a node with its subtree.
- mv renames or moves a node.
- Nothing reaches disk until you write anything to _save. Check _error
  afterwards: a file that fails to print back is left untouched.`
	}
	return []byte(fmt.Sprintf(agentPromptTemplate, meta.Root, meta.MountPoint, writeInfo))
}

// listActiveMounts reads every sidecar in the agent mounts directory and
// drops the ones whose process is gone.
func listActiveMounts() ([]*MountMetadata, error) {
	dir, err := agentMountsDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var mounts []*MountMetadata
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var meta MountMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		if !isProcessRunning(meta.PID) {
			removeMountMetadata(meta.MountPoint)
			continue
		}
		mounts = append(mounts, &meta)
	}
	return mounts, nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks that the process exists.
	return process.Signal(syscall.Signal(0)) == nil
}
