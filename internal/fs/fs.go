// Package fs provides local filesystem helpers for download destinations
// and product archives.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// EnsureParent creates the parent directory of a file path.
func EnsureParent(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DiskStats represents usage of the filesystem holding a directory
type DiskStats struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// DiskUsage returns disk usage for the filesystem containing path
// Platform-specific implementation in fs_unix.go and fs_windows.go
