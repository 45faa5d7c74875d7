package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("Stat(%s) = %v, %v, want directory", dir, info, err)
	}

	// Creating an existing directory is not an error.
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir on existing directory: %v", err)
	}
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := EnsureDir(path); err == nil {
		t.Fatal("EnsureDir over a regular file succeeded, want error")
	}
}

func TestEnsureParent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "deep", "file.bin")

	if err := EnsureParent(target); err != nil {
		t.Fatalf("EnsureParent: %v", err)
	}
	if err := os.WriteFile(target, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write after EnsureParent: %v", err)
	}
}

func TestFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present")

	if FileExists(path) {
		t.Error("FileExists on a missing file = true")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !FileExists(path) {
		t.Error("FileExists on an existing file = false")
	}
}

func TestDiskUsage(t *testing.T) {
	stats, err := DiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("DiskUsage: %v", err)
	}

	if stats.Total == 0 {
		t.Error("Total = 0, want the filesystem size")
	}
	if stats.Used+stats.Free != stats.Total {
		t.Errorf("Used(%d) + Free(%d) != Total(%d)", stats.Used, stats.Free, stats.Total)
	}
	if stats.UsedPct < 0 || stats.UsedPct > 100 {
		t.Errorf("UsedPct = %f, want 0-100", stats.UsedPct)
	}
}

func TestDiskUsage_MissingPath(t *testing.T) {
	if _, err := DiskUsage(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("DiskUsage on a missing path succeeded, want error")
	}
}
