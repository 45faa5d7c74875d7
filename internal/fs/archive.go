package fs

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/links-ads/satctl/internal/event"
)

// extractBufSize is the copy buffer used when inflating archive entries.
const extractBufSize = 32 * 1024

// ExtractZip extracts zipPath under extractTo, emitting an extract task
// lifecycle for itemID (created, total uncompressed size, per-chunk
// progress, terminal completion). When expectedDir is non-empty the named
// directory must exist after extraction and its path is returned;
// otherwise extractTo is returned.
func ExtractZip(zipPath, extractTo, itemID, expectedDir string, sink event.Sink) (string, error) {
	sink = event.OrDiscard(sink)
	taskID := "extract_" + itemID

	sink.Emit(event.NewTaskCreated(taskID, "extract"))

	if err := extractAll(zipPath, extractTo, taskID, sink); err != nil {
		sink.Emit(event.NewTaskCompleted(taskID, false, "failed: "+err.Error()))
		return "", err
	}

	result := extractTo
	if expectedDir != "" {
		result = filepath.Join(extractTo, expectedDir)
		if !FileExists(result) {
			err := fmt.Errorf("expected directory %s not found after extraction", expectedDir)
			sink.Emit(event.NewTaskCompleted(taskID, false, "failed: "+err.Error()))
			return "", err
		}
	}

	sink.Emit(event.NewTaskCompleted(taskID, true, ""))
	return result, nil
}

func extractAll(zipPath, extractTo, taskID string, sink event.Sink) error {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", zipPath, err)
	}
	defer archive.Close()

	var total int64
	for _, f := range archive.File {
		if !f.FileInfo().IsDir() {
			total += int64(f.UncompressedSize64)
		}
	}
	sink.Emit(event.NewTaskDuration(taskID, total))

	buf := make([]byte, extractBufSize)
	for _, f := range archive.File {
		if err := extractEntry(f, extractTo, taskID, sink, buf); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, extractTo, taskID string, sink event.Sink, buf []byte) error {
	target, err := entryPath(extractTo, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return EnsureDir(target)
	}
	if err := EnsureParent(target); err != nil {
		return err
	}

	in, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	for {
		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return fmt.Errorf("failed to write %s: %w", target, werr)
			}
			sink.Emit(event.NewTaskProgress(taskID, int64(n)))
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			out.Close()
			return fmt.Errorf("failed to read archive entry %s: %w", f.Name, rerr)
		}
	}
	return out.Close()
}

// entryPath resolves an archive entry name under dir, rejecting entries
// that would escape it.
func entryPath(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	clean := filepath.Clean(dir)
	if target != clean && !strings.HasPrefix(target, clean+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %s escapes extraction directory", name)
	}
	return target, nil
}
