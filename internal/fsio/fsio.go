// Package fsio provides the low-level durable file I/O primitives the
// storage engine is built on: atomic write-then-rename, explicit fsync of
// files and their containing directories, durable appends, and advisory
// per-entity file locks.
package fsio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// skipFsync reports whether fsync calls should be skipped.
// During tests (COLDVAULT_TEST=1) fsync is skipped since test temp
// directories are discarded anyway and fsync dominates test runtime on
// slower filesystems. Production code always fsyncs for durability.
func skipFsync() bool {
	return os.Getenv("COLDVAULT_TEST") != ""
}

// SyncDir fsyncs a directory so that a preceding rename or unlink within it
// survives a crash.
func SyncDir(dir string) error {
	if skipFsync() {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile writes data to a temporary file in the target's directory,
// fsyncs it, renames it over the target, and fsyncs the directory. A crash
// mid-write never leaves a corrupt or half-written target; the temp file is
// removed on every failure path.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".write-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if !skipFsync() {
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("sync temp file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}

	return SyncDir(dir)
}

// AppendFile appends data to a file, creating it if absent, and fsyncs it.
// Returns the byte offset at which the data was written.
func AppendFile(path string, data []byte, perm os.FileMode) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, perm)
	if err != nil {
		return 0, fmt.Errorf("open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	// With O_APPEND the write lands at EOF; record where EOF was first.
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek end: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("append %s: %w", path, err)
	}
	if !skipFsync() {
		if err := f.Sync(); err != nil {
			return 0, fmt.Errorf("sync %s: %w", path, err)
		}
	}
	return offset, nil
}

// FileExists reports whether a regular file exists at path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
