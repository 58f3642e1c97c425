// Package fs holds the file-level helpers used by backup and restore:
// atomic copies, database file replacement and the local backup folder.
package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// sidecarSuffixes are the SQLite files that belong to a database in WAL mode.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// CopyFile copies src to dst atomically: the data is written to a temp
// file in dst's directory, synced and renamed over dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	return WriteFile(dst, in, info.Size())
}

// WriteFile writes size bytes from r to destPath using atomic write
// (temp file + rename). A negative size skips the length check.
func WriteFile(destPath string, r io.Reader, size int64) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// ReplaceDatabaseFile overwrites the database at dst with the database
// file at src. Stale WAL sidecars of dst are removed first so SQLite does
// not replay an old log over the new file. The connection to dst must be
// closed.
func ReplaceDatabaseFile(src, dst string) error {
	if err := RemoveSidecars(dst); err != nil {
		return err
	}
	if err := CopyFile(src, dst); err != nil {
		return fmt.Errorf("replacing %s: %w", dst, err)
	}
	return nil
}

// RemoveSidecars deletes the -wal, -shm and -journal files next to dbPath.
func RemoveSidecars(dbPath string) error {
	for _, suffix := range sidecarSuffixes {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s%s: %w", dbPath, suffix, err)
		}
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("not a regular file: %s", path)
	}
	return true, nil
}
