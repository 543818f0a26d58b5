package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File and directory permissions for persisted state.
const (
	filePerm = 0o600
	dirPerm  = 0o750
)

// tmpPattern is the os.CreateTemp suffix pattern for in-flight writes.
const tmpPattern = ".*.tmp"

// ErrCorrupted marks a file that exists but could not be decoded.
var ErrCorrupted = errors.New("corrupted state")

// WriteFileAtomic writes data to path so that readers observe either the old
// content or the new content, never a partial file. Each call writes to its
// own temp file in the destination directory, syncs it, then renames it over
// path. Concurrent writers to the same path are safe; the last rename wins.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	mkdirErr := os.MkdirAll(dir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create dir: %w", mkdirErr)
	}

	fd, createErr := os.CreateTemp(dir, filepath.Base(path)+tmpPattern)
	if createErr != nil {
		return fmt.Errorf("create temp: %w", createErr)
	}

	tmpPath := fd.Name()

	_, writeErr := fd.Write(data)
	if writeErr != nil {
		fd.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("write temp: %w", writeErr)
	}

	syncErr := fd.Sync()
	if syncErr != nil {
		fd.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("sync temp: %w", syncErr)
	}

	closeErr := fd.Close()
	if closeErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("close temp: %w", closeErr)
	}

	chmodErr := os.Chmod(tmpPath, perm)
	if chmodErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("chmod temp: %w", chmodErr)
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("rename temp: %w", renameErr)
	}

	return nil
}

// IsTemp reports whether name looks like an in-flight WriteFileAtomic temp file.
func IsTemp(name string) bool {
	return filepath.Ext(name) == ".tmp"
}
