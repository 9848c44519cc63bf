// Package storage provides utilities for safely touching local disk state.
// It implements:
//   - EnsureDir — guarantees a path's parent directory exists;
//   - AtomicWriteFile — atomic file write with data and metadata sync.
//
// store.Open uses EnsureDir so the sqlite file can be created under a
// database directory that doesn't exist yet on first run. AtomicWriteFile
// is kept for anything else that needs to persist state to a plain file
// without risking a partially written result.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"reddalert/internal/infra/logger"
)

// defaultFilePerm is applied to the final file after an atomic write.
// 0o600 restricts access to the owning process's user.
const defaultFilePerm = 0600

// EnsureDir guarantees the parent directory of path exists.
// If path has no directory component ("." or empty), it is a no-op.
// Created with 0o700; errors are wrapped with the directory name.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile atomically writes data to path.
//
// Algorithm: temp file in the same directory -> write -> fsync(temp) ->
// chmod(defaultFilePerm) -> close -> rename -> fsync(dir). This guarantees
// that either the old file survives intact or the new one is written in
// full. Note that os.Rename is only atomic within a single filesystem
// volume. The directory fsync is best-effort and may be ignored by some
// OS/filesystem combinations, but meaningfully improves metadata durability.
// The final file's permissions are set to defaultFilePerm (0o600).
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	var tmp *os.File
	if tmpFile, err := os.CreateTemp(dir, "atomic-*.tmp"); err != nil {
		return fmt.Errorf("create temp file: %w", err)
	} else {
		tmp = tmpFile
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// rename over an existing file is atomic on POSIX; path must live on the
	// same volume as the temp file.
	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync) // best-effort on Windows/some filesystems
		}
		_ = dirFile.Close()
	}
	return nil
}
