// Package fsutil provides small filesystem primitives shared across the
// engine: atomic file replacement, directory management, and subprocess
// output capping.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to filename by writing to a temp file in the
// same directory, fsyncing it, then renaming it over the destination. A
// crash or error at any point before the final rename leaves the previous
// file exactly as it was.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)

	tmp, err := os.CreateTemp(dir, ".loopctl-tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// EnsureDir creates path (and parents) if it does not already exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// ClearDir removes every entry under path without removing path itself,
// recreating it if it doesn't exist. Used by the context writer, which must
// fully clear the ephemeral directory at the start of every iteration.
func ClearDir(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EnsureDir(path)
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
	}
	return nil
}
