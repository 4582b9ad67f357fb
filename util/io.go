package util

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
)

// IsHarmless returns true for errors that are expected while tearing
// down a connection (EOF, use of a closed connection).
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}

// WriteFileAtomic writes data to a temporary file in the target
// directory and renames it into place, so readers never observe a
// partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := CreateAtomic(filepath.Dir(path))
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	return f.Commit(path, perm)
}

// AtomicFile is a hidden temporary file that only appears under its
// final name on Commit.  WriteAt may be called concurrently.
type AtomicFile struct {
	*os.File
}

// CreateAtomic opens a new temporary file in dir.
func CreateAtomic(dir string) (*AtomicFile, error) {
	tmp, err := os.CreateTemp(dir, ".gonntp-*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	return &AtomicFile{File: tmp}, nil
}

// Commit closes the file and renames it to path.
func (f *AtomicFile) Commit(path string, perm os.FileMode) error {
	name := f.Name()
	if err := f.Chmod(perm); err != nil {
		f.Abort()
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Abort closes and removes the temporary file.
func (f *AtomicFile) Abort() {
	f.Close()
	os.Remove(f.Name())
}
