// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes files so readers never observe a partial
// result. Content is written to a temporary file in the destination
// directory, fsynced, and renamed into place. A failed or abandoned
// write leaves any previous file at the path untouched.
//
// streamctl writes archives this way: a pack that fails halfway leaves
// the old archive mountable instead of a truncated one.
package atomicfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is an in-progress atomic write. Writes are buffered; nothing is
// visible at the destination until Commit succeeds.
type File struct {
	path      string
	temporary *os.File
	buffered  *bufio.Writer
	done      bool
}

// Create starts an atomic write to path. The temporary file lives in
// the same directory as path so the final rename does not cross
// filesystems. The parent directory must already exist.
func Create(path string, perm os.FileMode) (*File, error) {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	if err := temporary.Chmod(perm); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return nil, fmt.Errorf("setting permissions on %s: %w", temporary.Name(), err)
	}
	return &File{
		path:      path,
		temporary: temporary,
		buffered:  bufio.NewWriterSize(temporary, 256<<10),
	}, nil
}

// Write appends to the pending content.
func (f *File) Write(p []byte) (int, error) {
	if f.done {
		return 0, os.ErrClosed
	}
	return f.buffered.Write(p)
}

// Path returns the destination path.
func (f *File) Path() string { return f.path }

// Commit flushes, syncs, and renames the content into place. After
// Commit, Abort is a no-op.
func (f *File) Commit() error {
	if f.done {
		return os.ErrClosed
	}
	f.done = true
	temporaryPath := f.temporary.Name()

	// Flush, sync, close. On any failure the temporary file is removed
	// and the first error reported.
	if err := f.buffered.Flush(); err != nil {
		f.temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := f.temporary.Sync(); err != nil {
		f.temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := f.temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, f.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", f.path, err)
	}

	// Sync the directory so the rename survives power loss.
	if directory, err := os.Open(filepath.Dir(f.path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Abort discards the pending content. Safe to call after Commit, which
// makes `defer f.Abort()` the usual pattern.
func (f *File) Abort() {
	if f.done {
		return
	}
	f.done = true
	f.temporary.Close()
	os.Remove(f.temporary.Name())
}

// WriteFile atomically replaces path with the output of write.
func WriteFile(path string, perm os.FileMode, write func(io.Writer) error) error {
	file, err := Create(path, perm)
	if err != nil {
		return err
	}
	defer file.Abort()
	if err := write(file); err != nil {
		return err
	}
	return file.Commit()
}
