// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/streamer/lib/codec"
)

// Archive is an opened archive's table of contents. It does not keep
// the file open: blob reads go through the streaming stack (or
// ReadEntry for direct access).
type Archive struct {
	path    string
	size    int64
	entries []Entry
	index   map[string]int
}

// Open reads and validates the table of contents of the archive at
// path.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive %s: %w", path, err)
	}

	entries, err := ReadTable(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}

	archive := &Archive{
		path:    path,
		size:    info.Size(),
		entries: entries,
		index:   make(map[string]int, len(entries)),
	}
	for i, entry := range entries {
		archive.index[entry.Name] = i
	}
	return archive, nil
}

// ReadTable reads the header, footer, and table of contents from an
// archive of the given total size and validates every entry against
// the blob region.
func ReadTable(reader io.ReaderAt, size int64) ([]Entry, error) {
	if size < headerSize+footerSize {
		return nil, fmt.Errorf("%w: %d bytes is too small", ErrFormat, size)
	}

	header := make([]byte, headerSize)
	if _, err := reader.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if err := decodeHeader(header); err != nil {
		return nil, err
	}

	footer := make([]byte, footerSize)
	if _, err := reader.ReadAt(footer, size-footerSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	tocOffset, tocLength, err := decodeFooter(footer)
	if err != nil {
		return nil, err
	}
	if tocOffset < headerSize || tocOffset+tocLength != uint64(size-footerSize) {
		return nil, fmt.Errorf("%w: table of contents at %d+%d does not end at footer", ErrFormat, tocOffset, tocLength)
	}

	tocBytes := make([]byte, tocLength)
	if _, err := reader.ReadAt(tocBytes, int64(tocOffset)); err != nil {
		return nil, fmt.Errorf("reading table of contents: %w", err)
	}
	if err := codec.Valid(tocBytes); err != nil {
		return nil, fmt.Errorf("%w: table of contents is not well-formed: %v", ErrFormat, err)
	}
	var toc tableOfContents
	if err := codec.Unmarshal(tocBytes, &toc); err != nil {
		return nil, fmt.Errorf("%w: decoding table of contents: %v", ErrFormat, err)
	}
	if toc.Version != FormatVersion {
		return nil, fmt.Errorf("%w: table of contents version %d", ErrFormat, toc.Version)
	}

	seen := make(map[string]struct{}, len(toc.Entries))
	for _, entry := range toc.Entries {
		if entry.Offset < headerSize || entry.Offset+entry.CompressedSize > tocOffset ||
			entry.Offset+entry.CompressedSize < entry.Offset {
			return nil, fmt.Errorf("%w: entry %q lies outside the blob region", ErrFormat, entry.Name)
		}
		cleaned, err := CleanName(entry.Name)
		if err != nil || cleaned != entry.Name {
			return nil, fmt.Errorf("%w: entry name %q is not canonical", ErrFormat, entry.Name)
		}
		if _, duplicate := seen[entry.Name]; duplicate {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrFormat, entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}
	return toc.Entries, nil
}

// Path returns the file path the archive was opened from.
func (a *Archive) Path() string { return a.path }

// Size returns the archive file size in bytes.
func (a *Archive) Size() int64 { return a.size }

// Entries returns all entries in blob order.
func (a *Archive) Entries() []Entry { return a.entries }

// Lookup returns the entry with the given name.
func (a *Archive) Lookup(name string) (Entry, bool) {
	cleaned, err := CleanName(name)
	if err != nil {
		return Entry{}, false
	}
	i, ok := a.index[cleaned]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// ReadEntry synchronously reads, expands, and verifies one entry. The
// streaming stack does not use this; it exists for tooling that needs a
// single file without a running scheduler.
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	entry, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("archive %s has no entry %q: %w", a.path, name, os.ErrNotExist)
	}
	file, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	blob := make([]byte, entry.CompressedSize)
	if _, err := file.ReadAt(blob, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("reading %s blob: %w", entry.Name, err)
	}
	return entry.Expand(blob)
}
