// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"

	"github.com/bureau-foundation/streamer/lib/codec"
	"github.com/bureau-foundation/streamer/lib/compression"
)

// Writer appends entries to an archive stream. Entries are written in
// the order they are added; the table of contents and footer are
// written by Close. Writer is not safe for concurrent use.
type Writer struct {
	output  io.Writer
	offset  uint64
	entries []Entry
	names   map[string]struct{}
	closed  bool
}

// NewWriter writes the archive header to output and returns a Writer
// positioned at the first blob.
func NewWriter(output io.Writer) (*Writer, error) {
	header := encodeHeader()
	if _, err := output.Write(header); err != nil {
		return nil, fmt.Errorf("writing archive header: %w", err)
	}
	return &Writer{
		output: output,
		offset: uint64(len(header)),
		names:  make(map[string]struct{}),
	}, nil
}

// Add compresses data with tag and appends it as a new entry. Content
// that does not shrink under tag is stored uncompressed; the returned
// Entry records the tag actually used.
func (w *Writer) Add(name string, data []byte, tag compression.Tag) (Entry, error) {
	if w.closed {
		return Entry{}, fmt.Errorf("archive writer is closed")
	}
	cleaned, err := CleanName(name)
	if err != nil {
		return Entry{}, err
	}
	if _, exists := w.names[cleaned]; exists {
		return Entry{}, fmt.Errorf("duplicate archive entry %q", cleaned)
	}

	stored, used, err := compression.CompressAuto(data, tag)
	if err != nil {
		return Entry{}, fmt.Errorf("compressing %s: %w", cleaned, err)
	}
	if _, err := w.output.Write(stored); err != nil {
		return Entry{}, fmt.Errorf("writing %s: %w", cleaned, err)
	}

	entry := Entry{
		Name:             cleaned,
		Offset:           w.offset,
		CompressedSize:   uint64(len(stored)),
		UncompressedSize: uint64(len(data)),
		Compression:      used,
		Digest:           ComputeDigest(data),
	}
	w.offset += entry.CompressedSize
	w.entries = append(w.entries, entry)
	w.names[cleaned] = struct{}{}
	return entry, nil
}

// Entries returns the entries added so far.
func (w *Writer) Entries() []Entry {
	return w.entries
}

// Close writes the table of contents and footer. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	entries := w.entries
	if entries == nil {
		entries = []Entry{}
	}
	toc, err := codec.Marshal(tableOfContents{Version: FormatVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("encoding table of contents: %w", err)
	}
	if _, err := w.output.Write(toc); err != nil {
		return fmt.Errorf("writing table of contents: %w", err)
	}
	if _, err := w.output.Write(encodeFooter(w.offset, uint64(len(toc)))); err != nil {
		return fmt.Errorf("writing archive footer: %w", err)
	}
	return nil
}
