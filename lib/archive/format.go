// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bureau-foundation/streamer/lib/compression"
)

// FormatVersion is the archive format version written by this package.
const FormatVersion uint16 = 1

const (
	headerSize = 16
	footerSize = 24
)

var (
	headerMagic = [8]byte{'S', 'T', 'R', 'M', 'A', 'R', 'C', 0}
	footerMagic = [8]byte{'S', 'T', 'R', 'M', 'T', 'O', 'C', 0}
)

// ErrFormat is wrapped by every error caused by a malformed archive
// (bad magic, unsupported version, entries outside the blob region).
var ErrFormat = errors.New("archive: malformed archive")

// ErrDigestMismatch is returned when decompressed entry content does
// not hash to the digest recorded in the table of contents.
var ErrDigestMismatch = errors.New("archive: entry digest mismatch")

// Entry describes one file stored in an archive.
type Entry struct {
	// Name is the slash-separated path of the file relative to the
	// archive mount point.
	Name string `cbor:"name"`

	// Offset is the absolute position of the entry's blob in the
	// archive file.
	Offset uint64 `cbor:"offset"`

	CompressedSize   uint64 `cbor:"compressed_size"`
	UncompressedSize uint64 `cbor:"uncompressed_size"`

	Compression compression.Tag `cbor:"compression"`

	// Digest covers the uncompressed content.
	Digest Digest `cbor:"digest"`
}

// IsCompressed reports whether the blob needs decompression.
func (e Entry) IsCompressed() bool {
	return e.Compression != compression.None
}

// Verify checks that data is the complete uncompressed content of the
// entry.
func (e Entry) Verify(data []byte) error {
	if uint64(len(data)) != e.UncompressedSize {
		return fmt.Errorf("%w: %s is %d bytes, expected %d",
			ErrDigestMismatch, e.Name, len(data), e.UncompressedSize)
	}
	if ComputeDigest(data) != e.Digest {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, e.Name)
	}
	return nil
}

// Expand decompresses a blob read from the archive and verifies its
// digest.
func (e Entry) Expand(blob []byte) ([]byte, error) {
	if uint64(len(blob)) != e.CompressedSize {
		return nil, fmt.Errorf("%w: %s blob is %d bytes, expected %d",
			compression.ErrCorrupt, e.Name, len(blob), e.CompressedSize)
	}
	data, err := compression.Decompress(blob, e.Compression, int(e.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", e.Name, err)
	}
	if err := e.Verify(data); err != nil {
		return nil, err
	}
	return data, nil
}

type tableOfContents struct {
	Version uint16  `cbor:"version"`
	Entries []Entry `cbor:"entries"`
}

// CleanName normalizes an entry name: slash separators, no leading
// slash, no "." or ".." components. Returns an error for names that
// escape the archive root or are empty.
func CleanName(name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	for _, component := range strings.Split(slashed, "/") {
		if component == ".." {
			return "", fmt.Errorf("archive entry name %q escapes the archive root", name)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", fmt.Errorf("archive entry name %q is empty", name)
	}
	return cleaned, nil
}

func encodeHeader() []byte {
	header := make([]byte, headerSize)
	copy(header, headerMagic[:])
	binary.LittleEndian.PutUint16(header[8:], FormatVersion)
	return header
}

func decodeHeader(header []byte) error {
	if len(header) != headerSize || [8]byte(header[:8]) != headerMagic {
		return fmt.Errorf("%w: bad header magic", ErrFormat)
	}
	if version := binary.LittleEndian.Uint16(header[8:]); version != FormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrFormat, version)
	}
	return nil
}

func encodeFooter(tocOffset, tocLength uint64) []byte {
	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:], tocOffset)
	binary.LittleEndian.PutUint64(footer[8:], tocLength)
	copy(footer[16:], footerMagic[:])
	return footer
}

func decodeFooter(footer []byte) (tocOffset, tocLength uint64, err error) {
	if len(footer) != footerSize || [8]byte(footer[16:]) != footerMagic {
		return 0, 0, fmt.Errorf("%w: bad footer magic", ErrFormat)
	}
	return binary.LittleEndian.Uint64(footer[0:]), binary.LittleEndian.Uint64(footer[8:]), nil
}
