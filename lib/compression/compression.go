// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm used for an archive entry.
// Tags are stored in archive tables of contents. Changing these values
// breaks compatibility with existing archives.
type Tag uint8

const (
	// None stores the entry verbatim. Used for content that does not
	// shrink (already-compressed media).
	None Tag = 0

	// LZ4 is block-mode LZ4. Fast to decode but not seekable: the
	// whole block must be expanded to read any part of it.
	LZ4 Tag = 1

	// Zstd is zstd at the default level. Supports prefix decoding.
	Zstd Tag = 2

	// Deflate is raw DEFLATE (RFC 1951). Supports prefix decoding.
	Deflate Tag = 3
)

// String returns the human-readable name of a compression tag.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// SupportsPrefix reports whether DecompressPrefix can stop before
// expanding the whole blob for this tag.
func (tag Tag) SupportsPrefix() bool {
	return tag == Zstd || tag == Deflate || tag == None
}

// ParseTag parses a compression tag from its string representation.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "deflate":
		return Deflate, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// ErrCorrupt is wrapped by every decompression failure caused by the
// input bytes (bad framing, checksum failure, length mismatch).
var ErrCorrupt = errors.New("compression: corrupt data")

// errIncompressible is returned by Compress when the output is not
// smaller than the input. The caller should store the entry with None.
var errIncompressible = errors.New("data is incompressible")

// IsIncompressible returns true if the error indicates that data could
// not be compressed smaller than its original size.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// Compress compresses data with the specified algorithm. For None the
// input is returned unchanged (no copy).
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None:
		return data, nil
	case LZ4:
		return compressLZ4(data)
	case Zstd:
		return compressZstd(data)
	case Deflate:
		return compressDeflate(data)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Decompress expands a blob compressed with tag. The result must be
// exactly uncompressedSize bytes long; any mismatch is reported as
// corruption.
func Decompress(compressed []byte, tag Tag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case None:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("%w: stored entry is %d bytes, expected %d",
				ErrCorrupt, len(compressed), uncompressedSize)
		}
		return compressed, nil
	case LZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case Zstd:
		return decompressZstd(compressed, uncompressedSize)
	case Deflate:
		return decompressDeflate(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// DecompressPrefix returns the first n uncompressed bytes of a blob.
// For tags without prefix support the whole blob is expanded (and its
// length verified against uncompressedSize) before slicing.
func DecompressPrefix(compressed []byte, tag Tag, uncompressedSize, n int) ([]byte, error) {
	if n < 0 || n > uncompressedSize {
		return nil, fmt.Errorf("prefix length %d outside entry of %d bytes", n, uncompressedSize)
	}
	if !tag.SupportsPrefix() || n == uncompressedSize {
		full, err := Decompress(compressed, tag, uncompressedSize)
		if err != nil {
			return nil, err
		}
		return full[:n], nil
	}

	var reader io.Reader
	switch tag {
	case None:
		if len(compressed) < n {
			return nil, fmt.Errorf("%w: stored entry is %d bytes, need %d",
				ErrCorrupt, len(compressed), n)
		}
		return compressed[:n], nil
	case Zstd:
		decoder, err := zstd.NewReader(bytes.NewReader(compressed), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd prefix decoder: %w", err)
		}
		defer decoder.Close()
		reader = decoder
	case Deflate:
		decoder := flate.NewReader(bytes.NewReader(compressed))
		defer decoder.Close()
		reader = decoder
	}

	destination := make([]byte, n)
	if _, err := io.ReadFull(reader, destination); err != nil {
		return nil, fmt.Errorf("%w: %s prefix decode: %v", ErrCorrupt, tag, err)
	}
	return destination, nil
}

// LZ4 compression: block-mode LZ4.

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrCorrupt, read, uncompressedSize)
	}
	return destination, nil
}

// zstdEncoder and zstdDecoder are shared across calls. Both are safe
// for concurrent use, which matters because decompression jobs run on
// several goroutines at once.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compression: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compression: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("%w: zstd produced %d bytes, expected %d", ErrCorrupt, len(result), uncompressedSize)
	}
	return result, nil
}

// Deflate compression: raw DEFLATE at the default level.

func compressDeflate(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := flate.NewWriter(&buffer, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if buffer.Len() >= len(data) {
		return nil, errIncompressible
	}
	return buffer.Bytes(), nil
}

func decompressDeflate(compressed []byte, uncompressedSize int) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	destination := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(reader, destination); err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrCorrupt, err)
	}
	// Trailing data means the entry was longer than recorded.
	var probe [1]byte
	if extra, _ := reader.Read(probe[:]); extra != 0 {
		return nil, fmt.Errorf("%w: deflate produced more than %d bytes", ErrCorrupt, uncompressedSize)
	}
	return destination, nil
}

// CompressAuto compresses data with the requested tag and falls back
// to None when the data does not shrink. Returns the stored bytes and
// the tag actually used.
func CompressAuto(data []byte, tag Tag) ([]byte, Tag, error) {
	if len(data) == 0 {
		return data, None, nil
	}
	compressed, err := Compress(data, tag)
	if err != nil {
		if IsIncompressible(err) {
			return data, None, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}
