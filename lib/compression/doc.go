// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression implements the codecs used for archive entries.
//
// Each archive entry is stored as a single compressed blob tagged with
// the algorithm that produced it. Tags are persisted in archive tables
// of contents, so their numeric values are format constants.
//
// Two decompression modes exist. [Decompress] expands the whole blob
// and verifies the result length exactly; it is what the streaming
// decompressor uses when the caller needs the full file or when the
// integrity digest must be checked. [DecompressPrefix] stops after the
// first n uncompressed bytes for stream codecs (zstd, deflate), which
// lets a read of the head of a large entry finish early. LZ4 blocks
// have no streaming form, so a prefix request on an LZ4 entry still
// expands the full block.
//
// Corrupt input always yields an error wrapping [ErrCorrupt].
package compression
