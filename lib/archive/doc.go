// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive reads and writes streamer archives: a single file
// holding many independently compressed entries.
//
// Layout on disk:
//
//	+--------------------+
//	| header (16 bytes)  |  magic "STRMARC\x00" + format version + reserved
//	+--------------------+
//	| entry blob 0       |  each blob is the whole entry, compressed
//	| entry blob 1       |  with the entry's own tag
//	| ...                |
//	+--------------------+
//	| table of contents  |  deterministic CBOR (lib/codec)
//	+--------------------+
//	| footer (24 bytes)  |  toc offset, toc length, magic "STRMTOC\x00"
//	+--------------------+
//
// Entries are whole-file blobs. There is no block index inside a blob,
// so reading any byte of a compressed entry means reading and expanding
// the entire blob. The streaming stack's full-file decompressor stage
// is built around that constraint.
//
// Every entry records a BLAKE3 keyed digest of its uncompressed bytes.
// Readers verify it after a full decompression to separate "present but
// corrupt" from "missing or unreadable".
package archive
