// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 keyed hash of an entry's uncompressed
// content.
type Digest [32]byte

// entryDomainKey separates entry digests from any other BLAKE3 use of
// the same bytes. The value is the ASCII domain name zero-padded to 32
// bytes. Changing it invalidates every existing archive.
var entryDomainKey = [32]byte{
	's', 't', 'r', 'e', 'a', 'm', 'e', 'r', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e',
	'.', 'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ComputeDigest returns the entry-domain digest of data.
func ComputeDigest(data []byte) Digest {
	// NewKeyed only fails for keys that are not 32 bytes long.
	hasher, err := blake3.NewKeyed(entryDomainKey[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log lines and tables.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:6])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing entry digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("entry digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
