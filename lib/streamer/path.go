// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// RequestPath is a normalized file path with a cached hash. Two raw
// strings that name the same file produce equal RequestPaths. The zero
// value is the empty path.
//
// Normalization cleans the path, makes it absolute against the current
// working directory, converts separators to '/', and lower-cases it on
// case-insensitive platforms.
type RequestPath struct {
	normalized string
	hash       uint64
}

// NewRequestPath normalizes raw. An empty string yields the empty path.
func NewRequestPath(raw string) RequestPath {
	if raw == "" {
		return RequestPath{}
	}
	cleaned := filepath.Clean(raw)
	if absolute, err := filepath.Abs(cleaned); err == nil {
		cleaned = absolute
	}
	cleaned = filepath.ToSlash(cleaned)
	if caseInsensitive {
		cleaned = strings.ToLower(cleaned)
	}
	return RequestPath{normalized: cleaned, hash: xxhash.Sum64String(cleaned)}
}

var caseInsensitive = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// String returns the normalized path with '/' separators.
func (p RequestPath) String() string { return p.normalized }

// AbsolutePath returns the normalized path in the platform's native
// separator form, suitable for opening.
func (p RequestPath) AbsolutePath() string { return filepath.FromSlash(p.normalized) }

// Hash returns the cached 64-bit hash of the normalized path.
func (p RequestPath) Hash() uint64 { return p.hash }

// IsEmpty reports whether the path is unset.
func (p RequestPath) IsEmpty() bool { return p.normalized == "" }

// Equal compares the cached hashes first and falls back to the
// normalized strings only on a hash match.
func (p RequestPath) Equal(other RequestPath) bool {
	return p.hash == other.hash && p.normalized == other.normalized
}

// Join returns the path of name inside the directory p. name uses '/'
// separators.
func (p RequestPath) Join(name string) RequestPath {
	return NewRequestPath(filepath.Join(p.AbsolutePath(), filepath.FromSlash(name)))
}

// RelativeTo returns the '/'-separated remainder of p below directory,
// and whether p lies inside directory at all.
func (p RequestPath) RelativeTo(directory RequestPath) (string, bool) {
	if directory.IsEmpty() || p.IsEmpty() {
		return "", false
	}
	prefix := directory.normalized
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(p.normalized, prefix) || len(p.normalized) == len(prefix) {
		return "", false
	}
	return p.normalized[len(prefix):], true
}
