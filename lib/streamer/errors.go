// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import "errors"

// Terminal failure classes. Every failed request's Err wraps exactly
// one of these, so callers can use errors.Is to separate a missing file
// from a corrupt one.
var (
	// ErrNotFound means the file does not exist or could not be
	// opened.
	ErrNotFound = errors.New("streamer: file not found")

	// ErrIO means the device reported a read or write failure, or
	// transferred fewer bytes than requested.
	ErrIO = errors.New("streamer: i/o failure")

	// ErrIntegrity means the data was read but is corrupt: a
	// decompression error or digest mismatch.
	ErrIntegrity = errors.New("streamer: integrity failure")

	// ErrCanceled means a Cancel request stopped the request.
	ErrCanceled = errors.New("streamer: request canceled")

	// ErrUnsupported means no stage could handle the command.
	ErrUnsupported = errors.New("streamer: unsupported request")

	// ErrShutdown means the request was queued after Stop.
	ErrShutdown = errors.New("streamer: scheduler stopped")

	// ErrInvalidConfig is returned when a stage is constructed with
	// unusable settings.
	ErrInvalidConfig = errors.New("streamer: invalid configuration")
)
