// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for streamer binaries.
//
// [GitCommit], [BuildTime], and [Version] can be injected with
// -ldflags -X. When they are not, the commit and dirty flag fall back
// to the VCS stamp the Go toolchain embeds in module builds.
package version
