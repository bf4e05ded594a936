// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for streamer binaries:
// mapping an error returned by run() to a process exit code, and the
// single place where main() writes to stderr and exits.
//
// Exit codes:
//
//	0  success
//	1  the command ran and failed
//	2  the command line could not be parsed
package process
