// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stage provides the streaming stack's processing stages.
//
// A typical stack, top to bottom:
//
//	FullFileDecompressor  archived reads: whole-blob read, then decompress
//	DedicatedCache        block caches for files read at random
//	StorageDrive          positioned reads and writes on the filesystem
//
// The decompressor consults a Catalog of mounted archives. Reads of
// paths the catalog does not know pass through it untouched, so a stack
// serves loose files and archived files side by side.
//
// Every stage runs on the scheduler goroutine. Stages that block (file
// I/O, decompression) do so on their own goroutines and report back
// with Context.MarkRequestAsCompleted. Stages with resources to release
// have a Close method, to be called after the scheduler has stopped.
package stage
