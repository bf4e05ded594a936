// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statistics provides the measurement types reported by the
// streaming stack.
//
// A [Statistic] is a named, typed, owner-tagged snapshot value with a
// graph hint for visualization. Stages compute them from sliding-window
// aggregators ([AverageWindow]) that have exactly one writer, the
// goroutine that owns the stage.
//
// Reads are deliberately unsynchronized. Collecting statistics from
// another goroutine can observe a window mid-update and report a value
// that is slightly stale or mixes two updates. Consumers accept that
// imprecision; in exchange the hot path never takes a lock and the
// windows never allocate after construction. Callers that need exact
// values route collection through the scheduler goroutine (see the
// streamer package's live report).
package statistics
