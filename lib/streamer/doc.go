// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package streamer schedules asynchronous file requests through a
// chain of processing stages.
//
// Applications create a [FileRequest] from a [Scheduler], fill it with
// one operation (read, write, cancel, reschedule, report, and so on),
// and queue it. A single scheduler goroutine owns everything after
// that:
//
//  1. Intake: queued requests move from the mutex-guarded pending list
//     into the stack.
//  2. Prepare: the top [Stage] translates each request into the
//     requests it wants dispatched, for example splitting a read at
//     cache block boundaries or redirecting it into an archive.
//  3. Order: prepared data requests are ranked with
//     [PrioritizeRequests] by priority, then deadline, then file
//     locality relative to the last dispatched read, then arrival.
//  4. Dispatch: control requests go first, then data requests while
//     the stack reports free slots.
//  5. Drain: stages execute and completed requests are finalized until
//     nothing progresses, after which the goroutine sleeps until new
//     work is queued or an asynchronous completion wakes it.
//
// Requests live in an arena owned by the [Context] and are addressed
// across goroutines by a generation-checked [RequestRef]. A request
// split by a stage becomes the parent of its sub-requests; when the
// last child finishes, the parent finishes with the first failure any
// child reported, or success. Every external request reaches exactly
// one terminal status, and [Scheduler.Stop] does not return until all
// of them have.
//
// Cancellation is cooperative. A cancel flags the target; stages check
// the flag before starting a read or a decompression job, and work that
// has already started runs to completion. Reschedule only ever makes a
// request more urgent.
package streamer
