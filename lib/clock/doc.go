// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Every streamer component that timestamps work (request queue times,
// deadlines, sliding-window durations, completion estimates) takes a
// Clock instead of calling the time package directly:
//
//	scheduler := streamer.NewScheduler(stack, streamer.SchedulerConfig{
//	    Clock: clock.Real(),
//	})
//
// Tests use Fake() and move time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	c.Advance(12 * time.Millisecond)
package clock
