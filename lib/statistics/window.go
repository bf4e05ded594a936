// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statistics

import (
	"time"

	"github.com/bureau-foundation/streamer/lib/clock"
)

// Number is the set of value types an AverageWindow can aggregate.
type Number interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64 | ~float32 | ~float64
}

// AverageWindow keeps the most recent values in a fixed-size ring and
// maintains their running total. Push never allocates.
//
// An AverageWindow has one writer. Readers on other goroutines may see
// a total and count from different pushes.
type AverageWindow[T Number] struct {
	values []T
	next   int
	count  int
	total  T
}

// NewAverageWindow returns a window over the last size values. A size
// below 1 is treated as 1.
func NewAverageWindow[T Number](size int) *AverageWindow[T] {
	if size < 1 {
		size = 1
	}
	return &AverageWindow[T]{values: make([]T, size)}
}

// Push records a value, evicting the oldest one once the window is
// full.
func (w *AverageWindow[T]) Push(value T) {
	if w.count == len(w.values) {
		w.total -= w.values[w.next]
	} else {
		w.count++
	}
	w.values[w.next] = value
	w.total += value
	w.next = (w.next + 1) % len(w.values)
}

// Average returns the mean of the values in the window, or zero when
// nothing has been pushed.
func (w *AverageWindow[T]) Average() T {
	if w.count == 0 {
		return 0
	}
	return w.total / T(w.count)
}

// Total returns the sum of the values in the window.
func (w *AverageWindow[T]) Total() T { return w.total }

// Count returns the number of values in the window.
func (w *AverageWindow[T]) Count() int { return w.count }

// Size returns the window capacity.
func (w *AverageWindow[T]) Size() int { return len(w.values) }

// Min returns the smallest value in the window, or zero when empty.
func (w *AverageWindow[T]) Min() T {
	if w.count == 0 {
		return 0
	}
	minimum := w.values[0]
	for _, value := range w.values[1:w.count] {
		if value < minimum {
			minimum = value
		}
	}
	return minimum
}

// Max returns the largest value in the window, or zero when empty.
func (w *AverageWindow[T]) Max() T {
	if w.count == 0 {
		return 0
	}
	maximum := w.values[0]
	for _, value := range w.values[1:w.count] {
		if value > maximum {
			maximum = value
		}
	}
	return maximum
}

// Reset empties the window.
func (w *AverageWindow[T]) Reset() {
	clear(w.values)
	w.next, w.count = 0, 0
	w.total = 0
}

// TimeScope starts timing and returns a function that pushes the
// elapsed time into window. Typical use:
//
//	defer statistics.TimeScope(c, window)()
func TimeScope(c clock.Clock, window *AverageWindow[time.Duration]) func() {
	start := c.Now()
	return func() {
		window.Push(c.Since(start))
	}
}
