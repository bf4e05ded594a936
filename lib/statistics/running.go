// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statistics

import "math"

// RunningStatistic tracks the most recent value plus the all-time
// average, minimum, and maximum of a stream of samples. Unlike an
// AverageWindow it never forgets, which suits ratios such as the share
// of requests that missed their deadline.
type RunningStatistic struct {
	mostRecent float64
	total      float64
	count      uint64
	minimum    float64
	maximum    float64
}

// Push records a sample.
func (r *RunningStatistic) Push(value float64) {
	if r.count == 0 {
		r.minimum, r.maximum = value, value
	} else {
		r.minimum = math.Min(r.minimum, value)
		r.maximum = math.Max(r.maximum, value)
	}
	r.mostRecent = value
	r.total += value
	r.count++
}

func (r *RunningStatistic) MostRecent() float64 { return r.mostRecent }
func (r *RunningStatistic) Min() float64        { return r.minimum }
func (r *RunningStatistic) Max() float64        { return r.maximum }
func (r *RunningStatistic) Count() uint64       { return r.count }

// Average returns the mean of all samples, or zero when empty.
func (r *RunningStatistic) Average() float64 {
	if r.count == 0 {
		return 0
	}
	return r.total / float64(r.count)
}

// Reset forgets all samples.
func (r *RunningStatistic) Reset() {
	*r = RunningStatistic{}
}
