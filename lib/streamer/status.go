// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Priority orders requests. Higher values are more urgent.
type Priority uint8

const (
	PriorityLowest  Priority = 0
	PriorityLow     Priority = 64
	PriorityMedium  Priority = 128
	PriorityHigh    Priority = 192
	PriorityHighest Priority = 255
)

// String returns the nearest named priority, or the number.
func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority parses a named priority or a number from 0 to 255.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "lowest":
		return PriorityLowest, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "highest":
		return PriorityHighest, nil
	default:
		value, err := strconv.ParseUint(name, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("unknown priority %q", name)
		}
		return Priority(value), nil
	}
}

// NoDeadline marks a request without a deadline. Such requests are
// least urgent on the deadline axis.
const NoDeadline = time.Duration(math.MaxInt64)

// Status is the lifecycle state of a request.
type Status int32

const (
	StatusCreated Status = iota
	StatusQueued
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCanceled
)

// IsTerminal reports whether the request has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusQueued:
		return "queued"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}
