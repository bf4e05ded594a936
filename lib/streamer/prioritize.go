// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

// Order is the result of comparing two requests for dispatch.
type Order int

const (
	// OrderEqual means neither request is more urgent. The scheduler
	// falls back to arrival order.
	OrderEqual Order = iota
	OrderFirstRequest
	OrderSecondRequest
)

func (o Order) String() string {
	switch o {
	case OrderFirstRequest:
		return "first"
	case OrderSecondRequest:
		return "second"
	default:
		return "equal"
	}
}

// PrioritizeRequests decides which of two prepared requests should be
// dispatched first. Keys, in order:
//
//   - priority: higher wins
//   - deadline: earlier wins, and any deadline beats none
//   - locality against last, the most recently dispatched read: a
//     read of the same file wins over other files, and within that
//     file a read at or after the last offset wins over one before
//     it, then the smaller offset wins
//
// Requests with no locality relation compare equal.
func PrioritizeRequests(first, second *FileRequest, last FileLocation) Order {
	if first == second {
		return OrderEqual
	}

	firstPriority, secondPriority := first.Priority(), second.Priority()
	if firstPriority != secondPriority {
		if firstPriority > secondPriority {
			return OrderFirstRequest
		}
		return OrderSecondRequest
	}

	firstDeadline, secondDeadline := first.Deadline(), second.Deadline()
	if !firstDeadline.Equal(secondDeadline) {
		switch {
		case firstDeadline.IsZero():
			return OrderSecondRequest
		case secondDeadline.IsZero():
			return OrderFirstRequest
		case firstDeadline.Before(secondDeadline):
			return OrderFirstRequest
		default:
			return OrderSecondRequest
		}
	}

	return prioritizeByLocality(first.Location(), second.Location(), last)
}

func prioritizeByLocality(first, second, last FileLocation) Order {
	if first.Path.IsEmpty() || second.Path.IsEmpty() {
		return OrderEqual
	}
	firstSameFile := !last.Path.IsEmpty() && first.Path.Equal(last.Path)
	secondSameFile := !last.Path.IsEmpty() && second.Path.Equal(last.Path)

	switch {
	case firstSameFile && secondSameFile:
		firstForward := first.Offset >= last.Offset
		secondForward := second.Offset >= last.Offset
		if firstForward != secondForward {
			if firstForward {
				return OrderFirstRequest
			}
			return OrderSecondRequest
		}
		return byOffset(first.Offset, second.Offset)
	case firstSameFile:
		return OrderFirstRequest
	case secondSameFile:
		return OrderSecondRequest
	case first.Path.Equal(second.Path):
		return byOffset(first.Offset, second.Offset)
	}
	return OrderEqual
}

func byOffset(first, second uint64) Order {
	switch {
	case first < second:
		return OrderFirstRequest
	case first > second:
		return OrderSecondRequest
	}
	return OrderEqual
}
