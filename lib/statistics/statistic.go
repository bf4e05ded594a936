// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statistics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind identifies the value type of a Statistic.
type Kind uint8

const (
	KindBoolean Kind = iota
	KindInteger
	KindFloat
	KindByteSize
	KindTime
	KindPercentage
	KindBytesPerSecond
	KindString
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindByteSize:
		return "byte_size"
	case KindTime:
		return "time"
	case KindPercentage:
		return "percentage"
	case KindBytesPerSecond:
		return "bytes_per_second"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// GraphType is a visualization hint.
type GraphType uint8

const (
	GraphNone GraphType = iota
	GraphLine
	GraphBar
	GraphPercentageBar
)

// Statistic is a single measurement. The zero value is an unnamed
// boolean false.
type Statistic struct {
	owner       string
	name        string
	description string
	kind        Kind
	graph       GraphType

	number float64
	text   string

	hasRange bool
	minimum  float64
	maximum  float64
}

// NewBoolean reports a flag.
func NewBoolean(owner, name string, value bool) Statistic {
	number := 0.0
	if value {
		number = 1
	}
	return Statistic{owner: owner, name: name, kind: KindBoolean, number: number}
}

// NewInteger reports a count.
func NewInteger(owner, name string, value int64) Statistic {
	return Statistic{owner: owner, name: name, kind: KindInteger, number: float64(value), graph: GraphLine}
}

// NewFloat reports an arbitrary real value.
func NewFloat(owner, name string, value float64) Statistic {
	return Statistic{owner: owner, name: name, kind: KindFloat, number: value, graph: GraphLine}
}

// NewByteSize reports a size in bytes.
func NewByteSize(owner, name string, bytes uint64) Statistic {
	return Statistic{owner: owner, name: name, kind: KindByteSize, number: float64(bytes), graph: GraphLine}
}

// NewTime reports a duration.
func NewTime(owner, name string, value time.Duration) Statistic {
	return Statistic{owner: owner, name: name, kind: KindTime, number: float64(value), graph: GraphLine}
}

// NewTimeRange reports a duration together with the minimum and maximum
// observed in the same window.
func NewTimeRange(owner, name string, value, minimum, maximum time.Duration) Statistic {
	statistic := NewTime(owner, name, value)
	statistic.hasRange = true
	statistic.minimum = float64(minimum)
	statistic.maximum = float64(maximum)
	return statistic
}

// NewPercentage reports a fraction in [0, 1]. It is displayed as a
// percentage.
func NewPercentage(owner, name string, fraction float64) Statistic {
	return Statistic{owner: owner, name: name, kind: KindPercentage, number: fraction, graph: GraphPercentageBar}
}

// NewPercentageRange reports a fraction with its observed range.
func NewPercentageRange(owner, name string, fraction, minimum, maximum float64) Statistic {
	statistic := NewPercentage(owner, name, fraction)
	statistic.hasRange = true
	statistic.minimum = minimum
	statistic.maximum = maximum
	return statistic
}

// NewBytesPerSecond reports a throughput.
func NewBytesPerSecond(owner, name string, bytesPerSecond float64) Statistic {
	return Statistic{owner: owner, name: name, kind: KindBytesPerSecond, number: bytesPerSecond, graph: GraphLine}
}

// NewString reports free-form text.
func NewString(owner, name, value string) Statistic {
	return Statistic{owner: owner, name: name, kind: KindString, text: value}
}

// WithDescription returns a copy with a human-readable description.
func (s Statistic) WithDescription(description string) Statistic {
	s.description = description
	return s
}

// WithGraph returns a copy with a different graph hint.
func (s Statistic) WithGraph(graph GraphType) Statistic {
	s.graph = graph
	return s
}

func (s Statistic) Owner() string             { return s.owner }
func (s Statistic) Name() string              { return s.name }
func (s Statistic) Description() string       { return s.description }
func (s Statistic) Kind() Kind                { return s.kind }
func (s Statistic) GraphType() GraphType      { return s.graph }
func (s Statistic) HasRange() bool            { return s.hasRange }
func (s Statistic) Range() (float64, float64) { return s.minimum, s.maximum }

// IsNumeric reports whether Value is meaningful.
func (s Statistic) IsNumeric() bool {
	return s.kind != KindString
}

// Value returns the numeric value in base units: 0 or 1 for booleans,
// nanoseconds for times, bytes for sizes, a fraction for percentages.
func (s Statistic) Value() float64 {
	return s.number
}

// Bool returns the value of a boolean statistic.
func (s Statistic) Bool() bool { return s.number != 0 }

// Duration returns the value of a time statistic.
func (s Statistic) Duration() time.Duration { return time.Duration(s.number) }

// Text returns the value of a string statistic.
func (s Statistic) Text() string { return s.text }

// String formats the value for display.
func (s Statistic) String() string {
	value := s.formatValue(s.number)
	if s.hasRange {
		return fmt.Sprintf("%s (%s - %s)", value, s.formatValue(s.minimum), s.formatValue(s.maximum))
	}
	return value
}

func (s Statistic) formatValue(number float64) string {
	switch s.kind {
	case KindBoolean:
		return strconv.FormatBool(number != 0)
	case KindInteger:
		return humanize.Comma(int64(number))
	case KindFloat:
		return humanize.FtoaWithDigits(number, 3)
	case KindByteSize:
		return humanize.IBytes(uint64(number))
	case KindTime:
		return time.Duration(number).Round(time.Microsecond).String()
	case KindPercentage:
		return fmt.Sprintf("%.1f%%", number*100)
	case KindBytesPerSecond:
		return humanize.IBytes(uint64(number)) + "/s"
	case KindString:
		return s.text
	default:
		return strconv.FormatFloat(number, 'g', -1, 64)
	}
}

// Find returns the first statistic with the given owner and name.
func Find(statistics []Statistic, owner, name string) (Statistic, bool) {
	for _, statistic := range statistics {
		if statistic.owner == owner && statistic.name == name {
			return statistic, true
		}
	}
	return Statistic{}, false
}
