// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// table renders aligned columns. Cells may carry ANSI styling; widths
// are measured with lipgloss so styling does not break alignment.
type table struct {
	styled  bool
	headers []string
	rows    [][]string
}

func newTable(styled bool, headers ...string) *table {
	return &table{styled: styled, headers: headers}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) style(style lipgloss.Style, text string) string {
	if !t.styled {
		return text
	}
	return style.Render(text)
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) {
		var builder strings.Builder
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			padding := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = t.style(*style, cell)
			}
			builder.WriteString(cell)
			if i < len(cells)-1 {
				builder.WriteString(strings.Repeat(" ", padding+2))
			}
		}
		fmt.Fprintln(w, strings.TrimRight(builder.String(), " "))
	}
	line(t.headers, &headerStyle)
	for _, row := range t.rows {
		line(row, nil)
	}
}
