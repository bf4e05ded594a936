// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamer/lib/archive"
)

func (a *app) listCommand() *command {
	var verify bool
	return &command{
		name:    "list",
		summary: "List the entries of streaming archives",
		usage:   "streamctl list [--verify] ARCHIVE...",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.BoolVar(&verify, "verify", false, "expand every entry and check its digest")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("no archives given")
			}
			for i, path := range args {
				if i > 0 {
					fmt.Fprintln(a.stdout)
				}
				if err := a.list(path, verify); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) list(path string, verify bool) error {
	opened, err := archive.Open(path)
	if err != nil {
		return err
	}
	headers := []string{"ENTRY", "OFFSET", "STORED", "SIZE", "CODEC", "DIGEST"}
	if verify {
		headers = append(headers, "CHECK")
	}
	entries := newTable(a.styled, headers...)
	failures := 0
	for _, entry := range opened.Entries() {
		row := []string{
			entry.Name,
			strconv.FormatUint(entry.Offset, 10),
			humanize.IBytes(entry.CompressedSize),
			humanize.IBytes(entry.UncompressedSize),
			entry.Compression.String(),
			entries.style(dimStyle, entry.Digest.Short()),
		}
		if verify {
			if _, err := opened.ReadEntry(entry.Name); err != nil {
				failures++
				row = append(row, entries.style(failureStyle, "corrupt"))
			} else {
				row = append(row, "ok")
			}
		}
		entries.add(row...)
	}

	fmt.Fprintln(a.stdout, entries.style(sectionStyle, fmt.Sprintf("%s (%d entries, %s)",
		path, len(opened.Entries()), humanize.IBytes(uint64(opened.Size())))))
	entries.render(a.stdout)
	if failures > 0 {
		return fmt.Errorf("%s: %d corrupt entries", path, failures)
	}
	return nil
}
