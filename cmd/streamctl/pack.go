// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamer/lib/archive"
	"github.com/bureau-foundation/streamer/lib/atomicfile"
	"github.com/bureau-foundation/streamer/lib/compression"
)

type packOptions struct {
	output      string
	compression string
	quiet       bool
}

func (a *app) packCommand() *command {
	var options packOptions
	return &command{
		name:    "pack",
		summary: "Pack files into a streaming archive",
		description: `Pack files and directory trees into a streaming archive. Files given
directly are stored under their base name; files found under a directory
are stored under their path relative to that directory. Entries that do
not shrink under the chosen codec are stored uncompressed.`,
		usage: "streamctl pack --output FILE [flags] PATH...",
		examples: []example{
			{"Pack a directory tree with zstd", "streamctl pack --output assets.pak ./assets"},
			{"Pack with lz4 for faster decoding", "streamctl pack --output level.pak --compression lz4 level/"},
		},
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			flagSet.StringVarP(&options.output, "output", "o", "", "archive file to write (required)")
			flagSet.StringVarP(&options.compression, "compression", "c", "zstd", "codec: none, lz4, zstd, deflate")
			flagSet.BoolVarP(&options.quiet, "quiet", "q", false, "do not print the entry table")
			return flagSet
		},
		run: func(args []string) error {
			return a.pack(options, args)
		},
	}
}

type packInput struct {
	name string
	path string
}

func (a *app) pack(options packOptions, args []string) error {
	if options.output == "" {
		return process.Usagef("--output is required")
	}
	if len(args) == 0 {
		return process.Usagef("no input files")
	}
	tag, err := compression.ParseTag(options.compression)
	if err != nil {
		return err
	}
	inputs, err := collectInputs(args)
	if err != nil {
		return err
	}

	results := newTable(a.styled, "ENTRY", "SIZE", "STORED", "CODEC", "RATIO")
	var total, stored uint64
	err = atomicfile.WriteFile(options.output, 0644, func(output io.Writer) error {
		writer, err := archive.NewWriter(output)
		if err != nil {
			return err
		}
		for _, input := range inputs {
			data, err := os.ReadFile(input.path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", input.path, err)
			}
			entry, err := writer.Add(input.name, data, tag)
			if err != nil {
				return err
			}
			total += entry.UncompressedSize
			stored += entry.CompressedSize
			results.add(entry.Name, humanize.IBytes(entry.UncompressedSize), humanize.IBytes(entry.CompressedSize),
				entry.Compression.String(), ratio(entry.CompressedSize, entry.UncompressedSize))
		}
		return writer.Close()
	})
	if err != nil {
		return fmt.Errorf("writing archive %s: %w", options.output, err)
	}

	if !options.quiet {
		results.render(a.stdout)
	}
	fmt.Fprintf(a.stdout, "packed %d entries into %s: %s stored as %s (%s)\n",
		len(inputs), options.output, humanize.IBytes(total), humanize.IBytes(stored), ratio(stored, total))
	return nil
}

// collectInputs expands directories and assigns entry names, sorted by
// name so archives are reproducible.
func collectInputs(args []string) ([]packInput, error) {
	var inputs []packInput
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			inputs = append(inputs, packInput{name: filepath.Base(arg), path: arg})
			continue
		}
		err = filepath.WalkDir(arg, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || !entry.Type().IsRegular() {
				return err
			}
			relative, err := filepath.Rel(arg, path)
			if err != nil {
				return err
			}
			inputs = append(inputs, packInput{name: filepath.ToSlash(relative), path: path})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].name < inputs[j].name })
	return inputs, nil
}

func ratio(stored, size uint64) string {
	if size == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(stored)/float64(size)*100)
}
