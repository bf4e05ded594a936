// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamer/lib/config"
	"github.com/bureau-foundation/streamer/lib/hwinfo"
)

func (a *app) probeCommand() *command {
	var configPath string
	return &command{
		name:    "probe",
		summary: "Show the storage device behind a path and the stack's recommendations",
		usage:   "streamctl probe [--config FILE] [PATH]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("probe", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "stack configuration whose block size and overcommit feed the recommendations")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("probe takes at most one path")
			}
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return a.probe(path, cfg)
		},
	}
}

func (a *app) probe(path string, cfg *config.Config) error {
	granularity, err := cfg.BlockSizeBytes()
	if err != nil {
		return err
	}
	info := hwinfo.ProbeDrive(path)
	recommendations := hwinfo.Recommend(info, granularity, cfg.Drive.Overcommit)

	device := newTable(a.styled, "PROPERTY", "VALUE")
	deviceName := info.Device
	if deviceName == "" {
		deviceName = device.style(dimStyle, "unknown")
	}
	device.add("Path", info.Path)
	device.add("Device", deviceName)
	device.add("Probed", strconv.FormatBool(info.Probed))
	device.add("Physical sector size", humanize.IBytes(uint64(info.PhysicalSectorSize)))
	device.add("Logical sector size", humanize.IBytes(uint64(info.LogicalSectorSize)))
	device.add("Filesystem block size", humanize.IBytes(uint64(info.FilesystemBlockSize)))
	device.add("Seek penalty", strconv.FormatBool(info.HasSeekPenalty))
	device.add("IO channels", strconv.Itoa(info.IOChannelCount))
	fmt.Fprintln(a.stdout, device.style(sectionStyle, "Drive"))
	device.render(a.stdout)

	advice := newTable(a.styled, "RECOMMENDATION", "VALUE")
	advice.add("Memory alignment", humanize.IBytes(uint64(recommendations.MemoryAlignment)))
	advice.add("Size alignment", humanize.IBytes(uint64(recommendations.SizeAlignment)))
	advice.add("Read granularity", humanize.IBytes(recommendations.ReadGranularity))
	advice.add("Max concurrent requests", strconv.Itoa(recommendations.MaxConcurrentRequests))
	fmt.Fprintf(a.stdout, "\n%s\n", advice.style(sectionStyle, "Recommendations"))
	advice.render(a.stdout)
	return nil
}
