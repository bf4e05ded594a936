// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stack assembles a ready-to-run streaming stack from a
// config.Config: it probes the storage device, builds the stages,
// mounts the configured archives, and wraps everything in a scheduler.
package stack

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/streamer/lib/clock"
	"github.com/bureau-foundation/streamer/lib/config"
	"github.com/bureau-foundation/streamer/lib/hwinfo"
	"github.com/bureau-foundation/streamer/lib/streamer"
	"github.com/bureau-foundation/streamer/lib/streamer/stage"
)

// Options carries the dependencies Build does not read from config.
type Options struct {
	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to discarding output.
	Logger *slog.Logger

	// Probe replaces hardware probing. Defaults to hwinfo.ProbeDrive.
	Probe func(path string) hwinfo.DriveInfo
}

// Stack is a built streaming stack. Queue requests on Scheduler after
// Start; call Close when done.
type Stack struct {
	Scheduler *streamer.Scheduler
	Catalog   *stage.ArchiveCatalog
	DriveInfo hwinfo.DriveInfo

	// Stages, top to bottom. Cache and Decompressor are nil when
	// disabled in config. Devices are the per-device drives in config
	// order; Drive serves every path none of them claims.
	Decompressor *stage.FullFileDecompressor
	Cache        *stage.DedicatedCache
	Devices      []*stage.StorageDrive
	Drive        *stage.StorageDrive

	logger *slog.Logger
}

// Build validates cfg and assembles the stack. The scheduler is not
// started.
func Build(cfg *config.Config, opts Options) (*Stack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("stack needs a config: %w", streamer.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", streamer.ErrInvalidConfig, err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Probe == nil {
		opts.Probe = hwinfo.ProbeDrive
	}
	logger := opts.Logger

	info := probe(opts.Probe, cfg.Drive.ProbePath, cfg.Drive.IOChannelCount, cfg.Drive.SeekPenalty, logger)

	s := &Stack{Catalog: stage.NewArchiveCatalog(), DriveInfo: info, logger: logger}
	for _, mount := range cfg.Archives {
		if err := s.Catalog.Mount(mount.Path, mount.MountPoint); err != nil {
			return nil, err
		}
	}

	var err error
	s.Drive, err = stage.NewStorageDrive(stage.DriveConfig{
		Info:                    info,
		MaxFileHandles:          cfg.Drive.MaxFileHandles,
		MaxMetaDataCacheEntries: cfg.Drive.MaxMetaDataCacheEntries,
		Overcommit:              cfg.Drive.Overcommit,
		MinimalReporting:        cfg.Drive.MinimalReporting,
	})
	if err != nil {
		return nil, err
	}
	stages := []streamer.Stage{s.Drive}

	for i := len(cfg.Devices) - 1; i >= 0; i-- {
		device := cfg.Devices[i]
		deviceInfo := probe(opts.Probe, device.EffectiveProbePath(), device.IOChannelCount, device.EffectiveSeekPenalty(), logger)
		drive, err := stage.NewStorageDrive(stage.DriveConfig{
			Name:                    "storage drive " + device.Name,
			Info:                    deviceInfo,
			MaxFileHandles:          cfg.Drive.MaxFileHandles,
			MaxMetaDataCacheEntries: cfg.Drive.MaxMetaDataCacheEntries,
			Overcommit:              cfg.Drive.Overcommit,
			MinimalReporting:        cfg.Drive.MinimalReporting,
			Roots:                   device.Roots,
		})
		if err != nil {
			s.closeStages()
			return nil, fmt.Errorf("device %s: %w", device.Name, err)
		}
		s.Devices = append([]*stage.StorageDrive{drive}, s.Devices...)
		stages = append([]streamer.Stage{drive}, stages...)
	}

	var granularity uint64
	if cfg.DedicatedCache.Enabled {
		// Validate has already parsed the size.
		granularity, _ = cfg.BlockSizeBytes()
		s.Cache, err = stage.NewDedicatedCache(stage.DedicatedCacheConfig{
			BlockSize:  granularity,
			BlockCount: cfg.DedicatedCache.BlockCount,
		})
		if err != nil {
			s.closeStages()
			return nil, err
		}
		stages = append([]streamer.Stage{s.Cache}, stages...)
	}

	if cfg.Decompressor.Enabled {
		s.Decompressor, err = stage.NewFullFileDecompressor(stage.FullFileDecompressorConfig{
			MaxNumReads: cfg.Decompressor.MaxNumReads,
			MaxNumJobs:  cfg.Decompressor.MaxNumJobs,
			JobThreads:  cfg.Decompressor.JobThreads,
			Catalog:     s.Catalog,
		})
		if err != nil {
			s.closeStages()
			return nil, err
		}
		stages = append([]streamer.Stage{s.Decompressor}, stages...)
	}

	idleWake, _ := cfg.IdleWakeInterval()
	s.Scheduler, err = streamer.NewScheduler(streamer.Chain(stages...), streamer.SchedulerConfig{
		Name:             cfg.Scheduler.Name,
		Clock:            opts.Clock,
		Logger:           logger,
		IdleWakeInterval: idleWake,
		Recommendations:  hwinfo.Recommend(info, granularity, cfg.Drive.Overcommit),
	})
	if err != nil {
		s.closeStages()
		return nil, err
	}

	if !cfg.Drive.MinimalReporting {
		logger.Info("streaming stack built",
			"device", info.Device,
			"io_channels", info.IOChannelCount,
			"seek_penalty", info.HasSeekPenalty,
			"dedicated_cache", cfg.DedicatedCache.Enabled,
			"decompressor", cfg.Decompressor.Enabled,
			"devices", len(cfg.Devices),
			"archives", len(cfg.Archives),
		)
	}
	return s, nil
}

// probe inspects the device holding path and applies the configured
// channel count and seek penalty overrides.
func probe(probeDrive func(string) hwinfo.DriveInfo, path string, channels int, seekPenalty string, logger *slog.Logger) hwinfo.DriveInfo {
	info := probeDrive(path)
	if channels > 0 {
		info.IOChannelCount = channels
	}
	switch seekPenalty {
	case "on":
		info.HasSeekPenalty = true
	case "off":
		info.HasSeekPenalty = false
	}
	if !info.Probed {
		logger.Warn("drive probe failed, using defaults", "path", path,
			"io_channels", info.IOChannelCount, "seek_penalty", info.HasSeekPenalty)
	}
	return info
}

// Start starts the scheduler goroutine.
func (s *Stack) Start() error {
	return s.Scheduler.Start()
}

// Close stops the scheduler, which finishes every queued request, and
// then releases stage resources.
func (s *Stack) Close() error {
	s.Scheduler.Stop()
	return s.closeStages()
}

func (s *Stack) closeStages() error {
	var errs []error
	if s.Decompressor != nil {
		errs = append(errs, s.Decompressor.Close())
	}
	for _, drive := range s.Devices {
		errs = append(errs, drive.Close())
	}
	if s.Drive != nil {
		errs = append(errs, s.Drive.Close())
	}
	return errors.Join(errs...)
}
