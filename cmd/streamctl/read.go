// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamer/lib/config"
	"github.com/bureau-foundation/streamer/lib/process"
	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/streamer"
	"github.com/bureau-foundation/streamer/lib/streamer/stack"
)

type readOptions struct {
	configPath     string
	archives       []string
	priority       string
	deadline       time.Duration
	offset         uint64
	size           uint64
	outputDir      string
	dedicatedCache bool
	stats          bool
	logLevel       string
	metricsListen  string
	metricsLinger  time.Duration
}

func (a *app) readCommand() *command {
	options := readOptions{priority: "medium", logLevel: "warn"}
	return &command{
		name:    "read",
		summary: "Stream files through the stage stack",
		description: `Read files through the streaming stack and report per-file results and
the statistics every stage collected. Paths inside mounted archives are
served by the decompressor; other paths are read from disk.

All reads are queued in one batch so the scheduler can order them by
priority, deadline, and locality. Interrupting the command cancels the
reads still in flight.`,
		usage: "streamctl read [flags] PATH...",
		examples: []example{
			{"Read two files from an archive mounted at /game", "streamctl read --archive assets.pak=/game /game/a.dds /game/b.dds"},
			{"Read a byte range with a deadline", "streamctl read --offset 4096 --size 65536 --deadline 50ms data.bin"},
			{"Expose stage statistics to Prometheus while reading", "streamctl read --metrics-listen 127.0.0.1:9464 --metrics-linger 30s level.pak"},
		},
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("read", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "stack configuration file (YAML or JSONC)")
			flagSet.StringArrayVar(&options.archives, "archive", nil, "mount ARCHIVE[=MOUNTPOINT] (repeatable, mount point defaults to .)")
			flagSet.StringVar(&options.priority, "priority", options.priority, "lowest, low, medium, high, highest, or 0-255")
			flagSet.DurationVar(&options.deadline, "deadline", 0, "deadline relative to queueing (0 means none)")
			flagSet.Uint64Var(&options.offset, "offset", 0, "byte offset to start reading at")
			flagSet.Uint64Var(&options.size, "size", 0, "bytes to read (0 reads to end of file)")
			flagSet.StringVar(&options.outputDir, "output", "", "directory to write the read bytes to")
			flagSet.BoolVar(&options.dedicatedCache, "dedicated-cache", false, "create a dedicated cache for each file before reading")
			flagSet.BoolVar(&options.stats, "stats", true, "print stage statistics after reading")
			flagSet.StringVar(&options.logLevel, "log-level", options.logLevel, "debug, info, warn, or error")
			flagSet.StringVar(&options.metricsListen, "metrics-listen", "", "serve Prometheus metrics at ADDR/metrics while reading")
			flagSet.DurationVar(&options.metricsLinger, "metrics-linger", 0, "keep serving metrics this long after the reads finish")
			return flagSet
		},
		run: func(args []string) error {
			return a.read(options, args)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func parseArchiveFlag(value string) (config.ArchiveMount, error) {
	path, mountPoint, found := strings.Cut(value, "=")
	if path == "" {
		return config.ArchiveMount{}, fmt.Errorf("invalid --archive %q: missing archive path", value)
	}
	if !found || mountPoint == "" {
		mountPoint = "."
	}
	return config.ArchiveMount{Path: path, MountPoint: mountPoint}, nil
}

type readResult struct {
	path    string
	request *streamer.FileRequest
	err     error
}

func (a *app) read(options readOptions, paths []string) error {
	if len(paths) == 0 {
		return process.Usagef("no files to read")
	}
	priority, err := streamer.ParsePriority(options.priority)
	if err != nil {
		return process.Usage(err)
	}
	if options.metricsLinger < 0 {
		return process.Usagef("--metrics-linger must not be negative")
	}
	if options.metricsLinger > 0 && options.metricsListen == "" {
		return process.Usagef("--metrics-linger needs --metrics-listen")
	}
	deadline := streamer.NoDeadline
	if options.deadline > 0 {
		deadline = options.deadline
	}
	cfg, err := loadConfig(options.configPath)
	if err != nil {
		return err
	}
	for _, value := range options.archives {
		mount, err := parseArchiveFlag(value)
		if err != nil {
			return process.Usage(err)
		}
		cfg.Archives = append(cfg.Archives, mount)
	}
	logger, err := a.newLogger(options.logLevel)
	if err != nil {
		return err
	}

	s, err := stack.Build(cfg, stack.Options{Logger: logger})
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Close()
	scheduler := s.Scheduler

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if options.metricsListen != "" {
		metrics, err := startMetricsServer(options.metricsListen, scheduler, logger)
		if err != nil {
			return err
		}
		defer func() {
			if options.metricsLinger > 0 {
				logger.Info("reads finished, still serving metrics", "address", metrics.Addr(), "linger", options.metricsLinger)
				select {
				case <-time.After(options.metricsLinger):
				case <-ctx.Done():
				}
			}
			if err := metrics.Close(); err != nil {
				logger.Warn("stopping metrics server", "error", err)
			}
		}()
	}

	if options.dedicatedCache {
		for _, path := range paths {
			if err := wait(ctx, scheduler, scheduler.CreateDedicatedCache(path)); err != nil {
				return fmt.Errorf("creating dedicated cache for %s: %w", path, err)
			}
		}
		defer func() {
			for _, path := range paths {
				wait(context.Background(), scheduler, scheduler.DestroyDedicatedCache(path))
			}
		}()
	}

	results := make([]*readResult, len(paths))
	var batch []*streamer.FileRequest
	for i, path := range paths {
		results[i] = &readResult{path: path}
		size := options.size
		if size == 0 {
			fileSize, err := statFile(ctx, scheduler, path)
			if err != nil {
				results[i].err = err
				continue
			}
			if options.offset > fileSize {
				results[i].err = fmt.Errorf("offset %d is past the end of the file (%d bytes): %w", options.offset, fileSize, streamer.ErrIO)
				continue
			}
			size = fileSize - options.offset
		}
		results[i].request = scheduler.Read(path, nil, options.offset, size, deadline, priority)
		batch = append(batch, results[i].request)
	}

	started := time.Now()
	if err := scheduler.QueueRequestBatch(batch); err != nil {
		return err
	}
	for _, result := range results {
		if result.request == nil {
			continue
		}
		select {
		case <-result.request.Done():
		case <-ctx.Done():
			logger.Warn("interrupted, canceling outstanding reads")
			cancelAll(scheduler, results)
			<-result.request.Done()
		}
		result.err = result.request.Err()
	}
	elapsed := time.Since(started)

	failures, err := a.printResults(results, options.outputDir, elapsed)
	for _, result := range results {
		if result.request != nil {
			result.request.Release()
		}
	}
	if err != nil {
		return err
	}

	if options.stats {
		if err := a.printReport(ctx, scheduler, streamer.ReportConfig, "Configuration"); err != nil {
			return err
		}
		if err := a.printReport(ctx, scheduler, streamer.ReportLive, "Live statistics"); err != nil {
			return err
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d reads failed", failures, len(paths))
	}
	return nil
}

// wait queues request, waits for it, and releases it.
func wait(ctx context.Context, scheduler *streamer.Scheduler, request *streamer.FileRequest) error {
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		return err
	}
	return request.Wait(ctx)
}

func statFile(ctx context.Context, scheduler *streamer.Scheduler, path string) (uint64, error) {
	request := scheduler.GetFileSize(path)
	if err := wait(ctx, scheduler, request); err != nil {
		return 0, err
	}
	metadata := request.Command().(*streamer.FileMetaDataRetrievalData)
	if !metadata.Found {
		return 0, fmt.Errorf("%s: %w", path, streamer.ErrNotFound)
	}
	return metadata.FileSize, nil
}

func cancelAll(scheduler *streamer.Scheduler, results []*readResult) {
	for _, result := range results {
		if result.request == nil || result.request.Status().IsTerminal() {
			continue
		}
		cancel := scheduler.Cancel(result.request)
		if err := scheduler.QueueRequest(cancel); err != nil {
			cancel.Release()
			continue
		}
		go func() {
			<-cancel.Done()
			cancel.Release()
		}()
	}
}

func (a *app) printResults(results []*readResult, outputDir string, elapsed time.Duration) (int, error) {
	output := newTable(a.styled, "PATH", "STATUS", "BYTES", "ERROR")
	failures := 0
	var total uint64
	for _, result := range results {
		if result.err != nil {
			failures++
			status := "failed"
			if errors.Is(result.err, streamer.ErrCanceled) {
				status = "canceled"
			}
			output.add(result.path, output.style(failureStyle, status), "-", result.err.Error())
			continue
		}
		read := result.request.Command().(*streamer.ReadRequestData)
		total += read.BytesRead
		output.add(result.path, "ok", humanize.IBytes(read.BytesRead), "")
		if outputDir != "" {
			target := filepath.Join(outputDir, filepath.Base(result.path))
			if err := os.WriteFile(target, read.Output[:read.BytesRead], 0o644); err != nil {
				return failures, fmt.Errorf("writing %s: %w", target, err)
			}
		}
	}
	output.render(a.stdout)

	rate := 0.0
	if elapsed > 0 {
		rate = float64(total) / elapsed.Seconds()
	}
	fmt.Fprintf(a.stdout, "\nread %s in %s (%s/s)\n", humanize.IBytes(total), elapsed.Round(time.Microsecond), humanize.IBytes(uint64(rate)))
	return failures, nil
}

func (a *app) printReport(ctx context.Context, scheduler *streamer.Scheduler, reportType streamer.ReportType, title string) error {
	request := scheduler.Report(reportType)
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		return err
	}
	if err := request.Wait(ctx); err != nil {
		return fmt.Errorf("%s report: %w", strings.ToLower(title), err)
	}
	report := newTable(a.styled, "OWNER", "STATISTIC", "VALUE")
	for _, statistic := range request.Command().(*streamer.ReportData).Statistics {
		report.add(statistic.Owner(), statistic.Name(), formatStatistic(statistic))
	}
	fmt.Fprintf(a.stdout, "\n%s\n", report.style(sectionStyle, title))
	report.render(a.stdout)
	return nil
}

func formatStatistic(statistic statistics.Statistic) string {
	value := statistic.String()
	switch statistic.GraphType() {
	case statistics.GraphPercentageBar:
		return bar(statistic.Value(), 20) + " " + value
	}
	return value
}

// bar renders fraction (0 to 1) as a fixed-width text bar.
func bar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
