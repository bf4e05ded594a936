// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/streamer/lib/hwinfo"
	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/streamer"
)

const (
	driveStatisticsWindow = 64

	// Throughput assumed until the first reads have been measured.
	defaultReadSpeed = 100 << 20

	// Cost of a head seek on media with a seek penalty.
	seekPenalty = 8 * time.Millisecond
)

// DriveConfig configures a StorageDrive.
type DriveConfig struct {
	// Name labels the stage. Defaults to "storage drive".
	Name string

	// Info is the probed device. IOChannelCount bounds the reads in
	// flight and HasSeekPenalty feeds completion estimates.
	Info hwinfo.DriveInfo

	// MaxFileHandles is the number of idle file handles kept open.
	MaxFileHandles int

	// MaxMetaDataCacheEntries is the number of file sizes remembered.
	MaxMetaDataCacheEntries int

	// Overcommit is the number of reads accepted beyond the I/O
	// channels so the device never waits on the scheduler.
	Overcommit int

	// MinimalReporting suppresses lifecycle logging.
	MinimalReporting bool

	// Roots limits the drive to files under these directories. Requests
	// for other paths pass to the next stage, so drives for different
	// devices can be chained with a catch-all drive at the bottom.
	// Empty serves every path.
	Roots []string
}

// StorageDrive is the bottom stage. It performs reads and writes on
// the local filesystem with positioned I/O on background goroutines,
// keeps a cache of open file handles, and answers existence and size
// queries from a metadata cache.
type StorageDrive struct {
	streamer.StageBase
	config   DriveConfig
	channels int
	roots    []streamer.RequestPath

	pending []*streamer.FileRequest
	active  []*driveOperation
	// File queries run on the scheduler goroutine one per execute
	// pass, after reads have been started.
	pendingQueries []*streamer.FileRequest

	finishedMu sync.Mutex
	finished   []*driveOperation

	handles  []*fileHandle
	metadata *lru.Cache[string, uint64]

	lastPath   streamer.RequestPath
	lastOffset uint64

	readSpeed     *statistics.AverageWindow[float64]
	openTime      *statistics.AverageWindow[time.Duration]
	queryTime     *statistics.AverageWindow[time.Duration]
	readsDone     uint64
	writesDone    uint64
	bytesRead     uint64
	bytesWritten  uint64
	readFailures  uint64
	handleEvicted uint64
}

type fileHandle struct {
	path     streamer.RequestPath
	file     *os.File
	lastUsed time.Time
	active   int
}

type driveOperation struct {
	request *streamer.FileRequest
	handle  *fileHandle
	started time.Time
	bytes   int
	err     error
}

// NewStorageDrive builds the stage. Zero channel counts from the probe
// fall back to one channel.
func NewStorageDrive(config DriveConfig) (*StorageDrive, error) {
	if config.Name == "" {
		config.Name = "storage drive"
	}
	if config.MaxFileHandles < 1 {
		return nil, fmt.Errorf("storage drive needs at least one file handle: %w", streamer.ErrInvalidConfig)
	}
	if config.MaxMetaDataCacheEntries < 1 {
		return nil, fmt.Errorf("storage drive needs at least one metadata entry: %w", streamer.ErrInvalidConfig)
	}
	if config.Overcommit < 0 {
		return nil, fmt.Errorf("storage drive overcommit %d is negative: %w", config.Overcommit, streamer.ErrInvalidConfig)
	}
	metadata, err := lru.New[string, uint64](config.MaxMetaDataCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("creating metadata cache: %w", err)
	}
	channels := config.Info.IOChannelCount
	if channels < 1 {
		channels = hwinfo.DefaultIOChannelCount
	}
	var roots []streamer.RequestPath
	for _, root := range config.Roots {
		if root == "" {
			return nil, fmt.Errorf("storage drive %q has an empty root: %w", config.Name, streamer.ErrInvalidConfig)
		}
		roots = append(roots, streamer.NewRequestPath(root))
	}
	return &StorageDrive{
		StageBase: streamer.NewStageBase(config.Name),
		config:    config,
		channels:  channels,
		roots:     roots,
		metadata:  metadata,
		readSpeed: statistics.NewAverageWindow[float64](driveStatisticsWindow),
		openTime:  statistics.NewAverageWindow[time.Duration](driveStatisticsWindow),
		queryTime: statistics.NewAverageWindow[time.Duration](driveStatisticsWindow),
	}, nil
}

func (d *StorageDrive) SetContext(ctx *streamer.Context) {
	d.StageBase.SetContext(ctx)
	if !d.config.MinimalReporting {
		ctx.Logger().Info("storage drive created",
			"stage", d.Name(),
			"device", d.config.Info.Device,
			"io_channels", d.channels,
			"overcommit", d.config.Overcommit,
			"seek_penalty", d.config.Info.HasSeekPenalty,
			"max_file_handles", d.config.MaxFileHandles,
			"roots", d.config.Roots,
		)
	}
}

// IsServicedByThisDrive reports whether path lies under one of the
// drive's roots. A drive without roots services every path.
func (d *StorageDrive) IsServicedByThisDrive(path streamer.RequestPath) bool {
	if len(d.roots) == 0 {
		return true
	}
	for _, root := range d.roots {
		if path.Equal(root) {
			return true
		}
		if _, inside := path.RelativeTo(root); inside {
			return true
		}
	}
	return false
}

// commandPath returns the file a drive command operates on.
func commandPath(command streamer.Command) (streamer.RequestPath, bool) {
	switch command := command.(type) {
	case *streamer.ReadData:
		return command.Path, true
	case *streamer.WriteRequestData:
		return command.Path, true
	case *streamer.FileExistsCheckData:
		return command.Path, true
	case *streamer.FileMetaDataRetrievalData:
		return command.Path, true
	case *streamer.OpenData:
		return command.Path, true
	case *streamer.CloseData:
		return command.Path, true
	case *streamer.FlushData:
		return command.Path, true
	}
	return streamer.RequestPath{}, false
}

func (d *StorageDrive) services(request *streamer.FileRequest) bool {
	path, ok := commandPath(request.Command())
	return !ok || d.IsServicedByThisDrive(path)
}

func (d *StorageDrive) QueueRequest(request *streamer.FileRequest) {
	if !d.services(request) {
		d.StageBase.QueueRequest(request)
		return
	}
	switch command := request.Command().(type) {
	case *streamer.ReadData, *streamer.WriteRequestData:
		d.pending = append(d.pending, request)
	case *streamer.FileExistsCheckData, *streamer.FileMetaDataRetrievalData, *streamer.OpenData:
		d.pendingQueries = append(d.pendingQueries, request)
	case *streamer.CloseData:
		d.closeHandles(command.Path)
		d.complete(request)
	case *streamer.FlushData:
		d.closeHandles(command.Path)
		d.metadata.Remove(command.Path.String())
		d.complete(request)
	case *streamer.FlushAllData:
		d.closeHandles(streamer.RequestPath{})
		d.metadata.Purge()
		d.StageBase.QueueRequest(request)
	case *streamer.CancelData:
		d.cancel(command.Target)
		d.StageBase.QueueRequest(request)
	case *streamer.ReportData:
		d.report(command)
		d.StageBase.QueueRequest(request)
	default:
		d.StageBase.QueueRequest(request)
	}
}

func (d *StorageDrive) complete(request *streamer.FileRequest) {
	request.Succeed()
	d.Context().MarkRequestAsCompleted(request)
}

func (d *StorageDrive) fail(request *streamer.FileRequest, err error) {
	request.Fail(err)
	d.Context().MarkRequestAsCompleted(request)
}

// cancel fails queued work on target. Operations already running are
// left to finish.
func (d *StorageDrive) cancel(ref streamer.RequestRef) {
	target := d.Context().Resolve(ref)
	if target == nil {
		return
	}
	drop := func(request *streamer.FileRequest) bool {
		if request.WorksOn(target) {
			d.fail(request, fmt.Errorf("drive request canceled: %w", streamer.ErrCanceled))
			return true
		}
		return false
	}
	d.pending = slices.DeleteFunc(d.pending, drop)
	d.pendingQueries = slices.DeleteFunc(d.pendingQueries, drop)
}

func (d *StorageDrive) ExecuteRequests() bool {
	progressed := d.collectFinished()

	for len(d.pending) > 0 && len(d.active) < d.channels {
		request := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		progressed = true
		if request.IsCancelRequested() {
			d.fail(request, fmt.Errorf("drive request canceled before start: %w", streamer.ErrCanceled))
			continue
		}
		d.start(request)
	}

	if len(d.pendingQueries) > 0 {
		request := d.pendingQueries[0]
		d.pendingQueries[0] = nil
		d.pendingQueries = d.pendingQueries[1:]
		d.query(request)
		progressed = true
	}

	return d.StageBase.ExecuteRequests() || progressed
}

func (d *StorageDrive) start(request *streamer.FileRequest) {
	now := d.Context().Clock().Now()
	switch command := request.Command().(type) {
	case *streamer.ReadData:
		handle, err := d.acquireHandle(command.Path, now)
		if err != nil {
			d.readFailures++
			d.fail(request, err)
			return
		}
		handle.active++
		operation := &driveOperation{request: request, handle: handle, started: now}
		d.active = append(d.active, operation)
		d.lastPath, d.lastOffset = command.Path, command.Offset+command.Size
		go func() {
			operation.bytes, operation.err = handle.file.ReadAt(command.Output[:command.Size], int64(command.Offset))
			d.finish(operation)
		}()
	case *streamer.WriteRequestData:
		d.closeHandles(command.Path)
		d.metadata.Remove(command.Path.String())
		operation := &driveOperation{request: request, started: now}
		d.active = append(d.active, operation)
		go func() {
			operation.bytes, operation.err = writeAt(command.Path.AbsolutePath(), command.Data, int64(command.Offset))
			d.finish(operation)
		}()
	}
}

func writeAt(path string, data []byte, offset int64) (int, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return 0, err
	}
	written, err := file.WriteAt(data, offset)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

// finish is called on the operation's goroutine.
func (d *StorageDrive) finish(operation *driveOperation) {
	d.finishedMu.Lock()
	d.finished = append(d.finished, operation)
	d.finishedMu.Unlock()
	d.Context().WakeUpSchedulingThread()
}

func (d *StorageDrive) collectFinished() bool {
	d.finishedMu.Lock()
	finished := d.finished
	d.finished = nil
	d.finishedMu.Unlock()

	now := d.Context().Clock().Now()
	for _, operation := range finished {
		d.active = slices.DeleteFunc(d.active, func(active *driveOperation) bool { return active == operation })
		if operation.handle != nil {
			operation.handle.active--
			operation.handle.lastUsed = now
		}
		request := operation.request
		switch command := request.Command().(type) {
		case *streamer.ReadData:
			d.finishRead(request, command, operation, now)
		case *streamer.WriteRequestData:
			command.BytesWritten = uint64(operation.bytes)
			if operation.err != nil {
				d.Context().Logger().Error("write failed", "stage", d.Name(), "path", command.Path.String(), "error", operation.err)
				d.fail(request, fmt.Errorf("writing %s: %v: %w", command.Path, operation.err, streamer.ErrIO))
				continue
			}
			d.writesDone++
			d.bytesWritten += uint64(operation.bytes)
			d.complete(request)
		}
	}
	d.trimHandles()
	return len(finished) > 0
}

func (d *StorageDrive) finishRead(request *streamer.FileRequest, command *streamer.ReadData, operation *driveOperation, now time.Time) {
	command.BytesRead = uint64(operation.bytes)
	if operation.err != nil && !(errors.Is(operation.err, io.EOF) && command.BytesRead == command.Size) {
		d.readFailures++
		d.Context().Logger().Warn("read failed", "stage", d.Name(), "path", command.Path.String(),
			"offset", command.Offset, "size", command.Size, "bytes_read", command.BytesRead, "error", operation.err)
		d.fail(request, fmt.Errorf("reading %d bytes at %d of %s: %v: %w",
			command.Size, command.Offset, command.Path, operation.err, streamer.ErrIO))
		return
	}
	if elapsed := now.Sub(operation.started); elapsed > 0 {
		d.readSpeed.Push(float64(command.BytesRead) / elapsed.Seconds())
	}
	d.readsDone++
	d.bytesRead += command.BytesRead
	d.complete(request)
}

// acquireHandle returns an open handle for path, opening it and
// evicting the least recently used idle handle when needed.
func (d *StorageDrive) acquireHandle(path streamer.RequestPath, now time.Time) (*fileHandle, error) {
	for _, handle := range d.handles {
		if handle.path.Equal(path) {
			handle.lastUsed = now
			return handle, nil
		}
	}
	file, err := os.Open(path.AbsolutePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("opening %s: %w", path, streamer.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %v: %w", path, err, streamer.ErrNotFound)
	}
	d.openTime.Push(d.Context().Clock().Since(now))
	handle := &fileHandle{path: path, file: file, lastUsed: now}
	d.handles = append(d.handles, handle)
	d.trimHandles()
	return handle, nil
}

// trimHandles closes idle handles, oldest first, until the cache is
// within MaxFileHandles. Handles with reads in flight are never
// closed, so the cache can exceed its size while they run.
func (d *StorageDrive) trimHandles() {
	for len(d.handles) > d.config.MaxFileHandles {
		oldest := -1
		for i, handle := range d.handles {
			if handle.active == 0 && (oldest < 0 || handle.lastUsed.Before(d.handles[oldest].lastUsed)) {
				oldest = i
			}
		}
		if oldest < 0 {
			return
		}
		d.closeHandle(oldest)
		d.handleEvicted++
	}
}

func (d *StorageDrive) closeHandle(index int) {
	handle := d.handles[index]
	if err := handle.file.Close(); err != nil {
		d.Context().Logger().Warn("closing file handle", "stage", d.Name(), "path", handle.path.String(), "error", err)
	}
	d.handles = slices.Delete(d.handles, index, index+1)
}

// closeHandles closes every idle handle for path, or every idle handle
// when path is empty.
func (d *StorageDrive) closeHandles(path streamer.RequestPath) {
	for i := len(d.handles) - 1; i >= 0; i-- {
		handle := d.handles[i]
		if handle.active == 0 && (path.IsEmpty() || handle.path.Equal(path)) {
			d.closeHandle(i)
		}
	}
}

// query answers one existence, size, or open request on the scheduler
// goroutine.
func (d *StorageDrive) query(request *streamer.FileRequest) {
	if request.IsCancelRequested() {
		d.fail(request, fmt.Errorf("drive query canceled: %w", streamer.ErrCanceled))
		return
	}
	clock := d.Context().Clock()
	defer statistics.TimeScope(clock, d.queryTime)()

	switch command := request.Command().(type) {
	case *streamer.FileExistsCheckData:
		_, command.Found = d.fileSize(command.Path)
		d.complete(request)
	case *streamer.FileMetaDataRetrievalData:
		command.FileSize, command.Found = d.fileSize(command.Path)
		d.complete(request)
	case *streamer.OpenData:
		if _, err := d.acquireHandle(command.Path, clock.Now()); err != nil {
			d.fail(request, err)
			return
		}
		d.complete(request)
	}
}

func (d *StorageDrive) fileSize(path streamer.RequestPath) (uint64, bool) {
	key := path.String()
	if size, ok := d.metadata.Get(key); ok {
		return size, true
	}
	info, err := os.Stat(path.AbsolutePath())
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	size := uint64(info.Size())
	d.metadata.Add(key, size)
	return size, true
}

func (d *StorageDrive) UpdateStatus(status *streamer.StageStatus) {
	available := d.channels + d.config.Overcommit - len(d.pending) - len(d.active)
	status.NumAvailableSlots = min(status.NumAvailableSlots, available)
	if len(d.pending) > 0 || len(d.active) > 0 || len(d.pendingQueries) > 0 {
		status.IsIdle = false
	}
	d.StageBase.UpdateStatus(status)
}

// UpdateCompletionEstimates spreads the queued reads over the I/O
// channels. Each read costs its size at the measured throughput, plus
// a file open when no handle is cached and a seek when the drive has a
// seek penalty and the read does not continue the previous one.
func (d *StorageDrive) UpdateCompletionEstimates(now time.Time, pending []*streamer.FileRequest) {
	speed := d.readSpeed.Average()
	if speed <= 0 {
		speed = defaultReadSpeed
	}
	channelFree := make([]time.Time, d.channels)
	for i := range channelFree {
		channelFree[i] = now
	}
	for i, operation := range d.active {
		estimate := operation.started.Add(d.readCost(operation.request, speed))
		if estimate.Before(now) {
			estimate = now
		}
		operation.request.SetEstimatedCompletion(estimate)
		if slot := i % d.channels; estimate.After(channelFree[slot]) {
			channelFree[slot] = estimate
		}
	}

	lastPath, lastOffset := d.lastPath, d.lastOffset
	schedule := func(request *streamer.FileRequest) {
		read, ok := request.Command().(*streamer.ReadData)
		if !ok || !d.IsServicedByThisDrive(read.Path) {
			return
		}
		cost := d.readCost(request, speed)
		if d.config.Info.HasSeekPenalty && (!read.Path.Equal(lastPath) || read.Offset != lastOffset) {
			cost += seekPenalty
		}
		earliest := 0
		for slot := range channelFree {
			if channelFree[slot].Before(channelFree[earliest]) {
				earliest = slot
			}
		}
		channelFree[earliest] = channelFree[earliest].Add(cost)
		request.SetEstimatedCompletion(channelFree[earliest])
		lastPath, lastOffset = read.Path, read.Offset+read.Size
	}
	for _, request := range d.pending {
		schedule(request)
	}
	for _, request := range pending {
		schedule(request)
	}
	d.StageBase.UpdateCompletionEstimates(now, pending)
}

func (d *StorageDrive) readCost(request *streamer.FileRequest, speed float64) time.Duration {
	var size uint64
	var path streamer.RequestPath
	switch command := request.Command().(type) {
	case *streamer.ReadData:
		size, path = command.Size, command.Path
	case *streamer.WriteRequestData:
		size, path = uint64(len(command.Data)), command.Path
	}
	cost := time.Duration(float64(size) / speed * float64(time.Second))
	if !d.hasHandle(path) {
		cost += d.openTime.Average()
	}
	return cost
}

func (d *StorageDrive) hasHandle(path streamer.RequestPath) bool {
	for _, handle := range d.handles {
		if handle.path.Equal(path) {
			return true
		}
	}
	return false
}

func (d *StorageDrive) report(command *streamer.ReportData) {
	name := d.Name()
	switch command.Type {
	case streamer.ReportConfig:
		// Buffers aligned this way can be read without bounce copies
		// when the drive opens files for direct I/O.
		alignment := hwinfo.Recommend(d.config.Info, 0, d.config.Overcommit)
		roots := "all paths"
		if len(d.config.Roots) > 0 {
			roots = strings.Join(d.config.Roots, ", ")
		}
		command.Statistics = append(command.Statistics,
			statistics.NewString(name, "Device", d.config.Info.Device),
			statistics.NewString(name, "Roots", roots),
			statistics.NewInteger(name, "IO channels", int64(d.channels)),
			statistics.NewInteger(name, "Overcommit", int64(d.config.Overcommit)),
			statistics.NewBoolean(name, "Seek penalty", d.config.Info.HasSeekPenalty),
			statistics.NewByteSize(name, "Physical sector size", uint64(d.config.Info.PhysicalSectorSize)),
			statistics.NewByteSize(name, "Logical sector size", uint64(d.config.Info.LogicalSectorSize)),
			statistics.NewByteSize(name, "Memory alignment", uint64(alignment.MemoryAlignment)),
			statistics.NewByteSize(name, "Size alignment", uint64(alignment.SizeAlignment)),
			statistics.NewInteger(name, "Max file handles", int64(d.config.MaxFileHandles)),
			statistics.NewInteger(name, "Max metadata cache entries", int64(d.config.MaxMetaDataCacheEntries)),
		)
	case streamer.ReportFileLocks:
		for _, handle := range d.handles {
			command.Statistics = append(command.Statistics,
				statistics.NewString(name, "File lock", handle.path.String()).
					WithDescription(fmt.Sprintf("%d reads in flight", handle.active)))
		}
	}
}

func (d *StorageDrive) CollectStatistics(out []statistics.Statistic) []statistics.Statistic {
	name := d.Name()
	out = append(out,
		statistics.NewBytesPerSecond(name, "Read speed", d.readSpeed.Average()).
			WithGraph(statistics.GraphLine),
		statistics.NewTime(name, "File open time", d.openTime.Average()),
		statistics.NewTime(name, "Query time", d.queryTime.Average()),
		statistics.NewInteger(name, "Available slots", int64(d.channels+d.config.Overcommit-len(d.pending)-len(d.active))),
		statistics.NewInteger(name, "Active operations", int64(len(d.active))),
		statistics.NewInteger(name, "Pending operations", int64(len(d.pending))),
		statistics.NewInteger(name, "Open file handles", int64(len(d.handles))),
		statistics.NewInteger(name, "Evicted file handles", int64(d.handleEvicted)),
		statistics.NewInteger(name, "Metadata cache entries", int64(d.metadata.Len())),
		statistics.NewInteger(name, "Reads completed", int64(d.readsDone)),
		statistics.NewInteger(name, "Read failures", int64(d.readFailures)),
		statistics.NewByteSize(name, "Bytes read", d.bytesRead),
		statistics.NewInteger(name, "Writes completed", int64(d.writesDone)),
		statistics.NewByteSize(name, "Bytes written", d.bytesWritten),
	)
	return d.StageBase.CollectStatistics(out)
}

// Close closes every cached file handle. Call it after the scheduler
// has stopped.
func (d *StorageDrive) Close() error {
	var errs []error
	for _, handle := range d.handles {
		if err := handle.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.handles = nil
	if !d.config.MinimalReporting && d.Context() != nil {
		d.Context().Logger().Info("storage drive closed", "stage", d.Name(), "reads", d.readsDone, "bytes_read", d.bytesRead)
	}
	return errors.Join(errs...)
}
