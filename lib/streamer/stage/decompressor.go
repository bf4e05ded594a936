// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/streamer/lib/compression"
	"github.com/bureau-foundation/streamer/lib/jobs"
	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/streamer"
)

const (
	decompressorStatisticsWindow = 64

	// Decompression throughput assumed until jobs have been measured.
	defaultDecompressionSpeed = 200 << 20
)

// FullFileDecompressorConfig configures a FullFileDecompressor.
type FullFileDecompressorConfig struct {
	// Name labels the stage. Defaults to "full file decompressor".
	Name string

	// MaxNumReads is the number of archive blobs read concurrently.
	// Each read holds a buffer the size of the compressed blob.
	MaxNumReads int

	// MaxNumJobs is the number of decompression jobs running
	// concurrently.
	MaxNumJobs int

	// JobThreads sizes the dedicated job manager. Zero means
	// MaxNumJobs.
	JobThreads int

	// Catalog resolves logical paths to archive entries.
	Catalog Catalog
}

// DefaultFullFileDecompressorConfig returns two reads and two jobs.
func DefaultFullFileDecompressorConfig(catalog Catalog) FullFileDecompressorConfig {
	return FullFileDecompressorConfig{MaxNumReads: 2, MaxNumJobs: 2, Catalog: catalog}
}

type readBufferStatus uint8

const (
	readBufferUnused readBufferStatus = iota
	readBufferReadInFlight
	readBufferPendingDecompression
)

func (s readBufferStatus) String() string {
	switch s {
	case readBufferUnused:
		return "unused"
	case readBufferReadInFlight:
		return "read_in_flight"
	case readBufferPendingDecompression:
		return "pending_decompression"
	default:
		return "unknown"
	}
}

// decompressionInformation tracks one running job. The job goroutine
// writes the result fields; the scheduler goroutine reads them once
// the wait request has been finalized.
type decompressionInformation struct {
	waitRequest *streamer.FileRequest
	request     *streamer.FileRequest
	compressed  []byte
	queueTime   time.Time

	jobStart     time.Time
	jobEnd       time.Time
	decompressed int
	partial      bool
}

// FullFileDecompressor serves reads of files stored as compressed
// blobs in archives. A blob can only be decompressed from its start,
// so every read fetches the whole blob into a read slot and then
// decompresses it on a dedicated job manager, separate from any pool
// used for latency-sensitive work.
//
// Reads and jobs are throttled independently: at most MaxNumReads
// blobs are being read and at most MaxNumJobs are being decompressed.
// Requests beyond that wait in order.
type FullFileDecompressor struct {
	streamer.StageBase
	config  FullFileDecompressorConfig
	catalog Catalog
	jobs    *jobs.Manager

	readBuffers      [][]byte
	readRequests     []*streamer.FileRequest
	archiveReads     []*streamer.FileRequest
	waitRequests     []*streamer.FileRequest
	readStart        []time.Time
	readBufferStatus []readBufferStatus
	processingJobs   []*decompressionInformation

	pendingReads           []*streamer.FileRequest
	pendingFileExistChecks []*streamer.FileRequest
	numInFlightReads       int
	numRunningJobs         int

	decompressionJobDelay *statistics.AverageWindow[time.Duration]
	decompressionDuration *statistics.AverageWindow[time.Duration]
	bytesDecompressed     *statistics.AverageWindow[uint64]
	archiveReadTime       *statistics.AverageWindow[time.Duration]
	peakInFlightReads     int
	peakRunningJobs       int
	partialDecompressions uint64
	integrityFailures     uint64
	directReads           uint64
}

// NewFullFileDecompressor validates config and starts the dedicated job
// manager. Zero reads or zero jobs are rejected.
func NewFullFileDecompressor(config FullFileDecompressorConfig) (*FullFileDecompressor, error) {
	if config.Name == "" {
		config.Name = "full file decompressor"
	}
	if config.MaxNumReads < 1 {
		return nil, fmt.Errorf("decompressor max reads %d must be at least 1: %w", config.MaxNumReads, streamer.ErrInvalidConfig)
	}
	if config.MaxNumJobs < 1 {
		return nil, fmt.Errorf("decompressor max jobs %d must be at least 1: %w", config.MaxNumJobs, streamer.ErrInvalidConfig)
	}
	if config.JobThreads < 0 {
		return nil, fmt.Errorf("decompressor job threads %d is negative: %w", config.JobThreads, streamer.ErrInvalidConfig)
	}
	if config.Catalog == nil {
		return nil, fmt.Errorf("decompressor needs an archive catalog: %w", streamer.ErrInvalidConfig)
	}
	threads := config.JobThreads
	if threads == 0 {
		threads = config.MaxNumJobs
	}
	manager, err := jobs.NewManager(jobs.Config{Name: config.Name, Threads: threads})
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, streamer.ErrInvalidConfig)
	}
	return &FullFileDecompressor{
		StageBase:             streamer.NewStageBase(config.Name),
		config:                config,
		catalog:               config.Catalog,
		jobs:                  manager,
		readBuffers:           make([][]byte, config.MaxNumReads),
		readRequests:          make([]*streamer.FileRequest, config.MaxNumReads),
		archiveReads:          make([]*streamer.FileRequest, config.MaxNumReads),
		waitRequests:          make([]*streamer.FileRequest, config.MaxNumReads),
		readStart:             make([]time.Time, config.MaxNumReads),
		readBufferStatus:      make([]readBufferStatus, config.MaxNumReads),
		processingJobs:        make([]*decompressionInformation, config.MaxNumJobs),
		decompressionJobDelay: statistics.NewAverageWindow[time.Duration](decompressorStatisticsWindow),
		decompressionDuration: statistics.NewAverageWindow[time.Duration](decompressorStatisticsWindow),
		bytesDecompressed:     statistics.NewAverageWindow[uint64](decompressorStatisticsWindow),
		archiveReadTime:       statistics.NewAverageWindow[time.Duration](decompressorStatisticsWindow),
	}, nil
}

func (d *FullFileDecompressor) PrepareRequest(request *streamer.FileRequest) {
	switch command := request.Command().(type) {
	case *streamer.ReadRequestData:
		info, ok := d.catalog.Resolve(command.Path)
		if !ok {
			d.StageBase.PrepareRequest(request)
			return
		}
		d.prepareArchiveRead(request, command, info)
	case *streamer.CreateDedicatedCacheData:
		if info, ok := d.catalog.Resolve(command.Path); ok {
			command.Path = info.ArchivePath
		}
		d.StageBase.PrepareRequest(request)
	case *streamer.DestroyDedicatedCacheData:
		if info, ok := d.catalog.Resolve(command.Path); ok {
			command.Path = info.ArchivePath
		}
		d.StageBase.PrepareRequest(request)
	default:
		d.StageBase.PrepareRequest(request)
	}
}

// prepareArchiveRead turns a read of an archived file into a
// compressed read, or into a plain read of the archive when the entry
// is stored uncompressed.
func (d *FullFileDecompressor) prepareArchiveRead(request *streamer.FileRequest, command *streamer.ReadRequestData, info streamer.CompressionInfo) {
	ctx := d.Context()
	entry := info.Entry
	if command.Offset+command.Size > entry.UncompressedSize {
		request.Fail(fmt.Errorf("read of %d bytes at %d is outside %s (%d bytes): %w",
			command.Size, command.Offset, command.Path, entry.UncompressedSize, streamer.ErrIO))
		ctx.MarkRequestAsCompleted(request)
		return
	}
	if command.Output == nil {
		command.Output = make([]byte, command.Size)
	}
	if uint64(len(command.Output)) < command.Size {
		request.Fail(fmt.Errorf("output buffer of %d bytes is smaller than read size %d: %w",
			len(command.Output), command.Size, streamer.ErrUnsupported))
		ctx.MarkRequestAsCompleted(request)
		return
	}
	output := command.Output[:command.Size]

	child := ctx.NewInternalRequest()
	if !entry.IsCompressed() {
		d.directReads++
		child.CreateReadData(request, info.ArchivePath, output, entry.Offset+command.Offset, command.Size)
		child.SetCompletionCallback(func(child *streamer.FileRequest) {
			command.BytesRead += child.Command().(*streamer.ReadData).BytesRead
		})
		d.StageBase.PrepareRequest(child)
		return
	}
	child.CreateCompressedRead(request, info, output, command.Offset, command.Size)
	child.SetCompletionCallback(func(child *streamer.FileRequest) {
		command.BytesRead += child.Command().(*streamer.CompressedReadData).BytesRead
	})
	ctx.PushPreparedRequest(child)
}

func (d *FullFileDecompressor) QueueRequest(request *streamer.FileRequest) {
	switch command := request.Command().(type) {
	case *streamer.CompressedReadData:
		if request.IsCancelRequested() {
			d.fail(request, fmt.Errorf("compressed read canceled: %w", streamer.ErrCanceled))
			return
		}
		d.pendingReads = append(d.pendingReads, request)
	case *streamer.FileExistsCheckData:
		if _, ok := d.catalog.Resolve(command.Path); ok {
			d.pendingFileExistChecks = append(d.pendingFileExistChecks, request)
			return
		}
		d.StageBase.QueueRequest(request)
	case *streamer.FileMetaDataRetrievalData:
		if info, ok := d.catalog.Resolve(command.Path); ok {
			command.Found = true
			command.FileSize = info.Entry.UncompressedSize
			request.Succeed()
			d.Context().MarkRequestAsCompleted(request)
			return
		}
		d.StageBase.QueueRequest(request)
	case *streamer.CancelData:
		d.cancel(command.Target)
		d.StageBase.QueueRequest(request)
	case *streamer.ReportData:
		if command.Type == streamer.ReportConfig {
			name := d.Name()
			command.Statistics = append(command.Statistics,
				statistics.NewInteger(name, "Max reads", int64(d.config.MaxNumReads)),
				statistics.NewInteger(name, "Max jobs", int64(d.config.MaxNumJobs)),
				statistics.NewInteger(name, "Job threads", int64(d.jobs.Threads())),
			)
		}
		d.StageBase.QueueRequest(request)
	default:
		d.StageBase.QueueRequest(request)
	}
}

func (d *FullFileDecompressor) fail(request *streamer.FileRequest, err error) {
	request.Fail(err)
	d.Context().MarkRequestAsCompleted(request)
}

// cancel drops pending work on target before it occupies a slot.
func (d *FullFileDecompressor) cancel(ref streamer.RequestRef) {
	target := d.Context().Resolve(ref)
	if target == nil {
		return
	}
	drop := func(request *streamer.FileRequest) bool {
		if request.WorksOn(target) {
			d.fail(request, fmt.Errorf("compressed read canceled: %w", streamer.ErrCanceled))
			return true
		}
		return false
	}
	d.pendingReads = slices.DeleteFunc(d.pendingReads, drop)
	d.pendingFileExistChecks = slices.DeleteFunc(d.pendingFileExistChecks, drop)
}

func (d *FullFileDecompressor) ExecuteRequests() bool {
	progressed := d.startDecompressions()

	// A slot stays occupied while its blob waits for a job, so reads
	// beyond the free slots wait here until decompression catches up.
	for len(d.pendingReads) > 0 {
		slot := slices.Index(d.readBufferStatus, readBufferUnused)
		if slot < 0 {
			break
		}
		request := d.pendingReads[0]
		d.pendingReads[0] = nil
		d.pendingReads = d.pendingReads[1:]
		d.startArchiveRead(request, slot)
		progressed = true
	}

	if !progressed && len(d.pendingFileExistChecks) > 0 {
		request := d.pendingFileExistChecks[0]
		d.pendingFileExistChecks[0] = nil
		d.pendingFileExistChecks = d.pendingFileExistChecks[1:]
		request.Command().(*streamer.FileExistsCheckData).Found = true
		request.Succeed()
		d.Context().MarkRequestAsCompleted(request)
		progressed = true
	}

	return d.StageBase.ExecuteRequests() || progressed
}

// startArchiveRead reads the whole compressed blob into slot, which
// must be unused.
func (d *FullFileDecompressor) startArchiveRead(request *streamer.FileRequest, slot int) {
	if request.IsCancelRequested() {
		d.fail(request, fmt.Errorf("compressed read canceled before start: %w", streamer.ErrCanceled))
		return
	}
	ctx := d.Context()
	command := request.Command().(*streamer.CompressedReadData)
	entry := command.Info.Entry

	buffer := d.readBuffers[slot]
	if uint64(cap(buffer)) < entry.CompressedSize {
		buffer = make([]byte, entry.CompressedSize)
	}
	buffer = buffer[:entry.CompressedSize]
	d.readBuffers[slot] = buffer

	archiveRead := ctx.NewInternalRequest()
	archiveRead.CreateReadData(request, command.Info.ArchivePath, buffer, entry.Offset, entry.CompressedSize)
	archiveRead.SetCompletionCallback(func(read *streamer.FileRequest) {
		d.finishArchiveRead(read, slot)
	})

	d.readRequests[slot] = request
	d.archiveReads[slot] = archiveRead
	d.readStart[slot] = ctx.Clock().Now()
	d.readBufferStatus[slot] = readBufferReadInFlight
	d.numInFlightReads++
	d.peakInFlightReads = max(d.peakInFlightReads, d.numInFlightReads)

	d.StageBase.QueueRequest(archiveRead)
}

// finishArchiveRead runs when the blob read finishes. On success the
// slot waits for a job; a wait child keeps the compressed read open
// until the job delivers. On failure the slot is released and the
// read's error reaches the compressed read through the parent link.
func (d *FullFileDecompressor) finishArchiveRead(read *streamer.FileRequest, slot int) {
	ctx := d.Context()
	d.numInFlightReads--
	d.archiveReads[slot] = nil
	d.archiveReadTime.Push(ctx.Clock().Since(d.readStart[slot]))

	command := read.Command().(*streamer.ReadData)
	if read.Status() == streamer.StatusCompleted && command.BytesRead != command.Size {
		read.Fail(fmt.Errorf("archive read of %s returned %d of %d bytes: %w",
			command.Path, command.BytesRead, command.Size, streamer.ErrIO))
	}
	if read.Status() != streamer.StatusCompleted {
		ctx.Logger().Warn("archive read failed", "stage", d.Name(), "path", command.Path.String(), "error", read.Err())
		d.releaseSlot(slot)
		return
	}

	wait := ctx.NewInternalRequest()
	wait.CreateWait(d.readRequests[slot])
	d.waitRequests[slot] = wait
	d.readBufferStatus[slot] = readBufferPendingDecompression
}

func (d *FullFileDecompressor) releaseSlot(slot int) {
	d.readRequests[slot] = nil
	d.waitRequests[slot] = nil
	d.readBufferStatus[slot] = readBufferUnused
}

// startDecompressions hands blobs waiting in read slots to the job
// manager while job slots are free. The blob buffer moves to the job,
// so the read slot is free for the next archive read right away.
func (d *FullFileDecompressor) startDecompressions() bool {
	progressed := false
	ctx := d.Context()
	for slot, status := range d.readBufferStatus {
		if status != readBufferPendingDecompression {
			continue
		}
		if d.numRunningJobs >= d.config.MaxNumJobs {
			break
		}
		request, wait, buffer := d.readRequests[slot], d.waitRequests[slot], d.readBuffers[slot]
		d.readBuffers[slot] = nil
		d.releaseSlot(slot)
		progressed = true

		if request.IsCancelRequested() {
			d.fail(wait, fmt.Errorf("decompression canceled before start: %w", streamer.ErrCanceled))
			continue
		}

		job := slices.Index(d.processingJobs, nil)
		info := &decompressionInformation{
			waitRequest: wait,
			request:     request,
			compressed:  buffer,
			queueTime:   ctx.Clock().Now(),
		}
		d.processingJobs[job] = info
		d.numRunningJobs++
		d.peakRunningJobs = max(d.peakRunningJobs, d.numRunningJobs)
		wait.SetCompletionCallback(func(*streamer.FileRequest) {
			d.finishDecompression(job)
		})
		if err := d.jobs.Submit(func() { d.decompress(info) }); err != nil {
			d.fail(wait, fmt.Errorf("submitting decompression: %v: %w", err, streamer.ErrShutdown))
		}
	}
	return progressed
}

// decompress runs on a job goroutine. Only the whole-entry path can
// check the digest; a prefix decode is checked by the decoder alone.
func (d *FullFileDecompressor) decompress(info *decompressionInformation) {
	clock := d.Context().Clock()
	info.jobStart = clock.Now()

	command := info.request.Command().(*streamer.CompressedReadData)
	entry := command.Info.Entry
	needed := command.Offset + command.Size

	var data []byte
	var err error
	if needed < entry.UncompressedSize && entry.Compression.SupportsPrefix() {
		info.partial = true
		data, err = compression.DecompressPrefix(info.compressed, entry.Compression, int(entry.UncompressedSize), int(needed))
	} else {
		data, err = entry.Expand(info.compressed)
	}
	if err == nil && uint64(len(data)) < needed {
		err = fmt.Errorf("decoded %d bytes, need %d", len(data), needed)
	}
	if err == nil {
		command.BytesRead = uint64(copy(command.Output, data[command.Offset:needed]))
	}
	info.decompressed = len(data)
	info.compressed = nil
	info.jobEnd = clock.Now()

	if err != nil {
		info.waitRequest.Fail(fmt.Errorf("decompressing %s from %s: %v: %w",
			entry.Name, command.Info.ArchivePath, err, streamer.ErrIntegrity))
	} else {
		info.waitRequest.Succeed()
	}
	d.Context().MarkRequestAsCompleted(info.waitRequest)
}

// finishDecompression frees the job slot and records timings. The
// wait request's status reaches the compressed read through the
// parent link.
func (d *FullFileDecompressor) finishDecompression(job int) {
	info := d.processingJobs[job]
	d.processingJobs[job] = nil
	d.numRunningJobs--
	if info.jobStart.IsZero() {
		return
	}
	d.decompressionJobDelay.Push(info.jobStart.Sub(info.queueTime))
	d.decompressionDuration.Push(info.jobEnd.Sub(info.jobStart))
	d.bytesDecompressed.Push(uint64(info.decompressed))
	if info.partial {
		d.partialDecompressions++
	}
	if err := info.waitRequest.Err(); err != nil && errors.Is(err, streamer.ErrIntegrity) {
		d.integrityFailures++
		d.Context().Logger().Error("decompression failed", "stage", d.Name(), "error", err)
	}
}

// unusedReadSlots counts slots neither reading nor holding a blob.
func (d *FullFileDecompressor) unusedReadSlots() int {
	unused := 0
	for _, status := range d.readBufferStatus {
		if status == readBufferUnused {
			unused++
		}
	}
	return unused
}

// UpdateStatus reports one slot per unused read slot not already
// promised to a pending read. Compressed reads therefore stay in the
// scheduler's prepared queue, where they are ordered by priority and
// deadline, until a read slot can take them.
func (d *FullFileDecompressor) UpdateStatus(status *streamer.StageStatus) {
	available := d.unusedReadSlots() - len(d.pendingReads)
	status.NumAvailableSlots = min(status.NumAvailableSlots, available)
	if d.numInFlightReads > 0 || d.numRunningJobs > 0 || len(d.pendingReads) > 0 || len(d.pendingFileExistChecks) > 0 {
		status.IsIdle = false
	}
	for _, slotStatus := range d.readBufferStatus {
		if slotStatus == readBufferPendingDecompression {
			status.IsIdle = false
			break
		}
	}
	d.StageBase.UpdateStatus(status)
}

// decompressionTime estimates a job from the measured cost per byte.
func (d *FullFileDecompressor) decompressionTime(size uint64) time.Duration {
	bytes := d.bytesDecompressed.Total()
	duration := d.decompressionDuration.Total()
	if bytes == 0 || duration <= 0 {
		return time.Duration(float64(size) / defaultDecompressionSpeed * float64(time.Second))
	}
	return time.Duration(float64(duration) * float64(size) / float64(bytes))
}

// UpdateCompletionEstimates adds the expected queueing and
// decompression time to every request this stage holds: running jobs
// finish after their expected duration, blobs waiting for a job after
// the jobs ahead of them, in-flight reads after their archive read plus
// a job, and pending reads after the read rounds ahead of them.
func (d *FullFileDecompressor) UpdateCompletionEstimates(now time.Time, pending []*streamer.FileRequest) {
	d.StageBase.UpdateCompletionEstimates(now, pending)

	jobDelay := d.decompressionJobDelay.Average()
	readTime := d.archiveReadTime.Average()
	jobFree := make([]time.Time, d.config.MaxNumJobs)
	for i := range jobFree {
		jobFree[i] = now
	}
	nextJob := func(after time.Time, size uint64) time.Time {
		earliest := 0
		for i := range jobFree {
			if jobFree[i].Before(jobFree[earliest]) {
				earliest = i
			}
		}
		start := jobFree[earliest]
		if after.After(start) {
			start = after
		}
		jobFree[earliest] = start.Add(jobDelay + d.decompressionTime(size))
		return jobFree[earliest]
	}

	for i, info := range d.processingJobs {
		if info == nil {
			continue
		}
		size := info.request.Command().(*streamer.CompressedReadData).Info.Entry.UncompressedSize
		estimate := info.queueTime.Add(jobDelay + d.decompressionTime(size))
		if estimate.Before(now) {
			estimate = now
		}
		jobFree[i] = estimate
		info.request.SetEstimatedCompletion(estimate)
	}
	for slot, status := range d.readBufferStatus {
		request := d.readRequests[slot]
		switch status {
		case readBufferPendingDecompression:
			size := request.Command().(*streamer.CompressedReadData).Info.Entry.UncompressedSize
			request.SetEstimatedCompletion(nextJob(now, size))
		case readBufferReadInFlight:
			readDone := now
			if archiveRead := d.archiveReads[slot]; archiveRead != nil && archiveRead.EstimatedCompletion().After(now) {
				readDone = archiveRead.EstimatedCompletion()
			}
			size := request.Command().(*streamer.CompressedReadData).Info.Entry.UncompressedSize
			request.SetEstimatedCompletion(nextJob(readDone, size))
		}
	}

	position := 0
	estimatePending := func(request *streamer.FileRequest) {
		command, ok := request.Command().(*streamer.CompressedReadData)
		if !ok {
			return
		}
		rounds := position/d.config.MaxNumReads + 1
		position++
		readDone := now.Add(time.Duration(rounds) * readTime)
		request.SetEstimatedCompletion(nextJob(readDone, command.Info.Entry.UncompressedSize))
	}
	for _, request := range d.pendingReads {
		estimatePending(request)
	}
	for _, request := range pending {
		estimatePending(request)
	}
}

func (d *FullFileDecompressor) CollectStatistics(out []statistics.Statistic) []statistics.Statistic {
	name := d.Name()
	duration := d.decompressionDuration.Total()
	speed := 0.0
	if duration > 0 {
		speed = float64(d.bytesDecompressed.Total()) / duration.Seconds()
	}
	queued, running, completed := d.jobs.Stats()
	out = append(out,
		statistics.NewInteger(name, "Available read slots", int64(d.unusedReadSlots())),
		statistics.NewInteger(name, "Available decompression slots", int64(d.config.MaxNumJobs-d.numRunningJobs)),
		statistics.NewInteger(name, "Pending reads", int64(len(d.pendingReads))),
		statistics.NewInteger(name, "Pending file exist checks", int64(len(d.pendingFileExistChecks))),
		statistics.NewInteger(name, "Peak in-flight reads", int64(d.peakInFlightReads)),
		statistics.NewInteger(name, "Peak running jobs", int64(d.peakRunningJobs)),
		statistics.NewTime(name, "Archive read time", d.archiveReadTime.Average()),
		statistics.NewTimeRange(name, "Decompression job delay", d.decompressionJobDelay.Average(),
			d.decompressionJobDelay.Min(), d.decompressionJobDelay.Max()),
		statistics.NewTimeRange(name, "Decompression duration", d.decompressionDuration.Average(),
			d.decompressionDuration.Min(), d.decompressionDuration.Max()).WithGraph(statistics.GraphLine),
		statistics.NewByteSize(name, "Bytes decompressed", d.bytesDecompressed.Average()),
		statistics.NewBytesPerSecond(name, "Decompression speed", speed),
		statistics.NewInteger(name, "Partial decompressions", int64(d.partialDecompressions)),
		statistics.NewInteger(name, "Integrity failures", int64(d.integrityFailures)),
		statistics.NewInteger(name, "Direct reads", int64(d.directReads)),
		statistics.NewInteger(name, "Jobs queued", int64(queued)),
		statistics.NewInteger(name, "Jobs running", int64(running)),
		statistics.NewInteger(name, "Jobs completed", int64(completed)),
	)
	return d.StageBase.CollectStatistics(out)
}

// Close waits for running decompression jobs and shuts the job manager
// down. Call it after the scheduler has stopped.
func (d *FullFileDecompressor) Close() error {
	d.jobs.Close()
	return nil
}
