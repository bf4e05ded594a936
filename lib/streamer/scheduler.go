// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/streamer/lib/clock"
	"github.com/bureau-foundation/streamer/lib/hwinfo"
	"github.com/bureau-foundation/streamer/lib/statistics"
)

const schedulerStatisticsWindow = 64

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Name labels the scheduler in logs and statistics. Defaults to
	// "scheduler".
	Name string

	// Clock timestamps queue times, deadlines, and statistics.
	// Defaults to the real clock.
	Clock clock.Clock

	// Logger receives lifecycle events. Nil discards.
	Logger *slog.Logger

	// IdleWakeInterval, when positive, wakes the scheduler goroutine
	// at this interval while requests are outstanding even without a
	// completion signal.
	IdleWakeInterval time.Duration

	// Recommendations are returned by GetRecommendations.
	Recommendations hwinfo.Recommendations
}

// Scheduler drives a stack on one background goroutine. Applications
// create requests, fill them, and queue them from any goroutine; the
// scheduler goroutine prepares them, orders them with
// PrioritizeRequests, dispatches them into the stack, pumps the stack
// until it is idle, and finalizes completed requests.
type Scheduler struct {
	name    string
	stack   Stage
	context *Context
	clock   clock.Clock
	logger  *slog.Logger
	config  SchedulerConfig

	mu        sync.Mutex
	pending   []*FileRequest
	suspended bool
	started   bool
	stopping  bool
	stopped   bool
	exited    chan struct{}

	// Scheduler goroutine only.
	lastDispatched FileLocation
	intakeBuffer   []*FileRequest

	loops             uint64
	dispatchedPerLoop *statistics.AverageWindow[int]
	loopDuration      *statistics.AverageWindow[time.Duration]
	requestLatency    *statistics.AverageWindow[time.Duration]
	missedDeadlines   statistics.RunningStatistic
	canceledPrepared  uint64
}

// NewScheduler wraps stack, which must be non-nil. The stack's stages
// receive the scheduler's Context.
func NewScheduler(stack Stage, config SchedulerConfig) (*Scheduler, error) {
	if stack == nil {
		return nil, fmt.Errorf("scheduler needs a stack: %w", ErrInvalidConfig)
	}
	if config.Name == "" {
		config.Name = "scheduler"
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.IdleWakeInterval < 0 {
		return nil, fmt.Errorf("idle wake interval %s is negative: %w", config.IdleWakeInterval, ErrInvalidConfig)
	}
	logger := config.Logger.With("scheduler", config.Name)
	s := &Scheduler{
		name:              config.Name,
		stack:             stack,
		context:           NewContext(config.Clock, logger),
		clock:             config.Clock,
		logger:            logger,
		config:            config,
		exited:            make(chan struct{}),
		dispatchedPerLoop: statistics.NewAverageWindow[int](schedulerStatisticsWindow),
		loopDuration:      statistics.NewAverageWindow[time.Duration](schedulerStatisticsWindow),
		requestLatency:    statistics.NewAverageWindow[time.Duration](schedulerStatisticsWindow),
	}
	s.context.onExternalFinalized = s.recordFinalized
	stack.SetContext(s.context)
	return s, nil
}

// Context returns the context shared with the stack.
func (s *Scheduler) Context() *Context { return s.context }

// Start launches the scheduler goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return errors.New("streamer: scheduler already started")
	}
	s.started = true
	s.logger.Info("scheduler started", "idle_wake_interval", s.config.IdleWakeInterval)
	go s.run()
	return nil
}

// Stop drains every queued and in-flight request and then stops the
// scheduler goroutine. Every request queued before Stop reaches a
// terminal status before Stop returns. Processing resumes if it was
// suspended. Requests queued afterwards fail with ErrShutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped || s.stopping {
		s.mu.Unlock()
		<-s.exited
		return
	}
	s.stopping = true
	s.suspended = false
	if !s.started {
		s.stopped = true
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		for _, request := range pending {
			s.reject(request)
		}
		close(s.exited)
		return
	}
	s.mu.Unlock()
	s.context.WakeUpSchedulingThread()
	<-s.exited
}

// SuspendProcessing stops the scheduler from taking new requests.
// Requests already in the stack continue; queued ones wait, in order,
// for ResumeProcessing.
func (s *Scheduler) SuspendProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	s.suspended = true
}

// ResumeProcessing lets the scheduler take new requests again.
func (s *Scheduler) ResumeProcessing() {
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()
	s.context.WakeUpSchedulingThread()
}

// IsSuspended reports whether processing is suspended.
func (s *Scheduler) IsSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// CreateRequest returns an empty external request. Safe to call from
// any goroutine.
func (s *Scheduler) CreateRequest() *FileRequest {
	return s.context.NewExternalRequest()
}

// CreateRequestBatch returns count empty external requests.
func (s *Scheduler) CreateRequestBatch(count int) []*FileRequest {
	requests := make([]*FileRequest, count)
	for i := range requests {
		requests[i] = s.context.NewExternalRequest()
	}
	return requests
}

// QueueRequest hands a filled request to the scheduler without
// waiting for it. The caller keeps its reference and must Release it
// when done with the results.
func (s *Scheduler) QueueRequest(request *FileRequest) error {
	return s.QueueRequestBatch([]*FileRequest{request})
}

// QueueRequestBatch queues requests in order under one lock. Either
// every request is queued or, when one is invalid, none is. After Stop
// each request is finished immediately with ErrShutdown and the batch
// returns ErrShutdown.
func (s *Scheduler) QueueRequestBatch(requests []*FileRequest) error {
	for _, request := range requests {
		switch {
		case request == nil:
			return errors.New("streamer: queue of nil request")
		case !request.external:
			return errors.New("streamer: queue of internal request")
		case request.command == nil:
			return fmt.Errorf("streamer: request %s has no command", request.ref)
		case request.Status() != StatusCreated:
			return fmt.Errorf("streamer: request %s already queued (status %s)", request.ref, request.Status())
		}
	}

	now := s.clock.Now()
	for _, request := range requests {
		request.queueTime = now
		if request.relativeDeadline != NoDeadline {
			request.deadline = now.Add(request.relativeDeadline)
		}
		request.references.Add(1)
		request.setStatus(StatusQueued)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		for _, request := range requests {
			s.reject(request)
		}
		return ErrShutdown
	}
	s.pending = append(s.pending, requests...)
	s.mu.Unlock()
	s.context.WakeUpSchedulingThread()
	return nil
}

// reject finishes a request the scheduler will never process. Runs on
// the caller's goroutine.
func (s *Scheduler) reject(request *FileRequest) {
	request.Fail(ErrShutdown)
	request.finalized = true
	if request.onCompletion != nil {
		request.onCompletion(request)
	}
	close(request.done)
	request.dropReference()
}

// GetRecommendations returns device-informed tuning hints computed
// when the stack was built.
func (s *Scheduler) GetRecommendations() hwinfo.Recommendations {
	return s.config.Recommendations
}

// Read returns an unqueued request reading size bytes at offset of
// path.
func (s *Scheduler) Read(path string, output []byte, offset, size uint64, deadline time.Duration, priority Priority) *FileRequest {
	request := s.CreateRequest()
	request.CreateRead(NewRequestPath(path), output, offset, size, deadline, priority)
	return request
}

// Write returns an unqueued request writing data at offset of path.
func (s *Scheduler) Write(path string, data []byte, offset uint64, deadline time.Duration, priority Priority) *FileRequest {
	request := s.CreateRequest()
	request.CreateWrite(NewRequestPath(path), data, offset, deadline, priority)
	return request
}

// Cancel returns an unqueued request canceling target.
func (s *Scheduler) Cancel(target *FileRequest) *FileRequest {
	request := s.CreateRequest()
	request.CreateCancel(target.Ref())
	return request
}

// Reschedule returns an unqueued request raising target's urgency.
func (s *Scheduler) Reschedule(target *FileRequest, deadline time.Duration, priority Priority) *FileRequest {
	request := s.CreateRequest()
	request.CreateReschedule(target.Ref(), deadline, priority)
	return request
}

// FileExists returns an unqueued existence check for path.
func (s *Scheduler) FileExists(path string) *FileRequest {
	request := s.CreateRequest()
	request.CreateFileExistsCheck(NewRequestPath(path))
	return request
}

// GetFileSize returns an unqueued size query for path.
func (s *Scheduler) GetFileSize(path string) *FileRequest {
	request := s.CreateRequest()
	request.CreateFileMetaDataRetrieval(NewRequestPath(path))
	return request
}

// Flush returns an unqueued flush of cached state for path.
func (s *Scheduler) Flush(path string) *FileRequest {
	request := s.CreateRequest()
	request.CreateFlush(NewRequestPath(path))
	return request
}

// FlushAll returns an unqueued flush of all cached state.
func (s *Scheduler) FlushAll() *FileRequest {
	request := s.CreateRequest()
	request.CreateFlushAll()
	return request
}

// CreateDedicatedCache returns an unqueued dedicated cache creation.
func (s *Scheduler) CreateDedicatedCache(path string) *FileRequest {
	request := s.CreateRequest()
	request.CreateDedicatedCache(NewRequestPath(path))
	return request
}

// DestroyDedicatedCache returns an unqueued dedicated cache release.
func (s *Scheduler) DestroyDedicatedCache(path string) *FileRequest {
	request := s.CreateRequest()
	request.CreateDestroyDedicatedCache(NewRequestPath(path))
	return request
}

// Report returns an unqueued diagnostics request.
func (s *Scheduler) Report(reportType ReportType) *FileRequest {
	request := s.CreateRequest()
	request.CreateReport(reportType)
	return request
}

func (s *Scheduler) run() {
	defer close(s.exited)
	for {
		finish := statistics.TimeScope(s.clock, s.loopDuration)
		s.loops++
		s.intake()
		s.processTillIdle()
		s.stack.UpdateCompletionEstimates(s.clock.Now(), s.context.preparedData)
		finish()

		if s.drained() {
			s.logger.Info("scheduler stopped", "loops", s.loops)
			return
		}
		s.sleep()
	}
}

// intake moves queued requests into the stack's prepare step.
func (s *Scheduler) intake() {
	s.mu.Lock()
	if s.suspended {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = s.intakeBuffer[:0]
	s.mu.Unlock()

	for i, request := range batch {
		batch[i] = nil
		s.context.outstanding++
		request.setStatus(StatusProcessing)
		if request.IsCancelRequested() {
			request.Fail(fmt.Errorf("request %s canceled before processing: %w", request.ref, ErrCanceled))
			s.context.MarkRequestAsCompleted(request)
			continue
		}
		s.stack.PrepareRequest(request)
	}
	s.intakeBuffer = batch[:0]
}

// processTillIdle alternates execute, finalize, and dispatch until a
// full pass changes nothing.
func (s *Scheduler) processTillIdle() {
	s.dispatch()
	for {
		executed := s.stack.ExecuteRequests()
		finalized := s.context.FinalizeCompletedRequests()
		dispatched := s.dispatch()
		if !executed && !finalized && !dispatched {
			return
		}
	}
}

// dispatch hands control requests to the stack in arrival order, then
// data requests in PrioritizeRequests order while the stack has free
// slots.
func (s *Scheduler) dispatch() bool {
	progressed := false
	for request := s.context.popControlRequest(); request != nil; request = s.context.popControlRequest() {
		s.dispatchControl(request)
		progressed = true
	}

	dispatched := 0
	for len(s.context.preparedData) > 0 {
		status := NewStageStatus()
		s.stack.UpdateStatus(&status)
		if status.NumAvailableSlots <= 0 {
			break
		}
		request := s.context.removePreparedData(s.selectNext())
		progressed = true
		if request.IsCancelRequested() {
			s.canceledPrepared++
			request.Fail(fmt.Errorf("request %s canceled before dispatch: %w", request.ref, ErrCanceled))
			s.context.MarkRequestAsCompleted(request)
			continue
		}
		s.lastDispatched = endOfRead(request)
		s.stack.QueueRequest(request)
		dispatched++
	}
	if dispatched > 0 {
		s.dispatchedPerLoop.Push(dispatched)
	}
	return progressed
}

// selectNext returns the index of the most urgent prepared data
// request. Ties go to the request prepared first.
func (s *Scheduler) selectNext() int {
	prepared := s.context.preparedData
	best := 0
	for i := 1; i < len(prepared); i++ {
		switch PrioritizeRequests(prepared[i], prepared[best], s.lastDispatched) {
		case OrderFirstRequest:
			best = i
		case OrderEqual:
			if prepared[i].sequence < prepared[best].sequence {
				best = i
			}
		}
	}
	return best
}

// endOfRead returns the position just past the bytes request reads,
// which is where a sequential follow-up read would start.
func endOfRead(request *FileRequest) FileLocation {
	switch command := request.command.(type) {
	case *ReadData:
		return FileLocation{Path: command.Path, Offset: command.Offset + command.Size}
	case *CompressedReadData:
		entry := command.Info.Entry
		return FileLocation{Path: command.Info.ArchivePath, Offset: entry.Offset + entry.CompressedSize}
	}
	return FileLocation{}
}

func (s *Scheduler) dispatchControl(request *FileRequest) {
	switch command := request.command.(type) {
	case *CancelData:
		s.cancel(request, command)
	case *RescheduleData:
		s.reschedule(request, command)
	case *ReportData:
		switch command.Type {
		case ReportLive:
			command.Statistics = s.collectStatistics(command.Statistics)
			request.Succeed()
			s.context.MarkRequestAsCompleted(request)
			return
		case ReportConfig:
			command.Statistics = append(command.Statistics,
				statistics.NewString(s.name, "Idle wake interval", s.config.IdleWakeInterval.String()),
				statistics.NewInteger(s.name, "Max concurrent requests", int64(s.config.Recommendations.MaxConcurrentRequests)),
				statistics.NewByteSize(s.name, "Read granularity", s.config.Recommendations.ReadGranularity),
			)
		}
		s.stack.QueueRequest(request)
	default:
		s.stack.QueueRequest(request)
	}
}

// cancel flags the target, fails its prepared but undispatched work,
// and forwards the cancel so stages can drop queued work. Canceling a
// stale, finished, or unknown target succeeds without effect.
func (s *Scheduler) cancel(request *FileRequest, command *CancelData) {
	target := s.context.Resolve(command.Target)
	if target == nil || target == request || target.Status().IsTerminal() || target.finalized {
		request.Succeed()
		s.context.MarkRequestAsCompleted(request)
		return
	}
	target.cancelRequested.Store(true)
	removed := s.context.RemovePreparedRequests(func(prepared *FileRequest) bool {
		return prepared.WorksOn(target)
	})
	for _, prepared := range removed {
		prepared.Fail(fmt.Errorf("request %s canceled: %w", prepared.ref, ErrCanceled))
		s.context.MarkRequestAsCompleted(prepared)
	}
	s.logger.Debug("request canceled", "request_id", target.ref.String(), "prepared_removed", len(removed))
	s.stack.QueueRequest(request)
}

func (s *Scheduler) reschedule(request *FileRequest, command *RescheduleData) {
	target := s.context.Resolve(command.Target)
	if target != nil && !target.Status().IsTerminal() && !target.finalized {
		var deadline time.Time
		if command.Deadline != NoDeadline {
			deadline = s.clock.Now().Add(command.Deadline)
		}
		target.root().reschedule(command.Priority, deadline)
	}
	request.Succeed()
	s.context.MarkRequestAsCompleted(request)
}

// drained reports whether a stop was requested and nothing remains.
func (s *Scheduler) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopping {
		return false
	}
	if len(s.pending) > 0 || s.context.outstanding > 0 || s.context.NumPreparedRequests() > 0 {
		return false
	}
	s.stopped = true
	return true
}

func (s *Scheduler) sleep() {
	var timeout <-chan time.Time
	if s.config.IdleWakeInterval > 0 && s.context.outstanding > 0 {
		timeout = s.clock.After(s.config.IdleWakeInterval)
	}
	select {
	case <-s.context.wake:
	case <-timeout:
	}
}

func (s *Scheduler) recordFinalized(request *FileRequest) {
	now := s.clock.Now()
	s.requestLatency.Push(now.Sub(request.queueTime))
	if !request.deadline.IsZero() {
		if now.After(request.deadline) {
			s.missedDeadlines.Push(1)
		} else {
			s.missedDeadlines.Push(0)
		}
	}
}

// CollectStatistics appends the scheduler's and every stage's
// measurements to out.
//
// CollectStatistics is not synchronized with the scheduler goroutine.
// It reads single-writer sliding windows without locks, so values can
// be slightly stale or mix two updates; it never blocks the scheduler.
// Queue a ReportLive request for a consistent snapshot.
func (s *Scheduler) CollectStatistics(out []statistics.Statistic) []statistics.Statistic {
	return s.collectStatistics(out)
}

func (s *Scheduler) collectStatistics(out []statistics.Statistic) []statistics.Statistic {
	s.mu.Lock()
	pending := len(s.pending)
	suspended := s.suspended
	s.mu.Unlock()
	live, capacity := s.context.PoolSize()

	out = append(out,
		statistics.NewInteger(s.name, "Queued requests", int64(pending)).
			WithDescription("Requests queued by applications and not yet taken by the scheduler."),
		statistics.NewInteger(s.name, "Prepared requests", int64(s.context.NumPreparedRequests())),
		statistics.NewInteger(s.name, "Outstanding requests", int64(s.context.outstanding)),
		statistics.NewInteger(s.name, "Pooled requests", int64(live)),
		statistics.NewInteger(s.name, "Pool capacity", int64(capacity)),
		statistics.NewBoolean(s.name, "Suspended", suspended),
		statistics.NewInteger(s.name, "Processing loops", int64(s.loops)),
		statistics.NewFloat(s.name, "Dispatches per loop", float64(s.dispatchedPerLoop.Total())/float64(max(1, s.dispatchedPerLoop.Count()))).
			WithGraph(statistics.GraphLine),
		statistics.NewTime(s.name, "Loop duration", s.loopDuration.Average()),
		statistics.NewTimeRange(s.name, "Request latency", s.requestLatency.Average(), s.requestLatency.Min(), s.requestLatency.Max()).
			WithDescription("Time from queueing an external request to its completion.").
			WithGraph(statistics.GraphLine),
		statistics.NewPercentageRange(s.name, "Missed deadlines", s.missedDeadlines.Average(), s.missedDeadlines.Min(), s.missedDeadlines.Max()).
			WithGraph(statistics.GraphPercentageBar),
		statistics.NewInteger(s.name, "Canceled before dispatch", int64(s.canceledPrepared)),
	)
	return s.stack.CollectStatistics(out)
}
