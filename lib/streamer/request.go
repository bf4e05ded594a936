// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// RequestRef is a generation-checked handle to a pooled FileRequest.
// A ref outlives the request it names: once the slot is recycled the
// generation no longer matches and Context.Resolve returns nil.
type RequestRef struct {
	index      uint32
	generation uint32
}

// IsZero reports whether the ref was never assigned.
func (r RequestRef) IsZero() bool { return r.generation == 0 }

func (r RequestRef) String() string {
	return fmt.Sprintf("%d.%d", r.index, r.generation)
}

// FileRequest is one unit of work flowing through the stack.
//
// Application goroutines fill an external request with one of the
// Create* builders, queue it, and read results after Done is closed.
// Stages create internal requests as children of the request they are
// working on. While a request is in flight only the scheduler goroutine
// touches its fields; status, estimated completion, and the cancel flag
// are atomics so any goroutine may read them.
type FileRequest struct {
	ref      RequestRef
	pool     *requestPool
	external bool
	inUse    bool

	command Command

	parent       *FileRequest
	dependencies int
	onCompletion func(*FileRequest)

	priority         Priority
	relativeDeadline time.Duration
	deadline         time.Time
	queueTime        time.Time
	sequence         uint64

	status              atomic.Int32
	err                 error
	cancelRequested     atomic.Bool
	estimatedCompletion atomic.Int64

	// First non-success status reported by a child. Applied to the
	// request when its last dependency finishes.
	childStatus Status
	childErr    error

	finalized  bool
	references atomic.Int32
	done       chan struct{}
}

func (r *FileRequest) reset() {
	r.command = nil
	r.parent = nil
	r.dependencies = 0
	r.onCompletion = nil
	r.priority = PriorityMedium
	r.relativeDeadline = NoDeadline
	r.deadline = time.Time{}
	r.queueTime = time.Time{}
	r.sequence = 0
	r.status.Store(int32(StatusCreated))
	r.err = nil
	r.cancelRequested.Store(false)
	r.estimatedCompletion.Store(0)
	r.childStatus = StatusCompleted
	r.childErr = nil
	r.finalized = false
	r.references.Store(0)
	r.done = nil
}

// Ref returns the handle used by Cancel and Reschedule to name this
// request.
func (r *FileRequest) Ref() RequestRef { return r.ref }

// Release drops the application's reference to an external request.
// The request must not be touched afterwards; it is recycled once the
// stack has also finished with it. Releasing an internal request does
// nothing.
func (r *FileRequest) Release() {
	if r.external {
		r.dropReference()
	}
}

func (r *FileRequest) dropReference() {
	if r.references.Add(-1) == 0 {
		r.pool.release(r)
	}
}

// Command returns the operation this request carries.
func (r *FileRequest) Command() Command { return r.command }

// Parent returns the request this one was split from, or nil.
func (r *FileRequest) Parent() *FileRequest { return r.parent }

// IsExternal reports whether the request was created by an
// application rather than by a stage.
func (r *FileRequest) IsExternal() bool { return r.external }

// Status returns the current lifecycle state.
func (r *FileRequest) Status() Status { return Status(r.status.Load()) }

// Err returns the failure detail once the request has failed or been
// canceled. It is nil for a successful request and must not be read
// before the request reaches a terminal status.
func (r *FileRequest) Err() error {
	if !r.Status().IsTerminal() {
		return nil
	}
	return r.err
}

// Done returns a channel closed when an external request has finished
// and its completion callback has run. Internal requests return nil.
func (r *FileRequest) Done() <-chan struct{} { return r.done }

// Wait blocks until the request has finished or ctx ends, and returns
// the request's error.
func (r *FileRequest) Wait(ctx context.Context) error {
	if r.done == nil {
		return errors.New("streamer: wait on an internal request")
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Priority returns the priority of the request's root, which is what
// the scheduler orders by.
func (r *FileRequest) Priority() Priority { return r.root().priority }

// Deadline returns the absolute deadline of the request's root, or the
// zero time when it has none.
func (r *FileRequest) Deadline() time.Time { return r.root().deadline }

// QueueTime returns when the application queued the request's root.
func (r *FileRequest) QueueTime() time.Time { return r.root().queueTime }

// EstimatedCompletion returns the latest completion estimate, or the
// zero time when no stage has produced one yet.
func (r *FileRequest) EstimatedCompletion() time.Time {
	nanos := r.estimatedCompletion.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// SetEstimatedCompletion records an estimate and raises every
// ancestor's estimate to at least the same time: a parent cannot finish
// before its children.
func (r *FileRequest) SetEstimatedCompletion(at time.Time) {
	nanos := at.UnixNano()
	r.estimatedCompletion.Store(nanos)
	for parent := r.parent; parent != nil; parent = parent.parent {
		if parent.estimatedCompletion.Load() >= nanos {
			break
		}
		parent.estimatedCompletion.Store(nanos)
	}
}

// SetCompletionCallback installs fn to run on the scheduler goroutine
// when the request finishes, before Done is closed. It must be called
// before the request is queued.
func (r *FileRequest) SetCompletionCallback(fn func(*FileRequest)) { r.onCompletion = fn }

// IsCancelRequested reports whether this request or any ancestor has
// been flagged by a Cancel request.
func (r *FileRequest) IsCancelRequested() bool {
	for request := r; request != nil; request = request.parent {
		if request.cancelRequested.Load() {
			return true
		}
	}
	return false
}

// WorksOn reports whether r is target or descends from it.
func (r *FileRequest) WorksOn(target *FileRequest) bool {
	for request := r; request != nil; request = request.parent {
		if request == target {
			return true
		}
	}
	return false
}

// Dependencies returns the number of unfinished children.
func (r *FileRequest) Dependencies() int { return r.dependencies }

// Succeed marks the request as completed. Stages call it and then pass
// the request to Context.MarkRequestAsCompleted.
func (r *FileRequest) Succeed() {
	r.err = nil
	r.status.Store(int32(StatusCompleted))
}

// Fail marks the request as failed with err, or as canceled when err
// wraps ErrCanceled.
func (r *FileRequest) Fail(err error) {
	r.err = err
	if errors.Is(err, ErrCanceled) {
		r.status.Store(int32(StatusCanceled))
		return
	}
	r.status.Store(int32(StatusFailed))
}

func (r *FileRequest) setStatus(status Status) { r.status.Store(int32(status)) }

func (r *FileRequest) root() *FileRequest {
	request := r
	for request.parent != nil {
		request = request.parent
	}
	return request
}

// reschedule applies a monotonic urgency change: priority only rises,
// and the deadline only moves earlier.
func (r *FileRequest) reschedule(priority Priority, deadline time.Time) {
	if priority > r.priority {
		r.priority = priority
	}
	if deadline.IsZero() {
		return
	}
	if r.deadline.IsZero() || deadline.Before(r.deadline) {
		r.deadline = deadline
	}
}

// Location returns the file and offset a data request touches, used
// for locality ordering. Other commands return the zero location.
func (r *FileRequest) Location() FileLocation {
	switch command := r.command.(type) {
	case *ReadData:
		return FileLocation{Path: command.Path, Offset: command.Offset}
	case *CompressedReadData:
		return FileLocation{Path: command.Info.ArchivePath, Offset: command.Info.Entry.Offset}
	}
	return FileLocation{}
}

func (r *FileRequest) setExternal(command Command, priority Priority, deadline time.Duration) {
	r.command = command
	r.priority = priority
	r.relativeDeadline = deadline
}

// CreateRead fills the request with a read of size bytes at offset of
// path. A nil output makes the stack allocate the buffer; otherwise
// output must hold at least size bytes.
func (r *FileRequest) CreateRead(path RequestPath, output []byte, offset, size uint64, deadline time.Duration, priority Priority) {
	r.setExternal(&ReadRequestData{Path: path, Output: output, Offset: offset, Size: size}, priority, deadline)
}

// CreateWrite fills the request with a write of data at offset of path.
func (r *FileRequest) CreateWrite(path RequestPath, data []byte, offset uint64, deadline time.Duration, priority Priority) {
	r.setExternal(&WriteRequestData{Path: path, Data: data, Offset: offset}, priority, deadline)
}

// CreateOpen fills the request with a handle pre-open for path.
func (r *FileRequest) CreateOpen(path RequestPath) {
	r.setExternal(&OpenData{Path: path}, PriorityMedium, NoDeadline)
}

// CreateClose fills the request with a handle close for path.
func (r *FileRequest) CreateClose(path RequestPath) {
	r.setExternal(&CloseData{Path: path}, PriorityMedium, NoDeadline)
}

// CreateCancel fills the request with a cancel of target.
func (r *FileRequest) CreateCancel(target RequestRef) {
	r.setExternal(&CancelData{Target: target}, PriorityHighest, NoDeadline)
}

// CreateReschedule fills the request with an urgency change for target.
func (r *FileRequest) CreateReschedule(target RequestRef, deadline time.Duration, priority Priority) {
	r.setExternal(&RescheduleData{Target: target, Deadline: deadline, Priority: priority}, PriorityHighest, NoDeadline)
}

// CreateFileExistsCheck fills the request with an existence check.
func (r *FileRequest) CreateFileExistsCheck(path RequestPath) {
	r.setExternal(&FileExistsCheckData{Path: path}, PriorityMedium, NoDeadline)
}

// CreateFileMetaDataRetrieval fills the request with a file size query.
func (r *FileRequest) CreateFileMetaDataRetrieval(path RequestPath) {
	r.setExternal(&FileMetaDataRetrievalData{Path: path}, PriorityMedium, NoDeadline)
}

// CreateFlush fills the request with a flush of cached state for path.
func (r *FileRequest) CreateFlush(path RequestPath) {
	r.setExternal(&FlushData{Path: path}, PriorityMedium, NoDeadline)
}

// CreateFlushAll fills the request with a flush of all cached state.
func (r *FileRequest) CreateFlushAll() {
	r.setExternal(&FlushAllData{}, PriorityMedium, NoDeadline)
}

// CreateDedicatedCache fills the request with a dedicated cache
// creation for path.
func (r *FileRequest) CreateDedicatedCache(path RequestPath) {
	r.setExternal(&CreateDedicatedCacheData{Path: path}, PriorityMedium, NoDeadline)
}

// CreateDestroyDedicatedCache fills the request with a dedicated cache
// release for path.
func (r *FileRequest) CreateDestroyDedicatedCache(path RequestPath) {
	r.setExternal(&DestroyDedicatedCacheData{Path: path}, PriorityMedium, NoDeadline)
}

// CreateReport fills the request with a diagnostics report.
func (r *FileRequest) CreateReport(reportType ReportType) {
	r.setExternal(&ReportData{Type: reportType}, PriorityMedium, NoDeadline)
}

// CreateReadData makes r a device read child of parent.
func (r *FileRequest) CreateReadData(parent *FileRequest, path RequestPath, output []byte, offset, size uint64) {
	r.attach(parent, &ReadData{Path: path, Output: output, Offset: offset, Size: size})
}

// CreateCompressedRead makes r a compressed read child of parent.
func (r *FileRequest) CreateCompressedRead(parent *FileRequest, info CompressionInfo, output []byte, offset, size uint64) {
	r.attach(parent, &CompressedReadData{Info: info, Output: output, Offset: offset, Size: size})
}

// CreateWait makes r a placeholder child of parent.
func (r *FileRequest) CreateWait(parent *FileRequest) {
	r.attach(parent, &WaitData{})
}

// CreateInternal makes r a child of parent carrying command. Stages use
// it for follow-up work such as metadata lookups.
func (r *FileRequest) CreateInternal(parent *FileRequest, command Command) {
	r.attach(parent, command)
}

func (r *FileRequest) attach(parent *FileRequest, command Command) {
	r.command = command
	r.parent = parent
	if parent != nil {
		parent.dependencies++
	}
	r.setStatus(StatusProcessing)
}

// FileLocation is a file and byte offset.
type FileLocation struct {
	Path   RequestPath
	Offset uint64
}
