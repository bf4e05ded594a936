// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/streamer/lib/clock"
)

// Context is the state shared by the scheduler and every stage of one
// stack: the request pool, the queue of prepared requests waiting for
// dispatch, and the list of requests completed since the last
// finalize. Apart from the pool and the completion list, it is owned
// by the scheduler goroutine.
type Context struct {
	clock  clock.Clock
	logger *slog.Logger

	pool requestPool

	wake chan struct{}

	completedMu sync.Mutex
	completed   []*FileRequest
	finalizing  []*FileRequest

	preparedData    []*FileRequest
	preparedControl []*FileRequest
	nextSequence    uint64
	outstanding     int

	onExternalFinalized func(*FileRequest)
}

// NewContext returns an empty context. A nil clock means the real
// clock; a nil logger discards.
func NewContext(c clock.Clock, logger *slog.Logger) *Context {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Context{
		clock:  c,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Clock returns the clock every stage timestamps with.
func (c *Context) Clock() clock.Clock { return c.clock }

// Logger returns the stack's logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// NewInternalRequest takes a request from the pool for use by a stage.
// It is recycled as soon as it has been finalized.
func (c *Context) NewInternalRequest() *FileRequest {
	request := c.pool.acquire(false)
	request.setStatus(StatusProcessing)
	return request
}

// NewExternalRequest takes a request from the pool for an application.
// It is recycled once it has been finalized and the application has
// called Release.
func (c *Context) NewExternalRequest() *FileRequest {
	return c.pool.acquire(true)
}

// Resolve returns the live request named by ref, or nil when the ref is
// stale or was never issued.
func (c *Context) Resolve(ref RequestRef) *FileRequest {
	return c.pool.resolve(ref)
}

// PushPreparedRequest hands a request that has been through
// PrepareRequest to the scheduler for dispatch. Scheduler goroutine
// only.
func (c *Context) PushPreparedRequest(request *FileRequest) {
	c.nextSequence++
	request.sequence = c.nextSequence
	if isDataCommand(request.command) {
		c.preparedData = append(c.preparedData, request)
	} else {
		c.preparedControl = append(c.preparedControl, request)
	}
}

// NumPreparedRequests returns the number of requests waiting for
// dispatch.
func (c *Context) NumPreparedRequests() int {
	return len(c.preparedData) + len(c.preparedControl)
}

// PreparedRequests returns the prepared data requests in arrival
// order. The slice is only valid until the next dispatch.
func (c *Context) PreparedRequests() []*FileRequest { return c.preparedData }

// RemovePreparedRequests removes and returns every prepared request
// for which match reports true.
func (c *Context) RemovePreparedRequests(match func(*FileRequest) bool) []*FileRequest {
	var removed []*FileRequest
	keep := func(list []*FileRequest) []*FileRequest {
		return slices.DeleteFunc(list, func(request *FileRequest) bool {
			if match(request) {
				removed = append(removed, request)
				return true
			}
			return false
		})
	}
	c.preparedData = keep(c.preparedData)
	c.preparedControl = keep(c.preparedControl)
	return removed
}

func (c *Context) popControlRequest() *FileRequest {
	if len(c.preparedControl) == 0 {
		return nil
	}
	request := c.preparedControl[0]
	c.preparedControl[0] = nil
	c.preparedControl = c.preparedControl[1:]
	return request
}

func (c *Context) removePreparedData(index int) *FileRequest {
	request := c.preparedData[index]
	c.preparedData = slices.Delete(c.preparedData, index, index+1)
	return request
}

// MarkRequestAsCompleted schedules request for finalization. Safe to
// call from any goroutine; the request's status must already be set
// (a non-terminal status is treated as success).
func (c *Context) MarkRequestAsCompleted(request *FileRequest) {
	c.completedMu.Lock()
	c.completed = append(c.completed, request)
	c.completedMu.Unlock()
	c.WakeUpSchedulingThread()
}

// FinalizeCompletedRequests runs completion callbacks for every request
// marked completed, propagates status to parents, and recycles
// internal requests. Returns whether anything was finalized. Scheduler
// goroutine only.
func (c *Context) FinalizeCompletedRequests() bool {
	progressed := false
	for {
		c.completedMu.Lock()
		batch := c.completed
		c.completed = c.finalizing[:0]
		c.completedMu.Unlock()
		if len(batch) == 0 {
			c.finalizing = batch
			return progressed
		}
		for i, request := range batch {
			c.finalize(request)
			batch[i] = nil
		}
		c.finalizing = batch[:0]
		progressed = true
	}
}

func (c *Context) finalize(request *FileRequest) {
	if request.finalized {
		return
	}
	request.finalized = true
	if !request.Status().IsTerminal() {
		request.Succeed()
	}
	if request.onCompletion != nil {
		request.onCompletion(request)
	}

	if parent := request.parent; parent != nil {
		if request.Status() != StatusCompleted && parent.childErr == nil {
			parent.childStatus = request.Status()
			parent.childErr = request.err
			if parent.childErr == nil {
				parent.childErr = ErrCanceled
			}
		}
		parent.dependencies--
		if parent.dependencies == 0 {
			if !parent.Status().IsTerminal() {
				if parent.childErr != nil {
					parent.err = parent.childErr
					parent.setStatus(parent.childStatus)
				} else {
					parent.Succeed()
				}
			}
			c.finalize(parent)
		}
	}

	if !request.external {
		c.pool.release(request)
		return
	}
	c.outstanding--
	if c.onExternalFinalized != nil {
		c.onExternalFinalized(request)
	}
	close(request.done)
	request.dropReference()
}

// WakeUpSchedulingThread makes the scheduler run another cycle. Safe
// to call from any goroutine; wakes coalesce.
func (c *Context) WakeUpSchedulingThread() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// NumOutstandingRequests returns the number of external requests the
// scheduler has accepted that have not yet finalized.
func (c *Context) NumOutstandingRequests() int { return c.outstanding }

// PoolSize returns the number of live requests and the arena capacity.
func (c *Context) PoolSize() (live, capacity int) { return c.pool.counts() }
