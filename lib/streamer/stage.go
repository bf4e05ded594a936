// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"fmt"
	"math"
	"time"

	"github.com/bureau-foundation/streamer/lib/statistics"
)

// Stage is one link of the stack. Stages are chained from the one
// closest to the application down to the one closest to the device.
// A request handed to a stage is either handled there or forwarded to
// Next; it never moves sideways or back up. Completion travels upward
// through parent links and callbacks instead.
//
// Every method is called on the scheduler goroutine.
type Stage interface {
	// Name identifies the stage in statistics and logs.
	Name() string

	// SetNext links the stage closer to the device.
	SetNext(next Stage)
	Next() Stage

	// SetContext hands the shared context to this stage and every
	// stage below it.
	SetContext(ctx *Context)

	// PrepareRequest translates a freshly queued request into the
	// requests this stage wants dispatched, without doing I/O. It must
	// not split a request that is already prepared.
	PrepareRequest(request *FileRequest)

	// QueueRequest accepts a dispatched request for later execution.
	// It must not block.
	QueueRequest(request *FileRequest)

	// ExecuteRequests advances queued work and reports whether
	// anything progressed.
	ExecuteRequests() bool

	// UpdateStatus folds this stage's capacity into status.
	UpdateStatus(status *StageStatus)

	// UpdateCompletionEstimates sets the estimated completion of the
	// requests this stage holds, starting from now, and of the
	// prepared requests still waiting for dispatch.
	UpdateCompletionEstimates(now time.Time, pending []*FileRequest)

	// CollectStatistics appends this stage's measurements to out.
	CollectStatistics(out []statistics.Statistic) []statistics.Statistic
}

// StageStatus is the combined capacity of the stack. Stages lower the
// slot count to their own limit and clear IsIdle when they have work.
type StageStatus struct {
	NumAvailableSlots int
	IsIdle            bool
}

// NewStageStatus returns the status before any stage has reported.
func NewStageStatus() StageStatus {
	return StageStatus{NumAvailableSlots: math.MaxInt32, IsIdle: true}
}

// StageBase implements Stage by forwarding to the next stage. Concrete
// stages embed it and override what they handle. At the bottom of the
// stack it turns application reads into device reads during prepare,
// and during queue succeeds control commands and fails everything else
// with ErrUnsupported.
type StageBase struct {
	name    string
	next    Stage
	context *Context
}

// NewStageBase returns a base for a stage called name.
func NewStageBase(name string) StageBase {
	return StageBase{name: name}
}

func (s *StageBase) Name() string { return s.name }

func (s *StageBase) SetNext(next Stage) { s.next = next }

func (s *StageBase) Next() Stage { return s.next }

// Context returns the shared context, or nil before SetContext.
func (s *StageBase) Context() *Context { return s.context }

func (s *StageBase) SetContext(ctx *Context) {
	s.context = ctx
	if s.next != nil {
		s.next.SetContext(ctx)
	}
}

func (s *StageBase) PrepareRequest(request *FileRequest) {
	if s.next != nil {
		s.next.PrepareRequest(request)
		return
	}
	if read, ok := request.command.(*ReadRequestData); ok {
		PrepareReadRequest(s.context, request, read)
		return
	}
	s.context.PushPreparedRequest(request)
}

// PrepareReadRequest turns an application read into a single device
// read child. The child's byte count is added to the parent's when it
// finishes.
func PrepareReadRequest(ctx *Context, request *FileRequest, read *ReadRequestData) {
	if read.Output == nil {
		read.Output = make([]byte, read.Size)
	}
	if uint64(len(read.Output)) < read.Size {
		request.Fail(fmt.Errorf("output buffer of %d bytes is smaller than read size %d: %w",
			len(read.Output), read.Size, ErrUnsupported))
		ctx.MarkRequestAsCompleted(request)
		return
	}
	child := ctx.NewInternalRequest()
	child.CreateReadData(request, read.Path, read.Output[:read.Size], read.Offset, read.Size)
	child.SetCompletionCallback(func(child *FileRequest) {
		read.BytesRead += child.command.(*ReadData).BytesRead
	})
	ctx.PushPreparedRequest(child)
}

func (s *StageBase) QueueRequest(request *FileRequest) {
	if s.next != nil {
		s.next.QueueRequest(request)
		return
	}
	switch request.command.(type) {
	case *CancelData, *FlushData, *FlushAllData, *CloseData, *ReportData, *WaitData:
		request.Succeed()
	default:
		request.Fail(fmt.Errorf("%s reached the bottom of the stack: %w", CommandName(request.command), ErrUnsupported))
	}
	s.context.MarkRequestAsCompleted(request)
}

func (s *StageBase) ExecuteRequests() bool {
	if s.next != nil {
		return s.next.ExecuteRequests()
	}
	return false
}

func (s *StageBase) UpdateStatus(status *StageStatus) {
	if s.next != nil {
		s.next.UpdateStatus(status)
	}
}

func (s *StageBase) UpdateCompletionEstimates(now time.Time, pending []*FileRequest) {
	if s.next != nil {
		s.next.UpdateCompletionEstimates(now, pending)
	}
}

func (s *StageBase) CollectStatistics(out []statistics.Statistic) []statistics.Statistic {
	if s.next != nil {
		return s.next.CollectStatistics(out)
	}
	return out
}

// Chain links stages top to bottom and returns the top.
func Chain(stages ...Stage) Stage {
	for i := 0; i+1 < len(stages); i++ {
		stages[i].SetNext(stages[i+1])
	}
	if len(stages) == 0 {
		return nil
	}
	return stages[0]
}
