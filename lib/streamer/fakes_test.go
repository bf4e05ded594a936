// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/streamer/lib/statistics"
)

// memoryDevice is a bottom stage serving reads from in-memory files.
// With a gate set, queued reads wait until the gate is closed and the
// scheduler is woken.
type memoryDevice struct {
	StageBase
	files map[string][]byte
	slots int
	gate  chan struct{}

	queued     []*FileRequest
	dispatched []FileLocation
}

func newMemoryDevice(files map[string][]byte) *memoryDevice {
	device := &memoryDevice{StageBase: NewStageBase("memory"), files: make(map[string][]byte)}
	for name, data := range files {
		device.files[NewRequestPath(name).String()] = data
	}
	return device
}

func (d *memoryDevice) QueueRequest(request *FileRequest) {
	switch command := request.Command().(type) {
	case *ReadData:
		d.dispatched = append(d.dispatched, FileLocation{Path: command.Path, Offset: command.Offset})
		d.queued = append(d.queued, request)
		if d.gate == nil {
			d.serveQueued()
		}
	case *FileExistsCheckData:
		_, command.Found = d.files[command.Path.String()]
		d.Context().MarkRequestAsCompleted(request)
	case *CancelData:
		target := d.Context().Resolve(command.Target)
		d.queued = slices.DeleteFunc(d.queued, func(queued *FileRequest) bool {
			if target != nil && queued.WorksOn(target) {
				queued.Fail(ErrCanceled)
				d.Context().MarkRequestAsCompleted(queued)
				return true
			}
			return false
		})
		d.StageBase.QueueRequest(request)
	default:
		d.StageBase.QueueRequest(request)
	}
}

func (d *memoryDevice) gateOpen() bool {
	if d.gate == nil {
		return true
	}
	select {
	case <-d.gate:
		return true
	default:
		return false
	}
}

func (d *memoryDevice) ExecuteRequests() bool {
	if len(d.queued) == 0 || !d.gateOpen() {
		return false
	}
	d.serveQueued()
	return true
}

func (d *memoryDevice) serveQueued() {
	for _, request := range d.queued {
		command := request.Command().(*ReadData)
		data, ok := d.files[command.Path.String()]
		switch {
		case !ok:
			request.Fail(fmt.Errorf("open %s: %w", command.Path, ErrNotFound))
		case command.Offset+command.Size > uint64(len(data)):
			request.Fail(fmt.Errorf("short read of %s: %w", command.Path, ErrIO))
		default:
			command.BytesRead = uint64(copy(command.Output, data[command.Offset:command.Offset+command.Size]))
			request.Succeed()
		}
		d.Context().MarkRequestAsCompleted(request)
	}
	d.queued = d.queued[:0]
}

func (d *memoryDevice) UpdateStatus(status *StageStatus) {
	if len(d.queued) > 0 {
		status.IsIdle = false
	}
	if d.slots > 0 {
		status.NumAvailableSlots = min(status.NumAvailableSlots, d.slots-len(d.queued))
	}
}

func (d *memoryDevice) UpdateCompletionEstimates(now time.Time, pending []*FileRequest) {
	for _, request := range d.queued {
		request.SetEstimatedCompletion(now.Add(time.Millisecond))
	}
}

func (d *memoryDevice) CollectStatistics(out []statistics.Statistic) []statistics.Statistic {
	return append(out, statistics.NewInteger(d.Name(), "Queued reads", int64(len(d.queued))))
}
