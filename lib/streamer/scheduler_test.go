// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/testutil"
)

const testTimeout = 5 * time.Second

func newTestScheduler(t *testing.T, device *memoryDevice) *Scheduler {
	t.Helper()
	scheduler, err := NewScheduler(device, SchedulerConfig{Name: "test"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return scheduler
}

func TestNewSchedulerRejectsNilStack(t *testing.T) {
	_, err := NewScheduler(nil, SchedulerConfig{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewScheduler(nil) error = %v, want ErrInvalidConfig", err)
	}
}

func TestSchedulerReadsFile(t *testing.T) {
	data := testutil.PatternBytes(4096, 3)
	device := newMemoryDevice(map[string][]byte{"asset.bin": data})
	scheduler := newTestScheduler(t, device)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer scheduler.Stop()

	request := scheduler.Read("asset.bin", nil, 100, 1000, NoDeadline, PriorityMedium)
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, request.Done(), testTimeout, "read did not finish")

	if request.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed (err %v)", request.Status(), request.Err())
	}
	read := request.Command().(*ReadRequestData)
	if read.BytesRead != 1000 {
		t.Errorf("BytesRead = %d, want 1000", read.BytesRead)
	}
	if string(read.Output) != string(data[100:1100]) {
		t.Errorf("output does not match file contents")
	}
}

func TestSchedulerMissingFileFails(t *testing.T) {
	scheduler := newTestScheduler(t, newMemoryDevice(nil))
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer scheduler.Stop()

	request := scheduler.Read("missing.bin", nil, 0, 16, NoDeadline, PriorityMedium)
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := request.Wait(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Wait error = %v, want ErrNotFound", err)
	}
	if request.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", request.Status())
	}
}

// Every queued request reaches exactly one terminal status before Stop
// returns, whatever mix of successes and failures it contains.
func TestSchedulerStopDrainsAllRequests(t *testing.T) {
	device := newMemoryDevice(map[string][]byte{"present.bin": make([]byte, 1024)})
	device.slots = 2
	scheduler := newTestScheduler(t, device)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const count = 200
	var callbacks [count]atomic.Int32
	requests := make([]*FileRequest, count)
	for i := range requests {
		name := "present.bin"
		if i%7 == 0 {
			name = "missing.bin"
		}
		requests[i] = scheduler.Read(name, nil, uint64(i%16)*64, 64, NoDeadline, Priority(i%256))
		index := i
		requests[i].SetCompletionCallback(func(*FileRequest) { callbacks[index].Add(1) })
	}
	if err := scheduler.QueueRequestBatch(requests); err != nil {
		t.Fatalf("QueueRequestBatch: %v", err)
	}
	scheduler.Stop()

	for i, request := range requests {
		if !request.Status().IsTerminal() {
			t.Errorf("request %d status = %s after Stop, want terminal", i, request.Status())
		}
		if got := callbacks[i].Load(); got != 1 {
			t.Errorf("request %d completion callback ran %d times, want 1", i, got)
		}
		testutil.RequireClosed(t, request.Done(), testTimeout)
		request.Release()
	}
	if live, _ := scheduler.Context().PoolSize(); live != 0 {
		t.Errorf("live pooled requests after release = %d, want 0", live)
	}
}

func TestSchedulerQueueAfterStop(t *testing.T) {
	scheduler := newTestScheduler(t, newMemoryDevice(nil))
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scheduler.Stop()

	request := scheduler.Read("late.bin", nil, 0, 1, NoDeadline, PriorityMedium)
	defer request.Release()
	if err := scheduler.QueueRequest(request); !errors.Is(err, ErrShutdown) {
		t.Fatalf("QueueRequest after Stop = %v, want ErrShutdown", err)
	}
	testutil.RequireClosed(t, request.Done(), testTimeout)
	if request.Status() != StatusFailed || !errors.Is(request.Err(), ErrShutdown) {
		t.Errorf("status = %s err = %v, want failed with ErrShutdown", request.Status(), request.Err())
	}
}

func TestSchedulerStopWithoutStartRejectsPending(t *testing.T) {
	scheduler := newTestScheduler(t, newMemoryDevice(nil))
	request := scheduler.Read("never.bin", nil, 0, 1, NoDeadline, PriorityMedium)
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	scheduler.Stop()
	if !errors.Is(request.Err(), ErrShutdown) {
		t.Errorf("err = %v, want ErrShutdown", request.Err())
	}
}

func TestSchedulerRejectsDoubleQueue(t *testing.T) {
	scheduler := newTestScheduler(t, newMemoryDevice(map[string][]byte{"a": {1}}))
	request := scheduler.Read("a", nil, 0, 1, NoDeadline, PriorityMedium)
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		t.Fatalf("first QueueRequest: %v", err)
	}
	if err := scheduler.QueueRequest(request); err == nil {
		t.Fatal("second QueueRequest succeeded, want error")
	}
	empty := scheduler.CreateRequest()
	defer empty.Release()
	if err := scheduler.QueueRequest(empty); err == nil {
		t.Fatal("QueueRequest of an empty request succeeded, want error")
	}
	scheduler.Stop()
}

// A read and a cancel of it queued before the scheduler processes
// either leave the read canceled.
func TestCancelBeforeProcessing(t *testing.T) {
	device := newMemoryDevice(map[string][]byte{"asset.bin": make([]byte, 256)})
	scheduler := newTestScheduler(t, device)

	read := scheduler.Read("asset.bin", nil, 0, 256, NoDeadline, PriorityMedium)
	defer read.Release()
	cancel := scheduler.Cancel(read)
	defer cancel.Release()
	if err := scheduler.QueueRequestBatch([]*FileRequest{read, cancel}); err != nil {
		t.Fatalf("QueueRequestBatch: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scheduler.Stop()

	if read.Status() != StatusCanceled {
		t.Errorf("read status = %s, want canceled", read.Status())
	}
	if !errors.Is(read.Err(), ErrCanceled) {
		t.Errorf("read err = %v, want ErrCanceled", read.Err())
	}
	if cancel.Status() != StatusCompleted {
		t.Errorf("cancel status = %s, want completed", cancel.Status())
	}
	if len(device.dispatched) != 0 {
		t.Errorf("device saw %d reads, want 0", len(device.dispatched))
	}
}

// Canceling a request that is waiting in a stage fails it there.
func TestCancelQueuedInStage(t *testing.T) {
	device := newMemoryDevice(map[string][]byte{"asset.bin": make([]byte, 256)})
	device.gate = make(chan struct{})
	scheduler := newTestScheduler(t, device)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	read := scheduler.Read("asset.bin", nil, 0, 256, NoDeadline, PriorityMedium)
	defer read.Release()
	if err := scheduler.QueueRequest(read); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	cancel := scheduler.Cancel(read)
	defer cancel.Release()
	if err := scheduler.QueueRequest(cancel); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, cancel.Done(), testTimeout, "cancel did not finish")
	testutil.RequireClosed(t, read.Done(), testTimeout, "read did not finish")
	close(device.gate)
	scheduler.Stop()

	if read.Status() != StatusCanceled {
		t.Errorf("read status = %s, want canceled", read.Status())
	}
}

// Canceling a finished request succeeds and leaves the target as it
// was.
func TestCancelCompletedRequest(t *testing.T) {
	device := newMemoryDevice(map[string][]byte{"asset.bin": make([]byte, 64)})
	scheduler := newTestScheduler(t, device)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer scheduler.Stop()

	read := scheduler.Read("asset.bin", nil, 0, 64, NoDeadline, PriorityMedium)
	defer read.Release()
	if err := scheduler.QueueRequest(read); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, read.Done(), testTimeout)

	for attempt := range 3 {
		cancel := scheduler.Cancel(read)
		if err := scheduler.QueueRequest(cancel); err != nil {
			t.Fatalf("QueueRequest: %v", err)
		}
		testutil.RequireClosed(t, cancel.Done(), testTimeout)
		if cancel.Status() != StatusCompleted {
			t.Errorf("attempt %d: cancel status = %s, want completed", attempt, cancel.Status())
		}
		cancel.Release()
	}
	if read.Status() != StatusCompleted || read.Err() != nil {
		t.Errorf("read status = %s err = %v, want completed without error", read.Status(), read.Err())
	}
}

func TestCancelStaleRef(t *testing.T) {
	device := newMemoryDevice(map[string][]byte{"asset.bin": make([]byte, 64)})
	scheduler := newTestScheduler(t, device)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer scheduler.Stop()

	read := scheduler.Read("asset.bin", nil, 0, 64, NoDeadline, PriorityMedium)
	if err := scheduler.QueueRequest(read); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, read.Done(), testTimeout)
	stale := read.Ref()
	read.Release()

	cancel := scheduler.CreateRequest()
	defer cancel.Release()
	cancel.CreateCancel(stale)
	if err := scheduler.QueueRequest(cancel); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, cancel.Done(), testTimeout)
	if cancel.Status() != StatusCompleted {
		t.Errorf("cancel of stale ref status = %s, want completed", cancel.Status())
	}
}

// Reads of one file at increasing offsets are dispatched in offset
// order no matter how they were queued.
func TestSequentialDispatchOrder(t *testing.T) {
	const count = 100
	const stride = 32
	device := newMemoryDevice(map[string][]byte{"level.pak": make([]byte, count*stride)})
	device.slots = 1
	scheduler := newTestScheduler(t, device)

	requests := make([]*FileRequest, count)
	for i := range requests {
		requests[i] = scheduler.Read("level.pak", nil, uint64(i*stride), stride, NoDeadline, PriorityMedium)
	}
	shuffled := append([]*FileRequest(nil), requests...)
	rand.New(rand.NewPCG(1, 2)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if err := scheduler.QueueRequestBatch(shuffled); err != nil {
		t.Fatalf("QueueRequestBatch: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scheduler.Stop()

	if len(device.dispatched) != count {
		t.Fatalf("dispatched %d reads, want %d", len(device.dispatched), count)
	}
	for i, location := range device.dispatched {
		if want := uint64(i * stride); location.Offset != want {
			t.Fatalf("dispatch %d offset = %d, want %d", i, location.Offset, want)
		}
	}
	for _, request := range requests {
		if request.Status() != StatusCompleted {
			t.Errorf("request status = %s, want completed", request.Status())
		}
		request.Release()
	}
}

func TestPriorityBeatsArrivalOrder(t *testing.T) {
	files := map[string][]byte{}
	for i := range 4 {
		files[fmt.Sprintf("file%d", i)] = make([]byte, 8)
	}
	device := newMemoryDevice(files)
	device.slots = 1
	scheduler := newTestScheduler(t, device)

	priorities := []Priority{PriorityLow, PriorityHighest, PriorityLowest, PriorityHigh}
	for i, priority := range priorities {
		request := scheduler.Read(fmt.Sprintf("file%d", i), nil, 0, 8, NoDeadline, priority)
		if err := scheduler.QueueRequest(request); err != nil {
			t.Fatalf("QueueRequest: %v", err)
		}
		request.Release()
	}
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scheduler.Stop()

	want := []string{"file1", "file3", "file0", "file2"}
	for i, name := range want {
		if got := device.dispatched[i].Path; !got.Equal(NewRequestPath(name)) {
			t.Errorf("dispatch %d = %s, want %s", i, got, name)
		}
	}
}

func TestSuspendKeepsQueueOrder(t *testing.T) {
	files := map[string][]byte{}
	for i := range 10 {
		files[fmt.Sprintf("file%d", i)] = make([]byte, 8)
	}
	device := newMemoryDevice(files)
	device.slots = 1
	scheduler := newTestScheduler(t, device)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scheduler.SuspendProcessing()
	if !scheduler.IsSuspended() {
		t.Fatal("IsSuspended = false after SuspendProcessing")
	}

	var requests []*FileRequest
	for i := range 10 {
		request := scheduler.Read(fmt.Sprintf("file%d", i), nil, 0, 8, NoDeadline, PriorityMedium)
		if err := scheduler.QueueRequest(request); err != nil {
			t.Fatalf("QueueRequest: %v", err)
		}
		requests = append(requests, request)
	}
	for _, request := range requests {
		if status := request.Status(); status != StatusQueued {
			t.Fatalf("status while suspended = %s, want queued", status)
		}
	}

	scheduler.ResumeProcessing()
	scheduler.Stop()

	for i, location := range device.dispatched {
		if want := NewRequestPath(fmt.Sprintf("file%d", i)); !location.Path.Equal(want) {
			t.Errorf("dispatch %d = %s, want %s", i, location.Path, want)
		}
	}
	for _, request := range requests {
		if request.Status() != StatusCompleted {
			t.Errorf("status = %s, want completed", request.Status())
		}
		request.Release()
	}
}

func TestRescheduleRaisesUrgency(t *testing.T) {
	device := newMemoryDevice(map[string][]byte{"a": make([]byte, 8), "b": make([]byte, 8)})
	device.slots = 1
	scheduler := newTestScheduler(t, device)

	first := scheduler.Read("a", nil, 0, 8, NoDeadline, PriorityLow)
	second := scheduler.Read("b", nil, 0, 8, NoDeadline, PriorityLow)
	reschedule := scheduler.Reschedule(second, NoDeadline, PriorityHigh)
	lower := scheduler.Reschedule(second, NoDeadline, PriorityLowest)
	if err := scheduler.QueueRequestBatch([]*FileRequest{first, second, reschedule, lower}); err != nil {
		t.Fatalf("QueueRequestBatch: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scheduler.Stop()

	if got := device.dispatched[0].Path; !got.Equal(NewRequestPath("b")) {
		t.Errorf("first dispatch = %s, want b", got)
	}
	if second.Priority() != PriorityHigh {
		t.Errorf("priority after reschedule = %s, want high", second.Priority())
	}
	for _, request := range []*FileRequest{first, second, reschedule, lower} {
		if request.Status() != StatusCompleted {
			t.Errorf("%s status = %s, want completed", CommandName(request.Command()), request.Status())
		}
		request.Release()
	}
}

func TestUnsupportedCommandFails(t *testing.T) {
	scheduler := newTestScheduler(t, newMemoryDevice(nil))
	request := scheduler.CreateDedicatedCache("anything")
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scheduler.Stop()
	if !errors.Is(request.Err(), ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", request.Err())
	}
}

func TestReportLive(t *testing.T) {
	device := newMemoryDevice(map[string][]byte{"a": make([]byte, 8)})
	scheduler := newTestScheduler(t, device)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer scheduler.Stop()

	read := scheduler.Read("a", nil, 0, 8, NoDeadline, PriorityMedium)
	defer read.Release()
	if err := scheduler.QueueRequest(read); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, read.Done(), testTimeout)

	report := scheduler.Report(ReportLive)
	defer report.Release()
	if err := scheduler.QueueRequest(report); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, report.Done(), testTimeout)

	collected := report.Command().(*ReportData).Statistics
	if _, ok := statistics.Find(collected, "test", "Request latency"); !ok {
		t.Errorf("live report has no scheduler latency statistic")
	}
	if _, ok := statistics.Find(collected, "memory", "Queued reads"); !ok {
		t.Errorf("live report has no device statistic")
	}
	loops, ok := statistics.Find(collected, "test", "Processing loops")
	if !ok || loops.Value() < 1 {
		t.Errorf("processing loops = %v, want at least 1", loops.Value())
	}
}

func TestRequestDeadlineIsRelativeToQueueTime(t *testing.T) {
	scheduler := newTestScheduler(t, newMemoryDevice(nil))
	before := time.Now()
	request := scheduler.Read("a", nil, 0, 1, 50*time.Millisecond, PriorityMedium)
	defer request.Release()
	if err := scheduler.QueueRequest(request); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	deadline := request.Deadline()
	if deadline.Before(before.Add(50*time.Millisecond)) || deadline.After(time.Now().Add(50*time.Millisecond)) {
		t.Errorf("deadline %v not 50ms after queue time %v", deadline, request.QueueTime())
	}
	scheduler.Stop()
}
