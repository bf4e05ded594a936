// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/streamer/lib/testutil"
)

func TestNewManagerRejectsZeroThreads(t *testing.T) {
	if _, err := NewManager(Config{Name: "zero", Threads: 0}); err == nil {
		t.Fatal("expected error for zero threads")
	}
}

func TestManagerRunsAllJobs(t *testing.T) {
	manager, err := NewManager(Config{Name: "all", Threads: 3})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var count atomic.Int64
	for range 100 {
		if err := manager.Submit(func() { count.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	manager.Close()

	if got := count.Load(); got != 100 {
		t.Fatalf("ran %d jobs, want 100", got)
	}
	if _, _, completed := manager.Stats(); completed != 100 {
		t.Errorf("completed = %d, want 100", completed)
	}
	if err := manager.Submit(func() {}); err == nil {
		t.Error("Submit after Close succeeded")
	}
}

func TestManagerBoundsConcurrency(t *testing.T) {
	const threads = 2
	manager, err := NewManager(Config{Name: "bounded", Threads: threads})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var (
		current atomic.Int64
		peak    atomic.Int64
		release = make(chan struct{})
		started = make(chan struct{}, 10)
	)
	for range 10 {
		manager.Submit(func() {
			now := current.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			started <- struct{}{}
			<-release
			current.Add(-1)
		})
	}

	testutil.RequireReceive(t, started, 5*time.Second, "first job")
	testutil.RequireReceive(t, started, 5*time.Second, "second job")
	if queued, running, _ := manager.Stats(); running != threads || queued != 8 {
		t.Errorf("queued/running = %d/%d, want 8/%d", queued, running, threads)
	}

	close(release)
	manager.Close()
	if got := peak.Load(); got > threads {
		t.Fatalf("peak concurrency %d exceeds %d threads", got, threads)
	}
}

func TestManagerSubmitNeverBlocks(t *testing.T) {
	manager, err := NewManager(Config{Name: "nonblocking", Threads: 1})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	manager.Submit(func() { defer wg.Done(); <-block })

	done := make(chan struct{})
	go func() {
		for range 50 {
			manager.Submit(func() {})
		}
		close(done)
	}()
	testutil.RequireClosed(t, done, 5*time.Second, "submitting behind a blocked job")

	close(block)
	wg.Wait()
	manager.Close()
}
