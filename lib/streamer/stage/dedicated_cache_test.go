// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/streamer"
	"github.com/bureau-foundation/streamer/lib/testutil"
)

const testBlockSize = 1024

func newTestDedicatedCache(t *testing.T) *DedicatedCache {
	t.Helper()
	cache, err := NewDedicatedCache(DedicatedCacheConfig{BlockSize: testBlockSize, BlockCount: 8})
	if err != nil {
		t.Fatalf("NewDedicatedCache: %v", err)
	}
	return cache
}

func TestNewDedicatedCacheValidatesConfig(t *testing.T) {
	for _, config := range []DedicatedCacheConfig{{BlockCount: 1}, {BlockSize: 1024}} {
		if _, err := NewDedicatedCache(config); !errors.Is(err, streamer.ErrInvalidConfig) {
			t.Errorf("NewDedicatedCache(%+v) error = %v, want ErrInvalidConfig", config, err)
		}
	}
}

func TestDedicatedCacheServesRepeatedReadsFromMemory(t *testing.T) {
	data := testutil.PatternBytes(8*testBlockSize+100, 7)
	path := testutil.WriteFile(t, t.TempDir(), "terrain.bin", data)
	scheduler := startScheduler(t, newTestDedicatedCache(t), newTestDrive(t))

	if err := runRequest(t, scheduler, scheduler.CreateDedicatedCache(path)); err != nil {
		t.Fatalf("creating dedicated cache: %v", err)
	}

	// Spans three blocks: the tail of block 0, block 1, the head of block 2.
	read, err := readFile(t, scheduler, path, 1000, 1100)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if read.BytesRead != 1100 || !bytes.Equal(read.Output, data[1000:2100]) {
		t.Fatalf("first read returned %d bytes, contents match = %v", read.BytesRead, bytes.Equal(read.Output, data[1000:2100]))
	}
	stats := liveStatistics(t, scheduler)
	if fetches := requireStatistic(t, stats, "dedicated cache", "Block fetches").Value(); fetches != 3 {
		t.Fatalf("Block fetches after first read = %v, want 3", fetches)
	}

	read, err = readFile(t, scheduler, path, 1500, 500)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if !bytes.Equal(read.Output, data[1500:2000]) {
		t.Fatal("second read contents do not match")
	}

	// The short final block is cached at its real length.
	read, err = readFile(t, scheduler, path, 8*testBlockSize, 100)
	if err != nil {
		t.Fatalf("tail read: %v", err)
	}
	if !bytes.Equal(read.Output, data[8*testBlockSize:]) {
		t.Fatal("tail read contents do not match")
	}

	stats = liveStatistics(t, scheduler)
	if fetches := requireStatistic(t, stats, "dedicated cache", "Block fetches").Value(); fetches != 4 {
		t.Errorf("Block fetches = %v, want 4", fetches)
	}
	if cached := requireStatistic(t, stats, "dedicated cache", "Cached blocks").Value(); cached != 4 {
		t.Errorf("Cached blocks = %v, want 4", cached)
	}
}

func TestDedicatedCacheRejectsReadPastEnd(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "small.bin", testutil.PatternBytes(2000, 1))
	scheduler := startScheduler(t, newTestDedicatedCache(t), newTestDrive(t))
	if err := runRequest(t, scheduler, scheduler.CreateDedicatedCache(path)); err != nil {
		t.Fatalf("creating dedicated cache: %v", err)
	}
	if _, err := readFile(t, scheduler, path, 1500, 1000); !errors.Is(err, streamer.ErrIO) {
		t.Fatalf("read past end error = %v, want ErrIO", err)
	}
}

func TestDedicatedCacheForMissingFile(t *testing.T) {
	scheduler := startScheduler(t, newTestDedicatedCache(t), newTestDrive(t))
	err := runRequest(t, scheduler, scheduler.CreateDedicatedCache(filepath.Join(t.TempDir(), "absent.bin")))
	if !errors.Is(err, streamer.ErrNotFound) {
		t.Fatalf("create error = %v, want ErrNotFound", err)
	}
	stats := liveStatistics(t, scheduler)
	if caches := requireStatistic(t, stats, "dedicated cache", "Dedicated caches").Value(); caches != 0 {
		t.Errorf("Dedicated caches = %v, want 0", caches)
	}
}

func TestDedicatedCacheReferenceCounting(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "shared.bin", testutil.PatternBytes(4096, 3))
	scheduler := startScheduler(t, newTestDedicatedCache(t), newTestDrive(t))

	for range 2 {
		if err := runRequest(t, scheduler, scheduler.CreateDedicatedCache(path)); err != nil {
			t.Fatalf("creating dedicated cache: %v", err)
		}
	}
	caches := func() float64 {
		return requireStatistic(t, liveStatistics(t, scheduler), "dedicated cache", "Dedicated caches").Value()
	}
	if err := runRequest(t, scheduler, scheduler.DestroyDedicatedCache(path)); err != nil {
		t.Fatalf("destroying dedicated cache: %v", err)
	}
	if got := caches(); got != 1 {
		t.Fatalf("caches after one destroy = %v, want 1", got)
	}
	if err := runRequest(t, scheduler, scheduler.DestroyDedicatedCache(path)); err != nil {
		t.Fatalf("destroying dedicated cache: %v", err)
	}
	if got := caches(); got != 0 {
		t.Fatalf("caches after second destroy = %v, want 0", got)
	}

	// Reads go straight to the drive once the cache is gone.
	if _, err := readFile(t, scheduler, path, 0, 4096); err != nil {
		t.Fatalf("read after destroy: %v", err)
	}
	bypassed := requireStatistic(t, liveStatistics(t, scheduler), "dedicated cache", "Bypassed reads").Value()
	if bypassed != 1 {
		t.Errorf("Bypassed reads = %v, want 1", bypassed)
	}
}

// memoryFiles answers metadata lookups and device reads from memory.
type memoryFiles struct {
	streamer.StageBase
	files map[string][]byte
}

func (m *memoryFiles) QueueRequest(request *streamer.FileRequest) {
	switch command := request.Command().(type) {
	case *streamer.FileMetaDataRetrievalData:
		data, ok := m.files[command.Path.String()]
		command.Found = ok
		command.FileSize = uint64(len(data))
	case *streamer.ReadData:
		data := m.files[command.Path.String()]
		command.BytesRead = uint64(copy(command.Output[:command.Size], data[command.Offset:]))
	default:
		m.StageBase.QueueRequest(request)
		return
	}
	request.Succeed()
	m.Context().MarkRequestAsCompleted(request)
}

// Statistics can be collected from another goroutine while the
// scheduler creates and destroys caches, and the counts return to zero
// once every cache is gone.
func TestDedicatedCacheStatisticsDuringChurn(t *testing.T) {
	data := testutil.PatternBytes(4*testBlockSize, 5)
	paths := []string{"/assets/a.bin", "/assets/b.bin"}
	files := &memoryFiles{StageBase: streamer.NewStageBase("memory"), files: make(map[string][]byte)}
	for _, path := range paths {
		files.files[streamer.NewRequestPath(path).String()] = data
	}
	cache := newTestDedicatedCache(t)
	scheduler := startScheduler(t, cache, files)

	stop := make(chan struct{})
	var collectors sync.WaitGroup
	collectors.Add(1)
	go func() {
		defer collectors.Done()
		var out []statistics.Statistic
		for {
			select {
			case <-stop:
				return
			default:
			}
			out = cache.CollectStatistics(out[:0])
		}
	}()

	for round := range 50 {
		for _, path := range paths {
			if err := runRequest(t, scheduler, scheduler.CreateDedicatedCache(path)); err != nil {
				t.Fatalf("round %d: creating dedicated cache: %v", round, err)
			}
		}
		for _, path := range paths {
			offset := uint64(round%3) * testBlockSize
			read, err := readFile(t, scheduler, path, offset, 2*testBlockSize)
			if err != nil {
				t.Fatalf("round %d: read: %v", round, err)
			}
			if !bytes.Equal(read.Output, data[offset:offset+2*testBlockSize]) {
				t.Fatalf("round %d: read contents do not match", round)
			}
			if err := runRequest(t, scheduler, scheduler.DestroyDedicatedCache(path)); err != nil {
				t.Fatalf("round %d: destroying dedicated cache: %v", round, err)
			}
		}
	}
	close(stop)
	collectors.Wait()

	stats := liveStatistics(t, scheduler)
	if caches := requireStatistic(t, stats, "dedicated cache", "Dedicated caches").Value(); caches != 0 {
		t.Errorf("Dedicated caches = %v, want 0", caches)
	}
	if cached := requireStatistic(t, stats, "dedicated cache", "Cached blocks").Value(); cached != 0 {
		t.Errorf("Cached blocks = %v, want 0", cached)
	}
	if destroyed := requireStatistic(t, stats, "dedicated cache", "Destroyed caches").Value(); destroyed != 100 {
		t.Errorf("Destroyed caches = %v, want 100", destroyed)
	}
}

// Blocks evicted for capacity leave the cached block count at the
// configured limit.
func TestDedicatedCacheCountsEvictedBlocks(t *testing.T) {
	data := testutil.PatternBytes(12*testBlockSize, 9)
	path := testutil.WriteFile(t, t.TempDir(), "large.bin", data)
	scheduler := startScheduler(t, newTestDedicatedCache(t), newTestDrive(t))
	if err := runRequest(t, scheduler, scheduler.CreateDedicatedCache(path)); err != nil {
		t.Fatalf("creating dedicated cache: %v", err)
	}
	read, err := readFile(t, scheduler, path, 0, uint64(len(data)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(read.Output, data) {
		t.Fatal("read contents do not match")
	}
	stats := liveStatistics(t, scheduler)
	if cached := requireStatistic(t, stats, "dedicated cache", "Cached blocks").Value(); cached != 8 {
		t.Errorf("Cached blocks = %v, want the 8 block limit", cached)
	}
}
