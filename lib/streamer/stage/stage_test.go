// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/streamer/lib/archive"
	"github.com/bureau-foundation/streamer/lib/compression"
	"github.com/bureau-foundation/streamer/lib/hwinfo"
	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/streamer"
	"github.com/bureau-foundation/streamer/lib/testutil"
)

const testTimeout = 10 * time.Second

func newTestDrive(t *testing.T) *StorageDrive {
	t.Helper()
	drive, err := NewStorageDrive(DriveConfig{
		Info:                    hwinfo.DriveInfo{IOChannelCount: 4},
		MaxFileHandles:          4,
		MaxMetaDataCacheEntries: 16,
		MinimalReporting:        true,
	})
	if err != nil {
		t.Fatalf("NewStorageDrive: %v", err)
	}
	t.Cleanup(func() {
		if err := drive.Close(); err != nil {
			t.Errorf("closing drive: %v", err)
		}
	})
	return drive
}

// startScheduler chains stages top to bottom and starts a scheduler on
// them. The scheduler stops at cleanup, before stages registered
// earlier are closed.
func startScheduler(t *testing.T, stages ...streamer.Stage) *streamer.Scheduler {
	t.Helper()
	scheduler, err := streamer.NewScheduler(streamer.Chain(stages...), streamer.SchedulerConfig{Name: "test"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(scheduler.Stop)
	return scheduler
}

// runRequest queues request, waits for it to finish, and returns its
// error. The request is released at cleanup.
func runRequest(t *testing.T, scheduler *streamer.Scheduler, request *streamer.FileRequest) error {
	t.Helper()
	t.Cleanup(request.Release)
	if err := scheduler.QueueRequest(request); err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	testutil.RequireClosed(t, request.Done(), testTimeout, "request did not finish")
	return request.Err()
}

// readFile reads size bytes at offset through scheduler and returns
// the read command along with the request error.
func readFile(t *testing.T, scheduler *streamer.Scheduler, path string, offset, size uint64) (*streamer.ReadRequestData, error) {
	t.Helper()
	request := scheduler.Read(path, nil, offset, size, streamer.NoDeadline, streamer.PriorityMedium)
	err := runRequest(t, scheduler, request)
	return request.Command().(*streamer.ReadRequestData), err
}

func liveStatistics(t *testing.T, scheduler *streamer.Scheduler) []statistics.Statistic {
	t.Helper()
	request := scheduler.Report(streamer.ReportLive)
	if err := runRequest(t, scheduler, request); err != nil {
		t.Fatalf("live report: %v", err)
	}
	return request.Command().(*streamer.ReportData).Statistics
}

func requireStatistic(t *testing.T, stats []statistics.Statistic, owner, name string) statistics.Statistic {
	t.Helper()
	statistic, ok := statistics.Find(stats, owner, name)
	if !ok {
		t.Fatalf("statistic %s/%s not reported", owner, name)
	}
	return statistic
}

type archiveFile struct {
	name string
	data []byte
	tag  compression.Tag
}

// writeArchive packs files into an archive in dir and returns its path
// and the written entries.
func writeArchive(t *testing.T, dir, name string, files ...archiveFile) (string, []archive.Entry) {
	t.Helper()
	var buffer bytes.Buffer
	writer, err := archive.NewWriter(&buffer)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, file := range files {
		if _, err := writer.Add(file.name, file.data, file.tag); err != nil {
			t.Fatalf("adding %s: %v", file.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing archive writer: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
		t.Fatalf("writing archive: %v", err)
	}
	return path, writer.Entries()
}

// compressibleBytes returns numbered text lines, which every codec
// shrinks, truncated to size.
func compressibleBytes(size int, seed int) []byte {
	var buffer bytes.Buffer
	for line := 0; buffer.Len() < size; line++ {
		fmt.Fprintf(&buffer, "asset %d line %07d of streamed content\n", seed, line)
	}
	return buffer.Bytes()[:size]
}
