// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/streamer/lib/hwinfo"
	"github.com/bureau-foundation/streamer/lib/streamer"
	"github.com/bureau-foundation/streamer/lib/testutil"
)

func TestNewStorageDriveValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		config DriveConfig
	}{
		{"no file handles", DriveConfig{MaxMetaDataCacheEntries: 1}},
		{"no metadata entries", DriveConfig{MaxFileHandles: 1}},
		{"negative overcommit", DriveConfig{MaxFileHandles: 1, MaxMetaDataCacheEntries: 1, Overcommit: -1}},
		{"empty root", DriveConfig{MaxFileHandles: 1, MaxMetaDataCacheEntries: 1, Roots: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStorageDrive(tt.config)
			if !errors.Is(err, streamer.ErrInvalidConfig) {
				t.Fatalf("NewStorageDrive error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestDriveReadsLargeFile(t *testing.T) {
	const size = 10 << 20
	data := testutil.PatternBytes(size, 11)
	path := testutil.WriteFile(t, t.TempDir(), "level.pak", data)
	scheduler := startScheduler(t, newTestDrive(t))

	read, err := readFile(t, scheduler, path, 0, size)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.BytesRead != size {
		t.Fatalf("BytesRead = %d, want %d", read.BytesRead, size)
	}
	if !bytes.Equal(read.Output, data) {
		t.Fatal("output does not match file contents")
	}

	stats := liveStatistics(t, scheduler)
	if completed := requireStatistic(t, stats, "storage drive", "Reads completed").Value(); completed != 1 {
		t.Errorf("Reads completed = %v, want 1", completed)
	}
}

func TestDriveReadsRanges(t *testing.T) {
	data := testutil.PatternBytes(64<<10, 5)
	path := testutil.WriteFile(t, t.TempDir(), "ranges.bin", data)
	scheduler := startScheduler(t, newTestDrive(t))

	for _, r := range []struct{ offset, size uint64 }{{0, 1}, {100, 4096}, {60 << 10, 4 << 10}, {(64 << 10) - 7, 7}} {
		t.Run(fmt.Sprintf("%d+%d", r.offset, r.size), func(t *testing.T) {
			read, err := readFile(t, scheduler, path, r.offset, r.size)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(read.Output, data[r.offset:r.offset+r.size]) {
				t.Fatal("output does not match file contents")
			}
		})
	}
}

func TestDriveMissingFile(t *testing.T) {
	scheduler := startScheduler(t, newTestDrive(t))
	_, err := readFile(t, scheduler, filepath.Join(t.TempDir(), "absent.bin"), 0, 16)
	if !errors.Is(err, streamer.ErrNotFound) {
		t.Fatalf("read error = %v, want ErrNotFound", err)
	}
}

func TestDriveShortReadFails(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "short.bin", testutil.PatternBytes(100, 1))
	scheduler := startScheduler(t, newTestDrive(t))

	read, err := readFile(t, scheduler, path, 50, 100)
	if !errors.Is(err, streamer.ErrIO) {
		t.Fatalf("read error = %v, want ErrIO", err)
	}
	if read.BytesRead != 50 {
		t.Errorf("BytesRead = %d, want the 50 bytes before end of file", read.BytesRead)
	}
}

func TestDriveWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "save.dat", testutil.PatternBytes(256, 2))
	scheduler := startScheduler(t, newTestDrive(t))

	// Read first so the drive holds a handle and a cached size that the
	// write has to invalidate.
	if _, err := readFile(t, scheduler, path, 0, 256); err != nil {
		t.Fatalf("initial read: %v", err)
	}
	patch := []byte("patched contents")
	write := scheduler.Write(path, patch, 250, streamer.NoDeadline, streamer.PriorityHigh)
	if err := runRequest(t, scheduler, write); err != nil {
		t.Fatalf("write: %v", err)
	}
	if written := write.Command().(*streamer.WriteRequestData).BytesWritten; written != uint64(len(patch)) {
		t.Errorf("BytesWritten = %d, want %d", written, len(patch))
	}

	size := scheduler.GetFileSize(path)
	if err := runRequest(t, scheduler, size); err != nil {
		t.Fatalf("size query: %v", err)
	}
	want := uint64(250 + len(patch))
	if got := size.Command().(*streamer.FileMetaDataRetrievalData).FileSize; got != want {
		t.Fatalf("FileSize after write = %d, want %d", got, want)
	}
	read, err := readFile(t, scheduler, path, 250, uint64(len(patch)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(read.Output, patch) {
		t.Errorf("read back %q, want %q", read.Output, patch)
	}
}

func TestDriveFileQueries(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "present.bin", testutil.PatternBytes(1234, 9))
	scheduler := startScheduler(t, newTestDrive(t))

	tests := []struct {
		name  string
		path  string
		found bool
		size  uint64
	}{
		{"present", path, true, 1234},
		{"absent", filepath.Join(dir, "absent.bin"), false, 0},
		{"directory", dir, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exists := scheduler.FileExists(tt.path)
			if err := runRequest(t, scheduler, exists); err != nil {
				t.Fatalf("exists check: %v", err)
			}
			if found := exists.Command().(*streamer.FileExistsCheckData).Found; found != tt.found {
				t.Errorf("Found = %v, want %v", found, tt.found)
			}
			size := scheduler.GetFileSize(tt.path)
			if err := runRequest(t, scheduler, size); err != nil {
				t.Fatalf("size query: %v", err)
			}
			metadata := size.Command().(*streamer.FileMetaDataRetrievalData)
			if metadata.Found != tt.found || metadata.FileSize != tt.size {
				t.Errorf("metadata = (%d, %v), want (%d, %v)", metadata.FileSize, metadata.Found, tt.size, tt.found)
			}
		})
	}
}

func TestDriveEvictsIdleHandles(t *testing.T) {
	dir := t.TempDir()
	scheduler := startScheduler(t, newTestDrive(t))

	for i := range 10 {
		path := testutil.WriteFile(t, dir, fmt.Sprintf("file%d.bin", i), testutil.PatternBytes(64, byte(i)))
		if _, err := readFile(t, scheduler, path, 0, 64); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}

	stats := liveStatistics(t, scheduler)
	if open := requireStatistic(t, stats, "storage drive", "Open file handles").Value(); open > 4 {
		t.Errorf("Open file handles = %v, want at most 4", open)
	}
	if evicted := requireStatistic(t, stats, "storage drive", "Evicted file handles").Value(); evicted != 6 {
		t.Errorf("Evicted file handles = %v, want 6", evicted)
	}
}

func TestDriveReportsFileLocksUntilFlush(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "locked.bin", testutil.PatternBytes(64, 4))
	scheduler := startScheduler(t, newTestDrive(t))
	if _, err := readFile(t, scheduler, path, 0, 64); err != nil {
		t.Fatalf("read: %v", err)
	}

	locks := func() []string {
		report := scheduler.Report(streamer.ReportFileLocks)
		if err := runRequest(t, scheduler, report); err != nil {
			t.Fatalf("file lock report: %v", err)
		}
		var paths []string
		for _, statistic := range report.Command().(*streamer.ReportData).Statistics {
			if statistic.Name() == "File lock" {
				paths = append(paths, statistic.Text())
			}
		}
		return paths
	}

	want := streamer.NewRequestPath(path).String()
	if got := locks(); len(got) != 1 || got[0] != want {
		t.Fatalf("locks before flush = %v, want [%s]", got, want)
	}
	if err := runRequest(t, scheduler, scheduler.Flush(path)); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := locks(); len(got) != 0 {
		t.Fatalf("locks after flush = %v, want none", got)
	}

	// The file can now be replaced underneath the streamer.
	if err := os.Remove(path); err != nil {
		t.Fatalf("removing flushed file: %v", err)
	}
}

func TestDriveIsServicedByThisDrive(t *testing.T) {
	dir := t.TempDir()
	mounted := filepath.Join(dir, "mounted")
	drive, err := NewStorageDrive(DriveConfig{MaxFileHandles: 1, MaxMetaDataCacheEntries: 1, Roots: []string{mounted + "/"}})
	if err != nil {
		t.Fatalf("NewStorageDrive: %v", err)
	}
	tests := []struct {
		path string
		want bool
	}{
		{mounted, true},
		{filepath.Join(mounted, "level.pak"), true},
		{filepath.Join(mounted, "maps", "city.bin"), true},
		{filepath.Join(dir, "mounted-backup", "level.pak"), false},
		{filepath.Join(dir, "level.pak"), false},
	}
	for _, tt := range tests {
		if got := drive.IsServicedByThisDrive(streamer.NewRequestPath(tt.path)); got != tt.want {
			t.Errorf("IsServicedByThisDrive(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}

	all := newTestDrive(t)
	if !all.IsServicedByThisDrive(streamer.NewRequestPath(filepath.Join(dir, "anything.bin"))) {
		t.Error("drive without roots does not service every path")
	}
}

// Each drive in a chain serves the files under its roots and passes
// the rest down to the catch-all drive.
func TestChainedDrivesRouteByRoot(t *testing.T) {
	external := t.TempDir()
	internal := t.TempDir()
	onExternal := testutil.WriteFile(t, external, "textures.pak", testutil.PatternBytes(4096, 1))
	onInternal := testutil.WriteFile(t, internal, "saves.bin", testutil.PatternBytes(2048, 2))

	externalDrive, err := NewStorageDrive(DriveConfig{
		Name:                    "storage drive external",
		Info:                    hwinfo.DriveInfo{IOChannelCount: 2, HasSeekPenalty: true},
		MaxFileHandles:          2,
		MaxMetaDataCacheEntries: 4,
		MinimalReporting:        true,
		Roots:                   []string{external},
	})
	if err != nil {
		t.Fatalf("NewStorageDrive: %v", err)
	}
	t.Cleanup(func() {
		if err := externalDrive.Close(); err != nil {
			t.Errorf("closing drive: %v", err)
		}
	})
	scheduler := startScheduler(t, externalDrive, newTestDrive(t))

	for _, path := range []string{onExternal, onInternal} {
		read, err := readFile(t, scheduler, path, 0, 1024)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		if read.BytesRead != 1024 {
			t.Errorf("%s: BytesRead = %d, want 1024", path, read.BytesRead)
		}
		size := scheduler.GetFileSize(path)
		if err := runRequest(t, scheduler, size); err != nil {
			t.Fatalf("size of %s: %v", path, err)
		}
		if !size.Command().(*streamer.FileMetaDataRetrievalData).Found {
			t.Errorf("%s reported missing", path)
		}
	}

	stats := liveStatistics(t, scheduler)
	for _, drive := range []string{"storage drive external", "storage drive"} {
		if reads := requireStatistic(t, stats, drive, "Reads completed").Value(); reads != 1 {
			t.Errorf("%s: Reads completed = %v, want 1", drive, reads)
		}
		if entries := requireStatistic(t, stats, drive, "Metadata cache entries").Value(); entries != 1 {
			t.Errorf("%s: Metadata cache entries = %v, want 1", drive, entries)
		}
	}

	// FlushAll reaches every drive in the chain.
	if err := runRequest(t, scheduler, scheduler.FlushAll()); err != nil {
		t.Fatalf("flush all: %v", err)
	}
	stats = liveStatistics(t, scheduler)
	for _, drive := range []string{"storage drive external", "storage drive"} {
		if open := requireStatistic(t, stats, drive, "Open file handles").Value(); open != 0 {
			t.Errorf("%s: Open file handles after flush = %v, want 0", drive, open)
		}
	}
}

func TestDriveReportsAlignment(t *testing.T) {
	drive, err := NewStorageDrive(DriveConfig{
		Info:                    hwinfo.DriveInfo{Device: "nvme0n1", IOChannelCount: 4, PhysicalSectorSize: 4096, LogicalSectorSize: 512},
		MaxFileHandles:          1,
		MaxMetaDataCacheEntries: 1,
		MinimalReporting:        true,
		Roots:                   []string{"/mnt/fast"},
	})
	if err != nil {
		t.Fatalf("NewStorageDrive: %v", err)
	}
	scheduler := startScheduler(t, drive)
	report := scheduler.Report(streamer.ReportConfig)
	if err := runRequest(t, scheduler, report); err != nil {
		t.Fatalf("config report: %v", err)
	}
	stats := report.Command().(*streamer.ReportData).Statistics
	if alignment := requireStatistic(t, stats, "storage drive", "Memory alignment").Value(); alignment != 4096 {
		t.Errorf("Memory alignment = %v, want 4096", alignment)
	}
	if alignment := requireStatistic(t, stats, "storage drive", "Size alignment").Value(); alignment != 512 {
		t.Errorf("Size alignment = %v, want 512", alignment)
	}
	if roots := requireStatistic(t, stats, "storage drive", "Roots").Text(); roots != "/mnt/fast" {
		t.Errorf("Roots = %q, want /mnt/fast", roots)
	}
}
