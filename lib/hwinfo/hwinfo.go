// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"os"
	"strconv"
	"strings"
)

// Defaults applied when the device cannot be queried.
const (
	DefaultSectorSize     = 512
	DefaultIOChannelCount = 1

	maxIOChannelCount = 16
)

// DriveInfo describes the storage device that holds a path.
type DriveInfo struct {
	// Path is the path that was probed.
	Path string

	// Device is the kernel name of the whole disk ("nvme0n1", "sda"),
	// empty when unknown.
	Device string

	PhysicalSectorSize  uint32
	LogicalSectorSize   uint32
	FilesystemBlockSize uint32

	// HasSeekPenalty is true for rotational media, and for devices
	// that could not be identified.
	HasSeekPenalty bool

	// IOChannelCount is the number of reads worth keeping in flight
	// concurrently.
	IOChannelCount int

	// Probed is true when device attributes were actually read.
	Probed bool
}

func defaultDriveInfo(path string) DriveInfo {
	return DriveInfo{
		Path:               path,
		PhysicalSectorSize: DefaultSectorSize,
		LogicalSectorSize:  DefaultSectorSize,
		HasSeekPenalty:     true,
		IOChannelCount:     DefaultIOChannelCount,
	}
}

// channelsForQueueDepth maps a block-layer queue depth to the number of
// concurrent reads the drive stage keeps in flight. Rotational media
// gain nothing from parallel requests.
func channelsForQueueDepth(queueDepth int, rotational bool) int {
	if rotational || queueDepth <= 0 {
		return DefaultIOChannelCount
	}
	channels := queueDepth / 16
	if channels < 2 {
		channels = 2
	}
	if channels > maxIOChannelCount {
		channels = maxIOChannelCount
	}
	return channels
}

// Recommendations are device-informed tuning hints for applications
// that issue reads.
type Recommendations struct {
	// MemoryAlignment is the buffer alignment that avoids bounce
	// copies for direct I/O.
	MemoryAlignment uint32

	// SizeAlignment is the read size multiple the device transfers
	// natively.
	SizeAlignment uint32

	// ReadGranularity is the preferred size of a single read. Larger
	// reads are split by the stack; smaller ones waste device time.
	ReadGranularity uint64

	// MaxConcurrentRequests is how many requests the stack can keep
	// in flight before new ones queue.
	MaxConcurrentRequests int
}

// Recommend derives Recommendations from a probe. granularity is the
// stack's block size (the dedicated cache block) and overcommit the
// number of extra reads the drive stage queues beyond its channels.
func Recommend(info DriveInfo, granularity uint64, overcommit int) Recommendations {
	alignment := info.PhysicalSectorSize
	if alignment == 0 {
		alignment = DefaultSectorSize
	}
	sizeAlignment := info.LogicalSectorSize
	if sizeAlignment == 0 {
		sizeAlignment = DefaultSectorSize
	}
	if granularity < uint64(alignment) {
		granularity = uint64(alignment)
	}
	if remainder := granularity % uint64(alignment); remainder != 0 {
		granularity += uint64(alignment) - remainder
	}
	channels := info.IOChannelCount
	if channels < 1 {
		channels = DefaultIOChannelCount
	}
	if overcommit < 0 {
		overcommit = 0
	}
	return Recommendations{
		MemoryAlignment:       alignment,
		SizeAlignment:         sizeAlignment,
		ReadGranularity:       granularity,
		MaxConcurrentRequests: channels + overcommit,
	}
}

// ReadSysfsString reads a single-line sysfs file and returns its
// trimmed content. Returns "" on any error.
func ReadSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ReadSysfsInt reads an integer from a sysfs file. Returns 0 on error.
func ReadSysfsInt(path string) int {
	result, err := strconv.Atoi(ReadSysfsString(path))
	if err != nil {
		return 0
	}
	return result
}
