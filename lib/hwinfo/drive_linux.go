// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ProbeDrive describes the block device that holds path.
func ProbeDrive(path string) DriveInfo {
	return probeDriveFrom(path, "/sys")
}

// probeDriveFrom is the testable implementation of ProbeDrive. sysRoot
// points at a real or synthetic /sys.
func probeDriveFrom(path, sysRoot string) DriveInfo {
	info := defaultDriveInfo(path)

	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return info
	}
	var filesystem unix.Statfs_t
	if err := unix.Statfs(path, &filesystem); err == nil && filesystem.Bsize > 0 {
		info.FilesystemBlockSize = uint32(filesystem.Bsize)
	}

	return probeBlockDevice(info, sysRoot, unix.Major(uint64(stat.Dev)), unix.Minor(uint64(stat.Dev)))
}

// probeBlockDevice fills info from /sys/dev/block/MAJ:MIN. A partition
// has no queue directory of its own; its parent disk does.
func probeBlockDevice(info DriveInfo, sysRoot string, major, minor uint32) DriveInfo {
	deviceDirectory, err := filepath.EvalSymlinks(
		filepath.Join(sysRoot, "dev", "block", fmt.Sprintf("%d:%d", major, minor)))
	if err != nil {
		return info
	}
	if _, err := os.Stat(filepath.Join(deviceDirectory, "queue")); err != nil {
		deviceDirectory = filepath.Dir(deviceDirectory)
	}
	queue := filepath.Join(deviceDirectory, "queue")

	rotational := ReadSysfsString(filepath.Join(queue, "rotational"))
	if rotational == "" {
		return info
	}
	info.Probed = true
	info.Device = filepath.Base(deviceDirectory)
	info.HasSeekPenalty = rotational != "0"

	if size := ReadSysfsInt(filepath.Join(queue, "physical_block_size")); size > 0 {
		info.PhysicalSectorSize = uint32(size)
	}
	if size := ReadSysfsInt(filepath.Join(queue, "logical_block_size")); size > 0 {
		info.LogicalSectorSize = uint32(size)
	}
	info.IOChannelCount = channelsForQueueDepth(
		ReadSysfsInt(filepath.Join(queue, "nr_requests")), info.HasSeekPenalty)
	return info
}
