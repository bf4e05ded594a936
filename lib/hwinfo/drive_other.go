// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package hwinfo

// ProbeDrive returns conservative defaults on platforms without a
// sysfs block layer.
func ProbeDrive(path string) DriveInfo {
	return defaultDriveInfo(path)
}
